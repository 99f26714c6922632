package seq

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/fightlightdiamond/chemchat/module/chat/model"
)

// Store is the durable counter: the consistency anchor the fast counter is
// validated against, and the fallback issuance path when it is down.
type Store interface {
	// IncrBy upserts the counter row: creates it at n, or atomically adds n to
	// the existing row. Returns the resulting value.
	IncrBy(ctx context.Context, tenantID, conversationID string, n int64) (int64, error)
	// Get returns (value, false, nil) when no counter row exists yet.
	Get(ctx context.Context, tenantID, conversationID string) (int64, bool, error)
	// RaiseFloor lifts the counter to at least floor (upsert, never lowers).
	RaiseFloor(ctx context.Context, tenantID, conversationID string, floor int64) error
	// MaxMessageSeq is the highest sequence number among persisted messages,
	// consulted only while no counter row exists.
	MaxMessageSeq(ctx context.Context, tenantID, conversationID string) (int64, error)
	// Reset forces the counter row to 0 (upsert).
	Reset(ctx context.Context, tenantID, conversationID string) error
}

// MaxSeqReader is implemented by the message store; the counter table itself
// knows nothing about message rows.
type MaxSeqReader interface {
	MaxSeq(ctx context.Context, tenantID, conversationID string) (int64, error)
}

type pgStore struct {
	pool   *pgxpool.Pool
	msgMax MaxSeqReader // optional
}

func NewPgStore(pool *pgxpool.Pool, msgMax MaxSeqReader) Store {
	return &pgStore{pool: pool, msgMax: msgMax}
}

const sqlIncrBy = `
INSERT INTO ` + model.ConversationSeqTable + ` (tenant_id, conversation_id, last_seq)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, conversation_id)
DO UPDATE SET last_seq = ` + model.ConversationSeqTable + `.last_seq + EXCLUDED.last_seq,
              update_time = now()
RETURNING last_seq`

const sqlRaiseFloor = `
INSERT INTO ` + model.ConversationSeqTable + ` (tenant_id, conversation_id, last_seq)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, conversation_id)
DO UPDATE SET last_seq = GREATEST(` + model.ConversationSeqTable + `.last_seq, EXCLUDED.last_seq),
              update_time = now()`

const sqlGet = `
SELECT last_seq FROM ` + model.ConversationSeqTable + `
WHERE tenant_id = $1 AND conversation_id = $2`

const sqlReset = `
INSERT INTO ` + model.ConversationSeqTable + ` (tenant_id, conversation_id, last_seq)
VALUES ($1, $2, 0)
ON CONFLICT (tenant_id, conversation_id)
DO UPDATE SET last_seq = 0, update_time = now()`

func (s *pgStore) IncrBy(ctx context.Context, tenantID, conversationID string, n int64) (int64, error) {
	var out int64
	err := s.pool.QueryRow(ctx, sqlIncrBy, tenantID, conversationID, n).Scan(&out)
	if err != nil {
		return 0, errors.Wrap(err, "seq counter incr")
	}
	return out, nil
}

func (s *pgStore) Get(ctx context.Context, tenantID, conversationID string) (int64, bool, error) {
	var out int64
	err := s.pool.QueryRow(ctx, sqlGet, tenantID, conversationID).Scan(&out)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "seq counter get")
	}
	return out, true, nil
}

func (s *pgStore) RaiseFloor(ctx context.Context, tenantID, conversationID string, floor int64) error {
	_, err := s.pool.Exec(ctx, sqlRaiseFloor, tenantID, conversationID, floor)
	return errors.Wrap(err, "seq counter raise floor")
}

func (s *pgStore) MaxMessageSeq(ctx context.Context, tenantID, conversationID string) (int64, error) {
	if s.msgMax == nil {
		return 0, nil
	}
	return s.msgMax.MaxSeq(ctx, tenantID, conversationID)
}

func (s *pgStore) Reset(ctx context.Context, tenantID, conversationID string) error {
	_, err := s.pool.Exec(ctx, sqlReset, tenantID, conversationID)
	return errors.Wrap(err, "seq counter reset")
}
