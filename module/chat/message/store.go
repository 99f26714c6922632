package message

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fightlightdiamond/chemchat/module/chat/model"
)

const (
	idxConvSeq     = "uniq_conv_seq"
	idxClientMsgID = "uniq_client_msg"
)

// Store persists sequenced messages. Production implementation is Mongo;
// tests use the in-memory one (store_mem.go).
type Store interface {
	Insert(ctx context.Context, m *model.ChatMessage) error
	// FindByClientID returns nil, nil when no message matches.
	FindByClientID(ctx context.Context, tenantID, conversationID, clientMsgID string) (*model.ChatMessage, error)
	// MaxSeq is the highest persisted sequence number, 0 when the
	// conversation has no messages. Also serves the coordinator's bootstrap
	// query (seq.MaxSeqReader).
	MaxSeq(ctx context.Context, tenantID, conversationID string) (int64, error)

	IsDupSeq(err error) bool
	IsDupClientID(err error) bool
}

type mongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) Store {
	m := model.ChatMessage{}
	return &mongoStore{coll: db.Collection(m.GetTableName())}
}

// EnsureIndexes creates the uniqueness constraints the pipeline leans on:
// one message per (tenant, conversation, seq), one per client idempotency
// key. Skips indexes that already exist.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	m := model.ChatMessage{}
	coll := db.Collection(m.GetTableName())

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: model.MsgFieldTenantID, Value: 1},
				{Key: model.MsgFieldConversationID, Value: 1},
				{Key: model.MsgFieldSeq, Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName(idxConvSeq),
		},
		{
			Keys: bson.D{
				{Key: model.MsgFieldTenantID, Value: 1},
				{Key: model.MsgFieldConversationID, Value: 1},
				{Key: model.MsgFieldClientMsgID, Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName(idxClientMsgID),
		},
	}

	existing, err := coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return err
	}
	existingNames := make(map[string]struct{}, len(existing))
	for _, spec := range existing {
		existingNames[spec.Name] = struct{}{}
	}

	for _, idx := range indexes {
		if _, ok := existingNames[*idx.Options.Name]; ok {
			continue
		}
		if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func (s *mongoStore) Insert(ctx context.Context, m *model.ChatMessage) error {
	_, err := s.coll.InsertOne(ctx, m)
	return err
}

func (s *mongoStore) FindByClientID(ctx context.Context, tenantID, conversationID, clientMsgID string) (*model.ChatMessage, error) {
	filter := bson.M{
		model.MsgFieldTenantID:       tenantID,
		model.MsgFieldConversationID: conversationID,
		model.MsgFieldClientMsgID:    clientMsgID,
	}
	var out model.ChatMessage
	err := s.coll.FindOne(ctx, filter).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *mongoStore) MaxSeq(ctx context.Context, tenantID, conversationID string) (int64, error) {
	filter := bson.M{
		model.MsgFieldTenantID:       tenantID,
		model.MsgFieldConversationID: conversationID,
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: model.MsgFieldSeq, Value: -1}}).
		SetProjection(bson.M{model.MsgFieldSeq: 1})

	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := s.coll.FindOne(ctx, filter, opts).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return out.Seq, nil
}

func (s *mongoStore) IsDupSeq(err error) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), idxConvSeq)
}

func (s *mongoStore) IsDupClientID(err error) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), idxClientMsgID)
}
