package message

import (
	"context"
	"errors"
	"sync"

	"github.com/fightlightdiamond/chemchat/module/chat/model"
)

var (
	ErrUniqueSeq = errors.New("unique (conversation, seq) violated")
	ErrUniqueCID = errors.New("unique client_msg_id violated")
)

type memStore struct {
	mu    sync.RWMutex
	bySeq map[string]map[int64]*model.ChatMessage // tenant|conv -> seq -> msg
	byCID map[string]*model.ChatMessage           // tenant|conv|cid -> msg
}

func NewMemStore() *memStore {
	return &memStore{
		bySeq: make(map[string]map[int64]*model.ChatMessage),
		byCID: make(map[string]*model.ChatMessage),
	}
}

func keyConv(tenantID, conversationID string) string {
	return tenantID + "|" + conversationID
}

func keyCID(tenantID, conversationID, clientMsgID string) string {
	return tenantID + "|" + conversationID + "|" + clientMsgID
}

func (s *memStore) Insert(ctx context.Context, m *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kcid := keyCID(m.TenantID, m.ConversationID, m.ClientMsgID)
	if _, ok := s.byCID[kcid]; ok {
		return ErrUniqueCID
	}
	kconv := keyConv(m.TenantID, m.ConversationID)
	if _, ok := s.bySeq[kconv]; !ok {
		s.bySeq[kconv] = make(map[int64]*model.ChatMessage)
	}
	if _, ok := s.bySeq[kconv][m.Seq]; ok {
		return ErrUniqueSeq
	}

	cp := *m
	s.bySeq[kconv][m.Seq] = &cp
	s.byCID[kcid] = &cp
	return nil
}

func (s *memStore) FindByClientID(ctx context.Context, tenantID, conversationID, clientMsgID string) (*model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byCID[keyCID(tenantID, conversationID, clientMsgID)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) MaxSeq(ctx context.Context, tenantID, conversationID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for seq := range s.bySeq[keyConv(tenantID, conversationID)] {
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

func (s *memStore) IsDupSeq(err error) bool      { return errors.Is(err, ErrUniqueSeq) }
func (s *memStore) IsDupClientID(err error) bool { return errors.Is(err, ErrUniqueCID) }
