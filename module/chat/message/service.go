package message

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fightlightdiamond/chemchat/logger"
	"github.com/fightlightdiamond/chemchat/module/chat/model"
	"github.com/fightlightdiamond/chemchat/module/chat/seq"
	"github.com/fightlightdiamond/chemchat/service/kafka"
	"github.com/fightlightdiamond/chemchat/tools/errs"
	"github.com/fightlightdiamond/chemchat/tools/ids"
)

// Service is the send pipeline: allocate a sequence number, persist the
// message under the uniqueness constraints, announce it to downstream
// consumers. No message is considered ordered without a number, so a fatal
// sequence error fails the whole send.
type Service struct {
	Store Store
	Seq   *seq.Coordinator
	// Publish announces a stored message; nil disables publishing (tests).
	// Failures are logged, the stored message is already authoritative.
	Publish func(*kafka.MessageEvent) error
}

func NewService(store Store, coordinator *seq.Coordinator) *Service {
	return &Service{
		Store:   store,
		Seq:     coordinator,
		Publish: kafka.SendMessageEvent,
	}
}

const insertMaxRetry = 3

// SendMessage is idempotent per (tenant, conversation, clientMsgID): resends
// return the originally stored message.
func (s *Service) SendMessage(ctx context.Context, tenantID, conversationID, senderID, clientMsgID string, body []byte) (*model.ChatMessage, error) {
	if tenantID == "" || conversationID == "" || senderID == "" || clientMsgID == "" {
		return nil, errs.ErrArgs.WrapMsg("missing identifier",
			"tenant", tenantID, "conversation", conversationID, "sender", senderID)
	}

	// Resend short-circuit.
	if existing, err := s.Store.FindByClientID(ctx, tenantID, conversationID, clientMsgID); err == nil && existing != nil {
		return existing, nil
	}

	n, err := s.Seq.Next(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &model.ChatMessage{
		TenantID:       tenantID,
		ConversationID: conversationID,
		SendID:         senderID,
		ClientMsgID:    clientMsgID,
		ServerMsgID:    ids.GenerateString(),
		Seq:            n,
		Body:           body,
		CreateTime:     time.Now(),
	}

	for i := 0; i <= insertMaxRetry; i++ {
		err = s.Store.Insert(ctx, msg)
		if err == nil {
			s.publish(msg)
			return msg, nil
		}

		// Racing resend won the insert: return what it stored.
		if s.Store.IsDupClientID(err) {
			if existing, ferr := s.Store.FindByClientID(ctx, tenantID, conversationID, clientMsgID); ferr == nil && existing != nil {
				return existing, nil
			}
			return nil, errs.WrapMsg(err, "duplicate client msg id but lookup failed", "clientMsgID", clientMsgID)
		}
		// The counter was behind the storage (should only happen after manual
		// intervention): take a fresh number and try again.
		if s.Store.IsDupSeq(err) {
			n, err = s.Seq.Next(ctx, tenantID, conversationID)
			if err != nil {
				return nil, err
			}
			msg.Seq = n
			continue
		}
		break
	}
	return nil, errs.WrapMsg(err, "insert message failed", "conversation", conversationID, "seq", msg.Seq)
}

func (s *Service) publish(m *model.ChatMessage) {
	if s.Publish == nil {
		return
	}
	ev := &kafka.MessageEvent{
		TenantID:       m.TenantID,
		ConversationID: m.ConversationID,
		ServerMsgID:    m.ServerMsgID,
		SenderID:       m.SendID,
		Seq:            m.Seq,
		CreatedAtMS:    m.CreateTime.UnixMilli(),
	}
	if err := s.Publish(ev); err != nil {
		logger.Warn("message event publish failed",
			zap.String("conversation", m.ConversationID),
			zap.Int64("seq", m.Seq), zap.Error(err))
	}
}
