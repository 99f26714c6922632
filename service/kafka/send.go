package kafka

import (
	"encoding/json"

	"github.com/Shopify/sarama"
)

// MessageEvent is what downstream consumers (storage projection, search
// indexing, client sync) receive once a message has a sequence number.
type MessageEvent struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	ServerMsgID    string `json:"server_msg_id"`
	SenderID       string `json:"sender_id"`
	Seq            int64  `json:"seq"`
	CreatedAtMS    int64  `json:"created_at_ms"`
}

// EventKey routes all events of one conversation to one partition.
func EventKey(tenantID, conversationID string) string {
	return tenantID + ":" + conversationID
}

// SendMessageEvent publishes synchronously; callers decide whether a publish
// failure is fatal to them (the send pipeline treats it as best-effort).
func SendMessageEvent(ev *MessageEvent) error {
	if Producer == nil {
		return sarama.ErrClosedClient
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: Cfg.EventTopic,
		Key:   sarama.StringEncoder(EventKey(ev.TenantID, ev.ConversationID)),
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err = Producer.SendMessage(msg)
	return err
}
