package model

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fightlightdiamond/chemchat/service/mgo"
)

const MsgTableName = "chat_message"

// Field names used in filters/updates; keep in sync with the bson tags.
const (
	MsgFieldTenantID       = "tenant_id"
	MsgFieldConversationID = "conversation_id"
	MsgFieldSendID         = "send_id"
	MsgFieldClientMsgID    = "client_msg_id"
	MsgFieldServerMsgID    = "server_msg_id"
	MsgFieldSeq            = "seq"
	MsgFieldCreateTime     = "create_time"
)

// ChatMessage is one persisted message. Uniqueness of (tenant_id,
// conversation_id, seq) is what makes duplicate issuance detectable at the
// storage layer even if the coordinator misbehaved.
type ChatMessage struct {
	TenantID       string    `bson:"tenant_id"`
	ConversationID string    `bson:"conversation_id"`
	SendID         string    `bson:"send_id"`         // sender user ID
	ClientMsgID    string    `bson:"client_msg_id"`   // client idempotency key
	ServerMsgID    string    `bson:"server_msg_id"`   // snowflake, assigned server-side
	Seq            int64     `bson:"seq"`             // per-conversation position
	Body           []byte    `bson:"body"`            // opaque payload, validated upstream
	CreateTime     time.Time `bson:"create_time"`
}

func (m *ChatMessage) GetTableName() string {
	return MsgTableName
}

func (m *ChatMessage) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}
