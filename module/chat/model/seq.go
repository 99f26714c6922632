package model

import "time"

// ConversationSeq is the durable counter row: the authoritative high-water
// mark of issued sequence numbers for one conversation of one tenant. The
// Redis fast counter mirrors it; this row wins whenever the two disagree.
type ConversationSeq struct {
	TenantID       string    `json:"tenant_id"`       // PK
	ConversationID string    `json:"conversation_id"` // PK
	LastSeq        int64     `json:"last_seq"`        // highest issued sequence number (>= 0)
	CreateTime     time.Time `json:"create_time"`
	UpdateTime     time.Time `json:"update_time"`
}

const ConversationSeqTable = "chat_conversation_seq"

// DDL kept next to the model, applied by migrations outside this repo.
const ConversationSeqDDL = `
CREATE TABLE IF NOT EXISTS chat_conversation_seq (
    tenant_id       TEXT        NOT NULL,
    conversation_id TEXT        NOT NULL,
    last_seq        BIGINT      NOT NULL DEFAULT 0,
    create_time     TIMESTAMPTZ NOT NULL DEFAULT now(),
    update_time     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, conversation_id)
);`
