package model

import "time"

// Message types. TEXT requires non-empty content; SYSTEM rows are produced by
// the server itself (recall notices and the like).
const (
	MsgTypeText   = "TEXT"
	MsgTypeSystem = "SYSTEM"
	MsgTypeMedia  = "MEDIA"
)

const MessageCollection = "messages"

// Message is immutable once created except for the soft-delete fields.
// ID is a snowflake: monotonically increasing per node and sortable as int64,
// so clients can order and dedup by id alone.
type Message struct {
	ID             int64     `bson:"_id" json:"id,string"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	SenderID       string    `bson:"sender_id" json:"senderId"`
	Type           string    `bson:"type" json:"type"`
	Content        string    `bson:"content" json:"content"`
	ClientMsgID    string    `bson:"client_msg_id" json:"clientMessageId"` // sender-supplied idempotency token
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`

	// soft recall; never removed from storage
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
	DeletedBy string     `bson:"deleted_by,omitempty" json:"deletedById,omitempty"`
}

func (m *Message) Recalled() bool { return m.DeletedAt != nil }

// SendMessageDTO is the client payload of message:send.
type SendMessageDTO struct {
	ConversationID string `json:"conversationId" mapstructure:"conversationId"`
	ClientMsgID    string `json:"clientMessageId" mapstructure:"clientMessageId"`
	Type           string `json:"type" mapstructure:"type"`
	Content        string `json:"content" mapstructure:"content"`
}
