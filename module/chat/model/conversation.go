package model

import "time"

const ConversationCollection = "conversations"

// Conversation summary row. Maintained out of band by the journal projector;
// the delivery hot path never reads it.
type Conversation struct {
	ID                 string    `bson:"_id" json:"conversationId"`
	Type               int32     `bson:"type" json:"type"` // 1=direct, 2=group
	LastMessageID      int64     `bson:"last_message_id" json:"lastMessageId"`
	LastMessagePreview string    `bson:"last_message_preview" json:"lastMessagePreview"`
	MessageCount       int64     `bson:"message_count" json:"messageCount"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updatedAt"`
}
