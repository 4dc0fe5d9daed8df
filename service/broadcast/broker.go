// Package broadcast connects gateway processes through publish/subscribe so
// a message, receipt or typing event produced on one process reaches client
// connections held open on any other.
//
// Delivery is best-effort, at-most-once per hop, with no acknowledgment and
// no ordering guarantee for events that cross process boundaries: two events
// published a moment apart may arrive at a remote subscriber in either order.
// Callers must not assume more.
package broadcast

import (
	"context"
	"time"

	"RTChat/module/chat/model"
)

// NewMessageEvent travels on a conversation's message subject.
// OriginGateway identifies the publishing process so its own loopback copy
// can be told apart from a remote one: the origin already pushed to its
// local connections directly.
type NewMessageEvent struct {
	Message       *model.Message `json:"message"`
	RecipientIDs  []string       `json:"recipientIds"`
	SenderID      string         `json:"senderId"`
	OriginGateway string         `json:"originGateway"`
	Recalled      bool           `json:"recalled,omitempty"`
}

// TypingEvent travels on a conversation's typing subject. Never persisted.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ReceiptEvent travels on a user's receipt subject.
type ReceiptEvent struct {
	MessageID int64     `json:"messageId"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Unsubscribe tears one subscription down. Safe to call more than once.
type Unsubscribe func() error

type MessageHandler func(ev *NewMessageEvent)
type TypingHandler func(ev *TypingEvent)
type ReceiptHandler func(ev *ReceiptEvent)

// Broker is the cross-instance fan-out surface. Subscriptions are dynamic:
// a connection subscribes to a conversation only while it has it open, and
// undoes the subscription on close or disconnect.
type Broker interface {
	PublishMessage(ctx context.Context, convID string, ev *NewMessageEvent) error
	SubscribeMessages(convID string, h MessageHandler) (Unsubscribe, error)

	// The user-directed message subject is the fallback delivery path for a
	// recipient who is online on another process without the conversation
	// open there. Every connection subscribes its own user's subject.
	PublishUserMessage(ctx context.Context, userID string, ev *NewMessageEvent) error
	SubscribeUserMessages(userID string, h MessageHandler) (Unsubscribe, error)

	PublishTyping(ctx context.Context, convID string, ev *TypingEvent) error
	SubscribeTyping(convID string, h TypingHandler) (Unsubscribe, error)

	PublishReceipt(ctx context.Context, userID string, ev *ReceiptEvent) error
	SubscribeReceipts(userID string, h ReceiptHandler) (Unsubscribe, error)

	Close() error
}
