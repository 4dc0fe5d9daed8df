package model

import "time"

// Receipt states. Transitions are monotonic: empty -> DELIVERED -> SEEN.
// A write that would downgrade SEEN back to DELIVERED must be a no-op;
// the store enforces this with a conditional upsert.
const (
	ReceiptDelivered = "DELIVERED"
	ReceiptSeen      = "SEEN"
)

const ReceiptCollection = "message_receipts"

// MessageReceipt is one row per (message, recipient), created lazily on the
// first delivery or seen event and never deleted.
type MessageReceipt struct {
	MessageID int64     `bson:"message_id" json:"messageId"`
	UserID    string    `bson:"user_id" json:"userId"`
	Status    string    `bson:"status" json:"status"`
	UpdatedAt time.Time `bson:"updated_at" json:"timestamp"`
}
