package gateway

import (
	"context"

	"RTChat/module/chat/model"
)

// Collaborator surfaces the orchestrator consumes. The mongo-backed Store
// satisfies the first four; the redis-backed storage package satisfies the
// last two. Tests substitute the in-memory twins.

type MessageStore interface {
	CreateMessage(ctx context.Context, dto *model.SendMessageDTO, senderID string) (*model.Message, error)
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	RecallMessage(ctx context.Context, msgID int64, byUserID string) (*model.Message, error)
}

type ReceiptStore interface {
	MarkDelivered(ctx context.Context, msgID int64, userID string) error
	BulkMarkDelivered(ctx context.Context, msgIDs []int64, userID string) error
	MarkSeen(ctx context.Context, msgIDs []int64, userID string) error
	IsSeenByAll(ctx context.Context, msgID int64, recipientIDs []string) (bool, error)
}

// MemberResolver is owned by the relationship service; only these two reads
// are consumed here.
type MemberResolver interface {
	IsMember(ctx context.Context, convID, userID string) (bool, error)
	GetActiveMembers(ctx context.Context, convID string) ([]model.MemberRef, error)
}

type UnreadStore interface {
	IncrementUnread(ctx context.Context, convID, userID string) error
	ResetUnread(ctx context.Context, convID, userID string, lastReadMsgID int64) error
}

// Presence is owned by whichever process accepted the connection; the view
// through redis is global across gateways.
type Presence interface {
	Online(ctx context.Context, userID, connID, gatewayID string) error
	Offline(ctx context.Context, userID, connID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	Connections(ctx context.Context, userID string) (map[string]string, error)
}

type OfflineQueue interface {
	Enqueue(ctx context.Context, userID string, msg *model.Message) error
	GetAll(ctx context.Context, userID string) ([]*model.Message, error)
	Clear(ctx context.Context, userID string) error
}

// Journal is optional; a nil journal disables the side channel.
type Journal interface {
	Append(msg *model.Message)
}
