package model

import "time"

// Member status. Only ACTIVE members receive fan-out.
const (
	MemberStatusActive = int32(0)
	MemberStatusLeft   = int32(1)
	MemberStatusKicked = int32(2)
)

// Member roles.
const (
	RoleMember = int32(0)
	RoleAdmin  = int32(1)
	RoleOwner  = int32(2)
)

const MemberCollection = "conversation_members"

// ConversationMember binds a user to a conversation. Unique key:
// (conversation_id, user_id). The delivery pipeline only touches the
// unread/read cursor fields; the rest belongs to group administration,
// which lives outside this service.
type ConversationMember struct {
	ConversationID string `bson:"conversation_id" json:"conversationId"`
	UserID         string `bson:"user_id" json:"userId"`
	Role           int32  `bson:"role" json:"role"`
	Status         int32  `bson:"status" json:"status"`

	UnreadCount       int64      `bson:"unread_count" json:"unreadCount"`
	LastReadAt        *time.Time `bson:"last_read_at,omitempty" json:"lastReadAt,omitempty"`
	LastReadMessageID int64      `bson:"last_read_message_id,omitempty" json:"lastReadMessageId,omitempty"`

	JoinedAt time.Time `bson:"joined_at" json:"joinedAt"`
}

// MemberRef is the slim view the fan-out path works with.
type MemberRef struct {
	UserID string `bson:"user_id" json:"userId"`
	Role   int32  `bson:"role" json:"role"`
}
