package store

import (
	"context"
	"time"

	"RTChat/module/chat/model"
	"RTChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Membership reads. Friendship/block/contact CRUD and group administration
// live in another service; this store only answers the two read operations
// the delivery pipeline needs, plus the unread-cursor writes it owns.

// IsMember reports whether userID is an ACTIVE member of the conversation.
func (s *Store) IsMember(ctx context.Context, convID, userID string) (bool, error) {
	n, err := s.memberColl.CountDocuments(ctx, bson.M{
		"conversation_id": convID,
		"user_id":         userID,
		"status":          model.MemberStatusActive,
	})
	if err != nil {
		return false, errs.Wrap(err)
	}
	return n > 0, nil
}

// GetActiveMembers returns id+role of every ACTIVE member.
func (s *Store) GetActiveMembers(ctx context.Context, convID string) ([]model.MemberRef, error) {
	cur, err := s.memberColl.Find(ctx,
		bson.M{"conversation_id": convID, "status": model.MemberStatusActive},
		options.Find().SetProjection(bson.M{"user_id": 1, "role": 1}),
	)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer cur.Close(ctx)

	var out []model.MemberRef
	for cur.Next(ctx) {
		var m model.MemberRef
		if err := cur.Decode(&m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, cur.Err()
}

// IncrementUnread bumps the unread counter after an online delivery.
func (s *Store) IncrementUnread(ctx context.Context, convID, userID string) error {
	_, err := s.memberColl.UpdateOne(ctx,
		bson.M{"conversation_id": convID, "user_id": userID},
		bson.M{"$inc": bson.M{"unread_count": 1}},
	)
	return errs.Wrap(err)
}

// ResetUnread zeroes the counter and advances the read cursor. lastReadMsgID
// only moves forward ($max), so a stale seen event cannot rewind it.
func (s *Store) ResetUnread(ctx context.Context, convID, userID string, lastReadMsgID int64) error {
	_, err := s.memberColl.UpdateOne(ctx,
		bson.M{"conversation_id": convID, "user_id": userID},
		bson.M{
			"$set": bson.M{"unread_count": int64(0), "last_read_at": time.Now()},
			"$max": bson.M{"last_read_message_id": lastReadMsgID},
		},
	)
	return errs.Wrap(err)
}
