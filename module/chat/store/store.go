package store

import (
	"context"

	"RTChat/module/chat/model"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store owns message, receipt and membership persistence. The redis client is
// only used for the short-TTL dedup marker fast path; mongo unique indexes
// remain the source of truth.
type Store struct {
	msgColl     *mongo.Collection
	receiptColl *mongo.Collection
	memberColl  *mongo.Collection
	convColl    *mongo.Collection
	rdb         *redis.Client
}

func New(db *mongo.Database, rdb *redis.Client) *Store {
	return &Store{
		msgColl:     db.Collection(model.MessageCollection),
		receiptColl: db.Collection(model.ReceiptCollection),
		memberColl:  db.Collection(model.MemberCollection),
		convColl:    db.Collection(model.ConversationCollection),
		rdb:         rdb,
	}
}

// EnsureIndexes creates the indexes the dedup and receipt invariants rely on.
// Call once at startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.msgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "client_msg_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.receiptColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.memberColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
