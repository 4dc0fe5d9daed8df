package store

import (
	"context"
	"time"

	"RTChat/module/chat/model"
	"RTChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Receipt writes are conditional upserts against the (message_id, user_id)
// unique index. MarkDelivered filters out rows already at SEEN; when such a
// row exists the upsert collides with the index instead of matching, and the
// duplicate-key error is the signal that the write was a downgrade, so it is
// swallowed. MarkSeen has no filter: SEEN is the terminal state.

func (s *Store) MarkDelivered(ctx context.Context, msgID int64, userID string) error {
	_, err := s.receiptColl.UpdateOne(ctx,
		bson.M{"message_id": msgID, "user_id": userID, "status": bson.M{"$ne": model.ReceiptSeen}},
		bson.M{
			"$set":         bson.M{"status": model.ReceiptDelivered, "updated_at": time.Now()},
			"$setOnInsert": bson.M{"message_id": msgID, "user_id": userID},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return errs.Wrap(err)
	}
	return nil
}

// BulkMarkDelivered marks every message delivered for one user in one round
// trip. Used by the offline-queue drain. Idempotent under repeated calls.
func (s *Store) BulkMarkDelivered(ctx context.Context, msgIDs []int64, userID string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	now := time.Now()
	models := make([]mongo.WriteModel, 0, len(msgIDs))
	for _, id := range msgIDs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"message_id": id, "user_id": userID, "status": bson.M{"$ne": model.ReceiptSeen}}).
			SetUpdate(bson.M{
				"$set":         bson.M{"status": model.ReceiptDelivered, "updated_at": now},
				"$setOnInsert": bson.M{"message_id": id, "user_id": userID},
			}).
			SetUpsert(true))
	}
	_, err := s.receiptColl.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return errs.Wrap(err)
	}
	return nil
}

// MarkSeen upgrades receipts to SEEN for one user. Idempotent.
func (s *Store) MarkSeen(ctx context.Context, msgIDs []int64, userID string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	now := time.Now()
	models := make([]mongo.WriteModel, 0, len(msgIDs))
	for _, id := range msgIDs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"message_id": id, "user_id": userID}).
			SetUpdate(bson.M{
				"$set":         bson.M{"status": model.ReceiptSeen, "updated_at": now},
				"$setOnInsert": bson.M{"message_id": id, "user_id": userID},
			}).
			SetUpsert(true))
	}
	_, err := s.receiptColl.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return errs.Wrap(err)
	}
	return nil
}

// IsSeenByAll reports whether every recipient has a SEEN receipt for msgID.
func (s *Store) IsSeenByAll(ctx context.Context, msgID int64, recipientIDs []string) (bool, error) {
	if len(recipientIDs) == 0 {
		return true, nil
	}
	n, err := s.receiptColl.CountDocuments(ctx, bson.M{
		"message_id": msgID,
		"user_id":    bson.M{"$in": recipientIDs},
		"status":     model.ReceiptSeen,
	})
	if err != nil {
		return false, errs.Wrap(err)
	}
	return n == int64(len(recipientIDs)), nil
}

// GetReceipt returns the receipt row for one (message, recipient), or nil.
func (s *Store) GetReceipt(ctx context.Context, msgID int64, userID string) (*model.MessageReceipt, error) {
	var r model.MessageReceipt
	err := s.receiptColl.FindOne(ctx, bson.M{"message_id": msgID, "user_id": userID}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &r, nil
}
