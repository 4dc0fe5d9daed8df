package store

import (
	"context"
	"time"
	"unicode/utf8"

	"RTChat/module/chat/model"
	"RTChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const previewMax = 120

// ApplyMessage folds one journaled message into the conversation summary row.
// last_message_id only advances ($max) so replayed journal entries cannot
// rewind the summary; message_count may overcount on replay, which the
// summary tolerates (it is display data, not an invariant).
func (s *Store) ApplyMessage(ctx context.Context, msg *model.Message) error {
	preview := truncatePreview(msg.Content, previewMax)
	_, err := s.convColl.UpdateOne(ctx,
		bson.M{"_id": msg.ConversationID},
		bson.M{
			"$max": bson.M{"last_message_id": msg.ID},
			"$set": bson.M{"last_message_preview": preview, "updated_at": time.Now()},
			"$inc": bson.M{"message_count": int64(1)},
		},
		options.Update().SetUpsert(true),
	)
	return errs.Wrap(err)
}

// truncatePreview caps the preview at max bytes without splitting a rune:
// the cut backs up to the nearest rune boundary.
func truncatePreview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// GetConversation returns the summary row, or nil when no message was ever
// journaled for it.
func (s *Store) GetConversation(ctx context.Context, convID string) (*model.Conversation, error) {
	var c model.Conversation
	err := s.convColl.FindOne(ctx, bson.M{"_id": convID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &c, nil
}
