package store

import (
	"context"
	"strconv"
	"time"

	"RTChat/module/chat/model"
	"RTChat/tools/errs"
	"RTChat/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// dedup marker TTL: a retry arriving later than this falls through to the
// unique index, which still resolves it to the original row.
const dedupTTL = 10 * time.Minute

func dedupKey(senderID, clientMsgID string) string {
	return "im:dedup:" + senderID + ":" + clientMsgID
}

// CreateMessage persists one message. A duplicate (sender, clientMessageId)
// submission returns the original row instead of erroring, whether it is
// caught by the redis marker or by the mongo unique index.
func (s *Store) CreateMessage(ctx context.Context, dto *model.SendMessageDTO, senderID string) (*model.Message, error) {
	if dto.Type == "" {
		dto.Type = model.MsgTypeText
	}
	if dto.Type == model.MsgTypeText && dto.Content == "" {
		return nil, errs.ErrEmptyContent.Wrap()
	}
	if dto.ConversationID == "" || dto.ClientMsgID == "" {
		return nil, errs.ErrArgs.WithDetail("conversationId and clientMessageId are required").Wrap()
	}

	// fast path: marker left behind by an earlier attempt
	if s.rdb != nil {
		if v, err := s.rdb.Get(ctx, dedupKey(senderID, dto.ClientMsgID)).Result(); err == nil {
			if id, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				if orig, ferr := s.GetMessage(ctx, id); ferr == nil {
					return orig, nil
				}
			}
		}
	}

	msg := &model.Message{
		ID:             ids.Generate(),
		ConversationID: dto.ConversationID,
		SenderID:       senderID,
		Type:           dto.Type,
		Content:        dto.Content,
		ClientMsgID:    dto.ClientMsgID,
		CreatedAt:      time.Now(),
	}

	if _, err := s.msgColl.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return s.findByClientMsgID(ctx, senderID, dto.ClientMsgID)
		}
		return nil, errs.ErrPersistFailed.WrapMsg("insert message", "err", err)
	}

	if s.rdb != nil {
		// best effort marker; loss only means the slow path runs
		s.rdb.SetNX(ctx, dedupKey(senderID, dto.ClientMsgID),
			strconv.FormatInt(msg.ID, 10), dedupTTL)
	}
	return msg, nil
}

func (s *Store) findByClientMsgID(ctx context.Context, senderID, clientMsgID string) (*model.Message, error) {
	var m model.Message
	err := s.msgColl.FindOne(ctx, bson.M{
		"sender_id": senderID, "client_msg_id": clientMsgID,
	}).Decode(&m)
	if err != nil {
		return nil, errs.ErrPersistFailed.WrapMsg("resolve duplicate", "err", err)
	}
	return &m, nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	var m model.Message
	err := s.msgColl.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrMessageNotFound.Wrap()
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &m, nil
}

// RecallMessage soft-deletes a message. Sender only; idempotent.
func (s *Store) RecallMessage(ctx context.Context, msgID int64, byUserID string) (*model.Message, error) {
	m, err := s.GetMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != byUserID {
		return nil, errs.ErrRecallNotSender.Wrap()
	}
	if m.Recalled() {
		return m, nil
	}
	now := time.Now()
	_, err = s.msgColl.UpdateOne(ctx,
		bson.M{"_id": msgID, "deleted_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"deleted_at": now, "deleted_by": byUserID}},
	)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	m.DeletedAt = &now
	m.DeletedBy = byUserID
	return m, nil
}
