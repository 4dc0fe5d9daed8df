package gateway

import (
	"context"
	"time"

	"RTChat/logger"
	"RTChat/module/chat/model"
	"RTChat/service/broadcast"
	"RTChat/tools/errs"
)

// handleDeliveredAck records a client-side delivery confirmation for one
// message and echoes it to the sender's receipt channel. Safe under retries:
// the receipt upsert never downgrades and never double-writes.
func (g *Gateway) handleDeliveredAck(ctx context.Context, c *Conn, data map[string]any) error {
	if c.UserID == "" {
		return errs.ErrUnauthenticated.Wrap()
	}
	p, err := DecodePayload[struct {
		MessageID int64 `mapstructure:"messageId"`
	}](data)
	if err != nil {
		return err
	}
	msg, err := g.deps.Messages.GetMessage(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if msg.SenderID == c.UserID {
		return nil // own messages carry no receipt
	}
	ok, err := g.deps.Members.IsMember(ctx, msg.ConversationID, c.UserID)
	if err != nil {
		return errs.ErrInternal.WrapMsg("membership check", "err", err)
	}
	if !ok {
		return errs.ErrNotMember.Wrap()
	}
	if err := g.deps.Receipts.MarkDelivered(ctx, msg.ID, c.UserID); err != nil {
		logger.Warnf("[gateway] delivered_ack msg=%d user=%s: %v", msg.ID, c.UserID, err)
		return nil // best-effort side channel
	}
	g.publishReceipt(ctx, msg.SenderID, msg.ID, c.UserID, model.ReceiptDelivered)
	return nil
}

// handleSeen marks messages read: receipts to SEEN, unread counter reset,
// read cursor advanced, one receipt echo per message to its sender.
func (g *Gateway) handleSeen(ctx context.Context, c *Conn, data map[string]any) error {
	if c.UserID == "" {
		return errs.ErrUnauthenticated.Wrap()
	}
	p, err := DecodePayload[struct {
		ConversationID string  `mapstructure:"conversationId"`
		MessageIDs     []int64 `mapstructure:"messageIds"`
	}](data)
	if err != nil {
		return err
	}
	if p.ConversationID == "" || len(p.MessageIDs) == 0 {
		return errs.ErrArgs.WithDetail("conversationId and messageIds are required").Wrap()
	}
	ok, err := g.deps.Members.IsMember(ctx, p.ConversationID, c.UserID)
	if err != nil {
		return errs.ErrInternal.WrapMsg("membership check", "err", err)
	}
	if !ok {
		return errs.ErrNotMember.Wrap()
	}

	// resolve each id and keep only messages that actually belong to the
	// named conversation; ids pointing elsewhere are dropped so nobody can
	// stamp receipts onto conversations they are not part of
	msgs := make([]*model.Message, 0, len(p.MessageIDs))
	ids := make([]int64, 0, len(p.MessageIDs))
	maxID := int64(0)
	for _, id := range p.MessageIDs {
		msg, err := g.deps.Messages.GetMessage(ctx, id)
		if err != nil || msg.ConversationID != p.ConversationID {
			continue
		}
		msgs = append(msgs, msg)
		ids = append(ids, id)
		if id > maxID {
			maxID = id
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if err := g.deps.Receipts.MarkSeen(ctx, ids, c.UserID); err != nil {
		logger.Warnf("[gateway] mark seen user=%s: %v", c.UserID, err)
		return nil
	}

	if err := g.deps.Unread.ResetUnread(ctx, p.ConversationID, c.UserID, maxID); err != nil {
		logger.Warnf("[gateway] unread reset conv=%s user=%s: %v", p.ConversationID, c.UserID, err)
	}

	for _, msg := range msgs {
		if msg.SenderID == c.UserID {
			continue
		}
		g.publishReceipt(ctx, msg.SenderID, msg.ID, c.UserID, model.ReceiptSeen)
	}
	return nil
}

func (g *Gateway) publishReceipt(ctx context.Context, senderID string, msgID int64, userID, status string) {
	if err := g.deps.Broker.PublishReceipt(ctx, senderID, &broadcast.ReceiptEvent{
		MessageID: msgID,
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now(),
	}); err != nil {
		logger.Warnf("[gateway] receipt publish msg=%d status=%s: %v", msgID, status, err)
	}
}
