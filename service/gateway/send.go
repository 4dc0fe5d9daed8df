package gateway

import (
	"context"
	"sync"
	"time"

	"RTChat/logger"
	"RTChat/module/chat/model"
	"RTChat/service/broadcast"
	"RTChat/tools/errs"
	"RTChat/tools/safe"
)

// handleSendMessage runs the full send pipeline:
//
//	validate -> membership -> persist+dedup -> ack sender -> journal
//	-> broadcast to peer processes -> per-recipient presence-gated delivery
//
// Everything through the ack is fatal on failure and reported to the sender;
// everything after is per-recipient best-effort. One failing recipient never
// blocks the others.
func (g *Gateway) handleSendMessage(ctx context.Context, c *Conn, data map[string]any) error {
	if c.UserID == "" {
		return errs.ErrUnauthenticated.Wrap()
	}
	dto, err := DecodePayload[model.SendMessageDTO](data)
	if err != nil {
		return err
	}

	members, err := g.deps.Members.GetActiveMembers(ctx, dto.ConversationID)
	if err != nil {
		return errs.ErrInternal.WrapMsg("resolve members", "err", err)
	}
	recipients := make([]string, 0, len(members))
	isSender := false
	for _, m := range members {
		if m.UserID == c.UserID {
			isSender = true
			continue
		}
		recipients = append(recipients, m.UserID)
	}
	if !isSender {
		return errs.ErrNotMember.Wrap()
	}

	msg, err := g.deps.Messages.CreateMessage(ctx, dto, c.UserID)
	if err != nil {
		return err
	}

	// ack immediately after persistence; retries resolve to the same id
	c.Push(EncodeFrame(EvMessageSentAck, sentAckPayload{
		ClientMessageID: dto.ClientMsgID,
		ServerMessageID: msg.ID,
		Timestamp:       msg.CreatedAt.UnixMilli(),
	}))

	if g.deps.Journal != nil {
		g.deps.Journal.Append(msg)
	}

	g.fanOut(ctx, msg, recipients)
	return nil
}

// fanOut broadcasts the message to peer processes and runs presence-gated
// delivery per recipient, concurrently and isolated.
func (g *Gateway) fanOut(ctx context.Context, msg *model.Message, recipients []string) {
	ev := &broadcast.NewMessageEvent{
		Message:       msg,
		RecipientIDs:  recipients,
		SenderID:      msg.SenderID,
		OriginGateway: g.cfg.GatewayID,
		Recalled:      msg.Recalled(),
	}
	if err := g.deps.Broker.PublishMessage(ctx, msg.ConversationID, ev); err != nil {
		logger.Warnf("[gateway] broadcast msg=%d conv=%s: %v", msg.ID, msg.ConversationID, err)
	}

	var wg sync.WaitGroup
	for _, uid := range recipients {
		uid := uid
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := safe.Run(func() error {
				return g.deliverTo(ctx, msg, uid)
			}); err != nil {
				logger.Warnf("[gateway] deliver msg=%d user=%s: %v", msg.ID, uid, err)
			}
		}()
	}
	wg.Wait()
}

// deliverTo handles one recipient. Online anywhere: immediate push plus
// delivered receipt plus unread bump. Offline: queue the snapshot, nothing
// else. The delivered marker, the receipt echo and the unread bump are each
// best-effort; the idempotent receipt upsert absorbs replays after a crash
// mid-sequence.
func (g *Gateway) deliverTo(ctx context.Context, msg *model.Message, userID string) error {
	online, err := g.deps.Presence.IsOnline(ctx, userID)
	if err != nil {
		return err
	}

	if !online {
		return g.deps.Offline.Enqueue(ctx, userID, msg)
	}

	// local connections get the push directly; remote ones get it through
	// the conversation subscription fed by the broadcast above, or through
	// their inbox subscription when the conversation is not open there
	g.pushUser(userID, EncodeFrame(EvMessageNew, newMessagePayload{
		Message:        msg,
		ConversationID: msg.ConversationID,
	}))
	if g.hasRemoteConn(ctx, userID) {
		if err := g.deps.Broker.PublishUserMessage(ctx, userID, &broadcast.NewMessageEvent{
			Message:       msg,
			RecipientIDs:  []string{userID},
			SenderID:      msg.SenderID,
			OriginGateway: g.cfg.GatewayID,
			Recalled:      msg.Recalled(),
		}); err != nil {
			logger.Warnf("[gateway] inbox publish msg=%d user=%s: %v", msg.ID, userID, err)
		}
	}

	if err := g.deps.Receipts.MarkDelivered(ctx, msg.ID, userID); err != nil {
		logger.Warnf("[gateway] mark delivered msg=%d user=%s: %v", msg.ID, userID, err)
	}
	if err := g.deps.Unread.IncrementUnread(ctx, msg.ConversationID, userID); err != nil {
		logger.Warnf("[gateway] unread inc conv=%s user=%s: %v", msg.ConversationID, userID, err)
	}
	if err := g.deps.Broker.PublishReceipt(ctx, msg.SenderID, &broadcast.ReceiptEvent{
		MessageID: msg.ID,
		UserID:    userID,
		Status:    model.ReceiptDelivered,
		Timestamp: time.Now(),
	}); err != nil {
		logger.Warnf("[gateway] receipt publish msg=%d user=%s: %v", msg.ID, userID, err)
	}
	return nil
}

// hasRemoteConn reports whether the user holds a live connection on another
// process. Publishing when the presence read fails keeps delivery safe at the
// cost of an event nobody may consume.
func (g *Gateway) hasRemoteConn(ctx context.Context, userID string) bool {
	conns, err := g.deps.Presence.Connections(ctx, userID)
	if err != nil {
		logger.Warnf("[gateway] presence connections user=%s: %v", userID, err)
		return true
	}
	for _, gw := range conns {
		if gw != g.cfg.GatewayID {
			return true
		}
	}
	return false
}

// handleRecall soft-deletes a message and tells every member. Delivery only;
// no receipts, no unread, no offline queueing for recall notices.
func (g *Gateway) handleRecall(ctx context.Context, c *Conn, data map[string]any) error {
	if c.UserID == "" {
		return errs.ErrUnauthenticated.Wrap()
	}
	p, err := DecodePayload[struct {
		MessageID int64 `mapstructure:"messageId"`
	}](data)
	if err != nil {
		return err
	}
	msg, err := g.deps.Messages.RecallMessage(ctx, p.MessageID, c.UserID)
	if err != nil {
		return err
	}

	members, err := g.deps.Members.GetActiveMembers(ctx, msg.ConversationID)
	if err != nil {
		return errs.ErrInternal.WrapMsg("resolve members", "err", err)
	}
	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID != c.UserID {
			recipients = append(recipients, m.UserID)
		}
	}

	ev := &broadcast.NewMessageEvent{
		Message:       msg,
		RecipientIDs:  recipients,
		SenderID:      msg.SenderID,
		OriginGateway: g.cfg.GatewayID,
		Recalled:      true,
	}
	if err := g.deps.Broker.PublishMessage(ctx, msg.ConversationID, ev); err != nil {
		logger.Warnf("[gateway] recall broadcast msg=%d: %v", msg.ID, err)
	}
	payload := EncodeFrame(EvMessageRecalled, newMessagePayload{
		Message:        msg,
		ConversationID: msg.ConversationID,
	})
	for _, uid := range recipients {
		g.pushUser(uid, payload)
		if !g.hasRemoteConn(ctx, uid) {
			continue
		}
		if err := g.deps.Broker.PublishUserMessage(ctx, uid, &broadcast.NewMessageEvent{
			Message:       msg,
			RecipientIDs:  []string{uid},
			SenderID:      msg.SenderID,
			OriginGateway: g.cfg.GatewayID,
			Recalled:      true,
		}); err != nil {
			logger.Warnf("[gateway] recall inbox publish msg=%d user=%s: %v", msg.ID, uid, err)
		}
	}
	c.Push(payload)
	return nil
}
