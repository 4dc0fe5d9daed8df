package gateway

import (
	"context"

	"RTChat/service/broadcast"
	"RTChat/tools/errs"
)

// Conversation subscriptions are per-connection, not per-user: each open
// conversation on each device holds its own broker subscriptions, torn down
// on close or disconnect. A second open of the same conversation on the same
// connection is a no-op.

func convKey(convID string) string { return "conv:" + convID }

func (g *Gateway) handleConversationOpen(ctx context.Context, c *Conn, data map[string]any) error {
	if c.UserID == "" {
		return errs.ErrUnauthenticated.Wrap()
	}
	p, err := DecodePayload[struct {
		ConversationID string `mapstructure:"conversationId"`
	}](data)
	if err != nil {
		return err
	}
	if p.ConversationID == "" {
		return errs.ErrArgs.WithDetail("conversationId required").Wrap()
	}
	ok, err := g.deps.Members.IsMember(ctx, p.ConversationID, c.UserID)
	if err != nil {
		return errs.ErrInternal.WrapMsg("membership check", "err", err)
	}
	if !ok {
		return errs.ErrNotMember.Wrap()
	}
	key := convKey(p.ConversationID)
	if c.HasTeardown(key) {
		return nil
	}

	userID := c.UserID
	unsubMsg, err := g.deps.Broker.SubscribeMessages(p.ConversationID, func(ev *broadcast.NewMessageEvent) {
		// the origin process pushed to its local connections already
		if ev.OriginGateway == g.cfg.GatewayID {
			return
		}
		if !addressedTo(ev, userID) {
			return
		}
		event := EvMessageNew
		if ev.Recalled {
			event = EvMessageRecalled
		}
		c.Push(EncodeFrame(event, newMessagePayload{
			Message:        ev.Message,
			ConversationID: ev.Message.ConversationID,
		}))
	})
	if err != nil {
		return errs.ErrInternal.WrapMsg("subscribe messages", "err", err)
	}
	c.AddTeardown(key, unsubMsg)

	unsubTyp, err := g.deps.Broker.SubscribeTyping(p.ConversationID, func(ev *broadcast.TypingEvent) {
		if ev.UserID == userID {
			return
		}
		c.Push(EncodeFrame(EvTypingStatus, typingPayload{
			ConversationID: ev.ConversationID,
			UserID:         ev.UserID,
			IsTyping:       ev.IsTyping,
		}))
	})
	if err != nil {
		c.RunTeardowns(key)
		return errs.ErrInternal.WrapMsg("subscribe typing", "err", err)
	}
	c.AddTeardown(key, unsubTyp)
	return nil
}

// handleConversationClose drops the connection's subscriptions for the
// conversation. Closing a conversation that was never opened is a no-op.
func (g *Gateway) handleConversationClose(ctx context.Context, c *Conn, data map[string]any) error {
	if c.UserID == "" {
		return errs.ErrUnauthenticated.Wrap()
	}
	p, err := DecodePayload[struct {
		ConversationID string `mapstructure:"conversationId"`
	}](data)
	if err != nil {
		return err
	}
	c.RunTeardowns(convKey(p.ConversationID))
	return nil
}

func addressedTo(ev *broadcast.NewMessageEvent, userID string) bool {
	for _, id := range ev.RecipientIDs {
		if id == userID {
			return true
		}
	}
	return false
}
