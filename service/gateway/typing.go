package gateway

import (
	"context"
	"sync"
	"time"

	"RTChat/logger"
	"RTChat/service/broadcast"
	"RTChat/tools/errs"
)

// Typing indicators are ephemeral: broadcast only, never persisted.
// typing:start arms a one-shot auto-stop timer; an explicit stop or a new
// start supersedes it. The timer may still fire after an explicit stop or a
// disconnect, producing a duplicate isTyping=false — harmless, clients
// coalesce it.

type typingKey struct {
	convID string
	userID string
}

type typingEntry struct {
	timer  *time.Timer
	connID string
}

type typingTable struct {
	mu sync.Mutex
	m  map[typingKey]*typingEntry
}

func newTypingTable() *typingTable {
	return &typingTable{m: make(map[typingKey]*typingEntry)}
}

// arm replaces any pending timer for (conv, user).
func (t *typingTable) arm(k typingKey, connID string, d time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.m[k]; ok {
		e.timer.Stop()
	}
	e := &typingEntry{connID: connID}
	e.timer = time.AfterFunc(d, func() {
		// only fire if still the armed entry; a stop or re-start wins
		t.mu.Lock()
		cur, ok := t.m[k]
		if ok && cur == e {
			delete(t.m, k)
		}
		t.mu.Unlock()
		if ok && cur == e {
			fire()
		}
	})
	t.m[k] = e
}

// disarm cancels a pending timer; reports whether one was armed.
func (t *typingTable) disarm(k typingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.m[k]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.m, k)
	return true
}

// dropOwner cancels every timer a connection armed (disconnect path). A
// timer that already fired into the emptied table is a no-op.
func (t *typingTable) dropOwner(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.m {
		if e.connID == connID {
			e.timer.Stop()
			delete(t.m, k)
		}
	}
}

func (g *Gateway) handleTypingStart(ctx context.Context, c *Conn, data map[string]any) error {
	return g.typingEvent(ctx, c, data, true)
}

func (g *Gateway) handleTypingStop(ctx context.Context, c *Conn, data map[string]any) error {
	return g.typingEvent(ctx, c, data, false)
}

func (g *Gateway) typingEvent(ctx context.Context, c *Conn, data map[string]any, start bool) error {
	if c.UserID == "" {
		return errs.ErrUnauthenticated.Wrap()
	}
	p, err := DecodePayload[struct {
		ConversationID string `mapstructure:"conversationId"`
	}](data)
	if err != nil || p.ConversationID == "" {
		return nil // malformed typing events are dropped silently
	}
	ok, err := g.deps.Members.IsMember(ctx, p.ConversationID, c.UserID)
	if err != nil || !ok {
		return nil // privilege-sensitive: silent drop, no error echo
	}

	k := typingKey{convID: p.ConversationID, userID: c.UserID}
	if start {
		g.broadcastTyping(p.ConversationID, c.UserID, true)
		g.typing.arm(k, c.ID, g.cfg.TypingTTL, func() {
			g.broadcastTyping(p.ConversationID, c.UserID, false)
		})
		return nil
	}
	g.typing.disarm(k)
	g.broadcastTyping(p.ConversationID, c.UserID, false)
	return nil
}

func (g *Gateway) broadcastTyping(convID, userID string, isTyping bool) {
	if err := g.deps.Broker.PublishTyping(context.Background(), convID, &broadcast.TypingEvent{
		ConversationID: convID,
		UserID:         userID,
		IsTyping:       isTyping,
	}); err != nil {
		logger.Warnf("[gateway] typing publish conv=%s user=%s: %v", convID, userID, err)
	}
}
