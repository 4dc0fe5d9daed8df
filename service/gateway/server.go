package gateway

import (
	"context"
	"net/http"
	"time"

	"RTChat/logger"
	"RTChat/module/chat/model"
	"RTChat/service/broadcast"
	"RTChat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TokenVerifier authenticates the handshake token. Session management is
// another service's problem; only verification is consumed here.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

type Config struct {
	GatewayID  string
	TypingTTL  time.Duration
	FanWorkers int
	FanQueue   int
}

func (c *Config) norm() {
	if c.GatewayID == "" {
		c.GatewayID = "msg_gw-1"
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 3 * time.Second
	}
	if c.FanWorkers <= 0 {
		c.FanWorkers = 8
	}
	if c.FanQueue <= 0 {
		c.FanQueue = 1024
	}
}

// Deps are the collaborators the orchestrator coordinates. Store-backed
// fields usually point at one *store.Store; tests use mem twins.
type Deps struct {
	Messages MessageStore
	Receipts ReceiptStore
	Members  MemberResolver
	Unread   UnreadStore
	Presence Presence
	Offline  OfflineQueue
	Broker   broadcast.Broker
	Journal  Journal // optional
	Verifier TokenVerifier
}

// Gateway is the stateful delivery coordinator: it persists and dedupes
// inbound messages, acknowledges senders, fans out per recipient gated on
// presence, drains offline queues on reconnect and owns every per-connection
// subscription.
type Gateway struct {
	cfg    Config
	deps   Deps
	conns  *ConnManager
	disp   *Dispatcher
	fan    *Fanout
	typing *typingTable
}

func New(cfg Config, deps Deps) *Gateway {
	cfg.norm()
	g := &Gateway{
		cfg:    cfg,
		deps:   deps,
		conns:  NewConnManager(cfg.GatewayID),
		disp:   NewDispatcher(),
		fan:    NewFanout(cfg.FanWorkers, cfg.FanQueue),
		typing: newTypingTable(),
	}
	g.disp.Register(EvMessageSend, g.handleSendMessage)
	g.disp.Register(EvMessageDeliveredAck, g.handleDeliveredAck)
	g.disp.Register(EvMessageSeen, g.handleSeen)
	g.disp.Register(EvMessageRecall, g.handleRecall)
	g.disp.Register(EvTypingStart, g.handleTypingStart)
	g.disp.Register(EvTypingStop, g.handleTypingStop)
	g.disp.Register(EvConversationOpen, g.handleConversationOpen)
	g.disp.Register(EvConversationClose, g.handleConversationClose)
	return g
}

func (g *Gateway) Conns() *ConnManager { return g.conns }

// HandleWS upgrades the connection, authenticates the handshake token and
// runs the read loop until the peer goes away.
func (g *Gateway) HandleWS(c *gin.Context) {
	token := c.Query("token")
	userID, err := g.deps.Verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	conn := NewConn(uuid.NewString(), userID, ws)
	ctx := c.Request.Context()
	if err := g.Connect(ctx, conn); err != nil {
		logger.Errorf("[ws] connect user=%s: %v", userID, err)
		conn.Close()
		return
	}
	defer g.Disconnect(context.WithoutCancel(ctx), conn)

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(readDeadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", conn.ID)
			} else {
				logger.Infof("[ws] read err conn=%s: %v", conn.ID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		g.HandleFrame(ctx, conn, data)
	}
}

// HandleFrame parses and dispatches one inbound frame. Handler failures are
// reported to this sender only.
func (g *Gateway) HandleFrame(ctx context.Context, conn *Conn, raw []byte) {
	f, err := ParseFrame(raw)
	if err != nil {
		conn.Push(errorFrame("", "", err))
		return
	}
	if err := g.disp.Dispatch(ctx, conn, f); err != nil {
		conn.Push(errorFrame(f.Event, clientMsgIDOf(f.Data), err))
	}
}

func clientMsgIDOf(data map[string]any) string {
	if v, ok := data["clientMessageId"].(string); ok {
		return v
	}
	return ""
}

// Connect registers a freshly authenticated connection: presence, the
// connection's own inbox and receipt subscriptions, then the offline drain.
func (g *Gateway) Connect(ctx context.Context, conn *Conn) error {
	if conn.UserID == "" {
		return errs.ErrUnauthenticated.Wrap()
	}
	g.conns.Add(conn)
	if err := g.deps.Presence.Online(ctx, conn.UserID, conn.ID, g.cfg.GatewayID); err != nil {
		g.conns.Remove(conn.ID)
		return err
	}

	// the inbox subscription delivers to this connection while the
	// conversation is not open here; once it is, the conversation
	// subscription takes over and the inbox drops the event
	inboxUnsub, err := g.deps.Broker.SubscribeUserMessages(conn.UserID, func(ev *broadcast.NewMessageEvent) {
		if ev.OriginGateway == g.cfg.GatewayID {
			return
		}
		if conn.HasTeardown(convKey(ev.Message.ConversationID)) {
			return
		}
		event := EvMessageNew
		if ev.Recalled {
			event = EvMessageRecalled
		}
		conn.Push(EncodeFrame(event, newMessagePayload{
			Message:        ev.Message,
			ConversationID: ev.Message.ConversationID,
		}))
	})
	if err != nil {
		logger.Warnf("[gateway] inbox subscribe user=%s: %v", conn.UserID, err)
	} else {
		conn.AddTeardown("inbox", func() error { return inboxUnsub() })
	}

	unsub, err := g.deps.Broker.SubscribeReceipts(conn.UserID, func(ev *broadcast.ReceiptEvent) {
		conn.Push(EncodeFrame(EvMessageReceipt, receiptPayload{
			MessageID: ev.MessageID,
			UserID:    ev.UserID,
			Status:    ev.Status,
			Timestamp: ev.Timestamp.UnixMilli(),
		}))
	})
	if err != nil {
		logger.Warnf("[gateway] receipt subscribe user=%s: %v", conn.UserID, err)
	} else {
		conn.AddTeardown("receipts", func() error { return unsub() })
	}

	g.syncOffline(ctx, conn)
	return nil
}

// Disconnect tears the connection down: every stored subscription, typing
// timers it armed, presence, indexes.
func (g *Gateway) Disconnect(ctx context.Context, conn *Conn) {
	conn.RunAllTeardowns()
	g.typing.dropOwner(conn.ID)
	if err := g.deps.Presence.Offline(ctx, conn.UserID, conn.ID); err != nil {
		logger.Warnf("[gateway] presence offline user=%s conn=%s: %v", conn.UserID, conn.ID, err)
	}
	g.conns.Remove(conn.ID)
	conn.Close()
}

// syncOffline drains the user's offline queue as one messages:sync batch,
// bulk-marks everything delivered, echoes receipts to each sender, then
// clears. A crash between drain and clear resends on the next reconnect;
// clients dedup by message id.
func (g *Gateway) syncOffline(ctx context.Context, conn *Conn) {
	msgs, err := g.deps.Offline.GetAll(ctx, conn.UserID)
	if err != nil {
		logger.Warnf("[gateway] offline fetch user=%s: %v", conn.UserID, err)
		return
	}

	conn.Push(EncodeFrame(EvMessagesSync, syncPayload{Messages: msgs, Count: len(msgs)}))
	if len(msgs) == 0 {
		return
	}

	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := g.deps.Receipts.BulkMarkDelivered(ctx, ids, conn.UserID); err != nil {
		logger.Warnf("[gateway] bulk delivered user=%s: %v", conn.UserID, err)
	}
	now := time.Now()
	for _, m := range msgs {
		if err := g.deps.Broker.PublishReceipt(ctx, m.SenderID, &broadcast.ReceiptEvent{
			MessageID: m.ID,
			UserID:    conn.UserID,
			Status:    model.ReceiptDelivered,
			Timestamp: now,
		}); err != nil {
			logger.Warnf("[gateway] receipt publish msg=%d: %v", m.ID, err)
		}
	}
	if err := g.deps.Offline.Clear(ctx, conn.UserID); err != nil {
		logger.Warnf("[gateway] offline clear user=%s: %v", conn.UserID, err)
	}
}

// pushUser fans a payload out to every local connection of a user.
func (g *Gateway) pushUser(userID string, payload []byte) {
	g.fan.Broadcast(g.conns.UserConns(userID), payload)
}
