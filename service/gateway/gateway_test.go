package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"RTChat/module/chat/model"
	"RTChat/module/chat/store"
	"RTChat/service/broadcast"
	"RTChat/service/storage"
	"RTChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type env struct {
	st   *store.MemStore
	pres *storage.MemPresence
	off  *storage.MemOfflineQueue
	brk  *broadcast.MemBroker
	gw   *Gateway
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvOn(t, "gw-1", store.NewMemStore(), storage.NewMemPresence(), storage.NewMemOfflineQueue(), broadcast.NewMemBroker())
}

// newEnvOn builds a gateway over shared backends, so two gateways can model
// two processes behind the same redis/nats/mongo.
func newEnvOn(t *testing.T, gwID string, st *store.MemStore, pres *storage.MemPresence, off *storage.MemOfflineQueue, brk *broadcast.MemBroker) *env {
	t.Helper()
	g := New(Config{GatewayID: gwID, TypingTTL: 60 * time.Millisecond}, Deps{
		Messages: st,
		Receipts: st,
		Members:  st,
		Unread:   st,
		Presence: pres,
		Offline:  off,
		Broker:   brk,
	})
	return &env{st: st, pres: pres, off: off, brk: brk, gw: g}
}

var connSeq int

// connect registers a live connection and swallows the initial sync frame.
func (e *env) connect(t *testing.T, userID string) *Conn {
	t.Helper()
	connSeq++
	c := NewConn(fmt.Sprintf("%s-c%d", userID, connSeq), userID, nil)
	require.NoError(t, e.gw.Connect(context.Background(), c))
	f := nextFrame(t, c)
	require.Equal(t, EvMessagesSync, f.Event)
	return c
}

func (e *env) dispatch(c *Conn, event string, data map[string]any) error {
	return e.gw.disp.Dispatch(context.Background(), c, &Frame{Event: event, Data: data})
}

type outFrame struct {
	Event string
	Data  map[string]any
}

func decodeFrame(t *testing.T, raw []byte) outFrame {
	t.Helper()
	var f struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &f))
	return outFrame{Event: f.Event, Data: f.Data}
}

func nextFrame(t *testing.T, c *Conn) outFrame {
	t.Helper()
	select {
	case raw := <-c.Out():
		return decodeFrame(t, raw)
	case <-time.After(waitFor):
		t.Fatalf("no frame for conn %s within %s", c.ID, waitFor)
		return outFrame{}
	}
}

// awaitEvent skips unrelated frames until one with the wanted event arrives.
func awaitEvent(t *testing.T, c *Conn, event string) outFrame {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case raw := <-c.Out():
			f := decodeFrame(t, raw)
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("no %q frame for conn %s within %s", event, c.ID, waitFor)
			return outFrame{}
		}
	}
}

func assertNoFrame(t *testing.T, c *Conn, d time.Duration) {
	t.Helper()
	select {
	case raw := <-c.Out():
		f := decodeFrame(t, raw)
		t.Fatalf("unexpected frame %q for conn %s: %v", f.Event, c.ID, f.Data)
	case <-time.After(d):
	}
}

func sendText(t *testing.T, e *env, c *Conn, convID, clientID, content string) int64 {
	t.Helper()
	require.NoError(t, e.dispatch(c, EvMessageSend, map[string]any{
		"conversationId":  convID,
		"clientMessageId": clientID,
		"type":            model.MsgTypeText,
		"content":         content,
	}))
	ack := awaitEvent(t, c, EvMessageSentAck)
	assert.Equal(t, clientID, ack.Data["clientMessageId"])
	// ids travel as strings; they do not survive a float64 round trip
	idStr, ok := ack.Data["serverMessageId"].(string)
	require.True(t, ok, "sent_ack missing serverMessageId")
	id, err := strconv.ParseInt(idStr, 10, 64)
	require.NoError(t, err)
	return id
}

func TestSendDeliversToOnlineRecipient(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")
	cb := e.connect(t, "bob")

	msgID := sendText(t, e, ca, "conv1", "cmid-1", "hello")
	require.Greater(t, msgID, int64(0))

	nf := awaitEvent(t, cb, EvMessageNew)
	msg := nf.Data["message"].(map[string]any)
	assert.Equal(t, "hello", msg["content"])
	assert.Equal(t, "alice", msg["senderId"])
	assert.Equal(t, "conv1", nf.Data["conversationId"])

	// server-side delivery marker plus receipt echo to the sender
	rf := awaitEvent(t, ca, EvMessageReceipt)
	assert.Equal(t, "bob", rf.Data["userId"])
	assert.Equal(t, model.ReceiptDelivered, rf.Data["status"])

	r, err := e.st.GetReceipt(context.Background(), msgID, "bob")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, model.ReceiptDelivered, r.Status)
	assert.Equal(t, int64(1), e.st.UnreadCount("conv1", "bob"))
}

func TestSendRetrySameClientMessageID(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")

	first := sendText(t, e, ca, "conv1", "retry-1", "once")
	second := sendText(t, e, ca, "conv1", "retry-1", "once")
	assert.Equal(t, first, second, "retry must resolve to the original message id")
}

func TestSendRejectsNonMember(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")

	err := e.dispatch(ca, EvMessageSend, map[string]any{
		"conversationId":  "conv1",
		"clientMessageId": "x1",
		"content":         "hi",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotMember))
}

func TestSendRejectsEmptyText(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	ca := e.connect(t, "alice")

	err := e.dispatch(ca, EvMessageSend, map[string]any{
		"conversationId":  "conv1",
		"clientMessageId": "x1",
		"content":         "",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrEmptyContent))
}

func TestOfflineRecipientQueuedThenSynced(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")

	ids := []int64{
		sendText(t, e, ca, "conv1", "off-1", "m1"),
		sendText(t, e, ca, "conv1", "off-2", "m2"),
		sendText(t, e, ca, "conv1", "off-3", "m3"),
	}
	// nothing delivered, everything queued
	assert.Equal(t, int64(0), e.st.UnreadCount("conv1", "bob"))

	cb := NewConn("bob-sync", "bob", nil)
	require.NoError(t, e.gw.Connect(context.Background(), cb))

	raw := <-cb.Out()
	var sync struct {
		Event string `json:"event"`
		Data  struct {
			Messages []*model.Message `json:"messages"`
			Count    int              `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &sync))
	require.Equal(t, EvMessagesSync, sync.Event)
	require.Equal(t, 3, sync.Data.Count)
	for i, m := range sync.Data.Messages {
		assert.Equal(t, ids[i], m.ID, "sync batch must be oldest first")
	}

	// delivered receipts echoed back to the sender, one per message
	for range ids {
		rf := awaitEvent(t, ca, EvMessageReceipt)
		assert.Equal(t, model.ReceiptDelivered, rf.Data["status"])
		assert.Equal(t, "bob", rf.Data["userId"])
	}

	// queue cleared; a reconnect sees an empty batch
	queued, err := e.off.GetAll(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, queued)

	for _, id := range ids {
		r, err := e.st.GetReceipt(context.Background(), id, "bob")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, model.ReceiptDelivered, r.Status)
	}
}

func TestSeenReceiptAndUnreadReset(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")
	cb := e.connect(t, "bob")

	id1 := sendText(t, e, ca, "conv1", "s-1", "m1")
	id2 := sendText(t, e, ca, "conv1", "s-2", "m2")
	awaitEvent(t, cb, EvMessageNew)
	awaitEvent(t, cb, EvMessageNew)
	require.Equal(t, int64(2), e.st.UnreadCount("conv1", "bob"))

	require.NoError(t, e.dispatch(cb, EvMessageSeen, map[string]any{
		"conversationId": "conv1",
		"messageIds":     []int64{id1, id2},
	}))

	assert.Equal(t, int64(0), e.st.UnreadCount("conv1", "bob"))
	// delivered receipts may still sit in alice's queue ahead of these
	for seen := 0; seen < 2; {
		rf := awaitEvent(t, ca, EvMessageReceipt)
		if rf.Data["status"] == model.ReceiptSeen {
			seen++
		}
	}

	ok, err := e.st.IsSeenByAll(context.Background(), id1, []string{"bob"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReceiptNeverDowngrades(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")
	cb := e.connect(t, "bob")

	id := sendText(t, e, ca, "conv1", "d-1", "m1")
	awaitEvent(t, cb, EvMessageNew)

	require.NoError(t, e.dispatch(cb, EvMessageSeen, map[string]any{
		"conversationId": "conv1",
		"messageIds":     []int64{id},
	}))
	// a late delivered ack must not undo SEEN
	require.NoError(t, e.dispatch(cb, EvMessageDeliveredAck, map[string]any{"messageId": id}))

	r, err := e.st.GetReceipt(context.Background(), id, "bob")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, model.ReceiptSeen, r.Status)
}

func TestDeliveredAckOwnMessageIsNoop(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	ca := e.connect(t, "alice")

	id := sendText(t, e, ca, "conv1", "own-1", "m1")
	require.NoError(t, e.dispatch(ca, EvMessageDeliveredAck, map[string]any{"messageId": id}))

	r, err := e.st.GetReceipt(context.Background(), id, "alice")
	require.NoError(t, err)
	assert.Nil(t, r, "senders never hold receipts for their own messages")
}

func TestDeliveredAckFromNonMemberRejected(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")
	cm := e.connect(t, "mallory")

	id := sendText(t, e, ca, "conv1", "fa-1", "private")

	err := e.dispatch(cm, EvMessageDeliveredAck, map[string]any{"messageId": id})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotMember))

	r, err := e.st.GetReceipt(context.Background(), id, "mallory")
	require.NoError(t, err)
	assert.Nil(t, r, "outsiders must not plant receipts")
	assertNoFrame(t, ca, 100*time.Millisecond)
}

func TestSeenIgnoresMessagesFromOtherConversations(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	e.st.AddMember("conv2", "alice", model.RoleOwner)
	e.st.AddMember("conv2", "carol", model.RoleMember)
	ca := e.connect(t, "alice")
	cb := e.connect(t, "bob")

	inside := sendText(t, e, ca, "conv1", "fs-1", "for bob")
	foreign := sendText(t, e, ca, "conv2", "fs-2", "not for bob")
	awaitEvent(t, cb, EvMessageNew)

	// bob is a conv1 member; the foreign id rides along and must be dropped
	require.NoError(t, e.dispatch(cb, EvMessageSeen, map[string]any{
		"conversationId": "conv1",
		"messageIds":     []int64{inside, foreign},
	}))

	r, err := e.st.GetReceipt(context.Background(), inside, "bob")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, model.ReceiptSeen, r.Status)

	r, err = e.st.GetReceipt(context.Background(), foreign, "bob")
	require.NoError(t, err)
	assert.Nil(t, r, "ids outside the conversation must leave no trace")

	// only one SEEN echo, for the in-conversation message
	rf := awaitEvent(t, ca, EvMessageReceipt)
	for rf.Data["status"] != model.ReceiptSeen {
		rf = awaitEvent(t, ca, EvMessageReceipt)
	}
	assert.Equal(t, strconv.FormatInt(inside, 10), rf.Data["messageId"])
	assertNoFrame(t, ca, 100*time.Millisecond)
}

func TestRecallNotifiesRecipients(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")
	cb := e.connect(t, "bob")

	id := sendText(t, e, ca, "conv1", "rc-1", "oops")
	awaitEvent(t, cb, EvMessageNew)

	require.NoError(t, e.dispatch(ca, EvMessageRecall, map[string]any{"messageId": id}))

	rf := awaitEvent(t, cb, EvMessageRecalled)
	msg := rf.Data["message"].(map[string]any)
	assert.NotNil(t, msg["deletedAt"])
	awaitEvent(t, ca, EvMessageRecalled)

	// only the sender may recall
	err := e.dispatch(cb, EvMessageRecall, map[string]any{"messageId": id})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrRecallNotSender))
}

// failingPresence simulates one user's presence shard being down.
type failingPresence struct {
	*storage.MemPresence
	failFor string
}

func (p *failingPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	if userID == p.failFor {
		return false, errors.New("presence lookup failed")
	}
	return p.MemPresence.IsOnline(ctx, userID)
}

func TestOneFailingRecipientDoesNotBlockOthers(t *testing.T) {
	st := store.NewMemStore()
	pres := &failingPresence{MemPresence: storage.NewMemPresence(), failFor: "carol"}
	off := storage.NewMemOfflineQueue()
	brk := broadcast.NewMemBroker()
	g := New(Config{GatewayID: "gw-1"}, Deps{
		Messages: st, Receipts: st, Members: st, Unread: st,
		Presence: pres, Offline: off, Broker: brk,
	})
	e := &env{st: st, pres: pres.MemPresence, off: off, brk: brk, gw: g}

	st.AddMember("conv1", "alice", model.RoleOwner)
	st.AddMember("conv1", "bob", model.RoleMember)
	st.AddMember("conv1", "carol", model.RoleMember)
	ca := e.connect(t, "alice")
	cb := e.connect(t, "bob")

	sendText(t, e, ca, "conv1", "iso-1", "still flows")
	nf := awaitEvent(t, cb, EvMessageNew)
	assert.Equal(t, "conv1", nf.Data["conversationId"])
}

func TestMultiDeviceDelivery(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")
	cb1 := e.connect(t, "bob")
	cb2 := e.connect(t, "bob")

	sendText(t, e, ca, "conv1", "md-1", "both devices")
	awaitEvent(t, cb1, EvMessageNew)
	awaitEvent(t, cb2, EvMessageNew)
	// one recipient, one unread bump, regardless of device count
	assert.Equal(t, int64(1), e.st.UnreadCount("conv1", "bob"))
}

func TestDisconnectedRecipientGoesToQueue(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("conv1", "alice", model.RoleOwner)
	e.st.AddMember("conv1", "bob", model.RoleMember)
	ca := e.connect(t, "alice")
	cb := e.connect(t, "bob")

	e.gw.Disconnect(context.Background(), cb)

	id := sendText(t, e, ca, "conv1", "dq-1", "for later")
	queued, err := e.off.GetAll(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, id, queued[0].ID)
}

func TestUnknownEventRejected(t *testing.T) {
	e := newEnv(t)
	ca := e.connect(t, "alice")
	err := e.dispatch(ca, "message:frobnicate", map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrArgs))
}

func TestHandleFrameReportsErrorsToSender(t *testing.T) {
	e := newEnv(t)
	ca := e.connect(t, "alice")

	e.gw.HandleFrame(context.Background(), ca, []byte(`{not json`))
	f := nextFrame(t, ca)
	require.Equal(t, EvError, f.Event)

	e.gw.HandleFrame(context.Background(), ca, []byte(`{"event":"message:send","data":{"conversationId":"conv1","clientMessageId":"e-1","content":"x"}}`))
	f = nextFrame(t, ca)
	require.Equal(t, EvError, f.Event)
	assert.Equal(t, EvMessageSend, f.Data["event"])
	assert.Equal(t, "e-1", f.Data["clientMessageId"])
	codeErr := f.Data["error"].(map[string]any)
	assert.Equal(t, float64(errs.NotConversationMember), codeErr["code"])
}

func TestFanOutCompleteness(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("group", "alice", model.RoleOwner)
	for _, u := range []string{"bob", "carol", "dave", "erin"} {
		e.st.AddMember("group", u, model.RoleMember)
	}
	ca := e.connect(t, "alice")
	cb := e.connect(t, "bob")
	cc := e.connect(t, "carol")
	// dave and erin stay offline

	id := sendText(t, e, ca, "group", "fan-1", "to everyone")

	awaitEvent(t, cb, EvMessageNew)
	awaitEvent(t, cc, EvMessageNew)

	ctx := context.Background()
	for _, u := range []string{"dave", "erin"} {
		queued, err := e.off.GetAll(ctx, u)
		require.NoError(t, err)
		require.Len(t, queued, 1, "offline member %s must be queued", u)
		assert.Equal(t, id, queued[0].ID)
	}
	for _, u := range []string{"bob", "carol"} {
		queued, err := e.off.GetAll(ctx, u)
		require.NoError(t, err)
		assert.Empty(t, queued, "online member %s must not be queued", u)
	}
	assert.Equal(t, int64(0), e.st.UnreadCount("group", "alice"))
}

func TestEndToEndOfflineThenSeen(t *testing.T) {
	e := newEnv(t)
	e.st.AddMember("ab", "A", model.RoleMember)
	e.st.AddMember("ab", "B", model.RoleMember)
	ca := e.connect(t, "A")

	// A sends while B is offline
	id := sendText(t, e, ca, "ab", "c1", "Hello")
	queued, err := e.off.GetAll(context.Background(), "B")
	require.NoError(t, err)
	require.Len(t, queued, 1)

	// B connects and gets the backlog in one batch
	cb := NewConn("B-e2e", "B", nil)
	require.NoError(t, e.gw.Connect(context.Background(), cb))
	raw := <-cb.Out()
	var sync struct {
		Event string `json:"event"`
		Data  struct {
			Messages []*model.Message `json:"messages"`
			Count    int              `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &sync))
	require.Equal(t, EvMessagesSync, sync.Event)
	require.Equal(t, 1, sync.Data.Count)
	assert.Equal(t, "Hello", sync.Data.Messages[0].Content)

	rf := awaitEvent(t, ca, EvMessageReceipt)
	assert.Equal(t, model.ReceiptDelivered, rf.Data["status"])
	assert.Equal(t, "B", rf.Data["userId"])

	// B reads
	require.NoError(t, e.dispatch(cb, EvMessageSeen, map[string]any{
		"conversationId": "ab",
		"messageIds":     []int64{id},
	}))
	rf = awaitEvent(t, ca, EvMessageReceipt)
	assert.Equal(t, model.ReceiptSeen, rf.Data["status"])
	assert.Equal(t, int64(0), e.st.UnreadCount("ab", "B"))
}
