package broadcast

import (
	"context"
	"testing"

	"RTChat/module/chat/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemBrokerMessageSubjectsAreIsolated(t *testing.T) {
	b := NewMemBroker()
	ctx := context.Background()

	var got []string
	_, err := b.SubscribeMessages("conv1", func(ev *NewMessageEvent) {
		got = append(got, ev.Message.Content)
	})
	require.NoError(t, err)

	require.NoError(t, b.PublishMessage(ctx, "conv1", &NewMessageEvent{Message: &model.Message{Content: "one"}}))
	require.NoError(t, b.PublishMessage(ctx, "conv2", &NewMessageEvent{Message: &model.Message{Content: "other"}}))

	assert.Equal(t, []string{"one"}, got)
}

func TestMemBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemBroker()
	ctx := context.Background()

	n := 0
	unsub, err := b.SubscribeTyping("conv1", func(ev *TypingEvent) { n++ })
	require.NoError(t, err)

	require.NoError(t, b.PublishTyping(ctx, "conv1", &TypingEvent{UserID: "alice", IsTyping: true}))
	require.NoError(t, unsub())
	require.NoError(t, b.PublishTyping(ctx, "conv1", &TypingEvent{UserID: "alice", IsTyping: false}))

	assert.Equal(t, 1, n)
	// unsubscribing twice is harmless
	require.NoError(t, unsub())
}

func TestMemBrokerUserSubjectsAreIsolated(t *testing.T) {
	b := NewMemBroker()
	ctx := context.Background()

	var got []string
	_, err := b.SubscribeUserMessages("bob", func(ev *NewMessageEvent) {
		got = append(got, ev.Message.Content)
	})
	require.NoError(t, err)

	require.NoError(t, b.PublishUserMessage(ctx, "bob", &NewMessageEvent{Message: &model.Message{Content: "for bob"}}))
	require.NoError(t, b.PublishUserMessage(ctx, "carol", &NewMessageEvent{Message: &model.Message{Content: "for carol"}}))

	assert.Equal(t, []string{"for bob"}, got)
}

func TestMemBrokerReceiptFanout(t *testing.T) {
	b := NewMemBroker()
	ctx := context.Background()

	var a, c int
	_, err := b.SubscribeReceipts("alice", func(ev *ReceiptEvent) { a++ })
	require.NoError(t, err)
	_, err = b.SubscribeReceipts("alice", func(ev *ReceiptEvent) { a++ })
	require.NoError(t, err)
	_, err = b.SubscribeReceipts("carol", func(ev *ReceiptEvent) { c++ })
	require.NoError(t, err)

	require.NoError(t, b.PublishReceipt(ctx, "alice", &ReceiptEvent{MessageID: 1, UserID: "bob", Status: model.ReceiptDelivered}))

	assert.Equal(t, 2, a, "every subscription of the target user fires")
	assert.Equal(t, 0, c)
}

func TestMemBrokerPublishWithoutSubscribers(t *testing.T) {
	b := NewMemBroker()
	ctx := context.Background()
	require.NoError(t, b.PublishMessage(ctx, "nowhere", &NewMessageEvent{Message: &model.Message{}}))
	require.NoError(t, b.Close())
	require.NoError(t, b.PublishMessage(ctx, "nowhere", &NewMessageEvent{Message: &model.Message{}}))
}
