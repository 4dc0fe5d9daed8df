package broadcast

import (
	"context"
	"sync"
)

// MemBroker is the in-process twin of the NATS broker for tests and
// single-node runs. Handlers run synchronously on the publisher's goroutine.
type MemBroker struct {
	mu       sync.RWMutex
	nextID   int
	msgSubs  map[string]map[int]MessageHandler
	userSubs map[string]map[int]MessageHandler
	typSubs  map[string]map[int]TypingHandler
	rcpSubs  map[string]map[int]ReceiptHandler
	closed   bool
}

func NewMemBroker() *MemBroker {
	return &MemBroker{
		msgSubs:  make(map[string]map[int]MessageHandler),
		userSubs: make(map[string]map[int]MessageHandler),
		typSubs:  make(map[string]map[int]TypingHandler),
		rcpSubs:  make(map[string]map[int]ReceiptHandler),
	}
}

func (b *MemBroker) PublishMessage(_ context.Context, convID string, ev *NewMessageEvent) error {
	b.mu.RLock()
	hs := make([]MessageHandler, 0, len(b.msgSubs[convID]))
	for _, h := range b.msgSubs[convID] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
	return nil
}

func (b *MemBroker) SubscribeMessages(convID string, h MessageHandler) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgSubs[convID] == nil {
		b.msgSubs[convID] = make(map[int]MessageHandler)
	}
	id := b.nextID
	b.nextID++
	b.msgSubs[convID][id] = h
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.msgSubs[convID], id)
		return nil
	}, nil
}

func (b *MemBroker) PublishUserMessage(_ context.Context, userID string, ev *NewMessageEvent) error {
	b.mu.RLock()
	hs := make([]MessageHandler, 0, len(b.userSubs[userID]))
	for _, h := range b.userSubs[userID] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
	return nil
}

func (b *MemBroker) SubscribeUserMessages(userID string, h MessageHandler) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.userSubs[userID] == nil {
		b.userSubs[userID] = make(map[int]MessageHandler)
	}
	id := b.nextID
	b.nextID++
	b.userSubs[userID][id] = h
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.userSubs[userID], id)
		return nil
	}, nil
}

func (b *MemBroker) PublishTyping(_ context.Context, convID string, ev *TypingEvent) error {
	b.mu.RLock()
	hs := make([]TypingHandler, 0, len(b.typSubs[convID]))
	for _, h := range b.typSubs[convID] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
	return nil
}

func (b *MemBroker) SubscribeTyping(convID string, h TypingHandler) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.typSubs[convID] == nil {
		b.typSubs[convID] = make(map[int]TypingHandler)
	}
	id := b.nextID
	b.nextID++
	b.typSubs[convID][id] = h
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.typSubs[convID], id)
		return nil
	}, nil
}

func (b *MemBroker) PublishReceipt(_ context.Context, userID string, ev *ReceiptEvent) error {
	b.mu.RLock()
	hs := make([]ReceiptHandler, 0, len(b.rcpSubs[userID]))
	for _, h := range b.rcpSubs[userID] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
	return nil
}

func (b *MemBroker) SubscribeReceipts(userID string, h ReceiptHandler) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rcpSubs[userID] == nil {
		b.rcpSubs[userID] = make(map[int]ReceiptHandler)
	}
	id := b.nextID
	b.nextID++
	b.rcpSubs[userID][id] = h
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.rcpSubs[userID], id)
		return nil
	}, nil
}

func (b *MemBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.msgSubs = make(map[string]map[int]MessageHandler)
	b.userSubs = make(map[string]map[int]MessageHandler)
	b.typSubs = make(map[string]map[int]TypingHandler)
	b.rcpSubs = make(map[string]map[int]ReceiptHandler)
	return nil
}
