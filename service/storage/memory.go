package storage

import (
	"context"
	"sort"
	"sync"

	"RTChat/module/chat/model"
)

// In-memory twins of the Redis-backed presence tracker and offline queue.
// Used by single-node runs and tests, same pattern as keeping a mem store
// beside the real one.

type MemPresence struct {
	mu    sync.RWMutex
	conns map[string]map[string]string // user -> connID -> gatewayID
}

func NewMemPresence() *MemPresence {
	return &MemPresence{conns: make(map[string]map[string]string)}
}

func (p *MemPresence) Online(_ context.Context, userID, connID, gatewayID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.conns[userID]
	if m == nil {
		m = make(map[string]string)
		p.conns[userID] = m
	}
	m[connID] = gatewayID
	return nil
}

func (p *MemPresence) Offline(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m := p.conns[userID]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(p.conns, userID)
		}
	}
	return nil
}

func (p *MemPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns[userID]) > 0, nil
}

func (p *MemPresence) Connections(_ context.Context, userID string) (map[string]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.conns[userID]))
	for cid, gw := range p.conns[userID] {
		out[cid] = gw
	}
	return out, nil
}

type MemOfflineQueue struct {
	mu     sync.Mutex
	queues map[string][]*model.Message
	max    int
}

func NewMemOfflineQueue() *MemOfflineQueue {
	return &MemOfflineQueue{queues: make(map[string][]*model.Message), max: offlineQueueMax}
}

func (q *MemOfflineQueue) Enqueue(_ context.Context, userID string, msg *model.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := append(q.queues[userID], msg)
	if len(list) > q.max {
		list = list[len(list)-q.max:] // drop oldest, same as LTRIM
	}
	q.queues[userID] = list
	return nil
}

func (q *MemOfflineQueue) GetAll(_ context.Context, userID string) ([]*model.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.queues[userID]
	out := make([]*model.Message, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *MemOfflineQueue) Clear(_ context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, userID)
	return nil
}
