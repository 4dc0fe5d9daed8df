package gateway

import (
	"context"

	"RTChat/tools/errs"
)

// HandlerFunc processes one inbound frame for one connection. Authorization
// and validation are the first steps of every handler.
type HandlerFunc func(ctx context.Context, c *Conn, data map[string]any) error

// Dispatcher is an explicit event-name -> handler registry.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

func (d *Dispatcher) Register(event string, h HandlerFunc) {
	d.handlers[event] = h
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Conn, f *Frame) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		return errs.ErrArgs.WithDetail("unknown event " + f.Event).Wrap()
	}
	return h(ctx, c, f.Data)
}
