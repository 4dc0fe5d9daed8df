package broadcast

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"RTChat/logger"
	"RTChat/tools/errs"

	"github.com/nats-io/nats.go"
)

// Subjects, one per semantic concern:
//
//	im.conv.<conversation>.message
//	im.conv.<conversation>.typing
//	im.user.<user>.message
//	im.user.<user>.receipt
//
// NATS core only (no JetStream): the offline queue already covers absent
// users, so persistence at this hop would only buy duplicate delivery.

func msgSubject(convID string) string { return "im.conv." + convID + ".message" }
func typingSubject(convID string) string { return "im.conv." + convID + ".typing" }
func userMsgSubject(userID string) string { return "im.user." + userID + ".message" }
func receiptSubject(userID string) string { return "im.user." + userID + ".receipt" }

type NatsConfig struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(cfg NatsConfig) (*NatsBroker, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(b.nc.Publish(subject, data))
}

func (b *NatsBroker) PublishMessage(_ context.Context, convID string, ev *NewMessageEvent) error {
	return b.publish(msgSubject(convID), ev)
}

func (b *NatsBroker) SubscribeMessages(convID string, h MessageHandler) (Unsubscribe, error) {
	sub, err := b.nc.Subscribe(msgSubject(convID), func(m *nats.Msg) {
		var ev NewMessageEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			logger.Warnf("[broadcast] drop bad message event subject=%s err=%v", m.Subject, err)
			return
		}
		h(&ev)
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return unsubFunc(sub), nil
}

func (b *NatsBroker) PublishUserMessage(_ context.Context, userID string, ev *NewMessageEvent) error {
	return b.publish(userMsgSubject(userID), ev)
}

func (b *NatsBroker) SubscribeUserMessages(userID string, h MessageHandler) (Unsubscribe, error) {
	sub, err := b.nc.Subscribe(userMsgSubject(userID), func(m *nats.Msg) {
		var ev NewMessageEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			logger.Warnf("[broadcast] drop bad message event subject=%s err=%v", m.Subject, err)
			return
		}
		h(&ev)
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return unsubFunc(sub), nil
}

func (b *NatsBroker) PublishTyping(_ context.Context, convID string, ev *TypingEvent) error {
	return b.publish(typingSubject(convID), ev)
}

func (b *NatsBroker) SubscribeTyping(convID string, h TypingHandler) (Unsubscribe, error) {
	sub, err := b.nc.Subscribe(typingSubject(convID), func(m *nats.Msg) {
		var ev TypingEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			logger.Warnf("[broadcast] drop bad typing event subject=%s err=%v", m.Subject, err)
			return
		}
		h(&ev)
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return unsubFunc(sub), nil
}

func (b *NatsBroker) PublishReceipt(_ context.Context, userID string, ev *ReceiptEvent) error {
	return b.publish(receiptSubject(userID), ev)
}

func (b *NatsBroker) SubscribeReceipts(userID string, h ReceiptHandler) (Unsubscribe, error) {
	sub, err := b.nc.Subscribe(receiptSubject(userID), func(m *nats.Msg) {
		var ev ReceiptEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			logger.Warnf("[broadcast] drop bad receipt event subject=%s err=%v", m.Subject, err)
			return
		}
		h(&ev)
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return unsubFunc(sub), nil
}

func (b *NatsBroker) Close() error {
	return b.nc.Drain()
}

// unsubFunc wraps a subscription so tearing down twice, or after the
// connection is gone, stays a quiet no-op.
func unsubFunc(sub *nats.Subscription) Unsubscribe {
	return func() error {
		if sub == nil || !sub.IsValid() {
			return nil
		}
		return sub.Unsubscribe()
	}
}
