package journal

import (
	"context"
	"encoding/json"

	"RTChat/logger"
	"RTChat/module/chat/model"
	"RTChat/tools/errs"

	"github.com/Shopify/sarama"
)

// Applier folds one journaled message into a read model.
type Applier interface {
	ApplyMessage(ctx context.Context, msg *model.Message) error
}

// Projector consumes the journal topic in a consumer group and applies each
// message. Journal replay after a rebalance is expected; appliers must be
// tolerant of seeing a message twice.
type Projector struct {
	group   sarama.ConsumerGroup
	topic   string
	applier Applier
}

func NewProjector(cfg Config, applier Applier) (*Projector, error) {
	cfg.norm()
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	go func() {
		for err := range group.Errors() {
			logger.Warnf("[journal] consumer group error: %v", err)
		}
	}()
	return &Projector{group: group, topic: cfg.Topic, applier: applier}, nil
}

// Run blocks until ctx is cancelled.
func (p *Projector) Run(ctx context.Context) error {
	h := &groupHandler{applier: p.applier}
	for {
		if err := p.group.Consume(ctx, []string{p.topic}, h); err != nil {
			logger.Warnf("[journal] consume error: %v", err)
		}
		if ctx.Err() != nil {
			return p.group.Close()
		}
	}
}

type groupHandler struct {
	applier Applier
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for kmsg := range claim.Messages() {
		var msg model.Message
		if err := json.Unmarshal(kmsg.Value, &msg); err != nil {
			logger.Warnf("[journal] skip bad entry topic=%s offset=%d: %v", kmsg.Topic, kmsg.Offset, err)
			session.MarkMessage(kmsg, "")
			continue
		}
		if err := h.applier.ApplyMessage(session.Context(), &msg); err != nil {
			// leave unmarked so the entry is retried after restart
			logger.Warnf("[journal] apply message id=%d: %v", msg.ID, err)
			continue
		}
		session.MarkMessage(kmsg, "")
	}
	return nil
}
