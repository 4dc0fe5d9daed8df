// Package journal streams every persisted message into Kafka. The journal is
// a side channel: delivery never waits on it and a lost journal entry never
// affects what clients see. Consumers fold the stream into read models such
// as the conversation summary.
package journal

import (
	"encoding/json"

	"RTChat/logger"
	"RTChat/module/chat/model"
	"RTChat/tools/errs"

	"github.com/Shopify/sarama"
)

const Topic = "im-message-journal"

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

func (c *Config) norm() {
	if c.Topic == "" {
		c.Topic = Topic
	}
	if c.GroupID == "" {
		c.GroupID = "im-journal-projector"
	}
}

// Producer is the async journal writer.
type Producer struct {
	prod  sarama.AsyncProducer
	topic string
}

func NewProducer(cfg Config) (*Producer, error) {
	cfg.norm()
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Retry.Max = 3
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Version = sarama.V2_1_0_0

	p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	go func() {
		for err := range p.Errors() {
			logger.Warnf("[journal] async produce error: %v", err)
		}
	}()
	return &Producer{prod: p, topic: cfg.Topic}, nil
}

// Append journals one message, keyed by conversation so one conversation
// stays on one partition.
func (p *Producer) Append(msg *model.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		logger.Warnf("[journal] marshal message id=%d: %v", msg.ID, err)
		return
	}
	p.prod.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.ConversationID),
		Value: sarama.ByteEncoder(b),
	}
}

func (p *Producer) Close() error {
	return p.prod.Close()
}
