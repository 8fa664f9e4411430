// Package consumer forwards security events from the Kafka topic to Loki.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	pushTimeout  = 10 * time.Second
	readBackoff  = time.Second
	maxReadBytes = 10e6 // 10MB
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Pusher delivers one event (the raw Kafka message value) downstream.
type Pusher interface {
	Push(ctx context.Context, value []byte) error
}

// NewKafkaReader returns a group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       maxReadBytes,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
}

// Consumer moves messages from a reader to a pusher.
type Consumer struct {
	reader MessageReader
	pusher Pusher
	log    *zap.Logger
}

// New returns a Consumer.
func New(reader MessageReader, pusher Pusher, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{reader: reader, pusher: pusher, log: log}
}

// Run consumes until ctx is done. A message whose push fails is logged and committed anyway,
// so one bad event cannot stall the topic.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("kafka read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readBackoff):
			}
			continue
		}
		c.forward(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) forward(ctx context.Context, msg kafka.Message) {
	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := c.pusher.Push(pushCtx, msg.Value); err != nil {
		c.log.Warn("loki push failed",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}
