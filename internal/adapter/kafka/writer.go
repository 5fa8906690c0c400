// Package kafka publishes parsed P2P messages to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/p2pquake-service/internal/config"
	"github.com/couchcryptid/p2pquake-service/internal/domain"
)

// Writer produces one Kafka message per parsed P2P message.
// It implements monitor.Handler.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Handle publishes msg. Messages sharing an event id share a key, so
// corrections land on the same partition as the report they supersede.
func (w *Writer) Handle(ctx context.Context, msg domain.Message) error {
	km, err := serializeToMessage(msg, time.Now())
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Meta().Code, err)
	}
	w.logger.Debug("event published", "topic", w.writer.Topic, "key", string(km.Key))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a parsed message into a Kafka message. Id-less
// messages are keyed by their code.
func serializeToMessage(msg domain.Message, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize p2p message: %w", err)
	}
	meta := msg.Meta()
	key := meta.EventID()
	if key == "" {
		key = meta.Code.String()
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "code", Value: []byte(strconv.Itoa(int(meta.Code)))},
			{Key: "code_name", Value: []byte(meta.Code.String())},
			{Key: "received_at", Value: []byte(meta.Time)},
			{Key: "published_at", Value: []byte(publishedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
