//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/p2pquake-service/internal/adapter/kafka"
	wsadapter "github.com/couchcryptid/p2pquake-service/internal/adapter/websocket"
	"github.com/couchcryptid/p2pquake-service/internal/config"
	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/monitor"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
)

const testTopic = "test-p2p-events"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("test-cluster"))
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start kafka container")

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic so consumption order matches
// publish order.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// feedServer replays the monitor's fixture feed to every WebSocket client.
func feedServer(t *testing.T) string {
	t.Helper()
	feed, err := os.ReadFile("../monitor/testdata/feed.jsonl")
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for line := range bytes.SplitSeq(bytes.TrimSpace(feed), []byte("\n")) {
			if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type published struct {
	Key     string
	Headers map[string]string
	Value   map[string]any
}

func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader) published {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var value map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &value))
	return published{Key: string(msg.Key), Headers: headers, Value: value}
}

// TestFeedToKafka runs the monitor against a WebSocket feed with the Kafka
// writer registered for every code, then reads the topic back.
func TestFeedToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaTopic: testTopic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	cache := monitor.NewCache(100)
	registry := monitor.NewRegistry(metrics, discardLogger())
	for _, code := range domain.KnownCodes {
		registry.Register(code, writer)
	}
	mon := monitor.New(monitor.Options{
		URL:     feedServer(t),
		Enabled: true,
		Dialer:  wsadapter.NewDialer(5 * time.Second),
		Backoff: monitor.ConstantBackoff(time.Hour),
	}, cache, registry, metrics, discardLogger())

	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()
	t.Cleanup(func() {
		mon.Stop()
		<-done
	})

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	quake := readPublished(ctx, t, consumer)
	assert.Equal(t, "657a8e4b5b3e3c0007a1b2c3", quake.Key)
	assert.Equal(t, "551", quake.Headers["code"])
	assert.Equal(t, "jma_quake", quake.Headers["code_name"])
	assert.Equal(t, "2024/01/01 16:10:09.123", quake.Headers["received_at"])
	_, err := time.Parse(time.RFC3339, quake.Headers["published_at"])
	assert.NoError(t, err, "published_at should be valid RFC3339")
	assert.Equal(t, "6弱", quake.Value["maxScaleLabel"])

	userquake := readPublished(ctx, t, consumer)
	assert.Equal(t, "userquake", userquake.Headers["code_name"])

	// The unknown-code frame is dropped before dispatch.
	first := readPublished(ctx, t, consumer)
	second := readPublished(ctx, t, consumer)
	assert.Equal(t, "t-0001", first.Key)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, false, first.Value["cancelled"])
	assert.Equal(t, true, second.Value["cancelled"])

	eew := readPublished(ctx, t, consumer)
	assert.Equal(t, "556", eew.Headers["code"])
}
