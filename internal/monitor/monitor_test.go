package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
)

const (
	userquakeFrame = `{"id":"u1","code":561,"time":"2024/01/01 16:10:02","area":250}`
	quakeFrame     = `{"id":"q1","code":551,"time":"2024/01/01 16:10:09","issue":{"time":"2024/01/01 16:10:00","type":"DetailScale"},"earthquake":{"time":"2024/01/01 16:10:00","hypocenter":{"magnitude":6.2},"maxScale":55},"points":[]}`
)

var errPeerClosed = errors.New("peer closed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, len(frames)+8), closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

// hangUp makes ReadMessage fail once the queued frames are read.
func (c *fakeConn) hangUp() { close(c.frames) }

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, errPeerClosed
		}
		return f, nil
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

var errConnClosed = errors.New("use of closed connection")

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials atomic.Int32
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	i := int(d.dials.Add(1) - 1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil, errors.New("dial refused")
	}
	return d.conns[i], nil
}

type harness struct {
	mon      *Monitor
	cache    *Cache
	registry *Registry
	metrics  *observability.Metrics
	clock    *clockwork.FakeClock
	dialer   *fakeDialer
}

func newHarness(conns ...*fakeConn) *harness {
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()
	h := &harness{
		cache:    NewCache(0),
		registry: NewRegistry(metrics, logger),
		metrics:  metrics,
		clock:    clockwork.NewFakeClock(),
		dialer:   &fakeDialer{conns: conns},
	}
	h.mon = New(Options{
		URL:     "ws://feed.test/v2/ws",
		Enabled: true,
		Dialer:  h.dialer,
		Clock:   h.clock,
	}, h.cache, h.registry, metrics, logger)
	return h
}

func (h *harness) start(t *testing.T, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.mon.Run(ctx) }()
	return done
}

func waitReturn(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

// --- tests ---

func TestMonitor_ReconnectsAfterOneBackoff(t *testing.T) {
	first := newFakeConn(quakeFrame)
	first.hangUp()
	second := newFakeConn(userquakeFrame)
	h := newHarness(first, second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := h.start(t, ctx)

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), h.dialer.dials.Load())
	assert.Equal(t, StateReconnecting, h.mon.State())
	assert.Equal(t, 1, h.cache.Len())
	assert.False(t, h.mon.Connected())

	h.clock.Advance(DefaultReconnectInterval - time.Second)
	assert.Never(t, func() bool { return h.dialer.dials.Load() > 1 }, 50*time.Millisecond, 10*time.Millisecond)

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return h.dialer.dials.Load() == 2 && h.cache.Len() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateListening, h.mon.State())
	assert.True(t, h.mon.Connected())
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Reconnects), 0)

	h.mon.Stop()
	waitReturn(t, done)
	assert.True(t, second.isClosed())
	assert.Equal(t, StateStopped, h.mon.State())
	assert.False(t, h.mon.Running())
}

func TestMonitor_StopWhileListening(t *testing.T) {
	conn := newFakeConn(quakeFrame)
	h := newHarness(conn)

	done := h.start(t, context.Background())
	require.Eventually(t, h.mon.Connected, time.Second, 5*time.Millisecond)
	assert.True(t, h.mon.Running())

	h.mon.Stop()
	waitReturn(t, done)
	assert.True(t, conn.isClosed())
	assert.Equal(t, int32(1), h.dialer.dials.Load(), "no reconnect after Stop")
}

func TestMonitor_ContextCancelWhileListening(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(t, ctx)
	require.Eventually(t, h.mon.Connected, time.Second, 5*time.Millisecond)

	cancel()
	waitReturn(t, done)
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateStopped, h.mon.State())
}

func TestMonitor_StopDuringBackoff(t *testing.T) {
	h := newHarness() // every dial fails

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := h.start(t, ctx)

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.mon.Stop()
	waitReturn(t, done)
	assert.Equal(t, int32(1), h.dialer.dials.Load())
}

func TestMonitor_RunTwiceRejected(t *testing.T) {
	h := newHarness(newFakeConn())
	done := h.start(t, context.Background())
	require.Eventually(t, h.mon.Running, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.mon.Run(context.Background()), ErrAlreadyRunning)

	h.mon.Stop()
	waitReturn(t, done)
}

func TestMonitor_Disabled(t *testing.T) {
	h := newHarness(newFakeConn())
	h.mon.enabled = false

	require.NoError(t, h.mon.Run(context.Background()))
	assert.Zero(t, h.dialer.dials.Load())
	assert.Equal(t, StateStopped, h.mon.State())
}

func TestMonitor_DropsBadFramesAndDispatchesGood(t *testing.T) {
	conn := newFakeConn(
		`{"code":9999,"time":"2024/01/01 00:00:00"}`,
		`not json`,
		`{"code":551,"time":"x"}`,
		quakeFrame+"\n\n"+userquakeFrame+"\n",
	)
	conn.hangUp()
	h := newHarness(conn)

	var got []domain.InfoCode
	var mu sync.Mutex
	record := HandlerFunc(func(_ context.Context, m domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m.Meta().Code)
		return nil
	})
	h.registry.Register(domain.CodeJMAQuake, record)
	h.registry.Register(domain.CodeUserquake, record)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := h.start(t, ctx)
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.mon.Stop()
	waitReturn(t, done)

	assert.Equal(t, 2, h.cache.Len())
	mu.Lock()
	assert.Equal(t, []domain.InfoCode{domain.CodeJMAQuake, domain.CodeUserquake}, got)
	mu.Unlock()

	assert.InDelta(t, 5, testutil.ToFloat64(h.metrics.MessagesReceived), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.MessagesDropped.WithLabelValues("unknown_code")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.MessagesDropped.WithLabelValues("malformed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.MessagesDropped.WithLabelValues("schema_mismatch")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.HistorySize), 0)

	q, ok := h.cache.Latest(domain.CodeJMAQuake)
	require.True(t, ok)
	assert.Equal(t, "6弱", q.(domain.JMAQuake).MaxScaleLabel())
}

func TestMonitor_FeedFixture(t *testing.T) {
	feed, err := os.ReadFile("testdata/feed.jsonl")
	require.NoError(t, err)

	conn := newFakeConn(string(feed))
	conn.hangUp()
	h := newHarness(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := h.start(t, ctx)
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.mon.Stop()
	waitReturn(t, done)

	assert.Equal(t, 5, h.cache.Len(), "unknown code line is dropped")
	ts, ok := h.cache.ByID("t-0001")
	require.True(t, ok)
	assert.True(t, ts.(domain.JMATsunami).Cancelled, "later report wins by id")
	assert.Len(t, Last[domain.JMATsunami](h.cache, 10), 2)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, ConstantBackoff(DefaultReconnectInterval).Next(7))

	b := ExponentialBackoff{Base: 200 * time.Millisecond, Max: 5 * time.Second}
	assert.Equal(t, 200*time.Millisecond, b.Next(0))
	assert.Equal(t, 400*time.Millisecond, b.Next(1))
	assert.Equal(t, 1600*time.Millisecond, b.Next(3))
	assert.Equal(t, 5*time.Second, b.Next(10))
	assert.Equal(t, 5*time.Second, b.Next(1000))
}
