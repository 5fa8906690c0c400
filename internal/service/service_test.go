package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/p2pquake-service/internal/adapter/p2p"
	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/monitor"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
)

const (
	quakeFrame = `{"id":"q-2024","code":551,"time":"2024/01/01 16:10:09.123",
		"issue":{"source":"気象庁","time":"2024/01/01 16:10:00","type":"DetailScale"},
		"earthquake":{"time":"2024/01/01 16:10:00","hypocenter":{"name":"石川県能登地方","latitude":37.5,"longitude":137.2,"depth":10,"magnitude":6.2},"maxScale":55},
		"points":[{"pref":"石川県","addr":"輪島市","isArea":false,"scale":55}]}`
	tsunamiIssued = `{"id":"ts-1","code":552,"time":"2024/01/01 16:22:00","cancelled":false,
		"issue":{"source":"気象庁","time":"2024/01/01 16:22:00","type":"Focus"},
		"areas":[{"grade":"MajorWarning","immediate":true,"name":"石川県能登"}]}`
	tsunamiCancelled = `{"id":"ts-1","code":552,"time":"2024/01/02 10:00:00","cancelled":true,
		"issue":{"source":"気象庁","time":"2024/01/02 10:00:00","type":"Focus"},"areas":[]}`
)

// streamConn replays frames and then blocks until closed.
type streamConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newStreamConn(frames ...string) *streamConn {
	c := &streamConn{frames: make(chan []byte, len(frames)), closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

func (c *streamConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *streamConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type oneShotDialer struct{ conn *streamConn }

func (d oneShotDialer) Dial(context.Context, string) (monitor.Conn, error) { return d.conn, nil }

type fixture struct {
	svc      *Service
	upstream *atomic.Int32
}

func newFixture(t *testing.T, frames ...string) fixture {
	t.Helper()
	var calls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(api.Close)

	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := monitor.NewCache(0)
	registry := monitor.NewRegistry(metrics, logger)
	mon := monitor.New(monitor.Options{
		URL:     "ws://feed.test",
		Enabled: true,
		Dialer:  oneShotDialer{conn: newStreamConn(frames...)},
		Clock:   clockwork.NewFakeClock(),
	}, cache, registry, metrics, logger)
	client := p2p.NewClient(api.URL, time.Second, 0, metrics, logger)

	svc := New(Settings{WebSocketEnabled: true, BaseURL: api.URL, WSURL: "ws://feed.test"}, client, mon, cache, registry, logger)
	return fixture{svc: svc, upstream: &calls}
}

func (f fixture) run(t *testing.T, wantHistory int) {
	t.Helper()
	f.svc.Start(context.Background())
	t.Cleanup(f.svc.Stop)
	require.Eventually(t, func() bool {
		return f.svc.Status().HistoryCount == wantHistory
	}, 2*time.Second, 5*time.Millisecond)
}

func TestService_QuakeEndToEnd(t *testing.T) {
	f := newFixture(t, quakeFrame)

	var seen atomic.Int32
	f.svc.RegisterCallback(domain.CodeJMAQuake, monitor.HandlerFunc(func(context.Context, domain.Message) error {
		seen.Add(1)
		return nil
	}))
	f.run(t, 1)
	require.Eventually(t, func() bool { return seen.Load() == 1 }, time.Second, 5*time.Millisecond)

	quakes := f.svc.LatestEarthquakes(10)
	require.Len(t, quakes, 1)
	assert.Equal(t, "6弱", quakes[0].MaxScaleLabel())
	mag, _ := quakes[0].Magnitude()
	assert.InDelta(t, 6.2, mag, 1e-9)

	st := f.svc.Status()
	assert.Equal(t, 1, st.HistoryCount)
	assert.Equal(t, 1, st.LatestDataCount)
	assert.Equal(t, 1, st.RegisteredCallbacks)
	assert.True(t, st.IsMonitoring)
	assert.True(t, st.WebSocketConnected)
	assert.Equal(t, "listening", st.State)

	require.NotNil(t, f.svc.Latest(domain.CodeJMAQuake))
	assert.Nil(t, f.svc.Latest(domain.CodeEEW))
	assert.Empty(t, f.svc.LatestEEW(10))
}

func TestService_TsunamiSupersededByID(t *testing.T) {
	f := newFixture(t, tsunamiIssued, tsunamiCancelled)
	f.run(t, 2)

	all := f.svc.LatestTsunamis(10)
	require.Len(t, all, 2)
	assert.False(t, all[0].Cancelled)
	assert.True(t, all[1].Cancelled)

	byID, ok := f.svc.EventByID("ts-1").(domain.JMATsunami)
	require.True(t, ok)
	assert.True(t, byID.Cancelled)

	got := f.svc.JMATsunamiByID(context.Background(), "ts-1")
	require.NotNil(t, got)
	assert.True(t, got.Cancelled)
	assert.Zero(t, f.upstream.Load(), "cache hit does not go upstream")
}

func TestService_ByIDFallsBackUpstream(t *testing.T) {
	f := newFixture(t)
	f.run(t, 0)

	assert.Nil(t, f.svc.JMAQuakeByID(context.Background(), "unknown"))
	assert.Equal(t, int32(1), f.upstream.Load())
	assert.Nil(t, f.svc.EventByID("unknown"))
}

func TestService_StopAndReadiness(t *testing.T) {
	f := newFixture(t)
	require.Error(t, f.svc.CheckReadiness(context.Background()))

	f.svc.Start(context.Background())
	f.svc.Start(context.Background()) // no-op
	require.Eventually(t, func() bool {
		return f.svc.CheckReadiness(context.Background()) == nil
	}, 2*time.Second, 5*time.Millisecond)

	f.svc.Stop()
	f.svc.Stop() // idempotent
	st := f.svc.Status()
	assert.False(t, st.IsMonitoring)
	assert.False(t, st.WebSocketConnected)
	assert.Equal(t, "stopped", st.State)
}

func TestService_ReadinessWhenRealtimeDisabled(t *testing.T) {
	f := newFixture(t)
	f.svc.settings.WebSocketEnabled = false
	assert.NoError(t, f.svc.CheckReadiness(context.Background()))
}
