// Package monitor keeps a long-lived subscription to the P2P realtime feed,
// normalizes every frame and fans parsed messages out to handlers.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
)

// ErrAlreadyRunning is returned by Run when another Run is active.
var ErrAlreadyRunning = errors.New("monitor already running")

// Conn is one open realtime stream.
type Conn interface {
	// ReadMessage blocks until the next frame arrives or the stream fails.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens realtime streams.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// State is the monitor's position in its connect/listen/reconnect cycle.
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateListening
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Options configures a Monitor. Zero Backoff and Clock select
// ConstantBackoff(DefaultReconnectInterval) and the real clock.
type Options struct {
	URL     string
	Enabled bool
	Dialer  Dialer
	Backoff Backoff
	Clock   clockwork.Clock
}

// Monitor runs the dial → listen → reconnect loop.
type Monitor struct {
	url      string
	enabled  bool
	dialer   Dialer
	backoff  Backoff
	clock    clockwork.Clock
	cache    *Cache
	registry *Registry
	metrics  *observability.Metrics
	logger   *slog.Logger

	running atomic.Bool
	state   atomic.Int32

	mu     sync.Mutex
	conn   Conn
	stopCh chan struct{}
}

// New creates a monitor that writes into cache and dispatches through registry.
func New(opts Options, cache *Cache, registry *Registry, metrics *observability.Metrics, logger *slog.Logger) *Monitor {
	if opts.Backoff == nil {
		opts.Backoff = ConstantBackoff(DefaultReconnectInterval)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Monitor{
		url:      opts.URL,
		enabled:  opts.Enabled,
		dialer:   opts.Dialer,
		backoff:  opts.Backoff,
		clock:    opts.Clock,
		cache:    cache,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// State returns the current state.
func (m *Monitor) State() State { return State(m.state.Load()) }

// Running reports whether Run is active.
func (m *Monitor) Running() bool { return m.running.Load() }

// Connected reports whether a stream is currently open.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Run blocks until Stop is called or ctx is cancelled, reconnecting after
// every lost stream. It returns nil on a normal exit.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.enabled {
		m.logger.Warn("realtime monitoring disabled, not connecting")
		return nil
	}
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	stopCh := make(chan struct{})
	m.mu.Lock()
	m.stopCh = stopCh
	m.mu.Unlock()

	m.metrics.MonitorRunning.Set(1)
	m.logger.Info("monitor started", "url", m.url)
	defer func() {
		m.setState(StateStopped)
		m.running.Store(false)
		m.metrics.MonitorRunning.Set(0)
		m.logger.Info("monitor stopped")
	}()

	attempt := 0
	for {
		if m.done(ctx, stopCh) {
			return nil
		}

		m.setState(StateConnecting)
		conn, err := m.dialer.Dial(ctx, m.url)
		if err == nil {
			attempt = 0
			err = m.serve(ctx, stopCh, conn)
		}
		if m.done(ctx, stopCh) {
			return nil
		}

		wait := m.backoff.Next(attempt)
		attempt++
		m.logger.Warn("realtime stream lost, reconnecting", "error", err, "wait", wait, "attempt", attempt)
		m.setState(StateReconnecting)
		m.metrics.Reconnects.Inc()

		if !m.sleep(ctx, stopCh, wait) {
			return nil
		}
	}
}

// Stop ends Run cooperatively: an in-flight dispatch completes first.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// serve reads frames from conn until it fails. The connection is closed on
// return, and earlier if ctx is cancelled.
func (m *Monitor) serve(ctx context.Context, stopCh <-chan struct{}, conn Conn) error {
	m.mu.Lock()
	select {
	case <-stopCh:
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	default:
	}
	m.conn = conn
	m.mu.Unlock()

	m.setState(StateListening)
	m.metrics.WebSocketConnected.Set(1)
	m.logger.Info("realtime stream connected", "url", m.url)

	watchDone := make(chan struct{})
	defer func() {
		close(watchDone)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		_ = conn.Close()
		m.metrics.WebSocketConnected.Set(0)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.handleFrame(ctx, data)
	}
}

// handleFrame processes one frame, which may hold several concatenated or
// newline-delimited JSON objects. A syntax error drops the rest of the frame.
func (m *Monitor) handleFrame(ctx context.Context, data []byte) {
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return
		}
		m.metrics.MessagesReceived.Inc()
		if err != nil {
			m.drop(fmt.Errorf("%w: %v", domain.ErrMalformed, err))
			return
		}

		msg, err := domain.ParseMessage(raw)
		if err != nil {
			m.drop(err)
			continue
		}

		meta := msg.Meta()
		m.metrics.MessagesParsed.WithLabelValues(meta.Code.String()).Inc()
		m.cache.Add(msg)
		m.metrics.HistorySize.Set(float64(m.cache.Len()))
		m.logger.Debug("realtime message received", "code", int(meta.Code), "id", meta.EventID())

		m.registry.Dispatch(ctx, msg)
	}
}

func (m *Monitor) drop(err error) {
	reason := dropReason(err)
	m.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	m.logger.Warn("dropping realtime message", "reason", reason, "error", err)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownCode):
		return "unknown_code"
	case errors.Is(err, domain.ErrSchemaMismatch):
		return "schema_mismatch"
	default:
		return "malformed"
	}
}

func (m *Monitor) setState(s State) { m.state.Store(int32(s)) }

func (m *Monitor) done(ctx context.Context, stopCh <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stopCh:
		return true
	default:
		return false
	}
}

func (m *Monitor) sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := m.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-timer.Chan():
		return true
	}
}
