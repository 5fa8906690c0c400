// Package service is the facade the HTTP layer and main program talk to. It
// owns the REST client and the realtime monitor and answers queries from the
// monitor's cache before going upstream.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/couchcryptid/p2pquake-service/internal/adapter/p2p"
	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/monitor"
)

// Settings is the upstream configuration reported by Status.
type Settings struct {
	UseSandbox       bool
	WebSocketEnabled bool
	BaseURL          string
	WSURL            string
}

// Status is a point-in-time snapshot of the facade.
type Status struct {
	IsMonitoring        bool   `json:"is_monitoring"`
	WebSocketConnected  bool   `json:"websocket_connected"`
	UseSandbox          bool   `json:"use_sandbox"`
	BaseURL             string `json:"base_url"`
	WSURL               string `json:"ws_url"`
	LatestDataCount     int    `json:"latest_data_count"`
	HistoryCount        int    `json:"history_count"`
	RegisteredCallbacks int    `json:"registered_callbacks"`
	State               string `json:"state"`
}

// Service wires the client, monitor, cache and registry together.
type Service struct {
	settings Settings
	client   *p2p.Client
	monitor  *monitor.Monitor
	cache    *monitor.Cache
	registry *monitor.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the facade. The monitor must have been built over cache and registry.
func New(settings Settings, client *p2p.Client, mon *monitor.Monitor, cache *monitor.Cache, registry *monitor.Registry, logger *slog.Logger) *Service {
	return &Service{
		settings: settings,
		client:   client,
		monitor:  mon,
		cache:    cache,
		registry: registry,
		logger:   logger,
	}
}

// Start launches the monitor in the background. Calling Start while running is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		if err := s.monitor.Run(runCtx); err != nil {
			s.logger.Error("monitor exited", "error", err)
		}
	}()
}

// Stop halts the monitor and waits for its goroutine to return.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.monitor.Stop()
	cancel()
	<-done
}

// RegisterCallback adds a handler for messages with the given code.
func (s *Service) RegisterCallback(code domain.InfoCode, h monitor.Handler) {
	s.registry.Register(code, h)
}

// LatestEarthquakes returns up to limit cached earthquake reports, oldest first.
func (s *Service) LatestEarthquakes(limit int) []domain.JMAQuake {
	return monitor.Last[domain.JMAQuake](s.cache, limit)
}

// LatestTsunamis returns up to limit cached tsunami forecasts, oldest first.
func (s *Service) LatestTsunamis(limit int) []domain.JMATsunami {
	return monitor.Last[domain.JMATsunami](s.cache, limit)
}

// LatestEEW returns up to limit cached early warnings, oldest first.
func (s *Service) LatestEEW(limit int) []domain.EEW {
	return monitor.Last[domain.EEW](s.cache, limit)
}

// Latest returns the newest cached message for code, or nil.
func (s *Service) Latest(code domain.InfoCode) domain.Message {
	m, _ := s.cache.Latest(code)
	return m
}

// EventByID returns the newest cached message carrying id, or nil.
func (s *Service) EventByID(id string) domain.Message {
	m, _ := s.cache.ByID(id)
	return m
}

// History proxies GET /history.
func (s *Service) History(ctx context.Context, q p2p.HistoryQuery) []domain.Message {
	return s.client.History(ctx, q)
}

// JMAQuakes proxies GET /jma/quake.
func (s *Service) JMAQuakes(ctx context.Context, q p2p.QuakeQuery) []domain.JMAQuake {
	return s.client.JMAQuakes(ctx, q)
}

// JMATsunamis proxies GET /jma/tsunami.
func (s *Service) JMATsunamis(ctx context.Context, q p2p.TsunamiQuery) []domain.JMATsunami {
	return s.client.JMATsunamis(ctx, q)
}

// JMAQuakeByID answers from the cache when the id has been seen, otherwise upstream.
func (s *Service) JMAQuakeByID(ctx context.Context, id string) *domain.JMAQuake {
	if q, ok := s.EventByID(id).(domain.JMAQuake); ok {
		return &q
	}
	return s.client.JMAQuakeByID(ctx, id)
}

// JMATsunamiByID answers from the cache when the id has been seen, otherwise upstream.
func (s *Service) JMATsunamiByID(ctx context.Context, id string) *domain.JMATsunami {
	if t, ok := s.EventByID(id).(domain.JMATsunami); ok {
		return &t
	}
	return s.client.JMATsunamiByID(ctx, id)
}

// Status reports the monitor state and cache sizes.
func (s *Service) Status() Status {
	return Status{
		IsMonitoring:        s.monitor.Running(),
		WebSocketConnected:  s.monitor.Connected(),
		UseSandbox:          s.settings.UseSandbox,
		BaseURL:             s.settings.BaseURL,
		WSURL:               s.settings.WSURL,
		LatestDataCount:     s.cache.LatestCount(),
		HistoryCount:        s.cache.Len(),
		RegisteredCallbacks: s.registry.Count(),
		State:               s.monitor.State().String(),
	}
}

// CheckReadiness returns nil once the realtime stream is open, or always when
// realtime monitoring is disabled.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.settings.WebSocketEnabled {
		return nil
	}
	if !s.monitor.Connected() {
		return errors.New("realtime stream not connected")
	}
	return nil
}
