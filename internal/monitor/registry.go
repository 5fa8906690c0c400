package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
)

// Handler consumes one parsed message.
type Handler interface {
	Handle(ctx context.Context, msg domain.Message) error
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, msg domain.Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg domain.Message) error { return f(ctx, msg) }

// Async runs h on its own goroutine. Dispatch still waits for it to finish,
// so ordering between handlers is preserved. A panic inside h is returned
// as an error instead of crashing the process.
func Async(h Handler) Handler {
	return HandlerFunc(func(ctx context.Context, msg domain.Message) error {
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("handler panic: %v", r)
				}
			}()
			done <- h.Handle(ctx, msg)
		}()
		return <-done
	})
}

// Registry maps information codes to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.InfoCode][]Handler
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *observability.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[domain.InfoCode][]Handler),
		metrics:  metrics,
		logger:   logger,
	}
}

// Register appends h to the handlers of code.
func (r *Registry) Register(code domain.InfoCode, h Handler) {
	if !domain.IsKnownCode(code) {
		r.logger.Warn("registering handler for unknown code", "code", int(code))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[code] = append(r.handlers[code], h)
}

// Count returns the total number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, hs := range r.handlers {
		n += len(hs)
	}
	return n
}

// Dispatch calls every handler of msg's code in registration order. A
// failing or panicking handler is logged and the rest still run.
func (r *Registry) Dispatch(ctx context.Context, msg domain.Message) {
	code := msg.Meta().Code

	r.mu.RLock()
	hs := append([]Handler(nil), r.handlers[code]...)
	r.mu.RUnlock()

	for i, h := range hs {
		if err := invoke(ctx, h, msg); err != nil {
			r.logger.Error("handler failed",
				"error", err,
				"code", int(code),
				"id", msg.Meta().EventID(),
				"handler", i,
			)
			r.metrics.DispatchErrors.WithLabelValues(code.String()).Inc()
		}
	}
}

func invoke(ctx context.Context, h Handler, msg domain.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Handle(ctx, msg)
}
