// Package p2p is a rate-limited client for the P2P地震情報 REST API v2.
//
// Every public method degrades instead of failing: transport errors, non-200
// responses and undecodable bodies are logged and turned into empty results.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	maxBodyBytes = 16 << 20
)

// HistoryQuery filters GET /history. Empty Codes means every code.
type HistoryQuery struct {
	Codes  []domain.InfoCode
	Limit  int
	Offset int
}

// QuakeQuery filters GET /jma/quake. Nil pointers and empty strings are not sent.
type QuakeQuery struct {
	Limit        int
	Offset       int
	Order        int // 1 oldest first, -1 (default) newest first
	SinceDate    string
	UntilDate    string
	QuakeType    string
	MinMagnitude *float64
	MaxMagnitude *float64
	MinScale     *int
	MaxScale     *int
}

// TsunamiQuery filters GET /jma/tsunami.
type TsunamiQuery struct {
	Limit     int
	Offset    int
	Order     int
	SinceDate string
	UntilDate string
}

// Client calls the REST API. Requests from all goroutines share one limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a client that waits at least delay between requests.
// A non-positive delay disables rate limiting.
func NewClient(baseURL string, timeout, delay time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		logger:  logger,
	}
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// History returns recent messages of any code.
func (c *Client) History(ctx context.Context, q HistoryQuery) []domain.Message {
	params := pageParams(q.Limit, q.Offset)
	for _, code := range q.Codes {
		params.Add("codes", strconv.Itoa(int(code)))
	}

	items := c.getList(ctx, "history", "/history", params)
	out := make([]domain.Message, 0, len(items))
	for _, raw := range items {
		msg, err := domain.ParseMessage(raw)
		if err != nil {
			c.logger.Warn("skipping history item", "error", err)
			continue
		}
		out = append(out, msg)
	}
	c.logger.Debug("history fetched", "count", len(out))
	return out
}

// JMAQuakes returns earthquake reports matching q.
func (c *Client) JMAQuakes(ctx context.Context, q QuakeQuery) []domain.JMAQuake {
	params := pageParams(q.Limit, q.Offset)
	params.Set("order", strconv.Itoa(normalizeOrder(q.Order)))
	setString(params, "since_date", q.SinceDate)
	setString(params, "until_date", q.UntilDate)
	setString(params, "quake_type", q.QuakeType)
	if q.MinMagnitude != nil {
		params.Set("min_magnitude", strconv.FormatFloat(*q.MinMagnitude, 'f', -1, 64))
	}
	if q.MaxMagnitude != nil {
		params.Set("max_magnitude", strconv.FormatFloat(*q.MaxMagnitude, 'f', -1, 64))
	}
	if q.MinScale != nil {
		params.Set("min_scale", strconv.Itoa(*q.MinScale))
	}
	if q.MaxScale != nil {
		params.Set("max_scale", strconv.Itoa(*q.MaxScale))
	}

	return listOf[domain.JMAQuake](ctx, c, "jma_quakes", "/jma/quake", params)
}

// JMAQuakeByID returns one earthquake report, or nil if it does not exist
// or cannot be fetched.
func (c *Client) JMAQuakeByID(ctx context.Context, id string) *domain.JMAQuake {
	return byID[domain.JMAQuake](ctx, c, "jma_quake", "/jma/quake/", id)
}

// JMATsunamis returns tsunami forecasts matching q.
func (c *Client) JMATsunamis(ctx context.Context, q TsunamiQuery) []domain.JMATsunami {
	params := pageParams(q.Limit, q.Offset)
	params.Set("order", strconv.Itoa(normalizeOrder(q.Order)))
	setString(params, "since_date", q.SinceDate)
	setString(params, "until_date", q.UntilDate)

	return listOf[domain.JMATsunami](ctx, c, "jma_tsunamis", "/jma/tsunami", params)
}

// JMATsunamiByID returns one tsunami forecast, or nil.
func (c *Client) JMATsunamiByID(ctx context.Context, id string) *domain.JMATsunami {
	return byID[domain.JMATsunami](ctx, c, "jma_tsunami", "/jma/tsunami/", id)
}

func listOf[T domain.Message](ctx context.Context, c *Client, endpoint, path string, params url.Values) []T {
	items := c.getList(ctx, endpoint, path, params)
	out := make([]T, 0, len(items))
	for _, raw := range items {
		msg, err := domain.ParseMessage(raw)
		if err != nil {
			c.logger.Warn("skipping list item", "endpoint", endpoint, "error", err)
			continue
		}
		v, ok := msg.(T)
		if !ok {
			c.logger.Warn("skipping list item with unexpected code", "endpoint", endpoint, "code", msg.Meta().Code)
			continue
		}
		out = append(out, v)
	}
	c.logger.Debug("list fetched", "endpoint", endpoint, "count", len(out))
	return out
}

func byID[T domain.Message](ctx context.Context, c *Client, endpoint, prefix, id string) *T {
	body, ok := c.get(ctx, endpoint, prefix+url.PathEscape(id), nil)
	if !ok {
		return nil
	}
	msg, err := domain.ParseMessage(body)
	if err != nil {
		c.logger.Error("decode by-id response", "endpoint", endpoint, "id", id, "error", err)
		return nil
	}
	v, ok := msg.(T)
	if !ok {
		c.logger.Error("by-id response has unexpected code", "endpoint", endpoint, "id", id, "code", msg.Meta().Code)
		return nil
	}
	return &v
}

func (c *Client) getList(ctx context.Context, endpoint, path string, params url.Values) []json.RawMessage {
	body, ok := c.get(ctx, endpoint, path, params)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		c.logger.Error("decode list response", "endpoint", endpoint, "error", err)
		return nil
	}
	return items
}

// get performs one rate-limited GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, bool) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("rate limiter wait aborted", "endpoint", endpoint, "error", err)
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, false
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	body, status, err := c.doRequest(ctx, endpoint, u)
	switch {
	case err != nil:
		c.logger.Error("p2p api request failed", "endpoint", endpoint, "error", err)
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, false
	case status == http.StatusNotFound:
		c.logger.Warn("p2p api resource not found", "endpoint", endpoint, "path", path)
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "not_found").Inc()
		return nil, false
	case status != http.StatusOK:
		c.logger.Error("p2p api error", "endpoint", endpoint, "status", status)
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, false
	}
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, "success").Inc()
	return body, true
}

func (c *Client) doRequest(ctx context.Context, endpoint, fullURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, 0, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func pageParams(limit, offset int) url.Values {
	return url.Values{
		"limit":  {strconv.Itoa(ClampLimit(limit))},
		"offset": {strconv.Itoa(max(offset, 0))},
	}
}

// ClampLimit maps 0 to the default page size and clamps the rest to [1,100].
func ClampLimit(limit int) int {
	if limit == 0 {
		limit = defaultLimit
	}
	return min(max(limit, 1), maxLimit)
}

func normalizeOrder(order int) int {
	if order > 0 {
		return 1
	}
	return -1
}

func setString(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
