// Command p2pquery queries the P2P地震情報 REST API from the terminal and
// prints the parsed results as JSON.
//
// Usage:
//
//	go run ./cmd/p2pquery quakes --limit 5 --min-scale 45
//	go run ./cmd/p2pquery --sandbox history --codes 551,552
//	go run ./cmd/p2pquery quake 65a5d3b0d616d0a2e8c7e4b1
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/couchcryptid/p2pquake-service/internal/adapter/p2p"
	"github.com/couchcryptid/p2pquake-service/internal/config"
	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
)

var errNotFound = errors.New("not found")

func main() {
	if err := newApp(os.Stdout, observability.NewMetrics()).Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer, metrics *observability.Metrics) *cli.Command {
	return &cli.Command{
		Name:  "p2pquery",
		Usage: "Query the P2P地震情報 API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "sandbox",
				Usage: "Use the sandbox API",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "Override the API root",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-request timeout",
				Value: 10 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log requests to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "history",
				Usage: "Recent messages of any code",
				Flags: append(pageFlags(), &cli.StringFlag{
					Name:  "codes",
					Usage: "Comma-separated information codes, e.g. 551,552",
				}),
				Action: func(ctx context.Context, c *cli.Command) error {
					q := p2p.HistoryQuery{
						Codes:  parseCodes(c.String("codes")),
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					}
					return printJSON(out, newClient(c, metrics).History(ctx, q))
				},
			},
			{
				Name:  "quakes",
				Usage: "JMA earthquake reports",
				Flags: append(pageFlags(),
					&cli.StringFlag{Name: "since", Usage: "Earliest date, yyyyMMdd"},
					&cli.StringFlag{Name: "until", Usage: "Latest date, yyyyMMdd"},
					&cli.StringFlag{Name: "quake-type", Usage: "Issue type, e.g. DetailScale"},
					&cli.FloatFlag{Name: "min-magnitude", Usage: "Minimum magnitude"},
					&cli.IntFlag{Name: "min-scale", Usage: "Minimum encoded intensity, e.g. 45"},
				),
				Action: func(ctx context.Context, c *cli.Command) error {
					q := p2p.QuakeQuery{
						Limit:     c.Int("limit"),
						Offset:    c.Int("offset"),
						SinceDate: c.String("since"),
						UntilDate: c.String("until"),
						QuakeType: c.String("quake-type"),
					}
					if c.IsSet("min-magnitude") {
						v := c.Float("min-magnitude")
						q.MinMagnitude = &v
					}
					if c.IsSet("min-scale") {
						v := c.Int("min-scale")
						q.MinScale = &v
					}
					return printJSON(out, newClient(c, metrics).JMAQuakes(ctx, q))
				},
			},
			{
				Name:      "quake",
				Usage:     "One JMA earthquake report by id",
				ArgsUsage: "<id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id, err := requireID(c)
					if err != nil {
						return err
					}
					return printFound(out, newClient(c, metrics).JMAQuakeByID(ctx, id))
				},
			},
			{
				Name:  "tsunamis",
				Usage: "JMA tsunami forecasts",
				Flags: append(pageFlags(),
					&cli.StringFlag{Name: "since", Usage: "Earliest date, yyyyMMdd"},
					&cli.StringFlag{Name: "until", Usage: "Latest date, yyyyMMdd"},
				),
				Action: func(ctx context.Context, c *cli.Command) error {
					q := p2p.TsunamiQuery{
						Limit:     c.Int("limit"),
						Offset:    c.Int("offset"),
						SinceDate: c.String("since"),
						UntilDate: c.String("until"),
					}
					return printJSON(out, newClient(c, metrics).JMATsunamis(ctx, q))
				},
			},
			{
				Name:      "tsunami",
				Usage:     "One JMA tsunami forecast by id",
				ArgsUsage: "<id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id, err := requireID(c)
					if err != nil {
						return err
					}
					return printFound(out, newClient(c, metrics).JMATsunamiByID(ctx, id))
				},
			},
		},
	}
}

func pageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "limit", Usage: "Items to return (1-100)", Value: 10},
		&cli.IntFlag{Name: "offset", Usage: "Items to skip"},
	}
}

// newClient builds an unthrottled client; a one-shot command never issues
// requests fast enough to need the limiter.
func newClient(c *cli.Command, metrics *observability.Metrics) *p2p.Client {
	baseURL := c.String("base-url")
	if baseURL == "" {
		baseURL = config.ProductionBaseURL
		if c.Bool("sandbox") {
			baseURL = config.SandboxBaseURL
		}
	}
	level := slog.LevelWarn
	if c.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return p2p.NewClient(baseURL, c.Duration("timeout"), 0, metrics, logger)
}

func requireID(c *cli.Command) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("missing <id> argument")
	}
	return id, nil
}

func parseCodes(s string) []domain.InfoCode {
	var codes []domain.InfoCode
	for part := range strings.SplitSeq(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if code := domain.InfoCode(n); domain.IsKnownCode(code) {
			codes = append(codes, code)
		}
	}
	return codes
}

func printFound[T any](out io.Writer, v *T) error {
	if v == nil {
		return errNotFound
	}
	return printJSON(out, v)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
