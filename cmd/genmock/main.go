// Command genmock generates a reproducible P2P地震情報 feed fixture in JSON
// Lines and can replay it over WebSocket, so the service can be run against
// a local feed instead of the live API. Every line is built from the domain
// types and re-parsed with domain.ParseMessage before it is written.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock/feed.jsonl -quakes 20
//	go run ./cmd/genmock -out data/mock/feed.jsonl -serve :8081 -interval 2s
//	P2P_WS_URL=ws://localhost:8081/v2/ws go run ./cmd/p2pquake
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
)

var baseTime = time.Date(2024, time.January, 1, 16, 0, 0, 0, domain.JST)

// epicenters are sampled for generated quakes.
var epicenters = []struct {
	name     string
	pref     string
	addr     string
	lat, lon float64
}{
	{"石川県能登地方", "石川県", "輪島市", 37.5, 137.2},
	{"千葉県北西部", "千葉県", "千葉中央区", 35.6, 140.1},
	{"宮城県沖", "宮城県", "石巻市", 38.3, 141.9},
	{"熊本県熊本地方", "熊本県", "益城町", 32.7, 130.8},
	{"日向灘", "宮崎県", "日南市", 31.8, 131.9},
}

var scales = []int{10, 20, 30, 40, 45, 50, 55, 60, 70}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the JSON Lines feed")
	quakes := flag.Int("quakes", 10, "number of JMA earthquake reports to generate")
	seed := flag.Uint64("seed", 1, "random seed")
	serve := flag.String("serve", "", "replay the feed over WebSocket at this address")
	interval := flag.Duration("interval", time.Second, "delay between replayed frames")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	lines, err := generate(*quakes, *seed)
	if err != nil {
		return err
	}
	if err := writeLines(*out, lines); err != nil {
		return fmt.Errorf("writing feed: %w", err)
	}
	log.Printf("wrote %d messages to %s", len(lines), *out)

	if *serve == "" {
		return nil
	}
	return replay(*serve, lines, *interval)
}

// generate builds a feed around quakes earthquake reports, then appends a
// tsunami forecast with its cancellation and one early warning.
func generate(quakes int, seed uint64) ([][]byte, error) {
	rng := rand.New(rand.NewPCG(seed, seed))
	clock := clockwork.NewFakeClockAt(baseTime)
	stamp := func(step time.Duration) string {
		clock.Advance(step)
		return clock.Now().In(domain.JST).Format(domain.TimeLayout + ".000")
	}

	var msgs []domain.Message //nolint:prealloc // size depends on generated userquakes
	for i := range quakes {
		e := epicenters[rng.IntN(len(epicenters))]
		origin := stamp(time.Duration(5+rng.IntN(55)) * time.Minute)
		mag := float64(30+rng.IntN(45)) / 10
		maxScale := scales[min(int(mag)-2+rng.IntN(3), len(scales)-1)]
		depth := 10 * (1 + rng.IntN(6))

		for j := range 1 + rng.IntN(3) {
			msgs = append(msgs, domain.Userquake{
				Envelope: domain.Envelope{ID: ptr(fmt.Sprintf("uq-%03d-%d", i, j)), Code: domain.CodeUserquake, Time: stamp(time.Second)},
				Area:     100 + rng.IntN(400),
			})
		}

		received := stamp(90 * time.Second)
		msgs = append(msgs, domain.JMAQuake{
			Envelope: domain.Envelope{ID: ptr(fmt.Sprintf("mock-quake-%03d", i)), Code: domain.CodeJMAQuake, Time: received},
			Issue:    domain.Issue{Source: "気象庁", Time: received[:19], Type: "DetailScale", Correct: "None"},
			Earthquake: domain.Earthquake{
				Time: origin[:19],
				Hypocenter: &domain.Hypocenter{
					Name: e.name, Latitude: ptr(e.lat), Longitude: ptr(e.lon),
					Depth: ptr(depth), Magnitude: ptr(mag),
				},
				MaxScale:        ptr(maxScale),
				DomesticTsunami: "None",
				ForeignTsunami:  "Unknown",
			},
			Points: []domain.ObservationPoint{{Pref: e.pref, Addr: e.addr, Scale: maxScale}},
		})
	}

	issued := stamp(time.Minute)
	msgs = append(msgs,
		domain.JMATsunami{
			Envelope: domain.Envelope{ID: ptr("mock-tsunami-001"), Code: domain.CodeJMATsunami, Time: issued},
			Issue:    domain.Issue{Source: "気象庁", Time: issued[:19], Type: "Focus"},
			Areas: []domain.TsunamiArea{
				{Grade: "MajorWarning", Immediate: true, Name: "石川県能登"},
				{Grade: "Warning", Name: "新潟県上中下越"},
				{Grade: "Watch", Name: "福井県"},
			},
		},
		domain.EEW{
			Envelope: domain.Envelope{ID: ptr("mock-eew-001"), Code: domain.CodeEEW, Time: stamp(time.Minute)},
			Issue:    domain.EEWIssue{Time: issued[:19], EventID: "20240101161000", Serial: "1"},
			Areas:    []domain.EEWArea{{Pref: "石川", Name: "石川県能登", ScaleFrom: 55, ScaleTo: 70}},
		},
		domain.JMATsunami{
			Envelope:  domain.Envelope{ID: ptr("mock-tsunami-001"), Code: domain.CodeJMATsunami, Time: stamp(6 * time.Hour)},
			Cancelled: true,
			Issue:     domain.Issue{Source: "気象庁", Time: clock.Now().In(domain.JST).Format(domain.TimeLayout), Type: "Focus"},
		},
	)

	lines := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", m.Meta().Code, err)
		}
		if _, err := domain.ParseMessage(data); err != nil {
			return nil, fmt.Errorf("generated %s does not parse: %w", m.Meta().Code, err)
		}
		lines = append(lines, data)
	}
	return lines, nil
}

func writeLines(path string, lines [][]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data := append(bytes.Join(lines, []byte("\n")), '\n')
	return os.WriteFile(path, data, 0o600)
}

// replay sends the feed, one frame per interval, to every client that
// connects to /v2/ws.
func replay(addr string, lines [][]byte, interval time.Duration) error {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("client connected: %s", r.RemoteAddr)
		for _, line := range lines {
			if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
				log.Printf("client gone: %v", err)
				return
			}
			time.Sleep(interval)
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "feed complete"))
	})

	log.Printf("replaying %d messages on ws://%s/v2/ws", len(lines), addr)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}

func ptr[T any](v T) *T { return &v }
