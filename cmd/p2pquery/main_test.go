package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
)

const quakeJSON = `{"id":"q1","code":551,"time":"2024/01/01 16:10:09.123",
"issue":{"source":"気象庁","time":"2024/01/01 16:10:00","type":"DetailScale"},
"earthquake":{"time":"2024/01/01 16:10:00","maxScale":70,
"hypocenter":{"name":"石川県能登地方","latitude":37.5,"longitude":137.2,"depth":10,"magnitude":7.6}},
"points":[]}`

func upstream(t *testing.T) (*httptest.Server, *url.Values) {
	t.Helper()
	var last url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = r.URL.Query()
		switch r.URL.Path {
		case "/jma/quake":
			_, _ = w.Write([]byte(`[` + quakeJSON + `]`))
		case "/jma/quake/q1":
			_, _ = w.Write([]byte(quakeJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out, observability.NewMetricsForTesting()).Run(context.Background(), append([]string{"p2pquery"}, args...))
	return out.String(), err
}

func TestQuakes(t *testing.T) {
	srv, last := upstream(t)

	out, err := run(t, "--base-url", srv.URL, "quakes", "--limit", "5", "--min-scale", "45")
	require.NoError(t, err)

	assert.Equal(t, "5", last.Get("limit"))
	assert.Equal(t, "45", last.Get("min_scale"))
	assert.Empty(t, last.Get("min_magnitude"))

	var quakes []domain.JMAQuake
	require.NoError(t, json.Unmarshal([]byte(out), &quakes))
	require.Len(t, quakes, 1)
	assert.Equal(t, "7", quakes[0].MaxScaleLabel())
	assert.Contains(t, out, `"maxScaleLabel": "7"`)
}

func TestQuakeByID(t *testing.T) {
	srv, _ := upstream(t)

	out, err := run(t, "--base-url", srv.URL, "quake", "q1")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "q1"`)

	_, err = run(t, "--base-url", srv.URL, "quake", "missing")
	assert.ErrorIs(t, err, errNotFound)

	_, err = run(t, "--base-url", srv.URL, "quake")
	assert.Error(t, err)
}

func TestParseCodes(t *testing.T) {
	assert.Equal(t,
		[]domain.InfoCode{domain.CodeJMAQuake, domain.CodeJMATsunami},
		parseCodes("551, 552,9999,abc"))
	assert.Nil(t, parseCodes(""))
}
