package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkcal/internal/cache"
	"inkcal/internal/config"
)

const feedPayload = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:daily@example.com\r\n" +
	"SUMMARY:Daily Standup\r\n" +
	"DTSTART:20200101T090000Z\r\n" +
	"DTEND:20200101T093000Z\r\n" +
	"RRULE:FREQ=DAILY\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newTestFetcher(t *testing.T, urls ...string) (*Fetcher, *cache.Store) {
	t.Helper()
	dir := t.TempDir()

	store := cache.New(filepath.Join(dir, "events.db"), time.Hour, 2*time.Hour, time.UTC)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.DefaultConfig()
	cfg.ICSCacheDir = filepath.Join(dir, "ics-cache")
	for i, u := range urls {
		cfg.ICS = append(cfg.ICS, config.ICSConfig{URL: u, ID: "src" + string(rune('a'+i))})
	}

	return New(cfg, store, time.UTC), store
}

func TestInitializeRequiresSources(t *testing.T) {
	f, _ := newTestFetcher(t)
	require.Error(t, f.Initialize(context.Background()))

	f2, _ := newTestFetcher(t, "https://example.com/cal.ics")
	require.NoError(t, f2.Initialize(context.Background()))
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, srv.URL)
	h := f.HealthCheck(context.Background())
	assert.True(t, h.IsHealthy)
	assert.Contains(t, h.StatusMessage, "ok")
}

func TestHealthCheckUnreachable(t *testing.T) {
	f, _ := newTestFetcher(t, "http://127.0.0.1:1/cal.ics")
	h := f.HealthCheck(context.Background())
	assert.False(t, h.IsHealthy)
	assert.Contains(t, h.StatusMessage, "unreachable")
}

func TestHealthCheckServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, srv.URL)
	h := f.HealthCheck(context.Background())
	assert.False(t, h.IsHealthy)
	assert.Contains(t, h.StatusMessage, "500")
}

func TestFetchAndCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedPayload))
	}))
	defer srv.Close()

	f, store := newTestFetcher(t, srv.URL)
	require.NoError(t, f.FetchAndCache(context.Background()))

	// A daily recurrence over backfill+horizon lands 8-9 occurrences.
	sum, err := store.Summary(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sum.TotalEvents, 7)
	assert.True(t, sum.IsFresh)

	info := f.Info()
	assert.True(t, info.IsConfigured)
	assert.Contains(t, info.Status, "fetched")
}

func TestFetchAndCacheAllSourcesDown(t *testing.T) {
	f, store := newTestFetcher(t, "http://127.0.0.1:1/cal.ics")
	require.Error(t, f.FetchAndCache(context.Background()))

	assert.False(t, store.IsFresh(), "a failed fetch must not stamp the cache")
	assert.Contains(t, f.Info().Status, "all sources failed")
}

func TestFetchAndCachePartialFailure(t *testing.T) {
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		_, _ = w.Write([]byte(feedPayload))
	}))
	defer srv.Close()

	f, store := newTestFetcher(t, srv.URL, "http://127.0.0.1:1/cal.ics")
	require.NoError(t, f.FetchAndCache(context.Background()), "one live source is enough")
	assert.Equal(t, int32(1), served.Load())
	assert.True(t, store.IsFresh())
}

func TestFetchAndCacheUnparseableFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a calendar at all"))
	}))
	defer srv.Close()

	f, store := newTestFetcher(t, srv.URL)

	// The body arrived, so the fetch itself succeeds; the parse failure
	// leaves an empty event set behind.
	require.NoError(t, f.FetchAndCache(context.Background()))
	sum, err := store.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.TotalEvents)
}

func TestInfoRedactsURLs(t *testing.T) {
	f, _ := newTestFetcher(t, "https://calendar.example.com/private/token123/basic.ics")

	info := f.Info()
	assert.True(t, info.IsConfigured)
	assert.NotContains(t, info.URL, "token123")
	assert.True(t, strings.HasPrefix(info.URL, "https://calendar.example.com/"))
}

func TestInfoUnconfigured(t *testing.T) {
	f, _ := newTestFetcher(t)
	info := f.Info()
	assert.False(t, info.IsConfigured)
	assert.Equal(t, "not configured", info.Status)
}

func TestNewSkipsEmptyURLs(t *testing.T) {
	dir := t.TempDir()
	store := cache.New(filepath.Join(dir, "events.db"), time.Hour, time.Hour, time.UTC)

	cfg := config.DefaultConfig()
	cfg.ICSCacheDir = filepath.Join(dir, "ics-cache")
	cfg.ICS = []config.ICSConfig{{URL: ""}, {URL: "https://example.com/a.ics", Name: "A"}}

	f := New(cfg, store, time.UTC)
	require.NoError(t, f.Initialize(context.Background()))
}
