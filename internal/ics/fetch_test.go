package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testICSPayload = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

func TestFetchOneFreshBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(testICSPayload))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	res, err := f.FetchOne(context.Background(), Source{ID: "a", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, testICSPayload, string(res.Body))
	assert.False(t, res.FromCache)
}

func TestFetchOneHonorsETag(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(testICSPayload))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "a", URL: srv.URL}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache, "304 must serve the cached body")
	assert.Equal(t, testICSPayload, string(second.Body))
	assert.Equal(t, int32(2), requests.Load())
}

func TestFetchOneFallsBackToCacheOnNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testICSPayload))
	}))

	f := NewFetcher(t.TempDir())
	src := Source{ID: "a", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	// Server goes away; the cached body keeps the calendar alive.
	srv.Close()

	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, testICSPayload, string(res.Body))
}

func TestFetchOneFallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(testICSPayload))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "a", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
}

func TestFetchOneErrorsWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	_, err := f.FetchOne(context.Background(), Source{ID: "a", URL: srv.URL})
	require.Error(t, err)
}

func TestFetchOneRejectsEmptyURL(t *testing.T) {
	f := NewFetcher(t.TempDir())
	_, err := f.FetchOne(context.Background(), Source{ID: "a"})
	require.Error(t, err)
}

func TestFetchAllCollectsPartialFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testICSPayload))
	}))
	defer good.Close()

	f := NewFetcher(t.TempDir())
	results, errs := f.FetchAll(context.Background(), []Source{
		{ID: "good", URL: good.URL},
		{ID: "bad", URL: "http://127.0.0.1:1/cal.ics"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].Source.ID)
	require.Len(t, errs, 1)
}

func TestHeadProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	code, err := f.Head(context.Background(), Source{ID: "a", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
}

func TestHeadFallsBackToGetOn405(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(testICSPayload))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	code, err := f.Head(context.Background(), Source{ID: "a", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code, "405 to HEAD probes again with GET")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t,
		"https://calendar.example.com/...(redacted)",
		RedactURL("https://calendar.example.com/private/token-abc123/basic.ics"))
	assert.Equal(t,
		"http://localhost:8080/...(redacted)",
		RedactURL("http://localhost:8080/cal.ics"))
	assert.Equal(t, "ics://...(redacted)", RedactURL("not a url"))
}
