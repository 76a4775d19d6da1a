// Package source implements the feed-facing collaborator of the scheduler:
// health checking the configured ICS endpoints and running the
// fetch -> parse -> expand -> persist pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"inkcal/internal/cache"
	"inkcal/internal/config"
	"inkcal/internal/ics"
	applog "inkcal/internal/log"
)

// Health is the result of a source availability probe.
type Health struct {
	IsHealthy     bool
	StatusMessage string
}

// Info is a read-only description of the configured feed(s) for status
// payloads. URL is redacted; private feeds embed tokens.
type Info struct {
	Status       string
	URL          string
	IsConfigured bool
}

// Fetcher retrieves the configured ICS feeds and persists expanded events
// into the cache. All methods are called sequentially from the scheduler
// goroutine, except Info which the web UI may read concurrently.
type Fetcher struct {
	fetcher    *ics.Fetcher
	store      *cache.Store
	sources    []ics.Source
	displayLoc *time.Location
	horizon    time.Duration
	backfill   time.Duration

	mu         sync.RWMutex
	lastStatus string
}

// New builds a Fetcher from config. The store must be the same CacheStore
// the scheduler renders from.
func New(cfg *config.Config, store *cache.Store, displayLoc *time.Location) *Fetcher {
	sources := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			if c.Name != "" {
				id = c.Name
			} else {
				id = c.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, URL: c.URL})
	}

	if displayLoc == nil {
		displayLoc = time.Local
	}

	return &Fetcher{
		fetcher:    ics.NewFetcher(cfg.ICSCacheDir),
		store:      store,
		sources:    sources,
		displayLoc: displayLoc,
		horizon:    time.Duration(cfg.HorizonDays) * 24 * time.Hour,
		backfill:   24 * time.Hour,
		lastStatus: "not yet checked",
	}
}

// Initialize verifies the fetcher is usable. It deliberately performs no
// network I/O: an unreachable feed at boot is a transient failure for the
// refresh cycle, not a startup error.
func (f *Fetcher) Initialize(_ context.Context) error {
	if len(f.sources) == 0 {
		return errors.New("source: no ICS sources configured")
	}
	return nil
}

// HealthCheck probes the first configured source with a bounded HEAD
// request and reports the outcome.
func (f *Fetcher) HealthCheck(ctx context.Context) Health {
	if len(f.sources) == 0 {
		return f.setStatus(false, "no ICS sources configured")
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	code, err := f.fetcher.Head(probeCtx, f.sources[0])
	if err != nil {
		return f.setStatus(false, fmt.Sprintf("unreachable: %v", err))
	}
	if code >= http.StatusBadRequest {
		return f.setStatus(false, fmt.Sprintf("source returned HTTP %d", code))
	}
	return f.setStatus(true, fmt.Sprintf("ok (HTTP %d)", code))
}

func (f *Fetcher) setStatus(healthy bool, msg string) Health {
	f.mu.Lock()
	f.lastStatus = msg
	f.mu.Unlock()
	return Health{IsHealthy: healthy, StatusMessage: msg}
}

// FetchAndCache runs one full fetch pipeline: retrieve all feeds, parse,
// expand recurrences over the configured horizon, and replace the cached
// event set. It fails only when no source yields a body or the cache write
// fails; individual dead sources are logged and skipped.
func (f *Fetcher) FetchAndCache(ctx context.Context) error {
	if len(f.sources) == 0 {
		return errors.New("source: no ICS sources configured")
	}

	results, errs := f.fetcher.FetchAll(ctx, f.sources)
	if len(results) == 0 {
		f.setStatus(false, "all sources failed")
		return fmt.Errorf("source: all fetches failed: %w", joinErrs(errs))
	}
	if len(errs) > 0 {
		applog.Warn().Int("failed_sources", len(errs)).Msg("some ICS sources failed; continuing with the rest")
	}

	parsed := make([]ics.ParsedEvent, 0)
	for _, res := range results {
		events, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			applog.Warn().Err(err).Str("id", res.Source.ID).Msg("parse failed for source, skipping")
			continue
		}
		parsed = append(parsed, events...)
	}

	now := time.Now().In(f.displayLoc)
	result, err := ics.Expand(parsed, ics.ExpandConfig{
		DisplayLocation: f.displayLoc,
		RangeStart:      now.Add(-f.backfill),
		RangeEnd:        now.Add(f.horizon),
	})
	if err != nil {
		f.setStatus(false, fmt.Sprintf("expand failed: %v", err))
		return fmt.Errorf("source: expand failed: %w", err)
	}

	if err := f.store.ReplaceEvents(ctx, result.Events); err != nil {
		f.setStatus(false, fmt.Sprintf("cache write failed: %v", err))
		return fmt.Errorf("source: persist failed: %w", err)
	}

	f.setStatus(true, fmt.Sprintf("fetched %d events", len(result.Events)))
	applog.Info().Int("event_count", len(result.Events)).Int("source_count", len(results)).Msg("fetch-and-cache completed")
	return nil
}

// Info returns a redacted description of the configured feeds.
func (f *Fetcher) Info() Info {
	f.mu.RLock()
	status := f.lastStatus
	f.mu.RUnlock()

	if len(f.sources) == 0 {
		return Info{Status: "not configured", IsConfigured: false}
	}

	urls := make([]string, 0, len(f.sources))
	for _, s := range f.sources {
		urls = append(urls, ics.RedactURL(s.URL))
	}

	return Info{
		Status:       status,
		URL:          strings.Join(urls, ", "),
		IsConfigured: true,
	}
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return errors.New("unknown error")
	}
	return errors.Join(errs...)
}
