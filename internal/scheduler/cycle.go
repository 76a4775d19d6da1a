package scheduler

import (
	"context"
	"fmt"
	"time"

	"inkcal/internal/cache"
	applog "inkcal/internal/log"
	"inkcal/internal/model"
	"inkcal/internal/render"
	"inkcal/internal/source"
)

// Messages shown on the display when a cycle degrades.
const (
	msgNetworkIssue   = "Network Issue - Using Cached Data"
	msgSystemErrorFmt = "System Error: %s"

	systemErrorMaxLen = 120
)

// CacheStore is the cache-facing surface the core consumes. Implemented by
// *cache.Store; faked in tests.
type CacheStore interface {
	IsFresh() bool
	Status() cache.Status
	TodaysEvents(ctx context.Context, now time.Time) ([]model.Event, error)
	Summary(ctx context.Context) (cache.Summary, error)
}

// SourceFetcher is the feed-facing surface the core consumes. Implemented
// by *source.Fetcher; faked in tests.
type SourceFetcher interface {
	HealthCheck(ctx context.Context) source.Health
	FetchAndCache(ctx context.Context) error
	Info() source.Info
}

// State is the scheduler-owned health bookkeeping mutated by cycles. It is
// ephemeral: a restart starts from zero.
type State struct {
	// ConsecutiveFailures counts fetch failures since the last success.
	ConsecutiveFailures int
	// LastSuccessfulUpdate is set on each successful fetch, never cleared.
	LastSuccessfulUpdate time.Time
}

// Cycle is the single-shot "decide whether to fetch, then render" unit the
// scheduler repeats. It owns no state of its own; outcome bookkeeping lives
// in the State passed to Run.
type Cycle struct {
	store    CacheStore
	src      SourceFetcher
	renderer render.Renderer
	retrier  *Retrier

	now func() time.Time
}

// NewCycle wires a Cycle from its three collaborators and the retry policy.
func NewCycle(store CacheStore, src SourceFetcher, renderer render.Renderer, retrier *Retrier) *Cycle {
	return &Cycle{
		store:    store,
		src:      src,
		renderer: renderer,
		retrier:  retrier,
		now:      time.Now,
	}
}

// Run executes one refresh cycle: skip-or-fetch, then exactly one
// DisplayEvents or DisplayError call. It never panics and never returns an
// error; a cycle's failure must not take the scheduler down.
func (c *Cycle) Run(ctx context.Context, st *State) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			applog.Error().Interface("panic", rec).Msg("refresh cycle panicked")
			msg := fmt.Sprintf(msgSystemErrorFmt, truncate(fmt.Sprint(rec), systemErrorMaxLen))
			c.renderer.DisplayError(msg, c.cachedEvents(ctx))
			ok = false
		}
	}()

	if c.store.IsFresh() {
		applog.Debug().Msg("cache fresh, skipping fetch")
		return c.renderCurrent(ctx, st)
	}

	if !c.fetch(ctx, st) {
		c.renderer.DisplayError(msgNetworkIssue, c.cachedEvents(ctx))
		return false
	}

	return c.renderCurrent(ctx, st)
}

// RunFetchOnly is the headless variant: same fetch decision, no render.
// Used by the background-fetch scheduler mode.
func (c *Cycle) RunFetchOnly(ctx context.Context, st *State) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			applog.Error().Interface("panic", rec).Msg("fetch-only cycle panicked")
			ok = false
		}
	}()

	if c.store.IsFresh() {
		applog.Debug().Msg("cache fresh, skipping fetch")
		return true
	}
	return c.fetch(ctx, st)
}

// fetch performs the health check plus the bounded fetch attempt group and
// updates the failure bookkeeping. It returns true only on a successful
// fetch-and-cache.
func (c *Cycle) fetch(ctx context.Context, st *State) bool {
	health := c.src.HealthCheck(ctx)
	if !health.IsHealthy {
		st.ConsecutiveFailures++
		applog.Warn().Str("status", health.StatusMessage).Int("consecutive_failures", st.ConsecutiveFailures).Msg("source unhealthy, skipping fetch")
		return false
	}

	if !c.retrier.Do(ctx, c.src.FetchAndCache) {
		st.ConsecutiveFailures++
		applog.Warn().Int("consecutive_failures", st.ConsecutiveFailures).Msg("fetch failed after retries")
		return false
	}

	st.LastSuccessfulUpdate = c.now()
	st.ConsecutiveFailures = 0
	applog.Info().Msg("fetch succeeded")
	return true
}

// renderCurrent issues the single DisplayEvents call for this cycle,
// reflecting the outcome already recorded in st.
func (c *Cycle) renderCurrent(ctx context.Context, st *State) bool {
	events := c.cachedEvents(ctx)
	status := c.buildStatus(ctx, st, len(events))

	if err := c.renderer.DisplayEvents(events, status); err != nil {
		applog.Error().Err(err).Msg("render failed")
		return false
	}
	return true
}

// buildStatus assembles the transient view-state for one render call.
func (c *Cycle) buildStatus(ctx context.Context, st *State, eventCount int) render.Status {
	info := c.src.Info()

	lastUpdate := st.LastSuccessfulUpdate
	if lastUpdate.IsZero() {
		// Before the first in-process success, fall back to the cache's
		// persisted stamp so the display shows the real data age.
		lastUpdate = c.store.Status().LastUpdate
	}

	total := eventCount
	if summary, err := c.store.Summary(ctx); err == nil {
		total = summary.TotalEvents
	}

	conn := "online"
	if st.ConsecutiveFailures > 0 {
		conn = "degraded"
	}

	return render.Status{
		LastUpdate:          lastUpdate,
		IsCached:            false,
		ConnectionStatus:    conn,
		TotalEvents:         total,
		ConsecutiveFailures: st.ConsecutiveFailures,
		SourceStatus:        info.Status,
		SourceURL:           info.URL,
	}
}

// cachedEvents returns today's cached events, or nil when even the cache
// read fails. The display layer treats nil as "no events".
func (c *Cycle) cachedEvents(ctx context.Context) []model.Event {
	events, err := c.store.TodaysEvents(ctx, c.now())
	if err != nil {
		applog.Error().Err(err).Msg("cache read failed")
		return nil
	}
	return events
}

func panicError(rec any) error {
	return fmt.Errorf("panic: %v", rec)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
