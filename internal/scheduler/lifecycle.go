package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"inkcal/internal/cache"
	"inkcal/internal/config"
	"inkcal/internal/epaper"
	applog "inkcal/internal/log"
	"inkcal/internal/render"
	"inkcal/internal/source"
	"inkcal/internal/web"
)

// StatusPayload is the read-only snapshot returned by Controller.Status.
type StatusPayload struct {
	Initialized          bool
	Running              bool
	ShutdownRequested    bool
	SchedulerPhase       string
	ConsecutiveFailures  int
	LastSuccessfulUpdate time.Time
	Source               source.Info
	Cache                cache.Summary
}

// Options selects controller run modes beyond the config file.
type Options struct {
	// Headless selects the fetch-only scheduler variant: the cache is kept
	// warm but nothing is rendered.
	Headless bool
	// RenderOnly keeps renders off the panel hardware. The e-paper surface
	// still captures the page and writes the preview PNG; only the SPI
	// drive stage is skipped. Console and web outputs are unaffected.
	RenderOnly bool
}

// Controller owns the daemon lifecycle: collaborator construction, parallel
// initialization, the running flag, signal-driven shutdown and teardown.
type Controller struct {
	cfg  *config.Config
	opts Options

	loc      *time.Location
	store    *cache.Store
	src      *source.Fetcher
	renderer render.Renderer
	webSrv   *web.Server
	sched    *Scheduler

	mu                sync.Mutex
	initialized       bool
	running           bool
	shutdownRequested bool
}

// NewController builds a Controller around an explicit config.
func NewController(cfg *config.Config, opts Options) *Controller {
	return &Controller{cfg: cfg, opts: opts}
}

// Initialize constructs the collaborators and initializes the cache store
// and source fetcher concurrently; they perform independent I/O. Either
// failure aborts: the daemon never runs partially initialized.
func (c *Controller) Initialize(ctx context.Context) error {
	loc, err := time.LoadLocation(c.cfg.Timezone)
	if err != nil {
		applog.Warn().Err(err).Str("timezone", c.cfg.Timezone).Msg("failed to load timezone, falling back to local")
		loc = time.Local
	}
	c.loc = loc

	if dir := filepath.Dir(c.cfg.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("lifecycle: failed to create data directory: %w", err)
		}
	}

	c.store = cache.New(
		c.cfg.DBPath,
		time.Duration(c.cfg.FetchTTLMinutes)*time.Minute,
		time.Duration(c.cfg.DisplayTTLMinutes)*time.Minute,
		loc,
	)
	c.src = source.New(c.cfg, c.store, loc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.store.Initialize(gctx) })
	g.Go(func() error { return c.src.Initialize(gctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("lifecycle: collaborator initialization failed: %w", err)
	}

	if err := c.buildRenderer(); err != nil {
		return err
	}

	retrier := NewRetrier(
		c.cfg.Retry.MaxRetries,
		time.Duration(c.cfg.Retry.InitialDelaySeconds)*time.Second,
		c.cfg.Retry.BackoffFactor,
	)
	cycle := NewCycle(c.store, c.src, c.renderer, retrier)

	sched, err := New(cycle, time.Duration(c.cfg.RefreshMinutes)*time.Minute, c.cfg.RefreshCron)
	if err != nil {
		return err
	}
	// Stop may read c.sched from a signal-handler goroutine at any point,
	// so the assignment has to happen under the same lock.
	c.mu.Lock()
	c.sched = sched
	c.initialized = true
	c.mu.Unlock()

	applog.Info().Str("output", c.cfg.Output).Msg("collaborators initialized")
	return nil
}

// buildRenderer constructs the output surface for the configured mode. The
// renderer needs no asynchronous initialization; e-paper hardware is opened
// per draw.
func (c *Controller) buildRenderer() error {
	previewPath := filepath.Join(filepath.Dir(c.cfg.DBPath), "preview.png")

	switch c.cfg.Output {
	case config.OutputConsole:
		c.renderer = render.NewConsole(os.Stdout, c.loc, c.cfg.ShowAllDay)
	case config.OutputWeb:
		c.webSrv = web.NewServer(c.cfg, c.store, c.loc, previewPath)
		c.renderer = web.NewRenderer(c.webSrv)
	case config.OutputEPD:
		c.webSrv = web.NewServer(c.cfg, c.store, c.loc, previewPath)
		pageURL := "http://" + c.cfg.Listen + "/"
		c.renderer = epaper.NewRenderer(c.webSrv, pageURL, previewPath, c.opts.RenderOnly)
	default:
		return fmt.Errorf("lifecycle: unknown output %q", c.cfg.Output)
	}
	return nil
}

// Start brings the daemon up and blocks until a clean stop. An
// interrupt-triggered stop is a clean stop, not an error. Cleanup always
// runs, on success and failure paths alike.
func (c *Controller) Start(ctx context.Context) error {
	defer c.cleanup()

	c.stopPreviousInstance()

	if err := c.Initialize(ctx); err != nil {
		applog.Error().Err(err).Msg("initialization failed, not starting scheduler")
		return err
	}

	c.writePidFile()

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var webErrCh chan error
	if c.webSrv != nil {
		webErrCh = make(chan error, 1)
		go func() { webErrCh <- c.webSrv.Run(runCtx) }()
	}

	var err error
	if c.opts.Headless {
		err = c.sched.RunFetchOnly(runCtx)
	} else {
		err = c.sched.Run(runCtx)
	}

	cancel()
	if webErrCh != nil {
		if werr := <-webErrCh; werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// RunOnce executes a single refresh cycle and tears down: used for the
// --once CLI mode. The web server is started temporarily when the output
// surface needs it (the e-paper pipeline captures its own page).
func (c *Controller) RunOnce(ctx context.Context) error {
	defer c.cleanup()

	if err := c.Initialize(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var webErrCh chan error
	if c.webSrv != nil {
		webErrCh = make(chan error, 1)
		go func() { webErrCh <- c.webSrv.Run(runCtx) }()
	}

	var st State
	ok := c.cycle().Run(runCtx, &st)
	if !ok {
		applog.Warn().Msg("single-shot cycle completed with degraded result")
	}

	cancel()
	if webErrCh != nil {
		<-webErrCh
	}
	return nil
}

func (c *Controller) cycle() *Cycle {
	return c.sched.cycle
}

// Stop requests shutdown. Safe to call from a signal handler goroutine;
// idempotent. Once requested, shutdown never reverts.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.shutdownRequested = true
	sched := c.sched
	c.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
}

// Status assembles a read-only snapshot. Before initialization it returns a
// degraded payload instead of failing.
func (c *Controller) Status(ctx context.Context) StatusPayload {
	c.mu.Lock()
	initialized := c.initialized
	running := c.running
	shutdown := c.shutdownRequested
	c.mu.Unlock()

	payload := StatusPayload{
		Initialized:       initialized,
		Running:           running,
		ShutdownRequested: shutdown,
		SchedulerPhase:    PhaseIdle.String(),
	}
	if !initialized {
		payload.Source = source.Info{Status: "not initialized"}
		return payload
	}

	st := c.sched.Snapshot()
	payload.SchedulerPhase = c.sched.Phase().String()
	payload.ConsecutiveFailures = st.ConsecutiveFailures
	payload.LastSuccessfulUpdate = st.LastSuccessfulUpdate
	payload.Source = c.src.Info()

	if summary, err := c.store.Summary(ctx); err == nil {
		payload.Cache = summary
	}

	return payload
}

// cleanup is best-effort teardown: flush and close the cache, drop the
// pidfile. It never fails; errors are logged and swallowed.
func (c *Controller) cleanup() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			applog.Warn().Err(err).Msg("cache close failed during cleanup")
		}
	}
	c.removePidFile()
	applog.Info().Msg("cleanup complete")
}

// stopPreviousInstance sends SIGTERM to the pid recorded in the pidfile, if
// any. Purely best-effort: a stale or unreadable pidfile is ignored.
func (c *Controller) stopPreviousInstance() {
	if c.cfg.PidFile == "" {
		return
	}

	data, err := os.ReadFile(c.cfg.PidFile)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err == nil {
		applog.Info().Int("pid", pid).Msg("stopped previous daemon instance")
		// Give it a moment to release the database.
		time.Sleep(500 * time.Millisecond)
	}
}

func (c *Controller) writePidFile() {
	if c.cfg.PidFile == "" {
		return
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(c.cfg.PidFile, []byte(pid+"\n"), 0o644); err != nil {
		applog.Warn().Err(err).Str("pid_file", c.cfg.PidFile).Msg("failed to write pidfile")
	}
}

func (c *Controller) removePidFile() {
	if c.cfg.PidFile == "" {
		return
	}
	if err := os.Remove(c.cfg.PidFile); err != nil && !os.IsNotExist(err) {
		applog.Warn().Err(err).Msg("failed to remove pidfile")
	}
}
