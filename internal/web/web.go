// Package web serves the embedded UI and JSON API, and doubles as an output
// surface: the scheduler publishes each rendered view snapshot here.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"inkcal/internal/cache"
	"inkcal/internal/config"
	applog "inkcal/internal/log"
	"inkcal/internal/model"
	"inkcal/internal/render"
)

// Server provides HTTP APIs for schedule access plus the embedded UI.
type Server struct {
	cfg        *config.Config
	store      *cache.Store
	loc        *time.Location
	previewPth string
	mux        *http.ServeMux

	// Latest view snapshot published by the scheduler's renderer.
	viewMu sync.RWMutex
	view   *viewSnapshot
}

// embeddedStatic contains the exported static UI build. The directory
// structure under internal/web/static mirrors the web bundle output
// (index.html etc).
//
//go:embed all:static
var embeddedStatic embed.FS

// viewSnapshot is the last state pushed by the scheduler.
type viewSnapshot struct {
	Events    []model.Event
	Status    render.Status
	ErrorMsg  string
	UpdatedAt time.Time
}

// NewServer constructs a Server. previewPath is where the capture pipeline
// writes the last rendered PNG; it is served at /preview.png.
func NewServer(cfg *config.Config, store *cache.Store, loc *time.Location, previewPath string) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		cfg:        cfg,
		store:      store,
		loc:        loc,
		previewPth: previewPath,
		mux:        http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		applog.Info().Str("listen", "http://"+s.cfg.Listen).Msg("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves HTTP on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		applog.Info().Str("listen", "http://"+s.cfg.Listen).Msg("starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// SetView publishes the latest rendered view. Called by the web renderer
// after every refresh cycle.
func (s *Server) SetView(events []model.Event, status render.Status, errorMsg string) {
	s.viewMu.Lock()
	s.view = &viewSnapshot{
		Events:    events,
		Status:    status,
		ErrorMsg:  errorMsg,
		UpdatedAt: time.Now(),
	}
	s.viewMu.Unlock()
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays unauthenticated for probes.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="inkcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/cache/clear", s.handleCacheClear)
	s.mux.HandleFunc("/preview.png", s.handlePreview)

	// All remaining paths fall back to the embedded static UI.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is a JSON-friendly view of events.
type eventDTO struct {
	SourceID    string    `json:"source_id"`
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events          []eventDTO `json:"events"`
	RangeStart      time.Time  `json:"range_start"`
	RangeEnd        time.Time  `json:"range_end"`
	DisplayTimeZone string     `json:"display_timezone"`
	LastUpdate      time.Time  `json:"last_update"`
	IsStale         bool       `json:"is_stale"`
	HighlightRed    []string   `json:"highlight_red"`
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Error               string    `json:"error,omitempty"`
	LastUpdate          time.Time `json:"last_update"`
	IsCached            bool      `json:"is_cached"`
	ConnectionStatus    string    `json:"connection_status"`
	TotalEvents         int       `json:"total_events"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	SourceStatus        string    `json:"source_status"`
	SourceURL           string    `json:"source_url"`
	UpdatedAt           time.Time `json:"updated_at"`
	Ready               bool      `json:"ready"`
}

// handleEvents returns cached events within a requested window.
//
// GET /api/events?days=7&backfill=1
//   - days:     how many future days to include (default 7)
//   - backfill: how many past days to include (default 1)
//
// Events are read from the SQLite cache; the refresh loop is the only
// component that talks to the feed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	now := time.Now().In(s.loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	events, err := s.store.EventsInRange(r.Context(), rangeStart, rangeEnd)
	if err != nil {
		applog.Error().Err(err).Msg("api events: cache read failed")
		writeError(w, http.StatusInternalServerError, "failed to read event cache")
		return
	}

	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, eventDTO{
			SourceID:    ev.SourceID,
			UID:         ev.UID,
			InstanceKey: ev.InstanceKey,
			Summary:     ev.Summary,
			Description: ev.Description,
			Location:    ev.Location,
			AllDay:      ev.AllDay,
			Start:       ev.Start,
			End:         ev.End,
		})
	}

	var highlight []string
	if s.cfg != nil {
		highlight = s.cfg.HighlightRed
	}

	st := s.store.Status()
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:          dtos,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: s.loc.String(),
		LastUpdate:      st.LastUpdate,
		IsStale:         st.IsStale,
		HighlightRed:    highlight,
	})
}

// handleStatus returns the status of the last published view snapshot. The
// calendar page polls it to decide when it is safe to signal data-ready for
// the capture pipeline.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.viewMu.RLock()
	v := s.view
	s.viewMu.RUnlock()

	if v == nil {
		writeJSON(w, http.StatusOK, statusResponse{Ready: false})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Error:               v.ErrorMsg,
		LastUpdate:          v.Status.LastUpdate,
		IsCached:            v.Status.IsCached,
		ConnectionStatus:    v.Status.ConnectionStatus,
		TotalEvents:         v.Status.TotalEvents,
		ConsecutiveFailures: v.Status.ConsecutiveFailures,
		SourceStatus:        v.Status.SourceStatus,
		SourceURL:           v.Status.SourceURL,
		UpdatedAt:           v.UpdatedAt,
		Ready:               true,
	})
}

// handleCacheClear drops all cached events and the last-update stamp. The
// next refresh cycle repopulates the cache from the feeds; until then the
// UI shows an empty calendar rather than stale data.
//
// POST /api/cache/clear
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}

	removed, err := s.store.ClearAll(r.Context())
	if err != nil {
		applog.Error().Err(err).Msg("api cache clear failed")
		writeError(w, http.StatusInternalServerError, "failed to clear event cache")
		return
	}

	applog.Info().Int("removed", removed).Msg("event cache cleared via API")
	type clearResp struct {
		Removed int `json:"removed"`
	}
	writeJSON(w, http.StatusOK, clearResp{Removed: removed})
}

// handlePreview serves the last rendered PNG preview from disk.
// http.ServeFile produces the right status codes for missing files.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.previewPth)
}

// staticFileServer returns an http.Handler serving the embedded UI from
// internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		applog.Error().Err(err).Msg("failed to initialize embedded static filesystem")
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /api/* must never fall through to HTML.
		if r.URL.Path == "/api" || len(r.URL.Path) > 4 && r.URL.Path[:5] == "/api/" {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Error().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
