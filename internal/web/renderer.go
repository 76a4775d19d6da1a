package web

import (
	"inkcal/internal/model"
	"inkcal/internal/render"
)

// Renderer is the web output surface: instead of drawing anything itself it
// publishes the view snapshot to the Server, where the embedded UI picks it
// up via /api/status and /api/events.
type Renderer struct {
	srv *Server
}

// NewRenderer wraps a running Server as a render.Renderer.
func NewRenderer(srv *Server) *Renderer {
	return &Renderer{srv: srv}
}

// DisplayEvents implements render.Renderer.
func (r *Renderer) DisplayEvents(events []model.Event, status render.Status) error {
	r.srv.SetView(events, status, "")
	return nil
}

// DisplayError implements render.Renderer.
func (r *Renderer) DisplayError(message string, cached []model.Event) {
	r.srv.SetView(cached, render.Status{
		IsCached:         true,
		ConnectionStatus: message,
		TotalEvents:      len(cached),
	}, message)
}
