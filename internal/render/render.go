// Package render defines the display contract consumed by the scheduler
// and the plain-text console implementation.
package render

import (
	"time"

	"inkcal/internal/model"
)

// Status is the transient view-state handed to a renderer alongside the
// events. It is rebuilt for every display call and has no lifecycle of its
// own.
type Status struct {
	// LastUpdate is the time of the last successful fetch; zero if none.
	LastUpdate time.Time
	// IsCached is true when the view shows stale data because the source
	// could not be reached.
	IsCached bool
	// ConnectionStatus is a short human-readable connectivity note.
	ConnectionStatus string
	// TotalEvents is the number of events currently cached.
	TotalEvents int
	// ConsecutiveFailures counts fetch failures since the last success.
	ConsecutiveFailures int
	// SourceStatus / SourceURL describe the configured feed (redacted).
	SourceStatus string
	SourceURL    string
}

// Renderer draws the calendar view on some output surface. DisplayEvents
// and DisplayError are called sequentially from the scheduler goroutine;
// exactly one of them runs per refresh cycle.
type Renderer interface {
	// DisplayEvents draws the given events with the given status.
	DisplayEvents(events []model.Event, status Status) error

	// DisplayError shows an error banner, along with whatever cached
	// events are still available. It must not fail; surfaces log their
	// own draw errors.
	DisplayError(message string, cached []model.Event)
}
