package model

import "time"

// Event is a single concrete calendar entry as shown on the display:
// recurrences are already expanded and times normalized into the configured
// display timezone before an Event is constructed.
type Event struct {
	SourceID string // calendar source ID (config ICS ID)
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies one occurrence of a recurring event,
	// derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// OnDay reports whether the event touches the calendar day containing t
// (in t's location).
func (e Event) OnDay(t time.Time) bool {
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	return e.Start.Before(dayEnd) && e.End.After(dayStart)
}

// ActiveAt reports whether the event is in progress at t.
func (e Event) ActiveAt(t time.Time) bool {
	return !t.Before(e.Start) && t.Before(e.End)
}
