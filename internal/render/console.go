package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	applog "inkcal/internal/log"
	"inkcal/internal/model"
)

// Console renders the day view as plain text to an io.Writer. It is the
// default output surface and the one used in headless development.
type Console struct {
	out        io.Writer
	loc        *time.Location
	showAllDay bool

	// now is swappable for tests.
	now func() time.Time
}

// NewConsole creates a console renderer writing to out.
func NewConsole(out io.Writer, loc *time.Location, showAllDay bool) *Console {
	if loc == nil {
		loc = time.Local
	}
	return &Console{
		out:        out,
		loc:        loc,
		showAllDay: showAllDay,
		now:        time.Now,
	}
}

// DisplayEvents implements Renderer.
func (c *Console) DisplayEvents(events []model.Event, status Status) error {
	now := c.now().In(c.loc)

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(now.Format("Monday, 02 January 2006"))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 40))
	b.WriteString("\n")

	todays := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.OnDay(now) {
			todays = append(todays, ev)
		}
	}

	if c.showAllDay {
		for _, ev := range todays {
			if ev.AllDay {
				fmt.Fprintf(&b, "  [all day] %s\n", ev.Summary)
			}
		}
	}

	shown := 0
	for _, ev := range todays {
		if ev.AllDay {
			continue
		}
		marker := "  "
		if ev.ActiveAt(now) {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%s-%s  %s", marker, ev.Start.Format("15:04"), ev.End.Format("15:04"), ev.Summary)
		if ev.Location != "" {
			fmt.Fprintf(&b, " @ %s", ev.Location)
		}
		b.WriteString("\n")
		shown++
	}

	if shown == 0 && (!c.showAllDay || len(todays) == 0) {
		b.WriteString("  (no events today)\n")
	}

	b.WriteString(strings.Repeat("-", 40))
	b.WriteString("\n")
	b.WriteString(c.statusLine(status))
	b.WriteString("\n")

	if _, err := io.WriteString(c.out, b.String()); err != nil {
		return fmt.Errorf("console: write failed: %w", err)
	}
	return nil
}

// DisplayError implements Renderer.
func (c *Console) DisplayError(message string, cached []model.Event) {
	// Show cached data under the banner so the view is never blank.
	status := Status{
		IsCached:         true,
		ConnectionStatus: message,
		TotalEvents:      len(cached),
	}

	fmt.Fprintf(c.out, "\n!! %s\n", message)
	if err := c.DisplayEvents(cached, status); err != nil {
		applog.Error().Err(err).Msg("console error view failed")
	}
}

func (c *Console) statusLine(status Status) string {
	parts := make([]string, 0, 4)

	if status.LastUpdate.IsZero() {
		parts = append(parts, "updated: never")
	} else {
		parts = append(parts, "updated: "+status.LastUpdate.In(c.loc).Format("15:04"))
	}
	if status.IsCached {
		parts = append(parts, "CACHED")
	}
	if status.ConsecutiveFailures > 0 {
		parts = append(parts, fmt.Sprintf("failures: %d", status.ConsecutiveFailures))
	}
	parts = append(parts, fmt.Sprintf("events: %d", status.TotalEvents))

	return strings.Join(parts, " | ")
}
