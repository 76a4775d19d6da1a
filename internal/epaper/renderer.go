// Package epaper is the hardware output surface: it publishes the view to
// the web server, captures the rendered page with headless Chromium, packs
// the screenshot into 1bpp planes and drives the panel over SPI.
package epaper

import (
	"context"
	"fmt"
	"time"

	"inkcal/internal/capture"
	"inkcal/internal/convert"
	"inkcal/internal/epd"
	applog "inkcal/internal/log"
	"inkcal/internal/model"
	"inkcal/internal/render"
	"inkcal/internal/web"
)

// Renderer implements render.Renderer for the e-paper panel.
type Renderer struct {
	srv         *web.Server
	pageURL     string
	previewPath string
	drawTimeout time.Duration

	// previewOnly skips the SPI drive stage: the page is still captured
	// and the preview PNG written, but the panel hardware is never opened.
	previewOnly bool

	// capture and drive are swappable for tests.
	capture func(ctx context.Context, opts capture.Options) ([]byte, error)
	drive   func(ctx context.Context, black, red []byte) error
}

// NewRenderer builds the e-paper surface. pageURL is the local calendar
// page (typically "http://<listen>/"); previewPath receives the captured
// PNG for the /preview.png endpoint. previewOnly suppresses the hardware
// stage for render-only runs.
func NewRenderer(srv *web.Server, pageURL, previewPath string, previewOnly bool) *Renderer {
	return &Renderer{
		srv:         srv,
		pageURL:     pageURL,
		previewPath: previewPath,
		drawTimeout: 3 * time.Minute,
		previewOnly: previewOnly,
		capture:     capture.PagePNG,
		drive:       drivePanel,
	}
}

// DisplayEvents implements render.Renderer.
func (r *Renderer) DisplayEvents(events []model.Event, status render.Status) error {
	r.srv.SetView(events, status, "")
	return r.draw()
}

// DisplayError implements render.Renderer. The page renders the banner
// from the published snapshot, so the error view reuses the same pipeline.
func (r *Renderer) DisplayError(message string, cached []model.Event) {
	r.srv.SetView(cached, render.Status{
		IsCached:         true,
		ConnectionStatus: message,
		TotalEvents:      len(cached),
	}, message)

	if err := r.draw(); err != nil {
		applog.Error().Err(err).Msg("epaper error view draw failed")
	}
}

// draw runs the full capture-pack-display pipeline.
func (r *Renderer) draw() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.drawTimeout)
	defer cancel()

	png, err := r.capture(ctx, capture.Options{
		URL:        r.pageURL,
		OutputPath: r.previewPath,
		Width:      epd.Width,
		Height:     epd.Height,
	})
	if err != nil {
		return fmt.Errorf("epaper: capture failed: %w", err)
	}

	img, err := convert.DecodePNG(png)
	if err != nil {
		return fmt.Errorf("epaper: decode failed: %w", err)
	}

	black, red, err := convert.PackNRGBA(img)
	if err != nil {
		return fmt.Errorf("epaper: pack failed: %w", err)
	}

	if r.previewOnly {
		applog.Info().Str("preview", r.previewPath).Msg("preview written, panel drive skipped")
		return nil
	}

	if err := r.drive(ctx, black, red); err != nil {
		return err
	}

	applog.Info().Msg("epaper panel refreshed")
	return nil
}

// drivePanel pushes both packed planes to the panel. The panel is
// initialized per draw and put back to sleep afterwards; keeping the drive
// voltage up between refreshes degrades it.
func drivePanel(ctx context.Context, black, red []byte) error {
	drv, err := epd.Init(ctx)
	if err != nil {
		return fmt.Errorf("epaper: panel init failed: %w", err)
	}
	defer func() {
		if cerr := drv.Close(); cerr != nil {
			applog.Warn().Err(cerr).Msg("epaper: panel close failed")
		}
	}()

	if err := drv.Display(ctx, black, red); err != nil {
		return fmt.Errorf("epaper: display failed: %w", err)
	}
	return nil
}
