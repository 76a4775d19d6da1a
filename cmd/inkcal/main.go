package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"inkcal/internal/config"
	applog "inkcal/internal/log"
	"inkcal/internal/scheduler"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	output     string
	once       bool
	headless   bool
	renderOnly bool
	debug      bool
}

func main() {
	flags := parseFlags()

	if flags.debug {
		applog.SetDebugMode()
	}

	applog.Info().Str("version", "0.1.0").Msg("inkcal starting")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		applog.Fatal().Err(err).Str("config_path", flags.configPath).Msg("failed to load config")
	}

	// CLI overrides win over the config file.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.output != "" {
		conf.Output = flags.output
		conf.Normalize()
	}

	applog.Info().
		Str("listen", conf.Listen).
		Str("timezone", conf.Timezone).
		Str("output", conf.Output).
		Str("refresh", conf.RefreshCron).
		Int("refresh_minutes", conf.RefreshMinutes).
		Int("horizon_days", conf.HorizonDays).
		Int("ics_count", len(conf.ICS)).
		Bool("once", flags.once).
		Bool("headless", flags.headless).
		Bool("render_only", flags.renderOnly).
		Msg("effective config")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := scheduler.NewController(conf, scheduler.Options{
		Headless:   flags.headless,
		RenderOnly: flags.renderOnly,
	})

	// SIGINT/SIGTERM request a graceful stop; the scheduler observes it at
	// its next wait point.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		applog.Info().Str("signal", sig.String()).Msg("signal received, shutting down")
		ctrl.Stop()
		cancel()
	}()

	if flags.once {
		if err := ctrl.RunOnce(ctx); err != nil {
			applog.Error().Err(err).Msg("single-shot run failed")
			os.Exit(1)
		}
		applog.Info().Msg("inkcal exiting")
		return
	}

	if err := ctrl.Start(ctx); err != nil {
		applog.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}

	applog.Info().Msg("inkcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/inkcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.output, "output", "", "Output surface: console, web or epd (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh cycle and exit")
	flag.BoolVar(&cfg.headless, "headless", false, "Fetch-only mode: keep the cache warm without rendering")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render only; do not touch display hardware")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
