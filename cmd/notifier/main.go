package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
	"github.com/you/gnasty-alerts/internal/effects"
	"github.com/you/gnasty-alerts/internal/goals"
	"github.com/you/gnasty-alerts/internal/metrics"
	"github.com/you/gnasty-alerts/internal/overlay"
	"github.com/you/gnasty-alerts/internal/pipeline"
	"github.com/you/gnasty-alerts/internal/queue"
	"github.com/you/gnasty-alerts/internal/version"
)

const (
	exitConfig      = 2
	shutdownTimeout = 5 * time.Second
)

func main() {
	var (
		versionFlag   bool
		configPath    string
		httpAddr      string
		goalsDB       string
		logJSON       bool
		corsOrigins   string
		httpRateRPS   int
		httpRateBurst int
		accessLog     bool
		traceIngest   bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&configPath, "config", os.Getenv("GNASTY_CONFIG"), "Path to a JSON or YAML configuration file (reloaded on change)")
	flag.StringVar(&httpAddr, "http-addr", ":8765", "Overlay HTTP address")
	flag.StringVar(&goalsDB, "goals-db", "", "Path to the donation-goal SQLite database")
	flag.BoolVar(&logJSON, "log-json", false, "Emit JSON logs instead of console output")
	flag.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "rate-burst", 40, "Burst size for the HTTP rate limiter")
	flag.BoolVar(&accessLog, "http-access-log", false, "Log HTTP access records")
	flag.BoolVar(&traceIngest, "trace-ingest", false, "Log a stage trace for every ingested event")
	flag.Parse()

	version.Resolve()
	if versionFlag {
		fmt.Printf("notifier version: %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	boot := newLogger(logJSON || envJSON(), "info")

	view, err := config.Load(configPath)
	if err != nil {
		boot.Error().Err(err).Str("reason", core.ReasonOf(err)).Msg("notifier: invalid configuration")
		os.Exit(exitConfig)
	}
	if overrides["http-addr"] {
		view.Overlay.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["goals-db"] {
		view.Goals.DBPath = strings.TrimSpace(goalsDB)
		view.Goals.Enabled = view.Goals.DBPath != ""
	}
	if overrides["cors-origins"] {
		view.Overlay.CORSOrigins = splitOrigins(corsOrigins)
	}
	if overrides["rate-rps"] {
		view.Overlay.RateLimitRPS = httpRateRPS
	}
	if overrides["rate-burst"] {
		view.Overlay.RateBurst = httpRateBurst
	}
	if overrides["log-json"] {
		view.Log.JSON = logJSON
	}
	if err := view.Validate(); err != nil {
		boot.Error().Err(err).Msg("notifier: invalid configuration")
		os.Exit(exitConfig)
	}

	logger := newLogger(view.Log.JSON, view.Log.Level)
	logger.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		RawJSON("summary", view.SummaryJSON()).
		Msg("notifier: starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("notifier: shutting down")
		cancel()
	}()

	store := config.NewStore(view)
	if err := config.Watch(ctx, store, configPath, logger); err != nil {
		logger.Warn().Err(err).Str("path", configPath).Msg("notifier: config watch disabled")
	}

	mt := metrics.New()
	displayQueue := queue.NewDisplayQueue(view.Overlay.QueueCapacity)
	displayQueue.OnDepth(mt.QueueDepth)

	var (
		goalStore *goals.Store
		buffered  *goals.Buffered
		srv       *overlay.Server
	)
	if view.Goals.Enabled {
		goalStore, err = goals.Open(ctx, view.Goals.DBPath, core.SystemClock, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", view.Goals.DBPath).Msg("notifier: open goals store")
		}
		if err := goalStore.Ping(ctx); err != nil {
			logger.Fatal().Err(err).Msg("notifier: ping goals store")
		}
		buffered = goals.NewBuffered(goalStore, goals.BufferedOptions{
			BatchSize:     view.Goals.Batch(),
			FlushInterval: view.Goals.FlushInterval(),
		})
		logger.Info().Str("store", goalStore.String()).Msg("notifier: goals enabled")
	} else {
		logger.Info().Msg("notifier: goals disabled")
	}

	// The overlay server is built after the pipeline; these adapters resolve
	// it lazily.
	speaker := effects.NewSpeaker(view.TTS, func(ctx context.Context, text string) error {
		return srv.SpeakTTS(ctx, text)
	}, logger)
	trigger := effects.TriggerFunc(func(ctx context.Context, cfg effects.VFXConfig, n *core.Notification) error {
		return srv.TriggerVFX(ctx, cfg, n)
	})

	dispatchOpts := []effects.Option{
		effects.WithTTS(speaker),
		effects.WithEffects(effects.NewStaticVFX(store), trigger),
		effects.WithFailureHook(func(sink string, _ error) { mt.SinkFailure(sink) }),
	}
	if buffered != nil {
		dispatchOpts = append(dispatchOpts, effects.WithGoals(buffered))
	}
	dispatcher := effects.NewDispatcher(store, logger, dispatchOpts...)

	manager := pipeline.New(store, displayQueue,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(mt),
		pipeline.WithSideEffects(dispatcher),
		pipeline.WithTraceLogging(traceIngest),
	)

	janitor := pipeline.NewJanitor(view.General.CleanupInterval(), logger)
	for name, sw := range manager.Sweepers() {
		janitor.Add(name, sw)
	}
	janitor.Start()
	defer janitor.Stop()

	opts := overlay.Options{
		Addr:           view.Overlay.Addr,
		CORSOrigins:    view.Overlay.CORSOrigins,
		RateLimitRPS:   view.Overlay.RateLimitRPS,
		RateLimitBurst: view.Overlay.RateBurst,
		AccessLog:      accessLog,
		Build: overlay.BuildInfo{
			Version:  version.Version,
			Revision: version.Commit,
			BuiltAt:  version.BuiltAt(),
		},
		Metrics:    mt,
		Logger:     logger,
		Handshakes: manager.Transports(),
	}
	if goalStore != nil {
		opts.Goals = goalStore
	}
	srv = overlay.New(manager, displayQueue, opts)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := speaker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("notifier: tts speaker stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := queue.Pump(ctx, displayQueue, srv, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("notifier: display pump stopped")
		}
	}()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("notifier: overlay server failed")
			cancel()
		}
	}()
	logger.Info().Str("addr", view.Overlay.Addr).Msg("notifier: overlay ready")

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notifier: overlay shutdown")
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notifier: side effects still running at shutdown")
	}
	wg.Wait()
	manager.Flush()

	if buffered != nil {
		if err := buffered.Close(); err != nil {
			logger.Error().Err(err).Msg("notifier: flush goals")
		}
	}
	if goalStore != nil {
		if err := goalStore.Close(); err != nil {
			logger.Error().Err(err).Msg("notifier: close goals store")
		}
	}
	logger.Info().Msg("notifier: shutdown complete")
}

func newLogger(jsonOut bool, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if jsonOut {
		return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}

func envJSON() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("GNASTY_LOG_JSON")))
	return v == "1" || v == "true"
}

func splitOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
