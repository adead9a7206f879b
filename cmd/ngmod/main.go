package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngmod/internal/config"
	"github.com/iamwavecut/ngmod/internal/event"
	"github.com/iamwavecut/ngmod/internal/infra"
	"github.com/iamwavecut/ngmod/internal/lifecycle"
	"github.com/iamwavecut/ngmod/internal/moderation"
	"github.com/iamwavecut/ngmod/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	noColor := os.Getenv("NO_COLOR") != ""
	log.SetOutput(os.Stdout)
	cfg, err := config.Load()
	if err != nil {
		config.SetupLogging(int(log.InfoLevel), noColor)
		log.WithField("error", err.Error()).Fatal("cant load config")
	}
	config.SetupLogging(cfg.LogLevel, noColor)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		log.WithField("error", err.Error()).Fatal("exiting")
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg config.Config) error {
	settings, err := cfg.ModerationSettings()
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	scorer, closeScorer, err := newScorer(ctx, cfg)
	if err != nil {
		_ = closeStore(ctx)
		return err
	}
	platform, err := newPlatform(cfg, settings.MuteDuration)
	if err != nil {
		_ = closeScorer(ctx)
		_ = closeStore(ctx)
		return err
	}
	settings.SelfID = platform.selfID

	registry := observability.NewRegistry()
	orchestrator := moderation.NewOrchestrator(settings, moderation.Dependencies{
		Platform:   platform.ops,
		Classifier: moderation.NewClassifier(scorer, cfg.Classifier.Timeout),
		Store:      store,
		Recorder:   observability.NewMetrics(registry),
	})
	observability.RegisterPendingReversals(registry, orchestrator.Actuator())

	dispatcher := event.NewDispatcher(cfg.Workers, func(ctx context.Context, ev moderation.Event) {
		if _, err := orchestrator.Handle(ctx, ev); err != nil {
			log.WithFields(log.Fields{
				"object":     "Handler",
				"error":      err.Error(),
				"guild_id":   ev.GuildID,
				"message_id": ev.MessageID,
			}).Error("cant process message")
		}
	})
	observability.RegisterInFlight(registry, dispatcher.InFlight)

	runtime := lifecycle.NewRuntime()
	runtime.Register("tracing", observability.NewTracing(cfg.Observability.Tracing))
	if cfg.Observability.MetricsAddr != "" {
		runtime.Register("metrics", observability.NewServer(cfg.Observability.MetricsAddr, registry))
	}
	runtime.Register("store", lifecycle.Hooks{OnStop: closeStore})
	runtime.Register("classifier", lifecycle.Hooks{OnStop: closeScorer})
	runtime.Register("orchestrator", orchestrator)
	runtime.Register("dispatcher", dispatcher)
	runtime.Register("receiver", platform.receiver(dispatcher.Sink))
	runtime.Register("executable monitor", infra.NewExecutableMonitor(func() {
		log.Warn("executable file was modified, shutting down")
		cancel()
	}))

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"platform":   cfg.Platform,
		"store":      cfg.Store.Type,
		"classifier": cfg.Classifier.Type,
	}).Info("moderation engine running")

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	return runtime.Stop(stopCtx)
}
