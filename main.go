package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"signal-trader/internal/api"
	"signal-trader/internal/campaign"
	"signal-trader/internal/engine"
	"signal-trader/internal/events"
	"signal-trader/internal/history"
	"signal-trader/internal/market"
	"signal-trader/internal/monitor"
	"signal-trader/internal/notify"
	"signal-trader/internal/order"
	"signal-trader/internal/persistence"
	"signal-trader/internal/reconciliation"
	"signal-trader/pkg/config"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/okx"
	"signal-trader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalLog := zerolog.New(os.Stderr)
		fatalLog.Fatal().Err(err).Msg("load config")
	}

	log, logCloser := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		Pretty:     cfg.LogPretty,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("exited with error")
	}
	_ = logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled or a server
// fails. Deferred cleanup always runs before it returns.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	log.Info().Str("version", buildVersion).Bool("demo", cfg.OKXDemo).Str("db", cfg.DBPath).Msg("starting")
	if !cfg.HasCredentials() {
		log.Warn().Msg("OKX credentials missing; order placement and position queries will fail")
	}

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Exchange
	client := okx.NewClient(okx.Config{
		APIKey:     cfg.OKXAPIKey,
		APISecret:  cfg.OKXAPISecret,
		Passphrase: cfg.OKXPassphrase,
		Demo:       cfg.OKXDemo,
		BaseURL:    cfg.OKXBaseURL,
		Whitelist:  cfg.Whitelist,
	}, log)
	client.StartTimeSync(ctx)
	streams := okx.NewStreamClient(cfg.OKXDemo, log)

	policy := market.DefaultReconnectPolicy()
	policy.Min, policy.Max, policy.MaxAttempts = cfg.ReconnectMin, cfg.ReconnectMax, cfg.ReconnectMaxAttempts

	registry := campaign.NewRegistry()
	eng := engine.New(engine.Options{
		Registry: registry,
		Market:   client,
		Gateway:  order.NewGateway(client, log),
		Streams:  market.NewManager(streams, policy, log),
		Bus:      bus,
		Logger:   log,
		Params: engine.Params{
			ReferenceInst: cfg.ReferenceInst,
			CandleLimit:   cfg.CandleLimit,
			ShortPeriod:   cfg.ShortPeriod,
			LongPeriod:    cfg.LongPeriod,
		},
		Venue:   "okx",
		Demo:    cfg.OKXDemo,
		Version: buildVersion,
		Clock:   client.Now,
	})

	// Journal, metrics, alerts
	writer := persistence.NewBatchWriter(database.DB, 100, time.Second, log)
	defer writer.Close()
	journal := persistence.NewJournal(bus, writer, log)

	metrics := monitor.NewMetrics()
	sinks := []monitor.AlertSink{monitor.LogSink{Log: log.With().Str("component", "alerts").Logger()}}

	// Background services outlive the signal so the engine's final stop
	// events still reach the journal and sinks.
	svcCtx, svcCancel := context.WithCancel(context.Background())
	defer svcCancel()
	g, gctx := errgroup.WithContext(svcCtx)
	g.Go(func() error {
		journal.Run(gctx)
		return nil
	})

	if cfg.AMQPURL != "" {
		pub, err := notify.Dial(ctx, cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Error().Err(err).Msg("amqp disabled")
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
			g.Go(func() error {
				pub.Run(gctx, bus)
				return nil
			})
		}
	}

	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, Sinks: sinks, Log: log}
	mon.Start(gctx)

	recon := reconciliation.NewService(client, registry, bus, cfg.ReconcileInterval, log)
	recon.SetAutoSync(cfg.ReconcileAutoSync)
	recon.Start(gctx)

	// Servers
	server := api.NewServer(api.Deps{
		Engine:    eng,
		Bus:       bus,
		Journal:   database.Queries(),
		History:   history.NewService(client, log),
		Metrics:   metrics.Handler(),
		Logger:    log,
		RateLimit: cfg.APIRateLimit,
		Burst:     cfg.APIBurst,
	})
	g.Go(func() error {
		return server.Run(gctx, cfg.HTTPAddr)
	})

	health := api.NewHealthServer(log)
	if cfg.GRPCAddr != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
			}
			return health.Serve(gctx, lis)
		})
	}

	startPresets(ctx, eng, cfg.PresetsPath, log)

	select {
	case <-ctx.Done():
	case <-gctx.Done():
	}
	log.Info().Msg("shutting down")
	health.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("engine shutdown")
	}
	svcCancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startPresets launches every auto_start campaign from the presets file.
func startPresets(ctx context.Context, eng *engine.Engine, path string, log zerolog.Logger) {
	if path == "" {
		return
	}
	presets, err := campaign.LoadPresets(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("load presets")
		return
	}
	for _, p := range presets {
		if !p.AutoStart {
			continue
		}
		if err := eng.Start(ctx, p.ID, p.Config); err != nil {
			log.Error().Err(err).Str("campaign", p.ID).Msg("preset start failed")
			continue
		}
	}
	log.Info().Int("presets", len(presets)).Msg("presets loaded")
}
