package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/emergency-dispatch/internal/config"
	"github.com/example/emergency-dispatch/internal/coordinator"
	"github.com/example/emergency-dispatch/internal/dispatch"
	"github.com/example/emergency-dispatch/internal/facility"
	"github.com/example/emergency-dispatch/internal/geo"
	httpapi "github.com/example/emergency-dispatch/internal/http"
	"github.com/example/emergency-dispatch/internal/ingest"
	"github.com/example/emergency-dispatch/internal/logging"
	"github.com/example/emergency-dispatch/internal/notify"
	"github.com/example/emergency-dispatch/internal/payments"
	"github.com/example/emergency-dispatch/internal/seed"
	"github.com/example/emergency-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	// env-driven wiring; every backend falls back to an in-process stand-in
	var fleet geo.Fleet
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		fleet = geo.NewRedisFleet(rc, cfg.RedisGeoKey, cfg.SpeedKmh)
		logger.Info("fleet backed by redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		fleet = geo.NewIndex(cfg.SpeedKmh)
	}

	var (
		locations httpapi.LocationPublisher
		events    coordinator.EventPublisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		lp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
		defer lp.Close()
		ep := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		defer ep.Close()
		locations, events = lp, ep
	}

	notifier := buildNotifier(cfg, logger)
	if cfg.KafkaNotifyTopic != "" && len(cfg.KafkaBrokers) > 0 {
		np := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaNotifyTopic)
		defer np.Close()
		notifier = &notify.KafkaNotifier{Publisher: np}
	}

	var settler payments.Settler = payments.TrustedSettler{}
	if cfg.StripeSecretKey != "" {
		settler = payments.NewStripeSettler(payments.NewStripeClient(cfg.StripeSecretKey), cfg.StripeCurrency, cfg.StripePaymentMethod, logger)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; settlements are trusted without a payment provider")
	}

	var archive storage.Archive = storage.NewMemoryArchive()
	if cfg.PGDSN != "" {
		pa, err := storage.NewPostgresArchive(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pa.Close()
		if cfg.RunMigrations {
			if err := migrate(ctx, pa, logger); err != nil {
				return err
			}
		}
		archive = pa
	}

	wsReg := dispatch.NewWSRegistry(logger)
	registry := facility.NewRegistry(facility.Options{HoldBuffer: cfg.ReservationBuffer, SpeedKmh: cfg.SpeedKmh, Logger: logger})

	if cfg.SeedFile != "" {
		f, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, f, registry, fleet); err != nil {
			return err
		}
		logger.Info("seed loaded", "file", cfg.SeedFile, "facilities", len(f.Facilities), "resources", len(f.Resources))
	}

	svc, err := coordinator.NewService(coordinator.Options{
		Fleet:                  fleet,
		Dispatcher:             dispatch.NewPushDispatcher(cfg.PushGatewayURL, cfg.PushGatewayKey, wsReg),
		Notifier:               notifier,
		Settler:                settler,
		Archive:                archive,
		Events:                 events,
		Logger:                 logger,
		SearchRadiusKm:         cfg.SearchRadiusKm,
		MaxOffers:              cfg.MaxOffers,
		DiscoveryTimeout:       cfg.DiscoveryTimeout,
		OfferTimeout:           cfg.OfferTimeout,
		NotifyTimeout:          cfg.NotifyTimeout,
		SettlementTimeout:      cfg.SettlementTimeout,
		CodeTTL:                cfg.CodeTTL,
		MaxBroadcastAttempts:   cfg.MaxBroadcastAttempts,
		BroadcastRetryInterval: cfg.BroadcastRetryInterval,
		RetentionWindow:        cfg.RetentionWindow,
		ArchiveInterval:        cfg.ArchiveInterval,
		BaseFare:               cfg.BaseFare,
		PerKmFare:              cfg.PerKmFare,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewServer(httpapi.Deps{
			Facilities:  registry,
			Coordinator: svc,
			Fleet:       fleet,
			Locations:   locations,
			WSReg:       wsReg,
			Logger:      logger,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		registry.RunExpirySweeper(gctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		logger.Info("emergency-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildNotifier(cfg config.ServerConfig, logger *slog.Logger) notify.Notifier {
	if cfg.NotifyWebhookURL != "" {
		return notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyRatePerSec, cfg.NotifyBurst)
	}
	return &notify.LogNotifier{Logger: logger}
}

// migrate applies migrations/001_create_transport_requests.sql.
func migrate(ctx context.Context, pa *storage.PostgresArchive, logger *slog.Logger) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_transport_requests.sql"))
	if err != nil {
		return err
	}
	if _, err := pa.DB().ExecContext(ctx, string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", "001_create_transport_requests.sql")
	return nil
}
