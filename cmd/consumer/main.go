package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/emergency-dispatch/internal/config"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/logging"
	"github.com/example/emergency-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total resource location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	fleetUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_fleet_updates_total",
		Help: "Total successful fleet position updates",
	})
	fleetErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_fleet_errors_total",
		Help: "Total fleet update errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, fleetUpdates, fleetErrors)
}

var errInvalidMessage = errors.New("invalid location message")

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	// allow overriding the metrics address for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	fleet := geo.NewRedisFleet(rc, cfg.RedisGeoKey, cfg.SpeedKmh)

	go serveHealth(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()
		if err := handleMessage(ctx, fleet, m.Value); err != nil {
			if errors.Is(err, errInvalidMessage) {
				msgsInvalid.Inc()
			} else {
				fleetErrors.Inc()
			}
			logger.Warn("location update dropped", "key", string(m.Key), "err", err)
			continue
		}
		fleetUpdates.Inc()
	}
}

func serveHealth(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		// readiness: check redis connectivity
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "err", err)
	}
}

// fleetUpdater is the subset of the fleet the consumer writes to.
type fleetUpdater interface {
	Upsert(ctx context.Context, r models.Resource) error
}

func handleMessage(ctx context.Context, f fleetUpdater, value []byte) error {
	var res models.Resource
	if err := json.Unmarshal(value, &res); err != nil {
		return fmt.Errorf("%w: %v", errInvalidMessage, err)
	}
	if res.ID == "" || !res.Loc.Valid() {
		return fmt.Errorf("%w: resource %q has no id or an invalid position", errInvalidMessage, res.ID)
	}
	if res.Tier == 0 {
		return fmt.Errorf("%w: resource %q has no tier", errInvalidMessage, res.ID)
	}
	return upsertWithRetry(ctx, f, res, 3, 200*time.Millisecond)
}

// upsertWithRetry writes the position with exponential backoff between attempts.
func upsertWithRetry(ctx context.Context, f fleetUpdater, res models.Resource, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = f.Upsert(ctx, res); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("upsert resource %s: %w", res.ID, err)
}
