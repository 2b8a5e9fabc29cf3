package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are loaded from environment variables with defaults that run locally
// with every external backend switched off.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers       []string
	KafkaLocationTopic string
	KafkaEventTopic    string
	KafkaNotifyTopic   string

	PGDSN         string
	RunMigrations bool

	StripeSecretKey     string
	StripeCurrency      string
	StripePaymentMethod string

	NotifyWebhookURL string
	NotifyRatePerSec float64
	NotifyBurst      int

	PushGatewayURL string
	PushGatewayKey string

	SeedFile string

	SpeedKmh               float64
	SearchRadiusKm         float64
	MaxOffers              int
	DiscoveryTimeout       time.Duration
	OfferTimeout           time.Duration
	NotifyTimeout          time.Duration
	SettlementTimeout      time.Duration
	BroadcastRetryInterval time.Duration
	MaxBroadcastAttempts   int
	CodeTTL                time.Duration
	ReservationBuffer      time.Duration
	SweepInterval          time.Duration
	RetentionWindow        time.Duration
	ArchiveInterval        time.Duration
	BaseFare               int64
	PerKmFare              int64

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:               ":8080",
		ReadTimeout:            5 * time.Second,
		WriteTimeout:           10 * time.Second,
		IdleTimeout:            120 * time.Second,
		ShutdownTimeout:        15 * time.Second,
		RedisGeoKey:            "resources_geo",
		KafkaLocationTopic:     "resource-locations",
		KafkaEventTopic:        "dispatch-events",
		StripeCurrency:         "inr",
		StripePaymentMethod:    "pm_card_visa",
		NotifyRatePerSec:       5,
		NotifyBurst:            10,
		SpeedKmh:               40,
		SearchRadiusKm:         25,
		MaxOffers:              5,
		DiscoveryTimeout:       2 * time.Second,
		OfferTimeout:           3 * time.Second,
		NotifyTimeout:          5 * time.Second,
		SettlementTimeout:      10 * time.Second,
		BroadcastRetryInterval: 30 * time.Second,
		MaxBroadcastAttempts:   5,
		CodeTTL:                5 * time.Minute,
		ReservationBuffer:      15 * time.Minute,
		SweepInterval:          30 * time.Second,
		RetentionWindow:        time.Hour,
		ArchiveInterval:        time.Minute,
		BaseFare:               300,
		PerKmFare:              25,
		LogLevel:               "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaEventTopic, "KAFKA_EVENT_TOPIC")
	setStringFromEnv(&cfg.KafkaNotifyTopic, "KAFKA_NOTIFY_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")
	setStringFromEnv(&cfg.StripePaymentMethod, "STRIPE_PAYMENT_METHOD")

	setStringFromEnv(&cfg.NotifyWebhookURL, "NOTIFY_WEBHOOK_URL")
	setFloatFromEnv(&cfg.NotifyRatePerSec, "NOTIFY_RATE_PER_SEC", &errs)
	setIntFromEnv(&cfg.NotifyBurst, "NOTIFY_BURST", &errs)

	setStringFromEnv(&cfg.PushGatewayURL, "PUSH_GATEWAY_URL")
	cfg.PushGatewayKey = os.Getenv("PUSH_GATEWAY_KEY")

	setStringFromEnv(&cfg.SeedFile, "SEED_FILE")

	setFloatFromEnv(&cfg.SpeedKmh, "DISPATCH_SPEED_KMH", &errs)
	setFloatFromEnv(&cfg.SearchRadiusKm, "DISPATCH_SEARCH_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.MaxOffers, "DISPATCH_MAX_OFFERS", &errs)
	setDurationFromEnv(&cfg.DiscoveryTimeout, "DISPATCH_DISCOVERY_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.OfferTimeout, "DISPATCH_OFFER_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.NotifyTimeout, "DISPATCH_NOTIFY_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SettlementTimeout, "DISPATCH_SETTLEMENT_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.BroadcastRetryInterval, "DISPATCH_BROADCAST_RETRY_INTERVAL", &errs)
	setIntFromEnv(&cfg.MaxBroadcastAttempts, "DISPATCH_MAX_BROADCAST_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.CodeTTL, "DISPATCH_CODE_TTL", &errs)
	setDurationFromEnv(&cfg.ReservationBuffer, "RESERVATION_HOLD_BUFFER", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "RESERVATION_SWEEP_INTERVAL", &errs)
	setDurationFromEnv(&cfg.RetentionWindow, "DISPATCH_RETENTION_WINDOW", &errs)
	setDurationFromEnv(&cfg.ArchiveInterval, "DISPATCH_ARCHIVE_INTERVAL", &errs)
	setInt64FromEnv(&cfg.BaseFare, "FARE_BASE", &errs)
	setInt64FromEnv(&cfg.PerKmFare, "FARE_PER_KM", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.MaxOffers <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_OFFERS must be > 0"))
	}
	if cfg.MaxBroadcastAttempts <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_BROADCAST_ATTEMPTS must be > 0"))
	}
	if cfg.SearchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_SEARCH_RADIUS_KM must be > 0"))
	}
	if cfg.SpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_SPEED_KMH must be > 0"))
	}
	if cfg.CodeTTL <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_CODE_TTL must be > 0"))
	}
	if cfg.ArchiveInterval <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_ARCHIVE_INTERVAL must be > 0"))
	}
	if cfg.BaseFare < 0 || cfg.PerKmFare < 0 {
		errs = append(errs, fmt.Errorf("fares must not be negative"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the location consumer process.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	SpeedKmh      float64
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "resource-locations",
		KafkaGroup:   "emergency-dispatch-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "resources_geo",
		SpeedKmh:     40,
		LogLevel:     "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setFloatFromEnv(&cfg.SpeedKmh, "DISPATCH_SPEED_KMH", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
