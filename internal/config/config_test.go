package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.CodeTTL)
	assert.Equal(t, 15*time.Minute, cfg.ReservationBuffer)
	assert.Equal(t, 40.0, cfg.SpeedKmh)
	assert.Equal(t, 2*time.Second, cfg.DiscoveryTimeout)
	assert.Equal(t, time.Minute, cfg.ArchiveInterval)
	assert.Empty(t, cfg.RedisAddr, "redis is off unless configured")
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("DISPATCH_CODE_TTL", "90s")
	t.Setenv("DISPATCH_MAX_OFFERS", "3")
	t.Setenv("DISPATCH_DISCOVERY_TIMEOUT", "750ms")
	t.Setenv("DISPATCH_ARCHIVE_INTERVAL", "5m")
	t.Setenv("FARE_PER_KM", "40")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 90*time.Second, cfg.CodeTTL)
	assert.Equal(t, 3, cfg.MaxOffers)
	assert.Equal(t, 750*time.Millisecond, cfg.DiscoveryTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ArchiveInterval)
	assert.Equal(t, int64(40), cfg.PerKmFare)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigJoinsErrors(t *testing.T) {
	t.Setenv("DISPATCH_OFFER_TIMEOUT", "soon")
	t.Setenv("DISPATCH_MAX_OFFERS", "0")
	t.Setenv("FARE_BASE", "-1")
	t.Setenv("DISPATCH_ARCHIVE_INTERVAL", "0s")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid DISPATCH_OFFER_TIMEOUT")
	assert.Contains(t, err.Error(), "DISPATCH_MAX_OFFERS must be > 0")
	assert.Contains(t, err.Error(), "fares must not be negative")
	assert.Contains(t, err.Error(), "DISPATCH_ARCHIVE_INTERVAL must be > 0")
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_LOCATION_TOPIC", "fleet-pings")
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, "fleet-pings", cfg.KafkaTopic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)

	t.Setenv("KAFKA_BROKERS", " , ")
	_, err = LoadConsumerConfig()
	assert.Error(t, err)
}
