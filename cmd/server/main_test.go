package main

import (
	"testing"
	"time"

	"predmaint-service/internal/alerts"
	"predmaint-service/internal/session"
	"predmaint-service/internal/telemetry"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"SERVER_ADDR", "MODEL_PATH", "REDIS_ADDR", "SERIES_CAPACITY", "LIVE_TICKS", "LIVE_INTERVAL", "MQTT_TOPIC", "DEBUG"} {
		t.Setenv(key, "")
	}

	cfg := loadConfig()

	if cfg.ServerAddr != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.ServerAddr)
	}
	if cfg.SeriesCapacity != telemetry.DefaultCapacity {
		t.Errorf("Expected capacity %d, got %d", telemetry.DefaultCapacity, cfg.SeriesCapacity)
	}
	if cfg.LiveTicks != session.DefaultLiveTicks || cfg.LiveInterval != session.DefaultLiveInterval {
		t.Errorf("Unexpected live defaults %d / %s", cfg.LiveTicks, cfg.LiveInterval)
	}
	if cfg.RedisAddr != "" || cfg.MQTTTopic != alerts.DefaultTopic || cfg.Debug {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SERIES_CAPACITY", "64")
	t.Setenv("LIVE_TICKS", "120")
	t.Setenv("LIVE_INTERVAL", "150ms")
	t.Setenv("SESSION_IDLE_TIMEOUT", "5m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("DEBUG", "true")

	cfg := loadConfig()

	if cfg.SeriesCapacity != 64 || cfg.LiveTicks != 120 || cfg.RedisDB != 3 {
		t.Errorf("Integer overrides not applied: %+v", cfg)
	}
	if cfg.LiveInterval != 150*time.Millisecond || cfg.SessionIdleTimeout != 5*time.Minute {
		t.Errorf("Duration overrides not applied: %s / %s", cfg.LiveInterval, cfg.SessionIdleTimeout)
	}
	if !cfg.Debug {
		t.Error("Expected debug enabled")
	}
}

func TestGetEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("LIVE_TICKS", "many")
	t.Setenv("LIVE_INTERVAL", "soon")
	t.Setenv("DEBUG", "maybe")

	if got := getEnvInt("LIVE_TICKS", 7); got != 7 {
		t.Errorf("Expected fallback 7, got %d", got)
	}
	if got := getEnvDuration("LIVE_INTERVAL", time.Second); got != time.Second {
		t.Errorf("Expected fallback 1s, got %s", got)
	}
	if getEnvBool("DEBUG", false) {
		t.Error("Expected fallback false")
	}
}
