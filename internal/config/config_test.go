package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.PlanHorizonDays != 7 || cfg.CompactPlanHorizonDays != 4 {
		t.Fatalf("unexpected plan horizons: %d/%d", cfg.PlanHorizonDays, cfg.CompactPlanHorizonDays)
	}
	if cfg.DedupeStartTolerance != 5*time.Minute {
		t.Fatalf("unexpected dedupe start tolerance: %v", cfg.DedupeStartTolerance)
	}
	if cfg.WeekStart != "iso" {
		t.Fatalf("unexpected week start: %s", cfg.WeekStart)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STRAVA_CLIENT_ID", "1234")
	t.Setenv("DEDUPE_START_TOLERANCE", "90s")
	t.Setenv("DEDUPE_DISTANCE_RATIO", "0.2")
	t.Setenv("COMPACT_PLAN_HORIZON_DAYS", "3")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.StravaClientID != "1234" {
		t.Fatalf("expected override strava client id")
	}
	if cfg.DedupeStartTolerance != 90*time.Second {
		t.Fatalf("expected override tolerance, got %v", cfg.DedupeStartTolerance)
	}
	if cfg.DedupeDistanceRatio != 0.2 {
		t.Fatalf("expected override distance ratio, got %v", cfg.DedupeDistanceRatio)
	}
	if cfg.CompactPlanHorizonDays != 3 {
		t.Fatalf("expected override compact horizon")
	}
}
