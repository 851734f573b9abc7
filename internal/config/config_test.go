package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("FANOUT_LANES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FanoutLanes != 8 || cfg.FanoutQueue != 256 {
		t.Errorf("unexpected fan-out sizing: %d/%d", cfg.FanoutLanes, cfg.FanoutQueue)
	}
	if cfg.JWTSecret == "" {
		t.Error("development must fall back to a secret")
	}
}

func TestLoadProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err != ErrMissingSecret {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("FANOUT_QUEUE", "32")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FanoutQueue != 32 || cfg.IsDevelopment() {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
