package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("got err %v, want ErrMissingSecret", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef-test")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AccessTTL != time.Hour {
		t.Fatalf("got access ttl %s, want 1h", cfg.AccessTTL)
	}
	if cfg.BcryptCost != 10 {
		t.Fatalf("got bcrypt cost %d, want 10", cfg.BcryptCost)
	}
	if cfg.GridSize() != 210 {
		t.Fatalf("got grid size %d, want 210", cfg.GridSize())
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef-test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PORT", "eighty")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed PORT")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef-test")
	t.Setenv("STORE_DRIVER", "mongo")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestLoadRejectsUnusableLimits(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "grid_larger_than_progress_limit", env: map[string]string{"GRID_ROWS": "200", "GRID_COLS": "100"}},
		{name: "zero_auth_rate_limit", env: map[string]string{"AUTH_RATE_LIMIT": "0"}},
		{name: "negative_auth_rate_limit", env: map[string]string{"AUTH_RATE_LIMIT": "-5"}},
		{name: "zero_auth_rate_window", env: map[string]string{"AUTH_RATE_WINDOW": "0s"}},
		{name: "zero_max_body", env: map[string]string{"MAX_BODY_BYTES": "0"}},
		{name: "negative_max_body", env: map[string]string{"MAX_BODY_BYTES": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "0123456789abcdef-test")
			t.Setenv("STORE_DRIVER", "memory")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %v", tt.env)
			}
		})
	}
}

func TestLoadAcceptsGridAtProgressLimit(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef-test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("GRID_ROWS", "100")
	t.Setenv("GRID_COLS", "100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GridSize() != 10000 {
		t.Fatalf("got grid size %d, want 10000", cfg.GridSize())
	}
}
