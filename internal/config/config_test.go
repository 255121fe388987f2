package config

import (
	"slices"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "HTTP_ADDR", "PUBLIC_BASE_URL", "OAUTH_STATE_TTL",
		"KAFKA_BROKERS", "KAFKA_EVENTS_TOPIC", "VAULT_ADDR", "VAULT_TRANSIT_KEY", "VAULT_TRANSIT_MOUNT",
		"WEBHOOK_WORKERS", "WEBHOOK_QUEUE_SIZE", "WEBHOOK_RATE_LIMIT",
		"REFRESH_INTERVAL", "REFRESH_WINDOW", "REFRESH_WORKERS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadWithOptions_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
	if err != nil {
		t.Fatalf("LoadWithOptions() error = %v", err)
	}
	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, defaultHTTPAddr)
	}
	if cfg.OAuthStateTTL != defaultOAuthStateTTL {
		t.Fatalf("OAuthStateTTL = %s, want %s", cfg.OAuthStateTTL, defaultOAuthStateTTL)
	}
	if cfg.RefreshInterval != defaultRefreshInterval || cfg.RefreshWindow != defaultRefreshWindow {
		t.Fatalf("refresh = (%s, %s), want defaults", cfg.RefreshInterval, cfg.RefreshWindow)
	}
	if cfg.WebhookWorkers != defaultWebhookWorkers || cfg.WebhookRateLimit != 0 {
		t.Fatalf("webhook = (%d, %v), want defaults", cfg.WebhookWorkers, cfg.WebhookRateLimit)
	}
	if cfg.KafkaBrokers != nil {
		t.Fatalf("KafkaBrokers = %v, want nil", cfg.KafkaBrokers)
	}
	if cfg.VaultTransitMount != "transit" || cfg.VaultEnabled() {
		t.Fatalf("vault = (%q, %v), want transit disabled", cfg.VaultTransitMount, cfg.VaultEnabled())
	}
}

func TestLoadWithOptions_ParsesValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUBLIC_BASE_URL", "https://hub.example.com/")
	t.Setenv("OAUTH_STATE_TTL", "3m")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("WEBHOOK_RATE_LIMIT", "2.5")
	t.Setenv("REFRESH_INTERVAL", "0")
	t.Setenv("REFRESH_WORKERS", "9")

	cfg, err := LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
	if err != nil {
		t.Fatalf("LoadWithOptions() error = %v", err)
	}
	if cfg.OAuthStateTTL != 3*time.Minute {
		t.Fatalf("OAuthStateTTL = %s, want 3m", cfg.OAuthStateTTL)
	}
	if want := []string{"kafka-1:9092", "kafka-2:9092"}; !slices.Equal(cfg.KafkaBrokers, want) {
		t.Fatalf("KafkaBrokers = %v, want %v", cfg.KafkaBrokers, want)
	}
	if cfg.WebhookRateLimit != 2.5 {
		t.Fatalf("WebhookRateLimit = %v, want 2.5", cfg.WebhookRateLimit)
	}
	if cfg.RefreshInterval != 0 {
		t.Fatalf("RefreshInterval = %s, want disabled", cfg.RefreshInterval)
	}
	if cfg.RefreshWorkers != 9 {
		t.Fatalf("RefreshWorkers = %d, want 9", cfg.RefreshWorkers)
	}
	if got := cfg.RedirectURI("hubspot"); got != "https://hub.example.com/integrations/callback/hubspot" {
		t.Fatalf("RedirectURI() = %q", got)
	}
}

func TestLoadWithOptions_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("OAUTH_STATE_TTL", "soon")
	t.Setenv("WEBHOOK_WORKERS", "0")
	t.Setenv("WEBHOOK_RATE_LIMIT", "-1")
	t.Setenv("REFRESH_INTERVAL", "-5m")

	cfg, err := LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
	if err != nil {
		t.Fatalf("LoadWithOptions() error = %v", err)
	}
	if cfg.OAuthStateTTL != defaultOAuthStateTTL {
		t.Fatalf("OAuthStateTTL = %s, want default", cfg.OAuthStateTTL)
	}
	if cfg.WebhookWorkers != defaultWebhookWorkers {
		t.Fatalf("WebhookWorkers = %d, want default", cfg.WebhookWorkers)
	}
	if cfg.WebhookRateLimit != 0 {
		t.Fatalf("WebhookRateLimit = %v, want 0", cfg.WebhookRateLimit)
	}
	if cfg.RefreshInterval != defaultRefreshInterval {
		t.Fatalf("RefreshInterval = %s, want default", cfg.RefreshInterval)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want DATABASE_URL error")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/hub")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/hub" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}
