package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr          = ":8080"
	defaultPublicBaseURL     = "http://localhost:8080"
	defaultOAuthStateTTL     = 10 * time.Minute
	defaultKafkaEventsTopic  = "integration-events"
	defaultVaultTransitMount = "transit"

	defaultWebhookWorkers   = 4
	defaultWebhookQueueSize = 256

	defaultRefreshInterval = 5 * time.Minute
	defaultRefreshWindow   = 10 * time.Minute
	defaultRefreshWorkers  = 4
)

type Config struct {
	DatabaseURL   string
	HTTPAddr      string
	MetricsAddr   string
	PublicBaseURL string

	OAuthStateTTL        time.Duration
	OAuthSuccessRedirect string

	RedisURL           string
	KafkaBrokers       []string
	KafkaEventsTopic   string
	KafkaWebhooksTopic string

	SecretsKey        string
	VaultAddr         string
	VaultToken        string
	VaultTransitKey   string
	VaultTransitMount string

	WebhookWorkers   int
	WebhookQueueSize int
	// WebhookRateLimit is deliveries per second per webhook; zero disables it.
	WebhookRateLimit float64

	RefreshInterval time.Duration
	RefreshWindow   time.Duration
	RefreshWorkers  int

	HubSpotClientID     string
	HubSpotClientSecret string
	GA4ClientID         string
	GA4ClientSecret     string
}

// RedirectURI is the provider callback for integrationType.
func (c Config) RedirectURI(integrationType string) string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/integrations/callback/" + integrationType
}

// VaultEnabled reports whether token sealing should go through Vault transit.
func (c Config) VaultEnabled() bool {
	return c.VaultAddr != "" && c.VaultTransitKey != ""
}

type LoadOptions struct {
	RequireDatabaseURL bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadOptionalDB() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		HTTPAddr:             getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr:          strings.TrimSpace(os.Getenv("METRICS_ADDR")),
		PublicBaseURL:        strings.TrimRight(getenvDefault("PUBLIC_BASE_URL", defaultPublicBaseURL), "/"),
		OAuthStateTTL:        getenvDurationDefault("OAUTH_STATE_TTL", defaultOAuthStateTTL),
		OAuthSuccessRedirect: strings.TrimSpace(os.Getenv("OAUTH_SUCCESS_REDIRECT")),
		RedisURL:             strings.TrimSpace(os.Getenv("REDIS_URL")),
		KafkaBrokers:         getenvList("KAFKA_BROKERS"),
		KafkaEventsTopic:     getenvDefault("KAFKA_EVENTS_TOPIC", defaultKafkaEventsTopic),
		KafkaWebhooksTopic:   strings.TrimSpace(os.Getenv("KAFKA_WEBHOOKS_TOPIC")),
		SecretsKey:           strings.TrimSpace(os.Getenv("SECRETS_KEY")),
		VaultAddr:            strings.TrimSpace(os.Getenv("VAULT_ADDR")),
		VaultToken:           strings.TrimSpace(os.Getenv("VAULT_TOKEN")),
		VaultTransitKey:      strings.TrimSpace(os.Getenv("VAULT_TRANSIT_KEY")),
		VaultTransitMount:    getenvDefault("VAULT_TRANSIT_MOUNT", defaultVaultTransitMount),
		WebhookWorkers:       getenvIntDefault("WEBHOOK_WORKERS", defaultWebhookWorkers),
		WebhookQueueSize:     getenvIntDefault("WEBHOOK_QUEUE_SIZE", defaultWebhookQueueSize),
		WebhookRateLimit:     getenvFloatDefault("WEBHOOK_RATE_LIMIT", 0),
		RefreshInterval:      defaultRefreshInterval,
		RefreshWindow:        getenvDurationDefault("REFRESH_WINDOW", defaultRefreshWindow),
		RefreshWorkers:       getenvIntDefault("REFRESH_WORKERS", defaultRefreshWorkers),
		HubSpotClientID:      strings.TrimSpace(os.Getenv("HUBSPOT_CLIENT_ID")),
		HubSpotClientSecret:  strings.TrimSpace(os.Getenv("HUBSPOT_CLIENT_SECRET")),
		GA4ClientID:          strings.TrimSpace(os.Getenv("GA4_CLIENT_ID")),
		GA4ClientSecret:      strings.TrimSpace(os.Getenv("GA4_CLIENT_SECRET")),
	}

	// REFRESH_INTERVAL=0 disables the background sweep.
	if v := strings.TrimSpace(os.Getenv("REFRESH_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.RefreshInterval = d
		}
	}

	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func getenvFloatDefault(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func getenvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
