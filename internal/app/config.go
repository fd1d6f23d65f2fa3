package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/dunning"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreWebhook  = "webhook"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	SeedDemo    bool   `envconfig:"SEED_DEMO" default:"false"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"10"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	WebhookBaseURL string `envconfig:"WEBHOOK_BASE_URL"`
	WebhookToken   string `envconfig:"WEBHOOK_TOKEN"`

	DefaultTenant string   `envconfig:"DEFAULT_TENANT" default:"default"`
	Tenants       []string `envconfig:"TENANTS"`

	DunningCron       string        `envconfig:"DUNNING_CRON" default:"0 6 * * *"`
	DunningLockTTL    time.Duration `envconfig:"DUNNING_LOCK_TTL" default:"10m"`
	DashboardCacheTTL time.Duration `envconfig:"DASHBOARD_CACHE_TTL" default:"5m"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr string        `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	RateLimitPerMinute  int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	EventLimitPerMinute int `envconfig:"EVENT_RATE_LIMIT_PER_MINUTE" default:"30"`

	CollectionPartnerURL   string `envconfig:"COLLECTION_PARTNER_URL"`
	CollectionPartnerToken string `envconfig:"COLLECTION_PARTNER_TOKEN"`

	DunningPolicyFile      string `envconfig:"DUNNING_POLICY_FILE"`
	DunningFeeLevel1       string `envconfig:"DUNNING_FEE_LEVEL1"`
	DunningFeeLevel2       string `envconfig:"DUNNING_FEE_LEVEL2"`
	DunningFeeLevel3       string `envconfig:"DUNNING_FEE_LEVEL3"`
	DunningGraceLevel1     int    `envconfig:"DUNNING_GRACE_LEVEL1" default:"-1"`
	DunningGraceLevel2     int    `envconfig:"DUNNING_GRACE_LEVEL2" default:"-1"`
	DunningGraceLevel3     int    `envconfig:"DUNNING_GRACE_LEVEL3" default:"-1"`
	DunningCollectionGrace int    `envconfig:"DUNNING_COLLECTION_GRACE" default:"-1"`
	DunningPaymentWindow   int    `envconfig:"DUNNING_PAYMENT_WINDOW" default:"0"`

	policy dunning.Policy
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.buildPolicy()
	if err != nil {
		return nil, err
	}
	cfg.policy = policy
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.PGDSN == "" {
			return errors.New("PG_DSN must be provided for the postgres store")
		}
	case StoreWebhook:
		if c.WebhookBaseURL == "" {
			return errors.New("WEBHOOK_BASE_URL must be provided for the webhook store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if strings.TrimSpace(c.DefaultTenant) == "" {
		return errors.New("DEFAULT_TENANT must not be empty")
	}
	if c.RateLimitPerMinute <= 0 || c.EventLimitPerMinute <= 0 {
		return errors.New("rate limits must be positive")
	}
	return nil
}

// buildPolicy starts from the default schedule, overlays the policy file and
// then the individual environment overrides.
func (c *Config) buildPolicy() (dunning.Policy, error) {
	policy := dunning.DefaultPolicy()
	if c.DunningPolicyFile != "" {
		loaded, err := dunning.LoadPolicyFile(c.DunningPolicyFile, policy)
		if err != nil {
			return dunning.Policy{}, err
		}
		policy = loaded
	}
	for i, raw := range []string{c.DunningFeeLevel1, c.DunningFeeLevel2, c.DunningFeeLevel3} {
		if raw == "" {
			continue
		}
		fee, err := decimal.NewFromString(raw)
		if err != nil {
			return dunning.Policy{}, fmt.Errorf("DUNNING_FEE_LEVEL%d %q: %w", i+1, raw, err)
		}
		policy.Fees[i] = fee
	}
	for i, days := range []int{c.DunningGraceLevel1, c.DunningGraceLevel2, c.DunningGraceLevel3} {
		if days >= 0 {
			policy.GraceDays[i] = days
		}
	}
	if c.DunningCollectionGrace >= 0 {
		policy.CollectionGraceDays = c.DunningCollectionGrace
	}
	if c.DunningPaymentWindow > 0 {
		policy.PaymentWindowDays = c.DunningPaymentWindow
	}
	if err := policy.Validate(); err != nil {
		return dunning.Policy{}, err
	}
	return policy, nil
}

// Policy returns the dunning schedule resolved by LoadConfig.
func (c *Config) Policy() dunning.Policy {
	if c == nil || c.policy.PaymentWindowDays == 0 {
		return dunning.DefaultPolicy()
	}
	return c.policy
}

// TenantList returns the tenants served by scheduled jobs. The default tenant
// is used when TENANTS is empty.
func (c *Config) TenantList() []string {
	seen := make(map[string]bool, len(c.Tenants))
	out := make([]string, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		out = append(out, c.DefaultTenant)
	}
	return out
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
