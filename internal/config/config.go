package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Outreach   OutreachConfig   `yaml:"outreach" mapstructure:"outreach"`
	Inbound    InboundConfig    `yaml:"inbound" mapstructure:"inbound"`
	Booking    BookingConfig    `yaml:"booking" mapstructure:"booking"`
	Outbox     OutboxConfig     `yaml:"outbox" mapstructure:"outbox"`
	Channels   ChannelsConfig   `yaml:"channels" mapstructure:"channels"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key                string `yaml:"key" mapstructure:"key"`
	Model              string `yaml:"model" mapstructure:"model"`
	RerankEnabled      bool   `yaml:"rerank_enabled" mapstructure:"rerank_enabled"`
	ComposeEnabled     bool   `yaml:"compose_enabled" mapstructure:"compose_enabled"`
	ClassifyTimeoutSec int    `yaml:"classify_timeout_secs" mapstructure:"classify_timeout_secs"`
}

// DiscoveryConfig configures source connectors and the dedup pipeline.
type DiscoveryConfig struct {
	GoogleKey         string   `yaml:"google_key" mapstructure:"google_key"`
	GoogleBaseURL     string   `yaml:"google_base_url" mapstructure:"google_base_url"`
	JinaKey           string   `yaml:"jina_key" mapstructure:"jina_key"`
	JinaSearchBaseURL string   `yaml:"jina_search_base_url" mapstructure:"jina_search_base_url"`
	FirecrawlKey      string   `yaml:"firecrawl_key" mapstructure:"firecrawl_key"`
	FirecrawlBaseURL  string   `yaml:"firecrawl_base_url" mapstructure:"firecrawl_base_url"`
	PerplexityKey     string   `yaml:"perplexity_key" mapstructure:"perplexity_key"`
	PerplexityModel   string   `yaml:"perplexity_model" mapstructure:"perplexity_model"`
	PerplexityBaseURL string   `yaml:"perplexity_base_url" mapstructure:"perplexity_base_url"`
	SocialHosts       []string `yaml:"social_hosts" mapstructure:"social_hosts"`
	ImportPaths       []string `yaml:"import_paths" mapstructure:"import_paths"`
	RatePerSec        float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxLimit          int      `yaml:"max_limit" mapstructure:"max_limit"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OutreachConfig configures the daily outreach run.
type OutreachConfig struct {
	Caps          map[string]int    `yaml:"caps" mapstructure:"caps"`
	DefaultCap    int               `yaml:"default_cap" mapstructure:"default_cap"`
	LeaseTTLSecs  int               `yaml:"lease_ttl_secs" mapstructure:"lease_ttl_secs"`
	Concurrency   int               `yaml:"concurrency" mapstructure:"concurrency"`
	FooterTTLSecs int               `yaml:"footer_ttl_secs" mapstructure:"footer_ttl_secs"`
	TenantID      string            `yaml:"tenant_id" mapstructure:"tenant_id"`
	Footers       map[string]string `yaml:"footers" mapstructure:"footers"`
	SenderName    string            `yaml:"sender_name" mapstructure:"sender_name"`
	Product       string            `yaml:"product" mapstructure:"product"`
}

// CapFor returns the daily cap for a channel, falling back to DefaultCap.
func (o OutreachConfig) CapFor(channel string) int {
	if c, ok := o.Caps[channel]; ok {
		return c
	}
	return o.DefaultCap
}

// InboundConfig configures webhook ingestion.
type InboundConfig struct {
	RetryDelaySecs int               `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	AccountIDs     map[string]string `yaml:"account_ids" mapstructure:"account_ids"`
	AutoReply      string            `yaml:"auto_reply" mapstructure:"auto_reply"`
}

// BookingConfig configures slot proposals.
type BookingConfig struct {
	SlotHours   []int  `yaml:"slot_hours" mapstructure:"slot_hours"`
	SlotMinutes int    `yaml:"slot_minutes" mapstructure:"slot_minutes"`
	Timezone    string `yaml:"timezone" mapstructure:"timezone"`
	DaysAhead   int    `yaml:"days_ahead" mapstructure:"days_ahead"`
}

// OutboxConfig configures the notification dispatcher.
type OutboxConfig struct {
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ChannelsConfig configures the per-channel senders.
type ChannelsConfig struct {
	SMTP     SMTPConfig    `yaml:"smtp" mapstructure:"smtp"`
	WhatsApp GatewayConfig `yaml:"whatsapp" mapstructure:"whatsapp"`
	SMS      GatewayConfig `yaml:"sms" mapstructure:"sms"`
	Social   GatewayConfig `yaml:"social" mapstructure:"social"`
	AMQP     AMQPConfig    `yaml:"amqp" mapstructure:"amqp"`
}

// SMTPConfig configures the email sender.
type SMTPConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Host       string  `yaml:"host" mapstructure:"host"`
	Port       int     `yaml:"port" mapstructure:"port"`
	Username   string  `yaml:"username" mapstructure:"username"`
	Password   string  `yaml:"password" mapstructure:"password"`
	From       string  `yaml:"from" mapstructure:"from"`
	Subject    string  `yaml:"subject" mapstructure:"subject"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// GatewayConfig configures an HTTP messaging gateway.
type GatewayConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Token      string  `yaml:"token" mapstructure:"token"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AMQPConfig configures the internal alert publisher.
type AMQPConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	URL        string `yaml:"url" mapstructure:"url"`
	Exchange   string `yaml:"exchange" mapstructure:"exchange"`
	RoutingKey string `yaml:"routing_key" mapstructure:"routing_key"`
}

// CRMConfig selects and configures the CRM mirror.
type CRMConfig struct {
	Provider   string           `yaml:"provider" mapstructure:"provider"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// NotionConfig holds Notion API credentials and the leads database ID.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// RetryConfig configures retry behavior for external calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs  int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	AlertRecipient     string  `yaml:"alert_recipient" mapstructure:"alert_recipient"`
	OutboxBacklogMax   int     `yaml:"outbox_backlog_max" mapstructure:"outbox_backlog_max"`
	OutboxMaxAgeSecs   int     `yaml:"outbox_max_age_secs" mapstructure:"outbox_max_age_secs"`
	AlertCooldownSecs  int     `yaml:"alert_cooldown_secs" mapstructure:"alert_cooldown_secs"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.rerank_enabled", true)
	v.SetDefault("anthropic.compose_enabled", true)
	v.SetDefault("anthropic.classify_timeout_secs", 8)
	v.SetDefault("discovery.google_base_url", "https://places.googleapis.com/v1")
	v.SetDefault("discovery.jina_search_base_url", "https://s.jina.ai")
	v.SetDefault("discovery.firecrawl_base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("discovery.perplexity_model", "sonar")
	v.SetDefault("discovery.perplexity_base_url", "https://api.perplexity.ai")
	v.SetDefault("discovery.social_hosts", []string{"linkedin.com/in", "instagram.com"})
	v.SetDefault("discovery.rate_per_sec", 5.0)
	v.SetDefault("discovery.max_limit", 100)
	v.SetDefault("discovery.timeout_secs", 20)
	v.SetDefault("outreach.default_cap", 20)
	v.SetDefault("outreach.lease_ttl_secs", 900)
	v.SetDefault("outreach.concurrency", 5)
	v.SetDefault("outreach.footer_ttl_secs", 600)
	v.SetDefault("outreach.tenant_id", "default")
	v.SetDefault("outreach.sender_name", "The team")
	v.SetDefault("inbound.retry_delay_secs", 300)
	v.SetDefault("inbound.auto_reply", "Thanks for reaching out! We'll get back to you shortly.")
	v.SetDefault("booking.slot_hours", []int{10, 15})
	v.SetDefault("booking.slot_minutes", 30)
	v.SetDefault("booking.timezone", "UTC")
	v.SetDefault("booking.days_ahead", 2)
	v.SetDefault("outbox.batch_size", 25)
	v.SetDefault("outbox.poll_interval_secs", 15)
	v.SetDefault("outbox.max_attempts", 3)
	v.SetDefault("channels.smtp.port", 587)
	v.SetDefault("channels.smtp.subject", "Quick introduction")
	v.SetDefault("channels.smtp.rate_per_sec", 2.0)
	v.SetDefault("channels.whatsapp.rate_per_sec", 1.0)
	v.SetDefault("channels.sms.rate_per_sec", 1.0)
	v.SetDefault("channels.social.rate_per_sec", 0.5)
	v.SetDefault("channels.amqp.exchange", "prospect.alerts")
	v.SetDefault("channels.amqp.routing_key", "lead")
	v.SetDefault("crm.provider", "none")
	v.SetDefault("crm.salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.error_rate_threshold", 0.25)
	v.SetDefault("monitoring.alert_recipient", "ops")
	v.SetDefault("monitoring.outbox_backlog_max", 200)
	v.SetDefault("monitoring.outbox_max_age_secs", 1800)
	v.SetDefault("monitoring.alert_cooldown_secs", 3600)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
