// Package config loads the sentinel service configuration.
//
// Configuration comes from three layers, later layers winning:
//
//  1. Built-in defaults (Default)
//  2. A YAML file; ${VAR} references are expanded from the environment
//  3. Environment overrides (SENTINEL_* and OPENAI_API_KEY), optionally
//     seeded from a .env file
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/exploopio/sentinel/pkg/audit"
	"github.com/exploopio/sentinel/pkg/classifier"
	"github.com/exploopio/sentinel/pkg/delivery"
	"github.com/exploopio/sentinel/pkg/detectors"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/retry"
	"github.com/exploopio/sentinel/pkg/risk"
	"github.com/exploopio/sentinel/pkg/shared/severity"
	"github.com/exploopio/sentinel/pkg/store"
	grpctransport "github.com/exploopio/sentinel/pkg/transport/grpc"
)

// Classifier backends.
const (
	BackendNone   = "none"
	BackendOpenAI = "openai"
	BackendRemote = "remote"
)

// Config is the full service configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Classifier ClassifierConfig `yaml:"classifier"`
	Detectors  DetectorsConfig  `yaml:"detectors"`
	Risk       RiskConfig       `yaml:"risk"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Store      store.Config     `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
	Batch      BatchConfig      `yaml:"batch"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ClassifierConfig selects and configures the classification backend.
type ClassifierConfig struct {
	// Backend is "openai", "remote" or "none".
	Backend string `yaml:"backend"`

	OpenAI classifier.OpenAIConfig `yaml:"openai"`
	Remote grpctransport.Config    `yaml:"remote"`

	// RateLimit throttles calls to the backend. Zero RPS disables it.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DetectorsConfig configures the detector bank.
type DetectorsConfig struct {
	// Enabled lists detector IDs; empty enables all of them.
	Enabled []string `yaml:"enabled"`

	// MaxConcurrency bounds concurrent detector calls per pass.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// RiskConfig selects the aggregation policy.
type RiskConfig struct {
	// Policy is weighted_deduction, weighted_deduction_strict or
	// normalized_average.
	Policy string `yaml:"policy"`
}

// AlertingConfig holds recipients and their notification policies.
type AlertingConfig struct {
	Recipients []RecipientConfig `yaml:"recipients"`

	// NotifyRecommendations also sends RECOMMENDATION_AVAILABLE
	// notifications for every finding.
	NotifyRecommendations bool `yaml:"notify_recommendations"`
}

// RecipientConfig is one notification recipient.
type RecipientConfig struct {
	ID              string                   `yaml:"id"`
	MinimumSeverity severity.Level           `yaml:"minimum_severity"`
	Channels        []model.Channel          `yaml:"channels"`
	Addresses       map[model.Channel]string `yaml:"addresses"`
}

// DeliveryConfig configures channel senders and redelivery.
type DeliveryConfig struct {
	SMTP     *delivery.SMTPConfig     `yaml:"smtp"`
	Webhooks []delivery.WebhookConfig `yaml:"webhooks"`
	Discord  *delivery.DiscordConfig  `yaml:"discord"`

	// RateLimit throttles each sender independently. Zero RPS disables it.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// RetryDir holds failed deliveries for redelivery. Empty disables the
	// retry queue.
	RetryDir       string                  `yaml:"retry_dir"`
	RetryQueueSize int                     `yaml:"retry_queue_size"`
	RetryWorker    retry.RetryWorkerConfig `yaml:"retry_worker"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// BatchConfig configures batch mode.
type BatchConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	PassTimeout time.Duration `yaml:"pass_timeout"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	audit.LoggerConfig `yaml:",inline"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	grpcDefaults := grpctransport.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Classifier: ClassifierConfig{
			Backend: BackendNone,
			OpenAI: classifier.OpenAIConfig{
				Timeout: 30 * time.Second,
			},
			Remote: *grpcDefaults,
		},
		Detectors: DetectorsConfig{
			MaxConcurrency: 4,
		},
		Risk: RiskConfig{
			Policy: "weighted_deduction",
		},
		Delivery: DeliveryConfig{
			RetryQueueSize: 1000,
			RetryWorker:    *retry.DefaultRetryWorkerConfig(),
		},
		Store: store.Config{
			Path: "sentinel.db",
		},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Batch: BatchConfig{
			Workers:     3,
			QueueSize:   1000,
			PassTimeout: 2 * time.Minute,
		},
		Audit: AuditConfig{
			LoggerConfig: *audit.DefaultLoggerConfig(),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, serrors.E(serrors.KindInvalidInput, "config.Load", "read config file", err)
		}
		if err := Parse([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Fields absent from data keep their value.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return serrors.E(serrors.KindInvalidInput, "config.Parse", "decode yaml", err)
	}
	return nil
}

// ApplyEnv applies environment overrides using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("SENTINEL_LOG_LEVEL", &c.LogLevel)
	str("SENTINEL_CLASSIFIER_BACKEND", &c.Classifier.Backend)
	str("OPENAI_API_KEY", &c.Classifier.OpenAI.APIKey)
	str("SENTINEL_OPENAI_MODEL", &c.Classifier.OpenAI.Model)
	str("SENTINEL_OPENAI_BASE_URL", &c.Classifier.OpenAI.BaseURL)
	str("SENTINEL_CLASSIFIER_ADDRESS", &c.Classifier.Remote.Address)
	str("SENTINEL_CLASSIFIER_API_KEY", &c.Classifier.Remote.APIKey)
	str("SENTINEL_RISK_POLICY", &c.Risk.Policy)
	str("SENTINEL_STORE_PATH", &c.Store.Path)
	str("SENTINEL_SERVER_ADDRESS", &c.Server.Address)
	str("SENTINEL_RETRY_DIR", &c.Delivery.RetryDir)
	str("SENTINEL_AUDIT_LOG_FILE", &c.Audit.LogFile)
	str("SENTINEL_INSTANCE_ID", &c.Audit.InstanceID)

	if v, ok := lookup("SENTINEL_SMTP_PASSWORD"); ok && v != "" && c.Delivery.SMTP != nil {
		c.Delivery.SMTP.Password = v
	}
	if v, ok := lookup("SENTINEL_DISCORD_TOKEN"); ok && v != "" {
		if c.Delivery.Discord == nil {
			c.Delivery.Discord = &delivery.DiscordConfig{}
		}
		c.Delivery.Discord.BotToken = v
	}

	if v, ok := lookup("SENTINEL_DETECTORS"); ok && v != "" {
		c.Detectors.Enabled = splitList(v)
	}
	if v, ok := lookup("SENTINEL_DETECTOR_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return serrors.E(serrors.KindInvalidInput, "config.ApplyEnv", "SENTINEL_DETECTOR_CONCURRENCY", err)
		}
		c.Detectors.MaxConcurrency = n
	}
	if v, ok := lookup("SENTINEL_AUDIT_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return serrors.E(serrors.KindInvalidInput, "config.ApplyEnv", "SENTINEL_AUDIT_ENABLED", err)
		}
		c.Audit.Enabled = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// knownDetectors are the detector IDs accepted in Detectors.Enabled.
var knownDetectors = map[string]bool{
	detectors.IDFraud:              true,
	detectors.IDHarassment:         true,
	detectors.IDBurnout:            true,
	detectors.IDInformationLeakage: true,
	detectors.IDDissatisfaction:    true,
	detectors.IDAttendance:         true,
	detectors.IDLeave:              true,
	detectors.IDPerformance:        true,
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		add("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	switch strings.ToLower(c.Classifier.Backend) {
	case "", BackendNone:
	case BackendOpenAI:
		if strings.TrimSpace(c.Classifier.OpenAI.APIKey) == "" {
			add("classifier.openai.api_key is required (or set OPENAI_API_KEY)")
		}
	case BackendRemote:
		if c.Classifier.Remote.Address == "" {
			add("classifier.remote.address is required")
		}
	default:
		add("classifier.backend %q is not one of openai, remote, none", c.Classifier.Backend)
	}
	if c.Classifier.RateLimit.RPS < 0 || c.Classifier.RateLimit.Burst < 0 {
		add("classifier.rate_limit must not be negative")
	}

	for _, id := range c.Detectors.Enabled {
		if !knownDetectors[id] {
			add("detectors.enabled: unknown detector %q", id)
		}
	}
	if c.Detectors.MaxConcurrency < 0 {
		add("detectors.max_concurrency must not be negative")
	}

	if _, err := risk.ParsePolicy(c.Risk.Policy); err != nil {
		add("risk.policy: %v", err)
	}

	seen := make(map[string]bool)
	for i, r := range c.Alerting.Recipients {
		if r.ID == "" {
			add("alerting.recipients[%d].id is required", i)
			continue
		}
		if seen[r.ID] {
			add("alerting.recipients: duplicate id %q", r.ID)
		}
		seen[r.ID] = true
		for _, name := range r.Channels {
			if _, err := model.ParseChannel(string(name)); err != nil {
				add("alerting.recipients[%s]: %v", r.ID, err)
			}
		}
		if err := r.Policy().Validate(); err != nil {
			add("alerting.recipients[%s]: %v", r.ID, err)
		}
	}

	for i, w := range c.Delivery.Webhooks {
		if w.URL == "" {
			add("delivery.webhooks[%d].url is required", i)
		}
		if w.Channel != model.ChannelPush && w.Channel != model.ChannelSMS {
			add("delivery.webhooks[%d].channel must be PUSH or SMS", i)
		}
	}
	if s := c.Delivery.SMTP; s != nil && (s.Host == "" || s.From == "") {
		add("delivery.smtp needs host and from")
	}
	if d := c.Delivery.Discord; d != nil && d.BotToken == "" {
		add("delivery.discord.bot_token is required (or set SENTINEL_DISCORD_TOKEN)")
	}
	if c.Delivery.RateLimit.RPS < 0 || c.Delivery.RateLimit.Burst < 0 {
		add("delivery.rate_limit must not be negative")
	}

	if c.Store.Path == "" {
		add("store.path is required")
	}
	if c.Server.Address == "" {
		add("server.address is required")
	}
	if c.Batch.Workers < 0 || c.Batch.QueueSize < 0 {
		add("batch workers and queue_size must not be negative")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path must start with /")
	}

	if len(problems) > 0 {
		return serrors.E(serrors.KindInvalidInput, "config.Validate", strings.Join(problems, "; "))
	}
	return nil
}

// Policy converts the recipient entry to a notification policy. Severity
// and channel names are accepted in any letter case; unknown channels are
// dropped.
func (r RecipientConfig) Policy() model.NotificationPolicy {
	channels := make(map[model.Channel]bool, len(r.Channels))
	for _, name := range r.Channels {
		if ch, err := model.ParseChannel(string(name)); err == nil {
			channels[ch] = true
		}
	}
	return model.NotificationPolicy{
		RecipientID:     r.ID,
		Channels:        channels,
		MinimumSeverity: severity.FromString(string(r.MinimumSeverity)),
	}
}

// Policies returns the notification policy of every recipient.
func (a AlertingConfig) Policies() []model.NotificationPolicy {
	out := make([]model.NotificationPolicy, 0, len(a.Recipients))
	for _, r := range a.Recipients {
		out = append(out, r.Policy())
	}
	return out
}

// Directory returns the per-channel address book of all recipients.
func (a AlertingConfig) Directory() delivery.StaticDirectory {
	dir := make(delivery.StaticDirectory, len(a.Recipients))
	for _, r := range a.Recipients {
		if len(r.Addresses) == 0 {
			continue
		}
		addrs := make(map[model.Channel]string, len(r.Addresses))
		for name, addr := range r.Addresses {
			if ch, err := model.ParseChannel(string(name)); err == nil {
				addrs[ch] = addr
			}
		}
		dir[r.ID] = addrs
	}
	return dir
}
