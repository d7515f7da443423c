package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/exploopio/sentinel/pkg/delivery"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

const sampleYAML = `
log_level: debug
classifier:
  backend: openai
  openai:
    api_key: ${TEST_SENTINEL_OPENAI_KEY}
    model: gpt-4o
    temperature: 0
    timeout: 10s
  rate_limit:
    rps: 2.5
    burst: 5
detectors:
  enabled: [fraud, attendance]
  max_concurrency: 2
risk:
  policy: normalized_average
alerting:
  notify_recommendations: true
  recipients:
    - id: alice
      minimum_severity: medium
      channels: [email, IN_APP]
      addresses:
        EMAIL: alice@example.com
    - id: bob
      minimum_severity: CRITICAL
      channels: [PUSH]
delivery:
  webhooks:
    - channel: PUSH
      url: https://push.example.com/v1/send
      compression: zstd
  retry_dir: /var/lib/sentinel/retry
  retry_worker:
    interval: 1m
    max_attempts: 3
store:
  path: /var/lib/sentinel/sentinel.db
  compress_threshold: 4096
server:
  address: 127.0.0.1:9000
audit:
  enabled: true
  log_file: /var/log/sentinel/audit.log
  flush_interval: 2s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Classifier.Backend != BackendNone {
		t.Errorf("Backend = %q, want none", cfg.Classifier.Backend)
	}
	if cfg.Delivery.RetryWorker.MaxAttempts == 0 || cfg.Delivery.RetryWorker.Backoff == nil {
		t.Errorf("retry worker defaults missing: %+v", cfg.Delivery.RetryWorker)
	}
	if cfg.Audit.BufferSize != 100 {
		t.Errorf("Audit.BufferSize = %d, want 100", cfg.Audit.BufferSize)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv("TEST_SENTINEL_OPENAI_KEY", "sk-test")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SENTINEL_STORE_PATH", "")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Classifier.OpenAI.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.Classifier.OpenAI.APIKey)
	}
	if temp := cfg.Classifier.OpenAI.Temperature; temp == nil || *temp != 0 {
		t.Errorf("OpenAI.Temperature = %v, want explicit 0", temp)
	}
	if cfg.Classifier.OpenAI.Timeout != 10*time.Second {
		t.Errorf("OpenAI.Timeout = %v", cfg.Classifier.OpenAI.Timeout)
	}
	if cfg.Classifier.RateLimit.RPS != 2.5 || cfg.Classifier.RateLimit.Burst != 5 {
		t.Errorf("RateLimit = %+v", cfg.Classifier.RateLimit)
	}
	if got := strings.Join(cfg.Detectors.Enabled, ","); got != "fraud,attendance" {
		t.Errorf("Detectors.Enabled = %q", got)
	}
	if cfg.Risk.Policy != "normalized_average" {
		t.Errorf("Risk.Policy = %q", cfg.Risk.Policy)
	}
	if !cfg.Alerting.NotifyRecommendations || len(cfg.Alerting.Recipients) != 2 {
		t.Errorf("Alerting = %+v", cfg.Alerting)
	}
	if len(cfg.Delivery.Webhooks) != 1 || cfg.Delivery.Webhooks[0].Channel != model.ChannelPush {
		t.Errorf("Webhooks = %+v", cfg.Delivery.Webhooks)
	}
	if cfg.Delivery.RetryWorker.Interval != time.Minute || cfg.Delivery.RetryWorker.MaxAttempts != 3 {
		t.Errorf("RetryWorker = %+v", cfg.Delivery.RetryWorker)
	}
	if cfg.Delivery.RetryWorker.BatchSize == 0 {
		t.Error("RetryWorker.BatchSize default should survive a partial section")
	}
	if cfg.Store.Path != "/var/lib/sentinel/sentinel.db" || cfg.Store.CompressThreshold != 4096 {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Server.Address != "127.0.0.1:9000" {
		t.Errorf("Server.Address = %q", cfg.Server.Address)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Server.ReadTimeout default lost: %v", cfg.Server.ReadTimeout)
	}
	if !cfg.Audit.Enabled || cfg.Audit.LogFile != "/var/log/sentinel/audit.log" || cfg.Audit.FlushInterval != 2*time.Second {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		if serrors.GetKind(err) != serrors.KindInvalidInput {
			t.Errorf("error = %v, want invalid input", err)
		}
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [unclosed"))
		if serrors.GetKind(err) != serrors.KindInvalidInput {
			t.Errorf("error = %v, want invalid input", err)
		}
	})

	t.Run("openai without key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := Load(writeConfig(t, "classifier:\n  backend: openai\n"))
		if err == nil || !strings.Contains(err.Error(), "api_key") {
			t.Errorf("error = %v, want api_key problem", err)
		}
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SENTINEL_LOG_LEVEL":            "warn",
		"SENTINEL_CLASSIFIER_BACKEND":   "remote",
		"SENTINEL_CLASSIFIER_ADDRESS":   "classifier:9191",
		"OPENAI_API_KEY":                "sk-env",
		"SENTINEL_RISK_POLICY":          "weighted_deduction_strict",
		"SENTINEL_STORE_PATH":           "/tmp/s.db",
		"SENTINEL_SERVER_ADDRESS":       ":9999",
		"SENTINEL_DETECTORS":            "fraud, burnout ,",
		"SENTINEL_DETECTOR_CONCURRENCY": "8",
		"SENTINEL_DISCORD_TOKEN":        "bot-token",
		"SENTINEL_AUDIT_ENABLED":        "true",
		"SENTINEL_INSTANCE_ID":          "node-1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.LogLevel != "warn" || cfg.Classifier.Backend != "remote" || cfg.Classifier.Remote.Address != "classifier:9191" {
		t.Errorf("classifier overrides not applied: %+v", cfg.Classifier)
	}
	if cfg.Classifier.OpenAI.APIKey != "sk-env" {
		t.Errorf("OpenAI.APIKey = %q", cfg.Classifier.OpenAI.APIKey)
	}
	if cfg.Risk.Policy != "weighted_deduction_strict" || cfg.Store.Path != "/tmp/s.db" || cfg.Server.Address != ":9999" {
		t.Errorf("overrides not applied: risk=%q store=%q server=%q", cfg.Risk.Policy, cfg.Store.Path, cfg.Server.Address)
	}
	if got := strings.Join(cfg.Detectors.Enabled, ","); got != "fraud,burnout" {
		t.Errorf("Detectors.Enabled = %q", got)
	}
	if cfg.Detectors.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d", cfg.Detectors.MaxConcurrency)
	}
	if cfg.Delivery.Discord == nil || cfg.Delivery.Discord.BotToken != "bot-token" {
		t.Errorf("Discord = %+v", cfg.Delivery.Discord)
	}
	if !cfg.Audit.Enabled || cfg.Audit.InstanceID != "node-1" {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after env = %v", err)
	}

	bad := Default()
	err := bad.ApplyEnv(func(k string) (string, bool) {
		if k == "SENTINEL_DETECTOR_CONCURRENCY" {
			return "many", true
		}
		return "", false
	})
	if serrors.GetKind(err) != serrors.KindInvalidInput {
		t.Errorf("bad integer error = %v, want invalid input", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"unknown backend", func(c *Config) { c.Classifier.Backend = "magic" }, "classifier.backend"},
		{"remote without address", func(c *Config) {
			c.Classifier.Backend = BackendRemote
			c.Classifier.Remote.Address = ""
		}, "classifier.remote.address"},
		{"unknown detector", func(c *Config) { c.Detectors.Enabled = []string{"telepathy"} }, "telepathy"},
		{"unknown policy", func(c *Config) { c.Risk.Policy = "vibes" }, "risk.policy"},
		{"recipient without id", func(c *Config) {
			c.Alerting.Recipients = []RecipientConfig{{MinimumSeverity: severity.Low, Channels: []model.Channel{model.ChannelEmail}}}
		}, "recipients[0].id"},
		{"duplicate recipient", func(c *Config) {
			r := RecipientConfig{ID: "alice", MinimumSeverity: severity.Low, Channels: []model.Channel{model.ChannelEmail}}
			c.Alerting.Recipients = []RecipientConfig{r, r}
		}, "duplicate"},
		{"recipient without channel", func(c *Config) {
			c.Alerting.Recipients = []RecipientConfig{{ID: "alice", MinimumSeverity: severity.Low}}
		}, "no channel enabled"},
		{"recipient bad channel", func(c *Config) {
			c.Alerting.Recipients = []RecipientConfig{{ID: "alice", MinimumSeverity: severity.Low, Channels: []model.Channel{"PIGEON"}}}
		}, "PIGEON"},
		{"webhook for email", func(c *Config) {
			c.Delivery.Webhooks = []delivery.WebhookConfig{{Channel: model.ChannelEmail, URL: "https://x"}}
		}, "PUSH or SMS"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if serrors.GetKind(err) != serrors.KindInvalidInput {
				t.Errorf("kind = %v, want invalid input", serrors.GetKind(err))
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = ""
	cfg.Server.Address = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "store.path") || !strings.Contains(err.Error(), "server.address") {
		t.Errorf("Validate() = %v, want both problems", err)
	}
}

func TestAlerting_PoliciesAndDirectory(t *testing.T) {
	a := AlertingConfig{Recipients: []RecipientConfig{
		{
			ID:              "alice",
			MinimumSeverity: "medium",
			Channels:        []model.Channel{"email", "IN_APP"},
			Addresses:       map[model.Channel]string{"email": "alice@example.com"},
		},
		{ID: "bob", MinimumSeverity: "CRITICAL", Channels: []model.Channel{model.ChannelPush}},
	}}

	policies := a.Policies()
	if len(policies) != 2 {
		t.Fatalf("len(policies) = %d", len(policies))
	}
	alice := policies[0]
	if alice.MinimumSeverity != severity.Medium {
		t.Errorf("alice severity = %q", alice.MinimumSeverity)
	}
	if got := alice.EnabledChannels(); len(got) != 2 || got[0] != model.ChannelEmail || got[1] != model.ChannelInApp {
		t.Errorf("alice channels = %v", got)
	}
	if err := alice.Validate(); err != nil {
		t.Errorf("alice policy invalid: %v", err)
	}

	dir := a.Directory()
	if addr, ok := dir.Address("alice", model.ChannelEmail); !ok || addr != "alice@example.com" {
		t.Errorf("alice email = %q, %v", addr, ok)
	}
	if _, ok := dir.Address("bob", model.ChannelPush); ok {
		t.Error("bob has no address entries")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TEST_SENTINEL_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_SENTINEL_DOTENV", "")
	os.Unsetenv("TEST_SENTINEL_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("TEST_SENTINEL_DOTENV"); got != "from-file" {
		t.Errorf("TEST_SENTINEL_DOTENV = %q", got)
	}
}
