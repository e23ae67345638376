package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONVERSO_HTTP_ADDRESS", "CONVERSO_UPSTREAM_BASE_URL", "CONVERSO_UPSTREAM_API_KEY",
		"CONVERSO_UPSTREAM_WORKSPACE_ID", "CONVERSO_UPSTREAM_AGENT_ID", "CONVERSO_UPSTREAM_TIMEOUT",
		"CONVERSO_POLL_INTERVAL", "CONVERSO_POLL_MAX_ATTEMPTS", "CONVERSO_AUTH_SECRET",
		"CONVERSO_AUTH_DISABLED", "CONVERSO_RATE_LIMIT_RPS", "CONVERSO_RATE_LIMIT_BURST",
		"CONVERSO_LOG_FILE", "CONVERSO_LOG_LEVEL", "CONVERSO_TRANSCRIPT_PATH", "CONVERSO_AGENT_CATALOG",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadRelayConfigDefaults(t *testing.T) {
	clearRelayEnv(t)
	root := t.TempDir()

	cfg, err := LoadRelayConfig(root)
	if err != nil {
		t.Fatalf("LoadRelayConfig: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("default environment %q", cfg.Environment)
	}
	if cfg.HTTPAddress != "127.0.0.1:8088" {
		t.Fatalf("default http address %q", cfg.HTTPAddress)
	}
	if cfg.PollInterval != time.Second || cfg.PollMaxAttempts != 60 {
		t.Fatalf("default poll policy %v/%d", cfg.PollInterval, cfg.PollMaxAttempts)
	}
	if !cfg.AuthDisabled {
		t.Fatalf("auth should default to disabled for local deployments")
	}
	if cfg.UpstreamConfigured() {
		t.Fatalf("upstream must not be configured by default")
	}
}

func TestLoadRelayConfigEnvironmentFiles(t *testing.T) {
	clearRelayEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "setting.ini"), "environment=prod\nlog_level=debug\n")
	writeFile(t, filepath.Join(root, "config", "prod", "relay.ini"), `
http_address=0.0.0.0:9000
upstream_api_key=sk-prod
upstream_workspace_id=ws-prod
upstream_agent_id=agent-prod
poll_interval=2
poll_max_attempts=30
auth_disabled=false
auth_secret=prod-secret
rate_limit_rps=5
rate_limit_burst=15
`)

	cfg, err := LoadRelayConfig(root)
	if err != nil {
		t.Fatalf("LoadRelayConfig: %v", err)
	}
	if cfg.Environment != "prod" {
		t.Fatalf("environment %q", cfg.Environment)
	}
	if cfg.HTTPAddress != "0.0.0.0:9000" {
		t.Fatalf("http address %q", cfg.HTTPAddress)
	}
	// setting.ini defaults survive under the env file
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level %q", cfg.LogLevel)
	}
	if cfg.PollInterval != 2*time.Second || cfg.PollMaxAttempts != 30 {
		t.Fatalf("poll policy %v/%d", cfg.PollInterval, cfg.PollMaxAttempts)
	}
	if cfg.AuthDisabled || cfg.AuthSecret != "prod-secret" {
		t.Fatalf("auth config %v/%q", cfg.AuthDisabled, cfg.AuthSecret)
	}
	if cfg.RateLimitPerSecond != 5 || cfg.RateLimitBurst != 15 {
		t.Fatalf("rate limit %v/%v", cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}
	if !cfg.UpstreamConfigured() {
		t.Fatalf("upstream should be configured")
	}
}

func TestLoadRelayConfigEnvOverrides(t *testing.T) {
	clearRelayEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "dev", "relay.ini"), "http_address=127.0.0.1:7000\npoll_interval=5\n")

	t.Setenv("CONVERSO_HTTP_ADDRESS", "127.0.0.1:7100")
	t.Setenv("CONVERSO_POLL_INTERVAL", "250ms")
	t.Setenv("CONVERSO_UPSTREAM_API_KEY", "sk-env")

	cfg, err := LoadRelayConfig(root)
	if err != nil {
		t.Fatalf("LoadRelayConfig: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:7100" {
		t.Fatalf("env override lost: %q", cfg.HTTPAddress)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("env duration override lost: %v", cfg.PollInterval)
	}
	if cfg.UpstreamAPIKey != "sk-env" {
		t.Fatalf("env api key lost: %q", cfg.UpstreamAPIKey)
	}
}

func TestLoadRelayConfigRejectsBadDurations(t *testing.T) {
	clearRelayEnv(t)
	root := t.TempDir()

	t.Setenv("CONVERSO_POLL_INTERVAL", "-3")
	if _, err := LoadRelayConfig(root); err == nil {
		t.Fatalf("negative interval must be rejected")
	}

	t.Setenv("CONVERSO_POLL_INTERVAL", "soon")
	if _, err := LoadRelayConfig(root); err == nil {
		t.Fatalf("unparseable interval must be rejected")
	}
}

func TestParseOptionalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 7 * time.Second, true},
		{"5", 5 * time.Second, true},
		{"750ms", 750 * time.Millisecond, true},
		{"2m", 2 * time.Minute, true},
		{"0", 0, false},
		{"-1s", 0, false},
		{"garbage", 0, false},
	}
	for _, tc := range cases {
		got, err := parseOptionalDuration(tc.in, 7*time.Second)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("parseOptionalDuration(%q)=%v,%v want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("parseOptionalDuration(%q) expected error", tc.in)
		}
	}
}

func TestParseINI(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "relay.ini")
	writeFile(t, path, `
# comment
; another comment
[section]
Key_One = value one
empty=
no_equals_line
`)

	values, err := parseINI(path)
	if err != nil {
		t.Fatalf("parseINI: %v", err)
	}
	if values["key_one"] != "value one" {
		t.Fatalf("keys must be lowercased and values trimmed: %v", values)
	}
	if _, ok := values["no_equals_line"]; ok {
		t.Fatalf("lines without = must be skipped")
	}
}
