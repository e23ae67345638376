package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RelayConfig describes runtime options for the relay daemon.
type RelayConfig struct {
	Environment string
	HTTPAddress string

	// Upstream agent service
	UpstreamBaseURL     string
	UpstreamAPIKey      string
	UpstreamWorkspaceID string
	UpstreamAgentID     string
	UpstreamTimeout     time.Duration

	// Run polling policy
	PollInterval    time.Duration
	PollMaxAttempts int

	// Local endpoint guard
	AuthSecret   string
	AuthDisabled bool

	// Rate limiting for local clients (requests/second, 0 disables)
	RateLimitPerSecond float64
	RateLimitBurst     float64

	// Logging
	LogFile  string
	LogLevel string

	// Exchange journal; a postgres:// DSN selects the Postgres backend
	TranscriptPath string

	// Agent catalog served by the getModels RPC
	AgentCatalogFile string
}

// LoadRelayConfig reads the current environment and loads the appropriate
// relay config file, applying CONVERSO_* env overrides on top.
func LoadRelayConfig(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return RelayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := RelayConfig{
		Environment:         s.Environment,
		HTTPAddress:         firstNonEmpty(os.Getenv("CONVERSO_HTTP_ADDRESS"), merged["http_address"], "127.0.0.1:8088"),
		UpstreamBaseURL:     firstNonEmpty(os.Getenv("CONVERSO_UPSTREAM_BASE_URL"), merged["upstream_base_url"]),
		UpstreamAPIKey:      firstNonEmpty(os.Getenv("CONVERSO_UPSTREAM_API_KEY"), merged["upstream_api_key"]),
		UpstreamWorkspaceID: firstNonEmpty(os.Getenv("CONVERSO_UPSTREAM_WORKSPACE_ID"), merged["upstream_workspace_id"]),
		UpstreamAgentID:     firstNonEmpty(os.Getenv("CONVERSO_UPSTREAM_AGENT_ID"), merged["upstream_agent_id"]),
		AuthSecret:          firstNonEmpty(os.Getenv("CONVERSO_AUTH_SECRET"), merged["auth_secret"], "converso-dev-secret"),
		AuthDisabled:        parseOptionalBool(firstNonEmpty(os.Getenv("CONVERSO_AUTH_DISABLED"), merged["auth_disabled"]), true),
		LogFile:             firstNonEmpty(os.Getenv("CONVERSO_LOG_FILE"), merged["log_file"]),
		LogLevel:            firstNonEmpty(os.Getenv("CONVERSO_LOG_LEVEL"), merged["log_level"], "info"),
		TranscriptPath:      firstNonEmpty(os.Getenv("CONVERSO_TRANSCRIPT_PATH"), merged["transcript_path"], DefaultTranscriptPath()),
		AgentCatalogFile:    firstNonEmpty(os.Getenv("CONVERSO_AGENT_CATALOG"), merged["agent_catalog"]),
	}

	cfg.UpstreamTimeout, err = parseOptionalDuration(firstNonEmpty(os.Getenv("CONVERSO_UPSTREAM_TIMEOUT"), merged["upstream_timeout"]), 30*time.Second)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("invalid upstream_timeout: %w", err)
	}
	cfg.PollInterval, err = parseOptionalDuration(firstNonEmpty(os.Getenv("CONVERSO_POLL_INTERVAL"), merged["poll_interval"]), time.Second)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("invalid poll_interval: %w", err)
	}
	cfg.PollMaxAttempts = parseOptionalInt(firstNonEmpty(os.Getenv("CONVERSO_POLL_MAX_ATTEMPTS"), merged["poll_max_attempts"]), 60)
	if cfg.PollMaxAttempts <= 0 {
		return RelayConfig{}, fmt.Errorf("invalid poll_max_attempts %d: must be positive", cfg.PollMaxAttempts)
	}

	if v := firstNonEmpty(os.Getenv("CONVERSO_RATE_LIMIT_RPS"), merged["rate_limit_rps"]); strings.TrimSpace(v) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return RelayConfig{}, fmt.Errorf("invalid rate_limit_rps %q: %w", v, err)
		}
		cfg.RateLimitPerSecond = parsed
	}
	if v := firstNonEmpty(os.Getenv("CONVERSO_RATE_LIMIT_BURST"), merged["rate_limit_burst"]); strings.TrimSpace(v) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return RelayConfig{}, fmt.Errorf("invalid rate_limit_burst %q: %w", v, err)
		}
		cfg.RateLimitBurst = parsed
	}

	return cfg, nil
}

// UpstreamConfigured reports whether enough upstream settings are present to
// talk to the hosted service; otherwise the daemon falls back to loopback.
func (c RelayConfig) UpstreamConfigured() bool {
	return strings.TrimSpace(c.UpstreamAPIKey) != "" &&
		strings.TrimSpace(c.UpstreamWorkspaceID) != "" &&
		strings.TrimSpace(c.UpstreamAgentID) != ""
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

// parseOptionalDuration accepts Go duration strings ("750ms") and bare
// second counts ("5") for compatibility with hand-written ini files.
func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("%q: must be positive", v)
		}
		return time.Duration(secs) * time.Second, nil
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if dur <= 0 {
		return 0, fmt.Errorf("%q: must be positive", v)
	}
	return dur, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultTranscriptPath returns the fallback journal location under the
// user's home directory.
func DefaultTranscriptPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "transcript.db"
	}
	return filepath.Join(home, ".converso", "transcript.db")
}
