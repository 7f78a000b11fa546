package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the shellkeeper agent.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	TabURLFilter string
	EvalTimeout  time.Duration

	// Control API
	BindAddr         string
	BindCandidates   []string
	BindAutoFallback bool

	// Storage settings
	StorePath string

	// Logging
	LogLevel string
	LogFile  string

	// Host shell detection
	InShell      bool
	ShellUAToken string

	// Operator notifications (disabled when empty)
	NotifyEndpoint string

	// Lifecycle and recovery policy
	TeardownGrace       time.Duration
	CrashWindowSpan     time.Duration
	CrashThreshold      int
	ShellCrashThreshold int
	CrashStampCap       int
	FocusGainDebounce   time.Duration
	FocusLossDebounce   time.Duration
	SettleDelay         time.Duration
	RestoreGrace        time.Duration
	TraceCapacity       int
	ReportCapacity      int
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:   getEnvOrDefault("SHELLKEEPER_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:      getEnvIntOrDefault("SHELLKEEPER_CDP_PORT", 9222),
		TabURLFilter: getEnvOrDefault("SHELLKEEPER_TAB_URL_FILTER", "godlykids"),
		EvalTimeout:  getEnvMillisOrDefault("SHELLKEEPER_EVAL_TIMEOUT_MS", 10000),

		BindAddr: getEnvOrDefault("SHELLKEEPER_BIND_ADDR", "127.0.0.1:8787"),
		BindCandidates: getEnvListOrDefault("SHELLKEEPER_BIND_CANDIDATES",
			[]string{"127.0.0.1:8787", "127.0.0.1:8788", "127.0.0.1:8789"}),
		BindAutoFallback: getEnvBoolOrDefault("SHELLKEEPER_BIND_AUTO_FALLBACK", true),

		StorePath: getEnvOrDefault("SHELLKEEPER_STORE_PATH", "./shellkeeper.db"),

		LogLevel: getEnvOrDefault("SHELLKEEPER_LOG_LEVEL", "info"),
		LogFile:  getEnvOrDefault("SHELLKEEPER_LOG_FILE", ""),

		InShell:      getEnvBoolOrDefault("SHELLKEEPER_IN_SHELL", false),
		ShellUAToken: getEnvOrDefault("SHELLKEEPER_SHELL_UA_TOKEN", "GodlyKidsShell"),

		NotifyEndpoint: getEnvOrDefault("SHELLKEEPER_NOTIFY_ENDPOINT", ""),

		TeardownGrace:       getEnvMillisOrDefault("SHELLKEEPER_TEARDOWN_GRACE_MS", 5000),
		CrashWindowSpan:     getEnvMillisOrDefault("SHELLKEEPER_CRASH_WINDOW_MS", 30000),
		CrashThreshold:      getEnvIntOrDefault("SHELLKEEPER_CRASH_THRESHOLD", 3),
		ShellCrashThreshold: getEnvIntOrDefault("SHELLKEEPER_SHELL_CRASH_THRESHOLD", 5),
		CrashStampCap:       getEnvIntOrDefault("SHELLKEEPER_CRASH_STAMP_CAP", 10),
		FocusGainDebounce:   getEnvMillisOrDefault("SHELLKEEPER_FOCUS_GAIN_DEBOUNCE_MS", 200),
		FocusLossDebounce:   getEnvMillisOrDefault("SHELLKEEPER_FOCUS_LOSS_DEBOUNCE_MS", 600),
		SettleDelay:         getEnvMillisOrDefault("SHELLKEEPER_SETTLE_DELAY_MS", 400),
		RestoreGrace:        getEnvMillisOrDefault("SHELLKEEPER_RESTORE_GRACE_MS", 10000),
		TraceCapacity:       getEnvIntOrDefault("SHELLKEEPER_TRACE_CAPACITY", 60),
		ReportCapacity:      getEnvIntOrDefault("SHELLKEEPER_REPORT_CAPACITY", 5),
	}

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by the remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// DetectShell reports whether the agent runs against the embedded host
// shell, from the config override or a user-agent token match.
func (c *Config) DetectShell(userAgent string) bool {
	if c.InShell {
		return true
	}
	return c.ShellUAToken != "" && strings.Contains(userAgent, c.ShellUAToken)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvMillisOrDefault(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvIntOrDefault(key, defaultMillis)) * time.Millisecond
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
