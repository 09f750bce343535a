package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for mcpreview.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Model        ModelConfig        `json:"model"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Tools        ToolsConfig        `json:"tools"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"`
	LogLevel  string `json:"logLevel"`
	LogFile   string `json:"logFile,omitempty"` // optional, tee'd with stderr
}

// ModelConfig points at the external model endpoint.
type ModelConfig struct {
	Endpoint                string   `json:"endpoint"`
	APIKey                  string   `json:"apiKey,omitempty"`
	ChatPath                string   `json:"chatPath"`
	ReviewPath              string   `json:"reviewPath"`
	TimeoutMs               int      `json:"timeoutMs"`
	ComprehensiveMultiplier float64  `json:"comprehensiveMultiplier"`
	MaxRetries              int      `json:"maxRetries"`
	FallbackEndpoints       []string `json:"fallbackEndpoints,omitempty"`
	RateLimitPerMinute      int      `json:"rateLimitPerMinute,omitempty"` // 0 = unlimited
	RateBurst               int      `json:"rateBurst,omitempty"`
}

func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

type OrchestratorConfig struct {
	MaxParallelTools    int      `json:"maxParallelTools"`
	ToolTimeoutSeconds  int      `json:"toolTimeoutSeconds"`
	MaxFollowUpCalls    int      `json:"maxFollowUpCalls"`
	StageDelayMs        int      `json:"stageDelayMs"`
	DeniedTools         []string `json:"deniedTools,omitempty"`
	GrantedCapabilities []string `json:"grantedCapabilities,omitempty"` // empty = all
	NotifyChannel       string   `json:"notifyChannel"`
	PipelinesDir        string   `json:"pipelinesDir,omitempty"`
}

func (o OrchestratorConfig) ToolTimeout() time.Duration {
	return time.Duration(o.ToolTimeoutSeconds) * time.Second
}

func (o OrchestratorConfig) StageDelay() time.Duration {
	return time.Duration(o.StageDelayMs) * time.Millisecond
}

type ToolsConfig struct {
	Git          GitToolConfig          `json:"git"`
	Filesystem   FilesystemToolConfig   `json:"filesystem"`
	Database     DatabaseToolConfig     `json:"database"`
	Notification NotificationToolConfig `json:"notification"`
}

type GitToolConfig struct {
	Enabled bool `json:"enabled"`
}

type FilesystemToolConfig struct {
	Enabled           bool     `json:"enabled"`
	Root              string   `json:"root,omitempty"` // empty = unrestricted
	AllowedExtensions []string `json:"allowedExtensions,omitempty"`
	MaxFileBytes      int64    `json:"maxFileBytes"`
}

type DatabaseToolConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type NotificationToolConfig struct {
	Enabled         bool       `json:"enabled"`
	SlackWebhookURL string     `json:"slackWebhookURL,omitempty"`
	TeamsWebhookURL string     `json:"teamsWebhookURL,omitempty"`
	SMTP            SMTPConfig `json:"smtp"`
}

type SMTPConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	From     string `json:"from,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint served by `serve`.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Path    string `json:"path"`
}

// DefaultConfigDir returns the default config directory (~/.mcpreview).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcpreview"
	}
	return filepath.Join(home, ".mcpreview")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a JSON or YAML (by extension) config file over the defaults,
// expanding ${VAR} and ${VAR:-default} first, and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Tools.Database.DBPath = ExpandPath(cfg.Tools.Database.DBPath)
	cfg.Tools.Filesystem.Root = ExpandPath(cfg.Tools.Filesystem.Root)
	cfg.Orchestrator.PipelinesDir = ExpandPath(cfg.Orchestrator.PipelinesDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so one set of struct tags
// serves both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

var notifyChannels = []string{"slack", "teams", "email", "webhook", "console"}

// Validate checks every section and reports all problems at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Model.Endpoint != "" {
		if err := checkURL(cfg.Model.Endpoint); err != nil {
			errs = append(errs, "model.endpoint: "+err.Error())
		}
	}
	for i, fb := range cfg.Model.FallbackEndpoints {
		if err := checkURL(fb); err != nil {
			errs = append(errs, fmt.Sprintf("model.fallbackEndpoints[%d]: %v", i, err))
		}
	}
	if len(cfg.Model.FallbackEndpoints) > 0 && cfg.Model.Endpoint == "" {
		errs = append(errs, "model.fallbackEndpoints requires model.endpoint")
	}
	if cfg.Model.TimeoutMs < 100 {
		errs = append(errs, "model.timeoutMs must be >= 100")
	}
	if cfg.Model.ComprehensiveMultiplier < 1 {
		errs = append(errs, "model.comprehensiveMultiplier must be >= 1")
	}
	if cfg.Model.MaxRetries < 0 || cfg.Model.MaxRetries > 10 {
		errs = append(errs, "model.maxRetries must be between 0 and 10")
	}
	if cfg.Model.RateLimitPerMinute < 0 || cfg.Model.RateBurst < 0 {
		errs = append(errs, "model.rateLimitPerMinute and model.rateBurst must be >= 0")
	}

	o := cfg.Orchestrator
	if o.MaxParallelTools < 1 || o.MaxParallelTools > 100 {
		errs = append(errs, "orchestrator.maxParallelTools must be between 1 and 100")
	}
	if o.ToolTimeoutSeconds < 1 {
		errs = append(errs, "orchestrator.toolTimeoutSeconds must be >= 1")
	}
	if o.MaxFollowUpCalls < 1 || o.MaxFollowUpCalls > 100 {
		errs = append(errs, "orchestrator.maxFollowUpCalls must be between 1 and 100")
	}
	if o.StageDelayMs < 0 || o.StageDelayMs > 10000 {
		errs = append(errs, "orchestrator.stageDelayMs must be between 0 and 10000")
	}
	if !contains(notifyChannels, o.NotifyChannel) {
		errs = append(errs, "orchestrator.notifyChannel must be one of: "+strings.Join(notifyChannels, ", "))
	}

	if cfg.Tools.Filesystem.MaxFileBytes < 1 {
		errs = append(errs, "tools.filesystem.maxFileBytes must be >= 1")
	}
	for _, ext := range cfg.Tools.Filesystem.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Sprintf("tools.filesystem.allowedExtensions: %q must start with a dot", ext))
		}
	}
	if cfg.Tools.Database.Enabled && cfg.Tools.Database.DBPath == "" {
		errs = append(errs, "tools.database.dbPath is required when the database tool is enabled")
	}
	if p := cfg.Tools.Notification.SMTP.Port; p < 0 || p > 65535 {
		errs = append(errs, "tools.notification.smtp.port must be between 0 and 65535")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
