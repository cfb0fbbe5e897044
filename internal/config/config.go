// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kaito-project/headlamp-kaito/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete kaito-chat configuration.
type Config struct {
	Cluster   ClusterConfig   `toml:"cluster" json:"cluster"`
	Tunnel    TunnelConfig    `toml:"tunnel" json:"tunnel"`
	Discovery DiscoveryConfig `toml:"discovery" json:"discovery"`
	Chat      ChatConfig      `toml:"chat" json:"chat"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	UI        UIConfig        `toml:"ui" json:"ui"`
	Log       LogConfig       `toml:"log" json:"log"`
}

// ClusterConfig selects the Kubernetes cluster to talk to.
type ClusterConfig struct {
	// Kubeconfig is the kubeconfig path (empty = KUBECONFIG / ~/.kube/config)
	Kubeconfig string `toml:"kubeconfig" json:"kubeconfig"`
	// Context is the kubeconfig context (empty = current context)
	Context string `toml:"context" json:"context"`
	// Namespace is used when a workspace is named without one
	Namespace string `toml:"namespace" json:"namespace"`
}

// TunnelConfig controls local port selection for port-forwards.
type TunnelConfig struct {
	// PortMin and PortMax bound the randomly chosen local port (inclusive)
	PortMin int `toml:"port_min" json:"port_min"`
	PortMax int `toml:"port_max" json:"port_max"`
	// Address is the local bind address
	Address string `toml:"address" json:"address"`
	// OpenTimeoutSecs bounds how long to wait for a tunnel to report ready
	OpenTimeoutSecs int `toml:"open_timeout_secs" json:"open_timeout_secs"`
}

// DiscoveryConfig controls model discovery retries.
type DiscoveryConfig struct {
	MaxAttempts  int `toml:"max_attempts" json:"max_attempts"`
	RetryDelayMs int `toml:"retry_delay_ms" json:"retry_delay_ms"`
}

// ChatConfig holds completion parameters.
type ChatConfig struct {
	Temperature       float64 `toml:"temperature" json:"temperature"`
	MaxTokens         int     `toml:"max_tokens" json:"max_tokens"`
	SystemPrompt      string  `toml:"system_prompt" json:"system_prompt"`
	StreamTimeoutSecs int     `toml:"stream_timeout_secs" json:"stream_timeout_secs"`
	// Model preselects a model by id when the tunnel serves it
	Model string `toml:"model" json:"model"`
}

// StorageConfig controls transcript persistence.
type StorageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// UIConfig controls the chat surface.
type UIConfig struct {
	Markdown     bool   `toml:"markdown" json:"markdown"`
	GlamourStyle string `toml:"glamour_style" json:"glamour_style"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level" json:"level"`
	// File receives logs from the interactive surface (empty = ~/.kaito-chat/kaito-chat.log)
	File string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultPortMin      = 10000
	DefaultPortMax      = 19999
	DefaultMaxAttempts  = 3
	DefaultRetryDelayMs = 800
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1000
)

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Namespace: "default",
		},
		Tunnel: TunnelConfig{
			PortMin:         DefaultPortMin,
			PortMax:         DefaultPortMax,
			Address:         "localhost",
			OpenTimeoutSecs: 30,
		},
		Discovery: DiscoveryConfig{
			MaxAttempts:  DefaultMaxAttempts,
			RetryDelayMs: DefaultRetryDelayMs,
		},
		Chat: ChatConfig{
			Temperature:       DefaultTemperature,
			MaxTokens:         DefaultMaxTokens,
			StreamTimeoutSecs: 300,
		},
		Storage: StorageConfig{
			Enabled: true,
		},
		UI: UIConfig{
			Markdown:     true,
			GlamourStyle: "auto",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// RetryDelay returns the discovery retry delay as a duration.
func (d DiscoveryConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMs) * time.Millisecond
}

// OpenTimeout returns the tunnel open timeout as a duration.
func (t TunnelConfig) OpenTimeout() time.Duration {
	return time.Duration(t.OpenTimeoutSecs) * time.Second
}

// StreamTimeout returns the per-reply streaming timeout (0 = none).
func (c ChatConfig) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the kaito-chat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".kaito-chat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads the default config file if it exists, otherwise the defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from path. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", statErr)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values.
func LoadTOML(cfg *Config, path string) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// SaveTOML writes the configuration to path with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# kaito-chat configuration file\n")
	buf.WriteString("# Environment variables KAITO_CHAT_* override these values.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Tunnel.PortMin < 1024 || c.Tunnel.PortMin > 65535 {
		errs = append(errs, ValidationError{"tunnel.port_min", fmt.Sprintf("port %d outside 1024-65535", c.Tunnel.PortMin)})
	}
	if c.Tunnel.PortMax < 1024 || c.Tunnel.PortMax > 65535 {
		errs = append(errs, ValidationError{"tunnel.port_max", fmt.Sprintf("port %d outside 1024-65535", c.Tunnel.PortMax)})
	}
	if c.Tunnel.PortMin > c.Tunnel.PortMax {
		errs = append(errs, ValidationError{"tunnel.port_min", "must not exceed tunnel.port_max"})
	}
	if c.Tunnel.OpenTimeoutSecs < 0 {
		errs = append(errs, ValidationError{"tunnel.open_timeout_secs", "must not be negative"})
	}
	if c.Discovery.MaxAttempts < 1 {
		errs = append(errs, ValidationError{"discovery.max_attempts", "must be at least 1"})
	}
	if c.Discovery.RetryDelayMs < 0 {
		errs = append(errs, ValidationError{"discovery.retry_delay_ms", "must not be negative"})
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{"chat.temperature", fmt.Sprintf("%.2f outside 0-2", c.Chat.Temperature)})
	}
	if c.Chat.MaxTokens <= 0 {
		errs = append(errs, ValidationError{"chat.max_tokens", "must be positive"})
	}
	if c.Chat.StreamTimeoutSecs < 0 {
		errs = append(errs, ValidationError{"chat.stream_timeout_secs", "must not be negative"})
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills empty string fields that have a meaningful default.
func (c *Config) SetDefaults() {
	if c.Cluster.Namespace == "" {
		c.Cluster.Namespace = "default"
	}
	if c.Tunnel.Address == "" {
		c.Tunnel.Address = "localhost"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.UI.GlamourStyle == "" {
		c.UI.GlamourStyle = "auto"
	}
	if c.Storage.Path == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.Path = filepath.Join(dir, "transcripts.db")
		}
	}
	if c.Log.File == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Log.File = filepath.Join(dir, "kaito-chat.log")
		}
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies KAITO_CHAT_* environment variables.
// Malformed numeric values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("KAITO_CHAT_KUBECONFIG"); v != "" {
		c.Cluster.Kubeconfig = v
	}
	if v := os.Getenv("KAITO_CHAT_CONTEXT"); v != "" {
		c.Cluster.Context = v
	}
	if v := os.Getenv("KAITO_CHAT_NAMESPACE"); v != "" {
		c.Cluster.Namespace = v
	}
	if v := os.Getenv("KAITO_CHAT_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("KAITO_CHAT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Chat.Temperature = f
		}
	}
	if v := os.Getenv("KAITO_CHAT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chat.MaxTokens = n
		}
	}
	if v := os.Getenv("KAITO_CHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("KAITO_CHAT_NO_STORAGE"); v == "1" || strings.EqualFold(v, "true") {
		c.Storage.Enabled = false
	}
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return "error: " + err.Error()
	}
	return buf.String()
}
