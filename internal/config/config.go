package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for egocoach.
type Config struct {
	General    GeneralConfig             `json:"general" yaml:"general"`
	Storage    StorageConfig             `json:"storage" yaml:"storage"`
	Knowledge  KnowledgeConfig           `json:"knowledge" yaml:"knowledge"`
	Embedding  EmbeddingConfig           `json:"embedding" yaml:"embedding"`
	Generation GenerationConfig          `json:"generation" yaml:"generation"`
	Providers  map[string]ProviderConfig `json:"providers" yaml:"providers"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

type StorageConfig struct {
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

// KnowledgeConfig configures chunking and retrieval.
type KnowledgeConfig struct {
	ChunkSize    int     `json:"chunkSize" yaml:"chunkSize"`       // runes per chunk
	ChunkOverlap int     `json:"chunkOverlap" yaml:"chunkOverlap"` // overlapping runes
	SearchTopK   int     `json:"searchTopK" yaml:"searchTopK"`
	MinScore     float64 `json:"minScore" yaml:"minScore"` // results below are not used as context
	SystemPrompt string  `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
}

// EmbeddingConfig selects the provider that turns chunks into vectors.
type EmbeddingConfig struct {
	Provider           string  `json:"provider" yaml:"provider"`
	Model              string  `json:"model" yaml:"model"`
	RateLimitPerSecond float64 `json:"rateLimitPerSecond,omitempty" yaml:"rateLimitPerSecond,omitempty"` // 0 = unlimited
	Burst              int     `json:"burst,omitempty" yaml:"burst,omitempty"`
	TimeoutSeconds     int     `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// GenerationConfig selects the provider used by "ask".
type GenerationConfig struct {
	Provider       string   `json:"provider" yaml:"provider"`
	Model          string   `json:"model,omitempty" yaml:"model,omitempty"`
	FailoverChain  []string `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"` // provider failover order
	MaxTokens      int      `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Temperature    float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TimeoutSeconds int      `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.egocoach).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".egocoach"
	}
	return filepath.Join(home, ".egocoach")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
	formatTOML
)

// formatOf picks the config encoding from the file extension; anything
// unrecognised is JSON.
func formatOf(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	}
	return formatJSON
}

// decode overlays data onto cfg, so keys missing from the file keep their
// current values.
func decode(f fileFormat, data []byte, cfg *Config) error {
	switch f {
	case formatYAML:
		return yaml.Unmarshal(data, cfg)
	case formatTOML:
		// TOML goes through a generic map so the JSON field names apply.
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return err
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func encode(f fileFormat, cfg *Config) ([]byte, error) {
	switch f {
	case formatYAML:
		return yaml.Marshal(cfg)
	case formatTOML:
		m, err := toMap(cfg)
		if err != nil {
			return nil, err
		}
		return toml.Marshal(dropNulls(m))
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}

// dropNulls removes nil values, which TOML cannot represent.
func dropNulls(m map[string]any) map[string]any {
	for k, v := range m {
		switch sub := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			m[k] = dropNulls(sub)
		}
	}
	return m
}

// Load reads a JSON, YAML or TOML (by extension) config file on top of
// Defaults, expanding ${VAR} references and ~/ paths.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(formatOf(path), data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	expandPaths(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadRaw reads a config file on top of Defaults as written: ${VAR}
// references and ~/ paths are kept and nothing is validated.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg := Defaults()
	if err := decode(formatOf(path), data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Update sets one dot-path value in the config file at path and saves it.
// The edit is applied to the file as written, so placeholders such as
// ${OPENAI_API_KEY} survive; the expanded result must still validate.
func Update(path, key string, value any) error {
	path = ExpandPath(path)
	cfg, err := LoadRaw(path)
	if err != nil {
		return err
	}
	if err := SetByPath(cfg, key, value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	resolved := Defaults()
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(raw))), resolved); err != nil {
		return fmt.Errorf("cannot expand config: %w", err)
	}
	expandPaths(resolved)
	if err := Validate(resolved); err != nil {
		return err
	}

	return Save(path, cfg)
}

func expandPaths(cfg *Config) {
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match // keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as JSON, or as YAML (.yaml/.yml) or TOML (.toml) by extension.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := encode(formatOf(path), cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// 0600: the file may hold API keys.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.dbPath is required")
	}

	k := cfg.Knowledge
	if k.ChunkSize < 1 {
		errs = append(errs, "knowledge.chunkSize must be >= 1")
	}
	if k.ChunkOverlap < 0 || k.ChunkOverlap >= k.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be >= 0 and smaller than chunkSize")
	}
	if k.SearchTopK < 1 {
		errs = append(errs, "knowledge.searchTopK must be >= 1")
	}
	if k.MinScore < -1 || k.MinScore > 1 {
		errs = append(errs, "knowledge.minScore must be between -1 and 1")
	}

	if cfg.Embedding.RateLimitPerSecond < 0 {
		errs = append(errs, "embedding.rateLimitPerSecond must be >= 0")
	}
	if cfg.Embedding.TimeoutSeconds < 1 {
		errs = append(errs, "embedding.timeoutSeconds must be >= 1")
	}
	if _, ok := cfg.Providers[cfg.Embedding.Provider]; !ok {
		errs = append(errs, fmt.Sprintf("embedding.provider references unknown provider: %s", cfg.Embedding.Provider))
	}

	if cfg.Generation.Provider != "" {
		if _, ok := cfg.Providers[cfg.Generation.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("generation.provider references unknown provider: %s", cfg.Generation.Provider))
		}
	}
	for _, name := range cfg.Generation.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("generation.failoverChain references unknown provider: %s", name))
		}
	}
	if cfg.Generation.TimeoutSeconds < 1 {
		errs = append(errs, "generation.timeoutSeconds must be >= 1")
	}

	for name, pc := range cfg.Providers {
		// ollama has a built-in default base
		if pc.Enabled && pc.APIBase == "" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
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
