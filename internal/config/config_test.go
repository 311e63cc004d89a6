package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_Knowledge(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Knowledge.ChunkSize = 0 }},
		{"negative overlap", func(c *Config) { c.Knowledge.ChunkOverlap = -1 }},
		{"overlap equals size", func(c *Config) { c.Knowledge.ChunkOverlap = c.Knowledge.ChunkSize }},
		{"zero top k", func(c *Config) { c.Knowledge.SearchTopK = 0 }},
		{"min score above 1", func(c *Config) { c.Knowledge.MinScore = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidate_LogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		cfg := Defaults()
		cfg.General.LogLevel = lvl
		if err := Validate(cfg); err != nil {
			t.Fatalf("level %q should be valid: %v", lvl, err)
		}
	}
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_UnknownProviders(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.Provider = "missing"
	cfg.Generation.FailoverChain = []string{"ollama", "ghost"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown providers")
	}
	// All problems are reported together.
	for _, want := range []string{"embedding.provider", "ghost"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidate_ProviderRequiresAPIBase(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["openai"] = ProviderConfig{Enabled: true, APIKey: "sk-x"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for provider without apiBase")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			original := Defaults()
			original.Knowledge.ChunkSize = 800
			original.Embedding.Model = "all-minilm"

			if err := Save(path, original); err != nil {
				t.Fatalf("save: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.Knowledge.ChunkSize != 800 || loaded.Embedding.Model != "all-minilm" {
				t.Fatalf("round trip lost values: %+v", loaded)
			}
			if info, _ := os.Stat(path); info.Mode().Perm() != 0o600 {
				t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
			}
		})
	}
}

func TestLoad_YAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := "knowledge:\n  searchTopK: 7\nembedding:\n  model: mxbai-embed-large\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Knowledge.SearchTopK != 7 || cfg.Embedding.Model != "mxbai-embed-large" {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Knowledge.ChunkSize != 500 {
		t.Fatalf("expected default chunk size to survive, got %d", cfg.Knowledge.ChunkSize)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[knowledge]
searchTopK = 5
minScore = 0.25

[providers.openai]
enabled = true
apiBase = "https://api.openai.com/v1"
apiKey = "sk-test-123456789"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Knowledge.SearchTopK != 5 || cfg.Knowledge.MinScore != 0.25 {
		t.Fatalf("toml values not applied: %+v", cfg.Knowledge)
	}
	if cfg.Knowledge.ChunkOverlap != 50 {
		t.Fatalf("expected default overlap to survive, got %d", cfg.Knowledge.ChunkOverlap)
	}
	if p := cfg.Providers["openai"]; !p.Enabled || p.APIKey != "sk-test-123456789" {
		t.Fatalf("provider not decoded: %+v", p)
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]fileFormat{
		"config.json": formatJSON,
		"config.YAML": formatYAML,
		"c.yml":       formatYAML,
		"c.toml":      formatTOML,
		"config":      formatJSON,
	}
	for path, want := range tests {
		if got := formatOf(path); got != want {
			t.Errorf("formatOf(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"knowledge": {"chunkSize": 0}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for chunkSize=0")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_EGOCOACH_DB", "/tmp/test-kb.db")
	t.Setenv("TEST_EGOCOACH_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"storage": {"dbPath": "${TEST_EGOCOACH_DB}"},
		"providers": {
			"openai": {"enabled": true, "apiBase": "${OPENAI_BASE_UNSET:-https://api.openai.com/v1}", "apiKey": "${TEST_EGOCOACH_KEY}"}
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.DBPath != "/tmp/test-kb.db" {
		t.Fatalf("expected db path from env, got %q", cfg.Storage.DBPath)
	}
	oa := cfg.Providers["openai"]
	if oa.APIKey != "sk-from-env" || oa.APIBase != "https://api.openai.com/v1" {
		t.Fatalf("unexpected provider config %+v", oa)
	}
	if _, ok := cfg.Providers["ollama"]; !ok {
		t.Fatal("default ollama provider should be kept")
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"storage": {"dbPath": "~/kb.db"}}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DBPath != filepath.Join(home, "kb.db") {
		t.Fatalf("expected ~ expanded, got %q", cfg.Storage.DBPath)
	}
}

func TestUpdate_KeepsPlaceholders(t *testing.T) {
	t.Setenv("TEST_EGOCOACH_KEY", "sk-secret")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"storage": {"dbPath": "~/kb.db"},
		"providers": {
			"openai": {"enabled": true, "apiBase": "https://api.openai.com/v1", "apiKey": "${TEST_EGOCOACH_KEY}"}
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Update(path, "knowledge.chunkSize", "400"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	saved := string(data)
	if !strings.Contains(saved, "${TEST_EGOCOACH_KEY}") || strings.Contains(saved, "sk-secret") {
		t.Fatalf("api key placeholder not preserved:\n%s", saved)
	}
	if !strings.Contains(saved, "~/kb.db") {
		t.Fatalf("db path not preserved as written:\n%s", saved)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Knowledge.ChunkSize != 400 {
		t.Fatalf("expected chunk size 400, got %d", cfg.Knowledge.ChunkSize)
	}
	if cfg.Providers["openai"].APIKey != "sk-secret" {
		t.Fatalf("expected key to expand on load, got %q", cfg.Providers["openai"].APIKey)
	}
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, Defaults()); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	if err := Update(path, "knowledge.chunkOverlap", "600"); err == nil {
		t.Fatal("expected overlap >= chunkSize to be rejected")
	}
	if err := Update(path, "knowledge.chunkSize", "large"); err == nil {
		t.Fatal("expected a non-numeric chunk size to be rejected")
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatal("rejected update must leave the file untouched")
	}
}

// --- Accessor ---

func TestGetByPath(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "embedding.provider")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "ollama" {
		t.Fatalf("expected 'ollama', got %v", val)
	}

	val, err = GetByPath(cfg, "providers.ollama.apiBase")
	if err != nil || val != "http://localhost:11434" {
		t.Fatalf("unexpected nested value %v (%v)", val, err)
	}

	if _, err := GetByPath(cfg, "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_Conversions(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "knowledge.chunkSize", "750"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := SetByPath(cfg, "knowledge.minScore", "0.25"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if err := SetByPath(cfg, "providers.ollama.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := SetByPath(cfg, "embedding.model", "all-minilm"); err != nil {
		t.Fatalf("set string: %v", err)
	}

	if cfg.Knowledge.ChunkSize != 750 || cfg.Knowledge.MinScore != 0.25 {
		t.Fatalf("numbers not applied: %+v", cfg.Knowledge)
	}
	if cfg.Providers["ollama"].Enabled {
		t.Fatal("expected providers.ollama.enabled=false")
	}
	if cfg.Embedding.Model != "all-minilm" {
		t.Fatalf("expected model set, got %q", cfg.Embedding.Model)
	}
}

func TestSetByPath_Errors(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "", "x"); err == nil {
		t.Fatal("expected error for empty path")
	}
	if err := SetByPath(cfg, "knowledge.chunkSize", "lots"); err == nil {
		t.Fatal("expected type error for non-numeric chunk size")
	}
	if cfg.Knowledge.ChunkSize != 500 {
		t.Fatalf("failed set must not modify config, got %d", cfg.Knowledge.ChunkSize)
	}
}

// --- Sanitize ---

func TestSanitize_MasksAPIKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["openai"] = ProviderConfig{
		Enabled: true,
		APIBase: "https://api.openai.com/v1",
		APIKey:  "sk-1234567890abcdefghijklmnop",
	}
	cfg.Providers["local"] = ProviderConfig{APIKey: "short"}

	sanitized := Sanitize(cfg)

	if got := sanitized.Providers["openai"].APIKey; got != "sk-1****mnop" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := sanitized.Providers["local"].APIKey; got != "***" {
		t.Fatalf("short secret should be '***', got %q", got)
	}
	if cfg.Providers["openai"].APIKey != "sk-1234567890abcdefghijklmnop" {
		t.Fatal("original config should not be modified")
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	for _, expected := range []string{"general.logLevel", "storage.dbPath", "knowledge.chunkOverlap", "providers.ollama.defaultModel"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
	keys := SortedPaths(paths)
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("paths not sorted at %d", i)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	t.Setenv("MY_PORT", "9090")
	t.Setenv("EMPTY_VAR", "")
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")

	tests := []struct {
		in, want string
	}{
		{`{"apiKey": "${TEST_API_KEY}"}`, `{"apiKey": "sk-abc123"}`},
		{`"${TOTALLY_UNSET_VAR_XYZ:-8080}"`, `"8080"`},
		{`"${MY_PORT:-8080}"`, `"9090"`},
		{`"${EMPTY_VAR:-fallback}"`, `"fallback"`},
		{`"${TOTALLY_UNSET_VAR_XYZ}"`, `"${TOTALLY_UNSET_VAR_XYZ}"`},
		{`"$HOME is not substituted"`, `"$HOME is not substituted"`},
		{`{"key": "value", "number": 42}`, `{"key": "value", "number": 42}`},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
