package provider

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"egocoach/internal/config"
	"egocoach/internal/domain"
)

type mockEmbedder struct{ calls int }

func (m *mockEmbedder) Name() string                      { return "mock" }
func (m *mockEmbedder) Healthy(ctx context.Context) error { return nil }
func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	return []float32{1}, nil
}

func TestFactory_Embedder(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	emb, err := f.Embedder()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := emb.(*OllamaEmbedder); !ok {
		t.Fatalf("expected *OllamaEmbedder, got %T", emb)
	}

	cfg.Embedding.RateLimitPerSecond = 5
	emb, err = f.Embedder()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := emb.(*RateLimitedEmbedder); !ok {
		t.Fatalf("expected rate limited embedder, got %T", emb)
	}
}

func TestFactory_EmbedderErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Embedding.Provider = "missing"
	if _, err := NewFactory(cfg, testLogger()).Embedder(); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	cfg = config.Defaults()
	cfg.Providers["ollama"] = config.ProviderConfig{Enabled: false}
	if _, err := NewFactory(cfg, testLogger()).Embedder(); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestFactory_OpenAICompatibleFallback(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.groq.example/v1", APIKey: "k"}
	cfg.Embedding.Provider = "groq"
	f := NewFactory(cfg, testLogger())

	emb, err := f.Embedder()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := emb.(*OpenAIEmbedder); !ok {
		t.Fatalf("expected OpenAI-compatible embedder, got %T", emb)
	}
	g, err := f.Get("groq")
	if err != nil {
		t.Fatal(err)
	}
	if g.Name() != "groq" {
		t.Fatalf("expected generator named after provider, got %q", g.Name())
	}
}

func TestFactory_GetCaches(t *testing.T) {
	f := NewFactory(config.Defaults(), testLogger())
	a, err := f.Get("ollama")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := f.Get("ollama")
	if a != b {
		t.Fatal("expected cached generator instance")
	}
}

func TestFactory_GeneratorFailoverChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["openai"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.openai.com/v1", APIKey: "k"}
	cfg.Providers["off"] = config.ProviderConfig{Enabled: false}
	cfg.Generation.FailoverChain = []string{"ollama", "off", "openai"}

	g, err := NewFactory(cfg, testLogger()).Generator()
	if err != nil {
		t.Fatal(err)
	}
	if g.Name() != "failover(ollama→openai)" {
		t.Fatalf("expected disabled provider skipped, got %q", g.Name())
	}

	cfg.Generation.FailoverChain = []string{"off"}
	if _, err := NewFactory(cfg, testLogger()).Generator(); err == nil {
		t.Fatal("expected error when no chain member is usable")
	}
}

func TestFactory_RegisterGenerator(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())
	want := &mockGenerator{name: "custom"}
	f.RegisterGenerator("ollama", func(config.ProviderConfig, *http.Client, *slog.Logger) domain.Generator {
		return want
	})
	g, err := f.Generator()
	if err != nil {
		t.Fatal(err)
	}
	if g != want {
		t.Fatalf("expected registered constructor to be used, got %T", g)
	}
}

func TestRateLimitedEmbedder(t *testing.T) {
	next := &mockEmbedder{}
	r := NewRateLimitedEmbedder(next, 1000, 1)
	for i := 0; i < 3; i++ {
		if _, err := r.Embed(context.Background(), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 delegated calls, got %d", next.calls)
	}

	slow := NewRateLimitedEmbedder(next, 0.001, 1)
	slow.Embed(context.Background(), "drain the burst")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := slow.Embed(ctx, "x"); err == nil {
		t.Fatal("expected limiter wait to fail before the deadline")
	}
	if next.calls != 4 {
		t.Fatalf("throttled call must not reach the embedder, got %d calls", next.calls)
	}

	unlimited := NewRateLimitedEmbedder(next, 0, 0)
	if _, err := unlimited.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
}
