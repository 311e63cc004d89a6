package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"egocoach/internal/config"
	"egocoach/internal/domain"
)

// GeneratorConstructor creates a generator from a provider config entry.
type GeneratorConstructor func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Generator

// EmbedderConstructor creates an embedder for model from a provider config entry.
type EmbedderConstructor func(pc config.ProviderConfig, model string, client *http.Client, logger *slog.Logger) domain.Embedder

// Factory creates and caches embedders and generators from config.
type Factory struct {
	cfg        *config.Config
	logger     *slog.Logger
	generators map[string]GeneratorConstructor
	embedders  map[string]EmbedderConstructor
	cache      map[string]domain.Generator
	mu         sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:        cfg,
		logger:     logger,
		generators: make(map[string]GeneratorConstructor),
		embedders:  make(map[string]EmbedderConstructor),
		cache:      make(map[string]domain.Generator),
	}
	f.registerDefaults()
	return f
}

// RegisterGenerator adds (or replaces) a generator constructor by provider name.
func (f *Factory) RegisterGenerator(name string, ctor GeneratorConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generators[name] = ctor
}

// RegisterEmbedder adds (or replaces) an embedder constructor by provider name.
func (f *Factory) RegisterEmbedder(name string, ctor EmbedderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedders[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.generators["ollama"] = func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Generator {
		return NewOllamaGenerator(OllamaConfig{APIBase: pc.APIBase, Model: pc.DefaultModel, Client: client, Logger: logger})
	}
	f.generators["openai"] = func(pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Generator {
		return NewOpenAIGenerator(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Client: client, Logger: logger})
	}

	f.embedders["ollama"] = func(pc config.ProviderConfig, model string, client *http.Client, logger *slog.Logger) domain.Embedder {
		return NewOllamaEmbedder(OllamaConfig{APIBase: pc.APIBase, Model: model, Client: client, Logger: logger})
	}
	f.embedders["openai"] = func(pc config.ProviderConfig, model string, client *http.Client, logger *slog.Logger) domain.Embedder {
		return NewOpenAIEmbedder(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: model, Client: client, Logger: logger})
	}
}

func (f *Factory) providerConfig(name string) (config.ProviderConfig, error) {
	pc, ok := f.cfg.Providers[name]
	if !ok {
		return pc, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return pc, fmt.Errorf("provider %s is disabled", name)
	}
	return pc, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Embedder builds the embedder named by embedding.provider, wrapped in a
// RateLimitedEmbedder when embedding.rateLimitPerSecond is set.
func (f *Factory) Embedder() (domain.Embedder, error) {
	ec := f.cfg.Embedding
	pc, err := f.providerConfig(ec.Provider)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	ctor, found := f.embedders[ec.Provider]
	f.mu.RUnlock()

	client := SharedHTTPClient(seconds(ec.TimeoutSeconds))
	var emb domain.Embedder
	switch {
	case found:
		emb = ctor(pc, ec.Model, client, f.logger)
	case pc.APIBase != "":
		// Unknown providers with a base URL are treated as OpenAI-compatible.
		emb = NewOpenAIEmbedder(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: ec.Model, Client: client, Logger: f.logger})
	default:
		return nil, fmt.Errorf("provider %s: no embedder registered and no API base configured", ec.Provider)
	}

	if ec.RateLimitPerSecond > 0 {
		emb = NewRateLimitedEmbedder(emb, ec.RateLimitPerSecond, ec.Burst)
	}
	return emb, nil
}

// Get returns the generator for the named provider, caching instances.
// Uses double-check locking to avoid TOCTOU races.
func (f *Factory) Get(name string) (domain.Generator, error) {
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, err := f.providerConfig(name)
	if err != nil {
		return nil, err
	}

	client := SharedHTTPClient(seconds(f.cfg.Generation.TimeoutSeconds))
	var g domain.Generator
	if ctor, ok := f.generators[name]; ok {
		g = ctor(pc, client, f.logger)
	} else if pc.APIBase != "" {
		g = NewOpenAIGenerator(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Client: client, Logger: f.logger}).withName(name)
	} else {
		return nil, fmt.Errorf("provider %s: no generator registered and no API base configured", name)
	}

	f.cache[name] = g
	return g, nil
}

// Generator returns the configured generator. With generation.failoverChain
// set, the chain is wrapped in a FailoverGenerator; providers that cannot be
// built are skipped with a warning.
func (f *Factory) Generator() (domain.Generator, error) {
	gc := f.cfg.Generation
	if len(gc.FailoverChain) == 0 {
		if gc.Provider == "" {
			return nil, fmt.Errorf("no generation provider configured")
		}
		return f.Get(gc.Provider)
	}

	var chain []domain.Generator
	for _, name := range gc.FailoverChain {
		g, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping provider in failover chain", "provider", name, "err", err)
			continue
		}
		chain = append(chain, g)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no usable provider in generation.failoverChain")
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return NewFailoverGenerator(chain, f.logger), nil
}

// HealthyGenerator returns the first configured generator that passes a health check, or nil.
func (f *Factory) HealthyGenerator(ctx context.Context) domain.Generator {
	names := append([]string{f.cfg.Generation.Provider}, f.cfg.Generation.FailoverChain...)
	for _, name := range names {
		if name == "" {
			continue
		}
		g, err := f.Get(name)
		if err != nil {
			continue
		}
		if g.Healthy(ctx) == nil {
			return g
		}
	}
	return nil
}
