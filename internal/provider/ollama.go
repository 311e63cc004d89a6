package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"egocoach/internal/domain"
)

const (
	ollamaDefaultBase       = "http://localhost:11434"
	ollamaDefaultEmbedModel = "nomic-embed-text"
	ollamaDefaultGenModel   = "mistral"
)

type OllamaConfig struct {
	APIBase string
	Model   string
	Client  *http.Client // default: SharedHTTPClient(defaultHTTPTimeout)
	Logger  *slog.Logger
}

// ollamaBase holds what the embedder and generator share.
type ollamaBase struct {
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func newOllamaBase(cfg OllamaConfig, defaultModel string) ollamaBase {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return ollamaBase{apiBase: cfg.APIBase, model: cfg.Model, client: cfg.Client, logger: cfg.Logger}
}

// Healthy checks /api/tags, which answers without loading a model.
func (o *ollamaBase) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// post sends body as JSON to path with retry and decodes the reply into out.
func (o *ollamaBase) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, o.logger)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return readError("ollama", resp)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// OllamaEmbedder implements domain.Embedder with Ollama's /api/embeddings.
type OllamaEmbedder struct {
	ollamaBase
}

func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{ollamaBase: newOllamaBase(cfg, ollamaDefaultEmbedModel)}
}

func (o *OllamaEmbedder) Name() string { return "ollama:" + o.model }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out ollamaEmbedResponse
	if err := o.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: o.model, Prompt: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("ollama returned an empty embedding")
	}
	return toFloat32(out.Embedding), nil
}

// OllamaGenerator implements domain.Generator with Ollama's /api/generate.
type OllamaGenerator struct {
	ollamaBase
}

func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	return &OllamaGenerator{ollamaBase: newOllamaBase(cfg, ollamaDefaultGenModel)}
}

func (o *OllamaGenerator) Name() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (o *OllamaGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	body := ollamaGenerateRequest{Model: model, Prompt: req.Prompt, System: req.System}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.Options = map[string]any{}
		if req.Temperature > 0 {
			body.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			body.Options["num_predict"] = req.MaxTokens
		}
	}

	start := time.Now()
	var out ollamaGenerateResponse
	if err := o.post(ctx, "/api/generate", body, &out); err != nil {
		return nil, err
	}
	reason := out.DoneReason
	if reason == "" {
		reason = "stop"
	}
	return &domain.GenerateResponse{
		Content:      out.Response,
		FinishReason: reason,
		Usage: domain.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
