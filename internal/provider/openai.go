package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"egocoach/internal/domain"
)

const (
	openaiDefaultBase       = "https://api.openai.com/v1"
	openaiDefaultEmbedModel = "text-embedding-3-small"
	openaiDefaultChatModel  = "gpt-4o-mini"
)

// OpenAIConfig configures any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

type openaiBase struct {
	name    string
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func newOpenAIBase(cfg OpenAIConfig, defaultModel string) openaiBase {
	if cfg.APIBase == "" {
		cfg.APIBase = openaiDefaultBase
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
	return openaiBase{
		name:    "openai",
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (o *openaiBase) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: invalid API key", o.name)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", o.name, resp.StatusCode)
	}
	return nil
}

func (o *openaiBase) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		return req, nil
	}, o.logger)
	if err != nil {
		return fmt.Errorf("%s %s: %w", o.name, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return readError(o.name, resp)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// OpenAIEmbedder implements domain.Embedder with the /embeddings endpoint.
type OpenAIEmbedder struct {
	openaiBase
}

func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{openaiBase: newOpenAIBase(cfg, openaiDefaultEmbedModel)}
}

func (o *OpenAIEmbedder) Name() string { return o.name + ":" + o.model }

type oaiEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type oaiEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one request, returned in input order.
func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out oaiEmbeddingResponse
	if err := o.post(ctx, "/embeddings", oaiEmbeddingRequest{Model: o.model, Input: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", o.name, len(out.Data), len(texts))
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, errors.New("empty embedding in response")
		}
		vecs[i] = toFloat32(d.Embedding)
	}
	return vecs, nil
}

// OpenAIGenerator implements domain.Generator with /chat/completions.
type OpenAIGenerator struct {
	openaiBase
}

func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	return &OpenAIGenerator{openaiBase: newOpenAIBase(cfg, openaiDefaultChatModel)}
}

// withName labels an OpenAI-compatible provider configured under another name.
func (o *OpenAIGenerator) withName(name string) *OpenAIGenerator {
	o.name = name
	return o
}

func (o *OpenAIGenerator) Name() string { return o.name }

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage domain.Usage `json:"usage"`
}

func (o *OpenAIGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	msgs := make([]oaiMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, oaiMessage{Role: "user", Content: req.Prompt})

	body := oaiChatRequest{Model: model, Messages: msgs, MaxTokens: req.MaxTokens}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	start := time.Now()
	var out oaiChatResponse
	if err := o.post(ctx, "/chat/completions", body, &out); err != nil {
		return nil, err
	}
	resp := &domain.GenerateResponse{
		FinishReason: "stop",
		Usage:        out.Usage,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if len(out.Choices) > 0 {
		resp.Content = out.Choices[0].Message.Content
		resp.FinishReason = out.Choices[0].FinishReason
	}
	return resp, nil
}
