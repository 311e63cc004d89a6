package domain

import "context"

// Embedder converts text into a fixed-length vector.
// Every call may fail independently (network, model unavailable).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Healthy(ctx context.Context) error
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

type GenerateRequest struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type GenerateResponse struct {
	Content      string
	FinishReason string // stop | length
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
