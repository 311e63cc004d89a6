package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"egocoach/internal/domain"
)

const defaultSystemPrompt = "You are a supportive personal coach. Use the provided knowledge " +
	"when it is relevant to the question and say so when it is not."

// Augmenter prepends retrieved knowledge to a question before generation.
type Augmenter struct {
	engine    *Engine
	generator domain.Generator
	topK      int
	minScore  float64
	system    string
	logger    *slog.Logger
}

type AugmenterConfig struct {
	Engine       *Engine
	Generator    domain.Generator
	TopK         int     // default: 3
	MinScore     float64 // results scoring below this are dropped
	SystemPrompt string
	Logger       *slog.Logger
}

func NewAugmenter(cfg AugmenterConfig) *Augmenter {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultSearchLimit
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Augmenter{
		engine:    cfg.Engine,
		generator: cfg.Generator,
		topK:      cfg.TopK,
		minScore:  cfg.MinScore,
		system:    cfg.SystemPrompt,
		logger:    cfg.Logger,
	}
}

// Answer is a generated reply together with the chunks that informed it.
type Answer struct {
	Content string               `json:"content"`
	Sources []domain.ScoredChunk `json:"sources"`
	Prompt  string               `json:"-"`
}

// Retrieve returns the relevant chunks for question. A failing search
// yields an empty result so that generation can still proceed.
func (a *Augmenter) Retrieve(ctx context.Context, question string) []domain.ScoredChunk {
	results, err := a.engine.Search(ctx, question, a.topK)
	if err != nil {
		a.logger.Warn("knowledge search failed, continuing without context", "err", err)
		return nil
	}
	kept := results[:0]
	for _, r := range results {
		if r.Score >= a.minScore {
			kept = append(kept, r)
		}
	}
	return kept
}

// Ask retrieves context for question and sends the augmented prompt to the generator.
func (a *Augmenter) Ask(ctx context.Context, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.ErrEmptyQuery
	}
	if a.generator == nil {
		return nil, errors.New("no generator configured")
	}

	sources := a.Retrieve(ctx, question)
	prompt := AugmentPrompt(question, sources)

	resp, err := a.generator.Generate(ctx, domain.GenerateRequest{
		System: a.system,
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	a.logger.Info("answered with knowledge",
		"sources", len(sources), "generator", a.generator.Name(), "latency_ms", resp.LatencyMs)
	return &Answer{Content: resp.Content, Sources: sources, Prompt: prompt}, nil
}

// AugmentPrompt concatenates the knowledge preamble and the question.
func AugmentPrompt(question string, sources []domain.ScoredChunk) string {
	preamble := BuildContext(sources)
	if preamble == "" {
		return question
	}
	return preamble + "\n\n## Question\n\n" + question
}
