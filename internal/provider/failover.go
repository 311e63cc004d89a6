package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"egocoach/internal/domain"
)

// FailoverGenerator tries multiple generators in order, falling back to the
// next one when the current fails.
type FailoverGenerator struct {
	generators []domain.Generator
	logger     *slog.Logger
}

// NewFailoverGenerator creates a failover chain from the given generators.
func NewFailoverGenerator(generators []domain.Generator, logger *slog.Logger) *FailoverGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverGenerator{generators: generators, logger: logger}
}

func (fg *FailoverGenerator) Name() string {
	names := make([]string, len(fg.generators))
	for i, g := range fg.generators {
		names[i] = g.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fg *FailoverGenerator) Healthy(ctx context.Context) error {
	for _, g := range fg.generators {
		if err := g.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy generator in failover chain")
}

// Generate tries each generator in order and returns the first success.
// A cancelled context stops the chain.
func (fg *FailoverGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	if len(fg.generators) == 0 {
		return nil, errors.New("failover chain is empty")
	}
	var lastErr error
	for i, g := range fg.generators {
		resp, err := g.Generate(ctx, req)
		if err == nil {
			if i > 0 {
				fg.logger.Info("failover: used fallback generator", "generator", g.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		fg.logger.Warn("failover: generator failed, trying next", "generator", g.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("all generators in failover chain failed: %w", lastErr)
}
