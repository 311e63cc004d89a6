// Package mcpserver exposes the knowledge base to MCP clients, so an
// assistant can search the journal and ask grounded questions.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"egocoach/internal/domain"
	"egocoach/internal/knowledge"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrMissingSearcher is returned by NewServer when Ports.Searcher is nil.
var ErrMissingSearcher = errors.New("mcpserver: searcher is required")

// Searcher is the read side of knowledge.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error)
	GetDocuments(ctx context.Context) ([]domain.Document, error)
}

// Asker answers questions from retrieved context; knowledge.Augmenter
// implements it.
type Asker interface {
	Ask(ctx context.Context, question string) (*knowledge.Answer, error)
}

// Ports are the services the server calls into. Asker is optional; without
// it the ask tool is not registered.
type Ports struct {
	Searcher Searcher
	Asker    Asker
	TopK     int
}

// Server wraps an mcp.Server bound to the knowledge base.
type Server struct {
	ports  Ports
	server *mcp.Server
	logger *slog.Logger
}

func NewServer(ports Ports, version string, logger *slog.Logger) (*Server, error) {
	if ports.Searcher == nil {
		return nil, ErrMissingSearcher
	}
	if ports.TopK <= 0 {
		ports.TopK = knowledge.DefaultSearchLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ports:  ports,
		server: mcp.NewServer(&mcp.Implementation{Name: "egocoach", Version: version}, nil),
		logger: logger,
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("mcp server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mcp http: %w", err)
	}
	return nil
}
