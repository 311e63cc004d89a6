package mcpserver

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type SearchInput struct {
	Query string `json:"query" jsonschema:"what to look for in the journal"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of chunks to return (default 3)"`
}

type SearchOutput struct {
	Results []SearchHit `json:"results"`
	Count   int         `json:"count"`
}

type SearchHit struct {
	DocumentID int64   `json:"document_id"`
	Title      string  `json:"title"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

type AskInput struct {
	Question string `json:"question" jsonschema:"the question to answer from the journal"`
}

type AskOutput struct {
	Answer  string      `json:"answer"`
	Sources []SearchHit `json:"sources,omitempty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Find the journal passages most similar to a query",
	}, s.handleSearch)

	if s.ports.Asker != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ask",
			Description: "Answer a question using the most relevant journal passages as context",
		}, s.handleAsk)
	}
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = s.ports.TopK
	}
	results, err := s.ports.Searcher.Search(ctx, strings.TrimSpace(in.Query), limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{Results: make([]SearchHit, len(results)), Count: len(results)}
	for i, r := range results {
		out.Results[i] = SearchHit{
			DocumentID: r.Chunk.DocID,
			Title:      r.DocTitle,
			ChunkIndex: r.Chunk.Index,
			Score:      r.Score,
			Text:       r.Chunk.Text,
		}
	}
	return nil, out, nil
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
	ans, err := s.ports.Asker.Ask(ctx, in.Question)
	if err != nil {
		return nil, AskOutput{}, err
	}
	out := AskOutput{Answer: ans.Content}
	for _, r := range ans.Sources {
		out.Sources = append(out.Sources, SearchHit{
			DocumentID: r.Chunk.DocID,
			Title:      r.DocTitle,
			ChunkIndex: r.Chunk.Index,
			Score:      r.Score,
			Text:       r.Chunk.Text,
		})
	}
	return nil, out, nil
}
