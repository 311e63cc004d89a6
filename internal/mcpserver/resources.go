package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const documentsURI = "egocoach://documents"

func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         documentsURI,
		Name:        "documents",
		Description: "Documents in the knowledge base with their chunk counts",
		MIMEType:    "application/json",
	}, s.handleDocumentsResource)
}

type documentInfo struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	DateAdded string `json:"date_added"`
	Chunks    int    `json:"chunks"`
}

func (s *Server) handleDocumentsResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	docs, err := s.ports.Searcher.GetDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	infos := make([]documentInfo, len(docs))
	for i, d := range docs {
		infos[i] = documentInfo{
			ID:        d.ID,
			Title:     d.Title,
			DateAdded: d.DateAdded.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Chunks:    d.ChunkCount,
		}
	}
	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal documents: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
