package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"egocoach/internal/domain"
)

func TestOpenAIEmbedder_BatchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req oaiEmbeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 {
			t.Errorf("expected 2 inputs, got %d", len(req.Input))
		}
		// Out of order on purpose.
		w.Write([]byte(`{"data": [{"index": 1, "embedding": [0, 1]}, {"index": 0, "embedding": [1, 0]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("embeddings not restored to input order: %v", vecs)
	}
}

func TestOpenAIEmbedder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error when no embedding is returned")
	}
}

func TestOpenAIEmbedder_RetriesRateLimit(t *testing.T) {
	fastRetry(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data": [{"index": 0, "embedding": [0.1]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := e.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("expected retry after 429: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req oaiChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "q" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		if req.Temperature != nil {
			t.Error("temperature must be omitted when zero")
		}
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "a"}, "finish_reason": "length"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	resp, err := g.Generate(context.Background(), domain.GenerateRequest{System: "s", Prompt: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "a" || resp.FinishReason != "length" || resp.Usage.TotalTokens != 4 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOpenAIGenerator_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := g.Generate(context.Background(), domain.GenerateRequest{Prompt: "q"})
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected error carrying the response body, got %v", err)
	}
	if err := g.Healthy(context.Background()); err == nil || !strings.Contains(err.Error(), "invalid API key") {
		t.Fatalf("expected invalid key from health check, got %v", err)
	}
}
