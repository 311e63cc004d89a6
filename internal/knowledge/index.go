package knowledge

import (
	"log/slog"
	"sort"

	"egocoach/internal/domain"
)

// VectorIndex ranks stored chunks against a query vector.
// Implementations must return at most k results ordered by non-increasing score.
type VectorIndex interface {
	Rank(query []float32, chunks []domain.Chunk, k int) []domain.ScoredChunk
}

// LinearIndex scores every chunk on each query. There is no persistent
// structure: cost is O(chunks*dim) per query, which is fine for a personal
// store of a few thousand chunks. Swap in an ANN index behind VectorIndex
// when that stops being true.
type LinearIndex struct {
	logger *slog.Logger
}

func NewLinearIndex(logger *slog.Logger) *LinearIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinearIndex{logger: logger}
}

// Rank scores chunks by cosine similarity. Chunks whose dimensionality differs
// from the query are skipped and reported rather than scored. Ties are broken
// by chunk id so repeated queries return identical ordering.
func (l *LinearIndex) Rank(query []float32, chunks []domain.Chunk, k int) []domain.ScoredChunk {
	if k <= 0 || len(chunks) == 0 {
		return nil
	}

	scored := make([]domain.ScoredChunk, 0, len(chunks))
	skipped := 0
	for _, c := range chunks {
		if len(c.Embedding) != len(query) {
			skipped++
			continue
		}
		scored = append(scored, domain.ScoredChunk{
			Chunk: c,
			Score: CosineSimilarity(query, c.Embedding),
		})
	}
	if skipped > 0 {
		l.logger.Warn("skipped chunks with mismatched embedding dimension",
			"skipped", skipped, "query_dim", len(query))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
