package memory

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is empty, zero or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankBySimilarity scores candidates against query and returns the top k by
// descending similarity. Equal scores keep the more recent snippet first.
// k <= 0 returns every candidate ranked.
func RankBySimilarity(query []float32, candidates []Snippet, k int) []ScoredSnippet {
	scored := make([]ScoredSnippet, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, ScoredSnippet{Snippet: c, Score: CosineSimilarity(query, c.Embedding)})
	}
	SortScored(scored)
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// SortScored orders hits by descending score, ties by recency.
func SortScored(hits []ScoredSnippet) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Snippet.CreatedAt.After(hits[j].Snippet.CreatedAt)
	})
}
