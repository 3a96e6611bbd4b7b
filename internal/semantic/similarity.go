package semantic

import (
	"math"
	"sort"
)

// TopK ranks embeddings by cosine similarity to query and returns at most k
// results, best first. Ties keep chunk order.
func TopK(query []float64, embeddings [][]float64, k int) []SearchResult {
	if k <= 0 || len(embeddings) == 0 {
		return []SearchResult{}
	}

	results := make([]SearchResult, len(embeddings))
	for i, emb := range embeddings {
		results[i] = SearchResult{Index: i, Score: Cosine(query, emb)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their dimensions differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
