package profile

import (
	"context"
	"fmt"
	"sort"

	"github.com/algo-boyz/speakerprint/pkg/embedding"
)

// Match is one profile scored against a query embedding.
type Match struct {
	Profile Profile
	embedding.Result
}

// Identify scores query against the centroid of every stored profile and
// returns the matches best first. Profiles of another dimension are skipped.
func Identify(ctx context.Context, s Store, c embedding.Comparator, query embedding.Embedding) ([]Match, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(all))
	for _, p := range all {
		if len(p.Embeddings) == 0 || p.Embeddings[0].Dim() != query.Dim() {
			continue
		}
		centroid, err := p.Centroid()
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		res, err := c.Compare(query, centroid)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		matches = append(matches, Match{Profile: p, Result: res})
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no %d-dim profiles enrolled", ErrNotFound, query.Dim())
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches, nil
}

// BestReference scores query against each reference and keeps the highest
// similarity.
func BestReference(c embedding.Comparator, refs []embedding.Embedding, query embedding.Embedding) (best embedding.Result, index int, err error) {
	if len(refs) == 0 {
		return embedding.Result{}, -1, fmt.Errorf("%w: no references", ErrNotFound)
	}
	index = -1
	for i, ref := range refs {
		res, err := c.Compare(query, ref)
		if err != nil {
			return embedding.Result{}, -1, fmt.Errorf("reference %d: %w", i, err)
		}
		if index < 0 || res.Similarity > best.Similarity {
			best, index = res, i
		}
	}
	return best, index, nil
}
