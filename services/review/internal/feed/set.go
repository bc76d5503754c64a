package feed

import (
	"sort"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// ReviewSet holds the reviews of one content item, most recent first, at most
// once per id. Ties on created_at are ordered by id descending so every
// replica converges to the same order. ReviewSet is not safe for concurrent use.
type ReviewSet struct {
	items []domain.Review
	ids   map[string]struct{}
}

// NewReviewSet builds a set from rs, dropping duplicate ids.
func NewReviewSet(rs ...domain.Review) *ReviewSet {
	s := &ReviewSet{ids: make(map[string]struct{}, len(rs))}
	for _, r := range rs {
		s.Merge(r)
	}
	return s
}

// before reports whether a sorts ahead of b.
func before(a, b domain.Review) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Merge inserts r at its chronological position. It returns false, leaving the
// set untouched, when a review with the same id is already present.
func (s *ReviewSet) Merge(r domain.Review) bool {
	if _, ok := s.ids[r.ID]; ok {
		return false
	}
	i := sort.Search(len(s.items), func(i int) bool { return before(r, s.items[i]) })
	s.items = append(s.items, domain.Review{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = r
	s.ids[r.ID] = struct{}{}
	return true
}

// Contains reports whether id is in the set.
func (s *ReviewSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *ReviewSet) Len() int { return len(s.items) }

// RemoveIf drops every review for which drop reports true and returns the
// removed reviews in set order.
func (s *ReviewSet) RemoveIf(drop func(domain.Review) bool) []domain.Review {
	var removed []domain.Review
	kept := s.items[:0]
	for _, r := range s.items {
		if drop(r) {
			removed = append(removed, r)
			delete(s.ids, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	clear(s.items[len(kept):])
	s.items = kept
	return removed
}

// Reviews returns a copy of the ordered reviews.
func (s *ReviewSet) Reviews() []domain.Review {
	out := make([]domain.Review, len(s.items))
	copy(out, s.items)
	return out
}
