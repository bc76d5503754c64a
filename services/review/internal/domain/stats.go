package domain

import (
	"math"
	"slices"
	"strings"
)

// TopN is how many keywords and emojis the statistics report.
const TopN = 5

// RankedTerm is a keyword or emoji with its frequency.
type RankedTerm struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// ContentStats summarizes the visible reviews of one content item.
type ContentStats struct {
	TotalReviews int `json:"total_reviews"`
	RatedReviews int `json:"rated_reviews"`
	// AverageRating is rounded to one decimal; nil when nothing is rated.
	AverageRating      *float64     `json:"average_rating"`
	RawAverageRating   *float64     `json:"raw_average_rating,omitempty"`
	RatingDistribution map[int]int  `json:"rating_distribution"`
	TopKeywords        []RankedTerm `json:"top_keywords"`
	TopEmojis          []RankedTerm `json:"top_emojis"`
}

// ComputeStats derives ContentStats from visible, which must already be
// filtered and ordered most recent first. Terms are ranked by frequency,
// ties broken by first occurrence. Keywords compare case-insensitively and are
// reported in the spelling of their first occurrence.
func ComputeStats(visible []Review) ContentStats {
	stats := ContentStats{
		TotalReviews:       len(visible),
		RatingDistribution: make(map[int]int, 10),
	}
	for i := 1; i <= 10; i++ {
		stats.RatingDistribution[i] = 0
	}

	keywords := newTally()
	emojis := newTally()
	sum := 0
	for _, r := range visible {
		if r.Rating != nil {
			sum += *r.Rating
			stats.RatedReviews++
			if *r.Rating >= 1 && *r.Rating <= 10 {
				stats.RatingDistribution[*r.Rating]++
			}
		}
		if r.Keyword != nil {
			if k := strings.TrimSpace(*r.Keyword); k != "" {
				keywords.add(strings.ToLower(k), k)
			}
		}
		if r.Emoji != nil && *r.Emoji != "" {
			emojis.add(*r.Emoji, *r.Emoji)
		}
	}

	if stats.RatedReviews > 0 {
		raw := float64(sum) / float64(stats.RatedReviews)
		rounded := math.Round(raw*10) / 10
		stats.RawAverageRating = &raw
		stats.AverageRating = &rounded
	}
	stats.TopKeywords = keywords.top(TopN)
	stats.TopEmojis = emojis.top(TopN)
	return stats
}

type tallyEntry struct {
	display string
	count   int
	first   int
}

type tally struct {
	entries map[string]*tallyEntry
	seen    int
}

func newTally() *tally {
	return &tally{entries: make(map[string]*tallyEntry)}
}

func (t *tally) add(key, display string) {
	if e, ok := t.entries[key]; ok {
		e.count++
		return
	}
	t.entries[key] = &tallyEntry{display: display, count: 1, first: t.seen}
	t.seen++
}

func (t *tally) top(n int) []RankedTerm {
	entries := make([]*tallyEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *tallyEntry) int {
		if a.count != b.count {
			return b.count - a.count
		}
		return a.first - b.first
	})
	if len(entries) > n {
		entries = entries[:n]
	}

	out := make([]RankedTerm, 0, len(entries))
	for _, e := range entries {
		out = append(out, RankedTerm{Term: e.display, Count: e.count})
	}
	return out
}
