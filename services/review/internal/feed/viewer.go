package feed

import (
	"context"
	"sync"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// Viewer is one presentation client's live view. It follows a single content
// item at a time.
type Viewer struct {
	rec      *Reconciler
	onReview func(domain.Review)

	mu        sync.Mutex
	contentID string
	sub       *Subscription
}

// NewViewer creates a viewer that hands merged reviews to onReview.
func NewViewer(rec *Reconciler, onReview func(domain.Review)) *Viewer {
	return &Viewer{rec: rec, onReview: onReview}
}

// Switch tears down the current subscription, then follows contentID and
// returns its reviews at the moment the new subscription started. After Switch
// returns, onReview is never called for the previous content item.
func (v *Viewer) Switch(ctx context.Context, contentID string) ([]domain.Review, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.sub.Unsubscribe()
	v.sub, v.contentID = nil, ""

	if err := v.rec.Track(ctx, contentID); err != nil {
		return nil, err
	}
	snapshot, sub := v.rec.Subscribe(contentID, v.onReview)
	v.sub, v.contentID = sub, contentID
	return snapshot, nil
}

// ContentID returns the content item being followed, or "".
func (v *Viewer) ContentID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.contentID
}

// Close stops delivery. The viewer may be switched again afterwards.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sub.Unsubscribe()
	v.sub, v.contentID = nil, ""
}
