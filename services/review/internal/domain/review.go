package domain

import (
	"time"
)

// EphemeralLifetime is how long an ephemeral review stays visible.
const EphemeralLifetime = 24 * time.Hour

// Review is one author's opinion about one content item. Reviews are never
// modified once the store has accepted them.
type Review struct {
	ID          string     `json:"id"`
	ContentID   string     `json:"content_id"`
	Author      AuthorRef  `json:"author"`
	Rating      *int       `json:"rating,omitempty"`
	Emoji       *string    `json:"emoji,omitempty"`
	Keyword     *string    `json:"keyword,omitempty"`
	Body        *string    `json:"body,omitempty"`
	Context     *string    `json:"context,omitempty"`
	AudioURL    *string    `json:"audio_url,omitempty"`
	HasSpoilers bool       `json:"has_spoilers"`
	IsEphemeral bool       `json:"is_ephemeral"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Normalize re-derives ExpiresAt from CreatedAt: nil for permanent reviews,
// CreatedAt plus EphemeralLifetime for ephemeral ones. Timestamps are UTC.
func (r *Review) Normalize() {
	r.CreatedAt = r.CreatedAt.UTC()
	if !r.IsEphemeral {
		r.ExpiresAt = nil
		return
	}
	exp := r.CreatedAt.Add(EphemeralLifetime)
	r.ExpiresAt = &exp
}

// expiry returns the instant an ephemeral review stops being visible.
func (r *Review) expiry() (time.Time, bool) {
	if !r.IsEphemeral {
		return time.Time{}, false
	}
	if r.ExpiresAt != nil {
		return *r.ExpiresAt, true
	}
	return r.CreatedAt.Add(EphemeralLifetime), true
}

// NewReview is a validated submission ready to be written to the store.
// The store assigns ID and CreatedAt.
type NewReview struct {
	ContentID   string
	Author      AuthorRef
	Rating      int
	Emoji       string
	Keyword     string
	Body        *string
	Context     *string
	AudioURL    *string
	HasSpoilers bool
	IsEphemeral bool
}

// SameAuthorAndContent reports whether r was written by author about contentID.
func (r *Review) SameAuthorAndContent(contentID string, author AuthorRef) bool {
	return r.ContentID == contentID && r.Author == author
}
