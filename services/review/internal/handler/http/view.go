package http

import (
	"time"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// AuthorView exposes the author kind, and the user id of registered authors.
// Anonymous session ids stay private.
type AuthorView struct {
	Kind   domain.AuthorKind `json:"kind"`
	UserID string            `json:"user_id,omitempty"`
}

// ReviewView is a review as the presentation layer renders it at one instant.
type ReviewView struct {
	ID            string             `json:"id"`
	ContentID     string             `json:"content_id"`
	Author        AuthorView         `json:"author"`
	Rating        *int               `json:"rating,omitempty"`
	Emoji         *string            `json:"emoji,omitempty"`
	Keyword       *string            `json:"keyword,omitempty"`
	Body          *string            `json:"body,omitempty"`
	BodyHidden    bool               `json:"body_hidden"`
	Context       *string            `json:"context,omitempty"`
	AudioURL      *string            `json:"audio_url,omitempty"`
	HasSpoilers   bool               `json:"has_spoilers"`
	IsEphemeral   bool               `json:"is_ephemeral"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
	ExpiryState   domain.ExpiryState `json:"expiry_state"`
	RemainingDays *int               `json:"remaining_days,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// newReviewView renders r at now. The body of a spoiler review is withheld
// unless revealSpoilers is set.
func newReviewView(r domain.Review, now time.Time, revealSpoilers bool) ReviewView {
	v := ReviewView{
		ID:            r.ID,
		ContentID:     r.ContentID,
		Author:        AuthorView{Kind: r.Author.Kind()},
		Rating:        r.Rating,
		Emoji:         r.Emoji,
		Keyword:       r.Keyword,
		Body:          r.Body,
		Context:       r.Context,
		AudioURL:      r.AudioURL,
		HasSpoilers:   r.HasSpoilers,
		IsEphemeral:   r.IsEphemeral,
		ExpiresAt:     r.ExpiresAt,
		ExpiryState:   domain.ExpiryStateOf(r, now),
		RemainingDays: domain.RemainingDays(r, now),
		CreatedAt:     r.CreatedAt,
	}
	if id, ok := r.Author.UserID(); ok {
		v.Author.UserID = id
	}
	if r.HasSpoilers && !revealSpoilers && r.Body != nil {
		v.Body, v.BodyHidden = nil, true
	}
	return v
}

func newReviewViews(rs []domain.Review, now time.Time, revealSpoilers bool) []ReviewView {
	out := make([]ReviewView, 0, len(rs))
	for _, r := range rs {
		out = append(out, newReviewView(r, now, revealSpoilers))
	}
	return out
}
