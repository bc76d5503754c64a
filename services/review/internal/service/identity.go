package service

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// Session is what the transport knows about the caller of a submission.
type Session struct {
	// UserID is set when the caller presented a verified token.
	UserID string
	// AnonymousConfirmed records the caller's explicit consent to publish an
	// anonymous review that cannot be edited later.
	AnonymousConfirmed bool
	// AnonymousSessionID identifies an anonymous browser session, if known.
	AnonymousSessionID string
}

// ResolveIdentity maps a session to the author of its submissions. An
// unauthenticated caller must have confirmed the anonymous submission;
// otherwise ErrAnonymousNotConfirmed is returned. A missing anonymous session
// id is minted.
func ResolveIdentity(s Session) (domain.AuthorRef, error) {
	if s.UserID != "" {
		return domain.Registered(s.UserID), nil
	}
	if !s.AnonymousConfirmed {
		return domain.AuthorRef{}, domain.ErrAnonymousNotConfirmed
	}
	sessionID := s.AnonymousSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return domain.Anonymous(sessionID), nil
}

// CheckUniqueness fails with ErrUniquenessConflict when existing already holds
// a review of contentID by the registered author. Anonymous authors are never
// in conflict.
func CheckUniqueness(contentID string, author domain.AuthorRef, existing []domain.Review) error {
	if !author.IsRegistered() {
		return nil
	}
	for i := range existing {
		if existing[i].SameAuthorAndContent(contentID, author) {
			return fmt.Errorf("%w: review %s", domain.ErrUniquenessConflict, existing[i].ID)
		}
	}
	return nil
}
