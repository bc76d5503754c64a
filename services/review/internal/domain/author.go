package domain

import (
	"encoding/json"
	"fmt"
)

// AuthorKind distinguishes registered users from anonymous sessions.
type AuthorKind string

const (
	AuthorRegistered AuthorKind = "registered"
	AuthorAnonymous  AuthorKind = "anonymous"
)

// AuthorRef identifies who wrote a review: either a registered user id or an
// anonymous session id, never both. The zero value identifies nobody.
type AuthorRef struct {
	kind AuthorKind
	id   string
}

// Registered returns the author reference of an authenticated user.
func Registered(userID string) AuthorRef {
	return AuthorRef{kind: AuthorRegistered, id: userID}
}

// Anonymous returns the author reference of an anonymous session.
func Anonymous(sessionID string) AuthorRef {
	return AuthorRef{kind: AuthorAnonymous, id: sessionID}
}

func (a AuthorRef) Kind() AuthorKind { return a.kind }
func (a AuthorRef) ID() string       { return a.id }

// IsZero reports whether a identifies nobody.
func (a AuthorRef) IsZero() bool { return a.kind == "" || a.id == "" }

func (a AuthorRef) IsRegistered() bool { return a.kind == AuthorRegistered && a.id != "" }
func (a AuthorRef) IsAnonymous() bool  { return a.kind == AuthorAnonymous && a.id != "" }

// UserID returns the registered user id.
func (a AuthorRef) UserID() (string, bool) {
	if !a.IsRegistered() {
		return "", false
	}
	return a.id, true
}

// SessionID returns the anonymous session id.
func (a AuthorRef) SessionID() (string, bool) {
	if !a.IsAnonymous() {
		return "", false
	}
	return a.id, true
}

func (a AuthorRef) String() string {
	if a.IsZero() {
		return "nobody"
	}
	return string(a.kind) + ":" + a.id
}

type authorJSON struct {
	Kind AuthorKind `json:"kind"`
	ID   string     `json:"id"`
}

// MarshalJSON encodes a as {"kind":"registered|anonymous","id":"..."}.
func (a AuthorRef) MarshalJSON() ([]byte, error) {
	if a.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(authorJSON{Kind: a.kind, ID: a.id})
}

// UnmarshalJSON rejects unknown kinds and empty ids.
func (a *AuthorRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = AuthorRef{}
		return nil
	}
	var raw authorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode author: %w", err)
	}
	if raw.ID == "" {
		return fmt.Errorf("decode author: empty id")
	}
	switch raw.Kind {
	case AuthorRegistered, AuthorAnonymous:
		*a = AuthorRef{kind: raw.Kind, id: raw.ID}
		return nil
	default:
		return fmt.Errorf("decode author: unknown kind %q", raw.Kind)
	}
}
