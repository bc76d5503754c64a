package domain

import (
	"errors"
	"strings"
	"unicode/utf8"

	pkgvalidator "github.com/Nutcoco971/ProjectavisFew/pkg/validator"
)

// KeywordMaxRunes is the keyword length kept after truncation.
const KeywordMaxRunes = 30

// Emojis is the closed vocabulary a review emoji must come from.
var Emojis = []string{"😍", "😊", "🤔", "😐", "😢", "😠", "🤯", "🎭", "🎬", "🎵", "🎧", "📚"}

var emojiSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Emojis))
	for _, e := range Emojis {
		m[e] = struct{}{}
	}
	return m
}()

// IsReviewEmoji reports whether e belongs to the vocabulary.
func IsReviewEmoji(e string) bool {
	_, ok := emojiSet[e]
	return ok
}

func init() {
	if err := pkgvalidator.RegisterRule("review_emoji", IsReviewEmoji, "must be one of the review emojis"); err != nil {
		panic(err)
	}
}

// Candidate is an unvalidated submission as the presentation layer sends it.
type Candidate struct {
	ContentID   string
	Rating      *int
	Emoji       string
	Keyword     string
	Body        *string
	Context     *string
	AudioURL    *string
	HasSpoilers *bool
	IsEphemeral *bool
}

// submission is the normalized candidate the validator checks.
type submission struct {
	ContentID string `json:"content_id" validate:"required,uuid"`
	Rating    *int   `json:"rating" validate:"required,gte=1,lte=10"`
	Emoji     string `json:"emoji" validate:"required,review_emoji"`
	Keyword   string `json:"keyword" validate:"required"`
	Body      string `json:"body" validate:"max=5000"`
	Context   string `json:"context" validate:"max=100"`
	AudioURL  string `json:"audio_url" validate:"omitempty,url"`
}

var fieldOrder = []string{"content_id", "rating", "emoji", "keyword", "body", "context", "audio_url"}

// NormalizeKeyword truncates k to KeywordMaxRunes runes, then trims spaces.
func NormalizeKeyword(k string) string {
	if utf8.RuneCountInString(k) > KeywordMaxRunes {
		k = string([]rune(k)[:KeywordMaxRunes])
	}
	return strings.TrimSpace(k)
}

// ValidateSubmission checks c and returns the review to write. Rating, emoji
// and keyword are jointly required. On failure the error is a
// *ValidationError naming every rejected field. The author is left unset.
func ValidateSubmission(c Candidate) (*NewReview, error) {
	s := submission{
		ContentID: strings.TrimSpace(c.ContentID),
		Rating:    c.Rating,
		Emoji:     strings.TrimSpace(c.Emoji),
		Keyword:   NormalizeKeyword(c.Keyword),
		Body:      deref(c.Body),
		Context:   deref(c.Context),
		AudioURL:  strings.TrimSpace(deref(c.AudioURL)),
	}

	if err := pkgvalidator.Validate(&s); err != nil {
		var ve *pkgvalidator.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		fields := ve.Fields()
		out := &ValidationError{}
		for _, name := range fieldOrder {
			if reason, ok := fields[name]; ok {
				out.Fields = append(out.Fields, FieldError{Field: name, Reason: reason})
			}
		}
		return nil, out
	}

	return &NewReview{
		ContentID:   s.ContentID,
		Rating:      *s.Rating,
		Emoji:       s.Emoji,
		Keyword:     s.Keyword,
		Body:        optional(s.Body),
		Context:     optional(strings.TrimSpace(s.Context)),
		AudioURL:    optional(s.AudioURL),
		HasSpoilers: c.HasSpoilers != nil && *c.HasSpoilers,
		IsEphemeral: c.IsEphemeral != nil && *c.IsEphemeral,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
