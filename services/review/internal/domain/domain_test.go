package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contentID = "7d0f5a0e-6a43-4c55-9b55-0d7c84a3e2a1"

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func validCandidate() Candidate {
	return Candidate{
		ContentID: contentID,
		Rating:    intPtr(8),
		Emoji:     "😍",
		Keyword:   "Captivant",
	}
}

// ─── AuthorRef ──────────────────────────────────────────────────────────────

func TestAuthorRef(t *testing.T) {
	reg := Registered("user-1")
	anon := Anonymous("sess-1")

	id, ok := reg.UserID()
	assert.True(t, ok)
	assert.Equal(t, "user-1", id)
	_, ok = reg.SessionID()
	assert.False(t, ok)

	sid, ok := anon.SessionID()
	assert.True(t, ok)
	assert.Equal(t, "sess-1", sid)
	assert.False(t, anon.IsRegistered())

	assert.True(t, AuthorRef{}.IsZero())
	assert.True(t, Registered("").IsZero())
	assert.NotEqual(t, Registered("x"), Anonymous("x"))
}

func TestAuthorRef_JSON(t *testing.T) {
	data, err := json.Marshal(Registered("user-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"registered","id":"user-1"}`, string(data))

	var got AuthorRef
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"anonymous","id":"s-9"}`), &got))
	assert.Equal(t, Anonymous("s-9"), got)

	for _, bad := range []string{`{"kind":"admin","id":"x"}`, `{"kind":"registered","id":""}`, `[1]`} {
		assert.Error(t, json.Unmarshal([]byte(bad), &got), bad)
	}
}

// ─── Validator ──────────────────────────────────────────────────────────────

func TestValidateSubmission_Accepts(t *testing.T) {
	c := validCandidate()
	c.Body = strPtr("Une claque visuelle.")
	c.Context = strPtr("  au cinéma ")
	c.HasSpoilers = boolPtr(true)

	nr, err := ValidateSubmission(c)
	require.NoError(t, err)
	assert.Equal(t, contentID, nr.ContentID)
	assert.Equal(t, 8, nr.Rating)
	assert.Equal(t, "😍", nr.Emoji)
	assert.Equal(t, "Captivant", nr.Keyword)
	assert.Equal(t, "au cinéma", *nr.Context)
	assert.True(t, nr.HasSpoilers)
	assert.False(t, nr.IsEphemeral)
	assert.Nil(t, nr.AudioURL)
	assert.True(t, nr.Author.IsZero())
}

func TestValidateSubmission_EmptyKeyword(t *testing.T) {
	for _, kw := range []string{"", "   ", "\t\n"} {
		c := validCandidate()
		c.Keyword = kw

		_, err := ValidateSubmission(c)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))

		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.True(t, ve.Has("keyword"))
		assert.Len(t, ve.Fields, 1)
	}
}

func TestValidateSubmission_ReportsEveryField(t *testing.T) {
	_, err := ValidateSubmission(Candidate{ContentID: "inception", Emoji: "🍕"})

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	fields := ve.FieldMap()
	assert.Contains(t, fields, "content_id")
	assert.Contains(t, fields, "rating")
	assert.Equal(t, "must be one of the review emojis", fields["emoji"])
	assert.Contains(t, fields, "keyword")
	assert.Equal(t, "content_id", ve.Fields[0].Field)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestValidateSubmission_KeywordTruncatedNotRejected(t *testing.T) {
	c := validCandidate()
	c.Keyword = strings.Repeat("é", 45)

	nr, err := ValidateSubmission(c)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", KeywordMaxRunes), nr.Keyword)
}

func TestNormalizeKeyword_TruncatesBeforeTrim(t *testing.T) {
	// 29 letters, a space, then more: truncation keeps the space, trim drops it.
	in := strings.Repeat("a", 29) + " tail"
	assert.Equal(t, strings.Repeat("a", 29), NormalizeKeyword(in))
	assert.Equal(t, "Wow", NormalizeKeyword("  Wow  "))
}

func TestValidateSubmission_AcceptanceLaw(t *testing.T) {
	keywords := []string{"", " ", "x", "  Épique ", strings.Repeat("k", 31)}
	emojis := append([]string{"", "🍕", "😍 "}, Emojis...)

	for rating := -1; rating <= 11; rating++ {
		for _, emoji := range emojis {
			for _, kw := range keywords {
				c := Candidate{ContentID: contentID, Rating: intPtr(rating), Emoji: emoji, Keyword: kw}
				want := rating >= 1 && rating <= 10 &&
					IsReviewEmoji(strings.TrimSpace(emoji)) &&
					len(NormalizeKeyword(kw)) > 0

				_, err := ValidateSubmission(c)
				assert.Equal(t, want, err == nil, "rating=%d emoji=%q keyword=%q", rating, emoji, kw)
			}
		}
	}
}

func TestValidateSubmission_OptionalFields(t *testing.T) {
	c := validCandidate()
	c.Body = strPtr(strings.Repeat("b", 5001))
	c.Context = strPtr(strings.Repeat("c", 101))
	c.AudioURL = strPtr("not a url")

	_, err := ValidateSubmission(c)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ElementsMatch(t, []string{"body", "context", "audio_url"}, fieldNames(ve))

	c = validCandidate()
	c.AudioURL = strPtr("https://cdn.projetavis.example/audio/1.webm")
	c.IsEphemeral = boolPtr(true)
	nr, err := ValidateSubmission(c)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.projetavis.example/audio/1.webm", *nr.AudioURL)
	assert.True(t, nr.IsEphemeral)
}

func fieldNames(ve *ValidationError) []string {
	out := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		out = append(out, f.Field)
	}
	return out
}

// ─── Review.Normalize ───────────────────────────────────────────────────────

func TestReview_Normalize(t *testing.T) {
	wrong := t0.Add(72 * time.Hour)

	eph := Review{IsEphemeral: true, CreatedAt: t0, ExpiresAt: &wrong}
	eph.Normalize()
	require.NotNil(t, eph.ExpiresAt)
	assert.Equal(t, t0.Add(EphemeralLifetime), *eph.ExpiresAt)

	perm := Review{CreatedAt: t0, ExpiresAt: &wrong}
	perm.Normalize()
	assert.Nil(t, perm.ExpiresAt)
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestIsVisible_PermanentAlwaysVisible(t *testing.T) {
	r := Review{CreatedAt: t0}
	for _, d := range []time.Duration{-time.Hour, 0, 25 * time.Hour, 10 * 365 * 24 * time.Hour} {
		assert.True(t, IsVisible(r, t0.Add(d)))
	}
	assert.Nil(t, RemainingDays(r, t0))
	assert.Equal(t, ExpiryPermanent, ExpiryStateOf(r, t0))
}

func TestIsVisible_Ephemeral(t *testing.T) {
	r := Review{IsEphemeral: true, CreatedAt: t0}
	r.Normalize()
	exp := *r.ExpiresAt

	assert.True(t, IsVisible(r, exp.Add(-time.Nanosecond)))
	assert.False(t, IsVisible(r, exp))
	assert.False(t, IsVisible(r, exp.Add(time.Second)))

	assert.Equal(t, 0, *RemainingDays(r, exp))
	assert.Equal(t, 1, *RemainingDays(r, exp.Add(-24*time.Hour)))
	assert.Equal(t, 0, *RemainingDays(r, exp.Add(48*time.Hour)))

	assert.Equal(t, ExpiryActive, ExpiryStateOf(r, t0))
	assert.Equal(t, ExpiryAboutToExpire, ExpiryStateOf(r, t0.Add(time.Hour)))
	assert.Equal(t, ExpiryExpired, ExpiryStateOf(r, exp))
}

func TestIsVisible_EphemeralWithoutExpiry(t *testing.T) {
	r := Review{IsEphemeral: true, CreatedAt: t0}
	assert.True(t, IsVisible(r, t0.Add(23*time.Hour)))
	assert.False(t, IsVisible(r, t0.Add(24*time.Hour)))
}

func TestVisibleOnly(t *testing.T) {
	eph := Review{ID: "e", IsEphemeral: true, CreatedAt: t0}
	eph.Normalize()
	perm := Review{ID: "p", CreatedAt: t0.Add(-time.Hour)}

	got := VisibleOnly([]Review{eph, perm}, t0.Add(25*time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, "p", got[0].ID)
}

// ─── Stats ──────────────────────────────────────────────────────────────────

func rv(rating *int, emoji, keyword string) Review {
	r := Review{Rating: rating}
	if emoji != "" {
		r.Emoji = strPtr(emoji)
	}
	if keyword != "" {
		r.Keyword = strPtr(keyword)
	}
	return r
}

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil)
	assert.Equal(t, 0, s.TotalReviews)
	assert.Nil(t, s.AverageRating)
	assert.Len(t, s.RatingDistribution, 10)
	assert.Empty(t, s.TopKeywords)
	assert.NotNil(t, s.TopKeywords)
}

func TestComputeStats_Average(t *testing.T) {
	s := ComputeStats([]Review{
		rv(intPtr(8), "😍", "Captivant"),
		rv(intPtr(7), "😊", "Beau"),
		rv(nil, "🤔", "Long"),
	})

	assert.Equal(t, 3, s.TotalReviews)
	assert.Equal(t, 2, s.RatedReviews)
	require.NotNil(t, s.AverageRating)
	assert.Equal(t, 7.5, *s.AverageRating)
	assert.Equal(t, 1, s.RatingDistribution[8])
	assert.Equal(t, 1, s.RatingDistribution[7])
	assert.Equal(t, 0, s.RatingDistribution[10])
}

func TestComputeStats_Rounding(t *testing.T) {
	s := ComputeStats([]Review{rv(intPtr(7), "", ""), rv(intPtr(8), "", ""), rv(intPtr(8), "", "")})
	assert.Equal(t, 7.7, *s.AverageRating)
	assert.InDelta(t, 7.6667, *s.RawAverageRating, 0.001)
}

func TestComputeStats_Ranking(t *testing.T) {
	visible := []Review{
		rv(nil, "🎬", "captivant"),
		rv(nil, "😍", "Lent"),
		rv(nil, "😍", "Captivant"),
		rv(nil, "🎬", "Épique"),
		rv(nil, "🤯", "lent"),
		rv(nil, "😢", "Beau"),
		rv(nil, "😐", "Drôle"),
		rv(nil, "📚", "Sombre"),
	}
	s := ComputeStats(visible)

	assert.Equal(t, []RankedTerm{
		{Term: "captivant", Count: 2},
		{Term: "Lent", Count: 2},
		{Term: "Épique", Count: 1},
		{Term: "Beau", Count: 1},
		{Term: "Drôle", Count: 1},
	}, s.TopKeywords)

	assert.Equal(t, []RankedTerm{
		{Term: "🎬", Count: 2},
		{Term: "😍", Count: 2},
		{Term: "🤯", Count: 1},
		{Term: "😢", Count: 1},
		{Term: "😐", Count: 1},
	}, s.TopEmojis)
}

func TestComputeStats_Idempotent(t *testing.T) {
	visible := []Review{rv(intPtr(3), "😠", "Bof"), rv(intPtr(9), "🎧", "Wow"), rv(intPtr(9), "🎧", "wow")}
	assert.Equal(t, ComputeStats(visible), ComputeStats(visible))
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindPermissionDenied, KindOf(ErrAnonymousNotConfirmed))
	assert.Equal(t, KindUniquenessConflict, KindOf(errors.Join(errors.New("x"), ErrUniquenessConflict)))
	assert.Equal(t, KindTransientStore, KindOf(ErrTransientStore))
	assert.Equal(t, KindUnknownContent, KindOf(ErrUnknownContent))
	assert.Equal(t, KindOther, KindOf(errors.New("boom")))
	assert.True(t, Retryable(ErrTransientStore))
	assert.False(t, Retryable(ErrUniquenessConflict))
}

func TestContentType_Valid(t *testing.T) {
	assert.True(t, ContentPodcast.Valid())
	assert.False(t, ContentType("book").Valid())
}
