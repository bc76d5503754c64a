package domain

// ContentType is the kind of media a content item is.
type ContentType string

const (
	ContentFilm    ContentType = "film"
	ContentSeries  ContentType = "series"
	ContentMusic   ContentType = "music"
	ContentPodcast ContentType = "podcast"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentFilm, ContentSeries, ContentMusic, ContentPodcast:
		return true
	}
	return false
}

// Content is a reviewable catalog entry. Only published contents accept reviews.
type Content struct {
	ID          string      `json:"id"`
	Type        ContentType `json:"type"`
	Title       string      `json:"title"`
	IsPublished bool        `json:"is_published"`
}
