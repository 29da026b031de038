package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Blog is one tenant of the service. Exactly one local Actor row exists per
// blog; the slug doubles as the actor username.
type Blog struct {
	Id          uuid.UUID
	Slug        string
	Title       string
	Description string
	CreatedAt   time.Time
}

// Post is a blog entry. ObjectURI is the canonical federation IRI; the
// ActivityPub object representation is derived from the row on demand and
// never persisted separately.
type Post struct {
	Id               uuid.UUID
	BlogId           uuid.UUID
	Title            string
	Content          string
	ObjectURI        string
	PublishedAt      *time.Time // nil while draft
	FirstPublishedAt *time.Time
	CreatedAt        time.Time
}

// Published reports whether the post is visible to federation.
func (p *Post) Published() bool {
	return p.PublishedAt != nil
}

func (p *Post) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tBlogId: %s \n\tTitle: %s \n\tCreatedAt: %s)", p.Id, p.BlogId, p.Title, p.CreatedAt)
}
