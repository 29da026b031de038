package domain

import (
	"time"

	"github.com/google/uuid"
)

// Instance represents a remote server we have federated with at least once.
// Host never contains '@'.
type Instance struct {
	Host            string
	Software        string // empty when discovery failed
	SoftwareVersion string // "major.minor.patch", empty when unknown
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Following is a directed follow edge between two actors, keyed by the
// inbound Follow activity IRI so duplicate deliveries collapse onto one row.
type Following struct {
	IRI        string
	FollowerId uuid.UUID
	FolloweeId uuid.UUID
	AcceptedAt *time.Time // nil while pending
	CreatedAt  time.Time
}

// Accepted reports whether the local side already emitted an Accept.
func (f *Following) Accepted() bool {
	return f.AcceptedAt != nil
}

// NotificationType classifies an externally observed reaction
type NotificationType string

const (
	NotificationMention    NotificationType = "mention"
	NotificationQuote      NotificationType = "quote"
	NotificationReply      NotificationType = "reply"
	NotificationAnnounce   NotificationType = "announce"
	NotificationLike       NotificationType = "like"
	NotificationEmojiReact NotificationType = "emoji_react"
)

// DeliveryQueueItem is one pending outbound delivery. ActorId names the
// local actor whose key signs the request.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActorId      uuid.UUID
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// Notification records one remote reaction to a local post. ActivityIRI and
// ObjectIRI are the delete keys for Undo/Delete handling; remote objects are
// never re-resolved on removal.
type Notification struct {
	Id          uuid.UUID
	Type        NotificationType
	ActorId     uuid.UUID
	ActivityIRI string
	ObjectIRI   string
	PostId      uuid.UUID
	Content     string // emoji glyph or reply/quote body
	URL         string
	IsRead      bool
	CreatedAt   time.Time
}
