package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorType is the ActivityPub actor type
type ActorType string

const (
	ActorTypePerson       ActorType = "Person"
	ActorTypeService      ActorType = "Service"
	ActorTypeGroup        ActorType = "Group"
	ActorTypeOrganization ActorType = "Organization"
	ActorTypeApplication  ActorType = "Application"
)

// Actor represents a federation identity, either local (backed by a blog)
// or remote (cached from another server).
type Actor struct {
	Id           uuid.UUID
	IRI          string // canonical actor URL, globally unique
	Type         ActorType
	Username     string
	InstanceHost string
	HandleHost   string
	BlogId       *uuid.UUID // nil for remote actors

	Name      string
	Bio       string // sanitized HTML
	AvatarURL string
	HeaderURL string
	Fields    map[string]string // profile metadata fields
	Emojis    map[string]string // shortcode -> icon URL
	Tags      map[string]string // lowercased hashtag name -> URL

	InboxURI       string
	SharedInboxURI string
	FollowersURI   string
	FeaturedURI    string

	// Key material for local actors; remote actors carry only the public half.
	PublicKeyPem  string
	PrivateKeyPem string

	SuccessorId *uuid.UUID

	FolloweesCount int
	FollowersCount int
	PostsCount     int

	PublishedAt time.Time
	UpdatedAt   time.Time
}

// IsLocal reports whether the actor is backed by a blog on this server.
func (a *Actor) IsLocal() bool {
	return a.BlogId != nil
}

// Handle returns the human-readable @user@host identifier.
func (a *Actor) Handle() string {
	host := a.HandleHost
	if host == "" {
		host = a.InstanceHost
	}
	return fmt.Sprintf("@%s@%s", a.Username, host)
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tIRI: %s \n\tHandle: %s \n\tInbox: %s)", a.Id, a.IRI, a.Handle(), a.InboxURI)
}
