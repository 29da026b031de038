package federation

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quillhost/quill/domain"
	"github.com/quillhost/quill/util"
	"golang.org/x/sync/errgroup"
)

const (
	actorCacheTTL        = 24 * time.Hour
	successorDepthLimit  = 5
	collectionFetchLimit = 1 << 20
)

// ActorDoc is the JSON shape of a remote ActivityPub actor document.
type ActorDoc struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	URL               string      `json:"url"`
	Published         string      `json:"published"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Following         string      `json:"following"`
	Featured          string      `json:"featured"`
	MovedTo           string      `json:"movedTo"`
	AlsoKnownAs       []string    `json:"alsoKnownAs"`
	Icon              *imageDoc   `json:"icon"`
	Image             *imageDoc   `json:"image"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	Attachment []struct {
		Type  string `json:"type"`
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"attachment"`
	Tag []tag `json:"tag"`
}

// GetPersistedActor looks up an actor by IRI without any network I/O.
func (s *Service) GetPersistedActor(iri string) (*domain.Actor, error) {
	err, actor := s.Db.ReadActorByIRI(iri)
	if actor == nil {
		return nil, err
	}
	return actor, nil
}

// ResolveActor returns a cached actor when fresh, otherwise fetches and
// persists it. A (nil, nil) return means the actor could not be identified
// and the caller must skip the surrounding activity.
func (s *Service) ResolveActor(iri string) (*domain.Actor, error) {
	err, cached := s.Db.ReadActorByIRI(iri)
	if err == nil && cached != nil {
		if cached.IsLocal() || time.Since(cached.UpdatedAt) < actorCacheTTL {
			return cached, nil
		}
	}

	doc, err := s.fetchActorDocument(iri)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("failed to fetch actor %s: %w", iri, err)
	}
	return s.PersistActor(doc)
}

// PersistActor is the central resolve-or-create routine. It upserts the
// actor row by IRI with field-level last write wins. Only a failure to
// determine the actor's identity is a hard stop, reported as (nil, nil);
// every enrichment fetch silently degrades to empty data.
func (s *Service) PersistActor(doc *ActorDoc) (*domain.Actor, error) {
	return s.persistActorBounded(doc, map[string]bool{}, 0)
}

func (s *Service) persistActorBounded(doc *ActorDoc, visited map[string]bool, depth int) (*domain.Actor, error) {
	if doc == nil || doc.ID == "" {
		return nil, nil
	}

	// A local-origin IRI must resolve to an already persisted local actor.
	// Creating one here would fabricate a duplicate from a self-referential
	// activity.
	if s.isLocalIRI(doc.ID) {
		err, local := s.Db.ReadActorByIRI(doc.ID)
		if err != nil || local == nil || !local.IsLocal() {
			return nil, nil
		}
		return local, nil
	}

	host, err := util.ExtractHost(doc.ID)
	if err != nil {
		return nil, nil
	}
	if _, err := s.PersistInstance(host, true); err != nil {
		log.Printf("Actors: failed to persist instance %s: %v", host, err)
	}

	// Identity is the one hard requirement.
	if doc.PreferredUsername == "" {
		return nil, nil
	}

	profile := s.fetchActorProfile(doc)
	tags, emojis := collectTagMaps(doc.Tag)

	now := time.Now()
	actor := &domain.Actor{
		Id:             uuid.New(),
		IRI:            doc.ID,
		Type:           actorType(doc.Type),
		Username:       doc.PreferredUsername,
		InstanceHost:   host,
		HandleHost:     host,
		Name:           doc.Name,
		Bio:            util.SanitizeHTML(doc.Summary),
		AvatarURL:      profile.avatarURL,
		HeaderURL:      profile.headerURL,
		Fields:         profile.fields,
		Emojis:         emojis,
		Tags:           tags,
		InboxURI:       doc.Inbox,
		SharedInboxURI: doc.Endpoints.SharedInbox,
		FollowersURI:   doc.Followers,
		FeaturedURI:    doc.Featured,
		PublicKeyPem:   doc.PublicKey.PublicKeyPem,
		FolloweesCount: profile.followeesCount,
		FollowersCount: profile.followersCount,
		PostsCount:     profile.postsCount,
		PublishedAt:    now,
		UpdatedAt:      now,
	}

	if successor := s.resolveSuccessor(doc, visited, depth); successor != nil {
		actor.SuccessorId = &successor.Id
	}

	if err := s.Db.UpsertActorByIRI(actor); err != nil {
		return nil, fmt.Errorf("failed to upsert actor %s: %w", doc.ID, err)
	}

	// Re-read so the caller gets the settled row (existing id, key material).
	err, persisted := s.Db.ReadActorByIRI(doc.ID)
	if err != nil || persisted == nil {
		return nil, fmt.Errorf("failed to read back actor %s: %w", doc.ID, err)
	}
	return persisted, nil
}

type actorProfile struct {
	avatarURL      string
	headerURL      string
	fields         map[string]string
	followersCount int
	followeesCount int
	postsCount     int
}

// fetchActorProfile gathers the best-effort profile data: attachment
// fields, avatar/header URLs and the collection summaries. The fetches are
// independent, so they fan out concurrently and individually degrade to
// empty values on failure.
func (s *Service) fetchActorProfile(doc *ActorDoc) actorProfile {
	profile := actorProfile{fields: map[string]string{}}

	for _, att := range doc.Attachment {
		if att.Type == "PropertyValue" && att.Name != "" {
			profile.fields[att.Name] = util.SanitizeHTML(att.Value)
		}
	}
	if doc.Icon != nil {
		profile.avatarURL = doc.Icon.resolveURL()
	}
	if doc.Image != nil {
		profile.headerURL = doc.Image.resolveURL()
	}

	var g errgroup.Group
	g.Go(func() error {
		profile.followersCount = s.fetchCollectionTotal(doc.Followers)
		return nil
	})
	g.Go(func() error {
		profile.followeesCount = s.fetchCollectionTotal(doc.Following)
		return nil
	})
	g.Go(func() error {
		profile.postsCount = s.fetchCollectionTotal(doc.Outbox)
		return nil
	})
	g.Wait()

	return profile
}

// fetchCollectionTotal reads totalItems of a collection; any failure is
// zero, never an error.
func (s *Service) fetchCollectionTotal(collectionURI string) int {
	if collectionURI == "" {
		return 0
	}
	var collection struct {
		TotalItems int `json:"totalItems"`
	}
	if err := s.fetchActivityJSON(collectionURI, &collection); err != nil {
		return 0
	}
	if collection.TotalItems < 0 {
		return 0
	}
	return collection.TotalItems
}

// resolveSuccessor follows an actor migration. The successor is trusted
// only when its alias list names this actor, and the chain is bounded by a
// visited set and a fixed depth so hostile migration loops terminate.
func (s *Service) resolveSuccessor(doc *ActorDoc, visited map[string]bool, depth int) *domain.Actor {
	if doc.MovedTo == "" || depth >= successorDepthLimit {
		return nil
	}
	if visited[doc.ID] {
		return nil
	}
	visited[doc.ID] = true

	successorDoc, err := s.fetchActorDocument(doc.MovedTo)
	if err != nil {
		log.Printf("Actors: failed to fetch successor %s: %v", doc.MovedTo, err)
		return nil
	}

	aliased := false
	for _, alias := range successorDoc.AlsoKnownAs {
		if alias == doc.ID {
			aliased = true
			break
		}
	}
	if !aliased {
		return nil
	}

	successor, err := s.persistActorBounded(successorDoc, visited, depth+1)
	if err != nil || successor == nil {
		return nil
	}
	return successor
}

// fetchActorDocument fetches and decodes a remote actor document.
func (s *Service) fetchActorDocument(iri string) (*ActorDoc, error) {
	var doc ActorDoc
	if err := s.fetchActivityJSON(iri, &doc); err != nil {
		return nil, err
	}
	if doc.ID == "" || doc.Inbox == "" {
		return nil, fmt.Errorf("actor %s missing required fields", iri)
	}
	return &doc, nil
}

// fetchActivityJSON GETs a document with the ActivityPub accept header.
func (s *Service) fetchActivityJSON(uri string, out interface{}) error {
	req, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s failed with status: %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, collectionFetchLimit))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return json.Unmarshal(body, out)
}

type imageDoc struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func (i *imageDoc) resolveURL() string {
	if i == nil {
		return ""
	}
	if _, err := url.ParseRequestURI(i.URL); err != nil {
		return ""
	}
	return i.URL
}

// collectTagMaps splits an actor's tag list into the hashtag and emoji
// maps. Hashtag names are lower-cased without the leading '#'; emoji
// shortcodes keep their icon URL only when it parses as a usable URL.
func collectTagMaps(tags []tag) (map[string]string, map[string]string) {
	hashtags := map[string]string{}
	emojis := map[string]string{}
	for _, t := range tags {
		switch t.Type {
		case "Hashtag":
			name := strings.ToLower(strings.TrimPrefix(t.Name, "#"))
			if name != "" && t.Href != "" {
				hashtags[name] = t.Href
			}
		case "Emoji":
			if t.Icon == nil || t.Icon.URL == "" {
				continue
			}
			if _, err := url.ParseRequestURI(t.Icon.URL); err != nil {
				continue
			}
			shortcode := trimShortcode(t.Name)
			if shortcode != "" {
				emojis[shortcode] = t.Icon.URL
			}
		}
	}
	return hashtags, emojis
}

func isActorType(t string) bool {
	switch domain.ActorType(t) {
	case domain.ActorTypePerson, domain.ActorTypeService, domain.ActorTypeGroup,
		domain.ActorTypeOrganization, domain.ActorTypeApplication:
		return true
	}
	return false
}

func actorType(t string) domain.ActorType {
	switch domain.ActorType(t) {
	case domain.ActorTypePerson, domain.ActorTypeService, domain.ActorTypeGroup,
		domain.ActorTypeOrganization, domain.ActorTypeApplication:
		return domain.ActorType(t)
	}
	return domain.ActorTypePerson
}
