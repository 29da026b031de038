package federation

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/quillhost/quill/domain"
)

const publicAudience = "https://www.w3.org/ns/activitystreams#Public"

// BuildPostObject derives the federation representation of a post on
// demand; it is never persisted as its own table. The updated timestamp is
// included only when a strictly later publish time exists, so re-saves
// that keep the publish time do not produce Update noise.
func (s *Service) BuildPostObject(post *domain.Post, actor *domain.Actor) map[string]interface{} {
	content := post.Content
	if post.Title != "" {
		content = fmt.Sprintf("<h1>%s</h1>%s", post.Title, post.Content)
	}

	published := post.FirstPublishedAt
	if published == nil {
		published = post.PublishedAt
	}

	obj := map[string]interface{}{
		"id":           post.ObjectURI,
		"type":         "Article",
		"attributedTo": actor.IRI,
		"name":         post.Title,
		"content":      content,
		"to":           []string{publicAudience},
		"cc":           []string{actor.FollowersURI},
	}
	if published != nil {
		obj["published"] = published.UTC().Format(time.RFC3339)
	}
	if post.PublishedAt != nil && published != nil && post.PublishedAt.After(*published) {
		obj["updated"] = post.PublishedAt.UTC().Format(time.RFC3339)
	}
	return obj
}

// SendPostToFollowers broadcasts a post lifecycle event to every accepted
// follower, preferring shared inboxes so one remote instance receives one
// delivery. A local actor without stored key material cannot sign, so the
// broadcast is skipped rather than failed.
func (s *Service) SendPostToFollowers(slug string, postId uuid.UUID, isDelete bool, isUpdate bool) error {
	actor, err := s.LocalActorBySlug(slug)
	if err != nil {
		return err
	}
	if actor.PrivateKeyPem == "" {
		log.Printf("Outbox: actor %s has no signing keys, skipping delivery", actor.Handle())
		return nil
	}

	err, post := s.Db.ReadPostById(postId)
	if err != nil || post == nil {
		return fmt.Errorf("post %s not found: %w", postId, err)
	}

	var activity map[string]interface{}
	switch {
	case isDelete:
		activity = s.wrapActivity("Delete", post.ObjectURI+"#delete", actor, map[string]interface{}{
			"id":   post.ObjectURI,
			"type": "Tombstone",
		})
	case isUpdate:
		activity = s.wrapActivity("Update", post.ObjectURI+"#updates/"+stableRevision(post), actor, s.BuildPostObject(post, actor))
	default:
		activity = s.wrapActivity("Create", post.ObjectURI+"#create", actor, s.BuildPostObject(post, actor))
	}

	return s.deliverToFollowers(actor, activity)
}

// SendProfileUpdate broadcasts an Update(Person) after a blog edits its
// name or description.
func (s *Service) SendProfileUpdate(slug string) error {
	actor, err := s.LocalActorBySlug(slug)
	if err != nil {
		return err
	}
	if actor.PrivateKeyPem == "" {
		return nil
	}

	person := map[string]interface{}{
		"id":                actor.IRI,
		"type":              string(actor.Type),
		"preferredUsername": actor.Username,
		"name":              actor.Name,
		"summary":           actor.Bio,
		"inbox":             actor.InboxURI,
		"followers":         actor.FollowersURI,
	}
	activity := s.wrapActivity("Update", fmt.Sprintf("%s#updates/%d", actor.IRI, time.Now().Unix()), actor, person)

	return s.deliverToFollowers(actor, activity)
}

// SendAccept answers a Follow synchronously; the handshake is not complete
// until the remote side sees it.
func (s *Service) SendAccept(localActor *domain.Actor, follower *domain.Actor, followIRI string) error {
	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("https://%s/activities/%s", s.Conf.Conf.SslDomain, uuid.New().String()),
		"type":     "Accept",
		"actor":    localActor.IRI,
		"object": map[string]interface{}{
			"id":     followIRI,
			"type":   "Follow",
			"actor":  follower.IRI,
			"object": localActor.IRI,
		},
	}

	return s.Sender.Send(accept, preferredInbox(follower), localActor)
}

func (s *Service) wrapActivity(activityType string, id string, actor *domain.Actor, object interface{}) map[string]interface{} {
	return map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        id,
		"type":      activityType,
		"actor":     actor.IRI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        []string{publicAudience},
		"cc":        []string{actor.FollowersURI},
		"object":    object,
	}
}

// deliverToFollowers queues one delivery per distinct inbox, never to this
// server's own origin.
func (s *Service) deliverToFollowers(actor *domain.Actor, activity map[string]interface{}) error {
	err, followers := s.Db.ReadAcceptedFollowers(actor.Id)
	if err != nil {
		log.Printf("Outbox: failed to read followers: %v", err)
		return nil
	}
	if followers == nil || len(*followers) == 0 {
		return nil
	}

	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	seen := map[string]bool{}
	queued := 0
	for _, follow := range *followers {
		err, follower := s.Db.ReadActorById(follow.FollowerId)
		if err != nil || follower == nil {
			log.Printf("Outbox: failed to resolve follower %s: %v", follow.FollowerId, err)
			continue
		}

		inbox := preferredInbox(follower)
		if inbox == "" || seen[inbox] || s.isLocalIRI(inbox) {
			continue
		}
		seen[inbox] = true

		item := &domain.DeliveryQueueItem{
			Id:           uuid.New(),
			InboxURI:     inbox,
			ActorId:      actor.Id,
			ActivityJSON: string(activityJSON),
			NextRetryAt:  time.Now(),
			CreatedAt:    time.Now(),
		}
		if err := s.Db.EnqueueDelivery(item); err != nil {
			log.Printf("Outbox: failed to queue delivery to %s: %v", inbox, err)
			continue
		}
		queued++
	}

	log.Printf("Outbox: queued %s to %d inboxes for %s", activity["type"], queued, actor.Handle())
	return nil
}

// preferredInbox picks the shared inbox when the remote instance offers
// one, deduplicating delivery across followers on the same server.
func preferredInbox(actor *domain.Actor) string {
	if actor.SharedInboxURI != "" {
		return actor.SharedInboxURI
	}
	return actor.InboxURI
}

// stableRevision keys an Update activity off the post's publish time so
// re-deliveries of the same revision share an id.
func stableRevision(post *domain.Post) string {
	if post.PublishedAt == nil {
		return "0"
	}
	return fmt.Sprintf("%d", post.PublishedAt.Unix())
}

// httpSender signs and POSTs an activity to a remote inbox.
type httpSender struct {
	service *Service
}

func (h *httpSender) Send(activity map[string]interface{}, inboxURI string, from *domain.Actor) error {
	if from.PrivateKeyPem == "" {
		// Cannot sign, skip delivery rather than erroring.
		log.Printf("Outbox: actor %s has no signing keys, skipping %s", from.Handle(), inboxURI)
		return nil
	}

	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	hash := sha256.Sum256(activityJSON)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequest("POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	privateKey, err := ParsePrivateKey(from.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	keyID := from.IRI + "#main-key"
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := h.service.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	log.Printf("Outbox: sent %v to %s (status: %d)", activity["type"], inboxURI, resp.StatusCode)
	return nil
}
