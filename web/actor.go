package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetActorDoc renders the served actor document for a local blog.
func (h *Handler) GetActorDoc(slug string) (error, string) {
	actor, err := h.Service.LocalActorBySlug(slug)
	if err != nil {
		return err, "{}"
	}

	name := actor.Name
	if name == "" {
		name = actor.Username
	}

	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        actor.IRI,
		"type":                      string(actor.Type),
		"preferredUsername":         actor.Username,
		"name":                      name,
		"summary":                   actor.Bio,
		"inbox":                     actor.InboxURI,
		"outbox":                    actor.IRI + "/outbox",
		"followers":                 actor.FollowersURI,
		"following":                 actor.IRI + "/following",
		"url":                       actor.IRI,
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]string{
			"sharedInbox": actor.SharedInboxURI,
		},
		"publicKey": map[string]string{
			"id":           actor.IRI + "#main-key",
			"owner":        actor.IRI,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}

// GetPostObject renders a single published post as its federation object.
func (h *Handler) GetPostObject(slug string, idStr string) (error, string) {
	postId, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid post id: %w", err), "{}"
	}

	actor, err := h.Service.LocalActorBySlug(slug)
	if err != nil {
		return err, "{}"
	}

	err, post := h.Service.Db.ReadPostById(postId)
	if err != nil || post == nil {
		return fmt.Errorf("post not found"), "{}"
	}
	if !post.Published() || post.BlogId != *actor.BlogId {
		return fmt.Errorf("post not found"), "{}"
	}

	obj := h.Service.BuildPostObject(post, actor)
	obj["@context"] = "https://www.w3.org/ns/activitystreams"

	jsonBytes, err := json.Marshal(obj)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
