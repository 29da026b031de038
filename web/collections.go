package web

import (
	"encoding/json"
	"fmt"
)

const outboxPageSize = 20

// GetOutbox renders the most recent published posts as Create wraps.
func (h *Handler) GetOutbox(slug string) (error, string) {
	actor, err := h.Service.LocalActorBySlug(slug)
	if err != nil {
		return err, "{}"
	}

	err, posts := h.Service.Db.ReadPublishedPostsByBlogId(*actor.BlogId, outboxPageSize)
	if err != nil {
		return err, "{}"
	}

	items := []map[string]interface{}{}
	if posts != nil {
		for i := range *posts {
			post := &(*posts)[i]
			items = append(items, map[string]interface{}{
				"id":        post.ObjectURI + "#create",
				"type":      "Create",
				"actor":     actor.IRI,
				"published": formatTime(post.FirstPublishedAt),
				"object":    h.Service.BuildPostObject(post, actor),
			})
		}
	}

	return marshalCollection(map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           actor.IRI + "/outbox",
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	})
}

// GetFollowers renders a flat list of accepted follower IRIs.
func (h *Handler) GetFollowers(slug string) (error, string) {
	actor, err := h.Service.LocalActorBySlug(slug)
	if err != nil {
		return err, "{}"
	}

	err, follows := h.Service.Db.ReadAcceptedFollowers(actor.Id)
	if err != nil {
		return err, "{}"
	}

	items := []string{}
	if follows != nil {
		for _, follow := range *follows {
			err, follower := h.Service.Db.ReadActorById(follow.FollowerId)
			if err != nil || follower == nil {
				continue
			}
			items = append(items, follower.IRI)
		}
	}

	return marshalCollection(map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           actor.FollowersURI,
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	})
}

// GetFollowing renders an empty collection; blogs never follow anyone.
func (h *Handler) GetFollowing(slug string) (error, string) {
	actor, err := h.Service.LocalActorBySlug(slug)
	if err != nil {
		return err, "{}"
	}

	return marshalCollection(map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           actor.IRI + "/following",
		"type":         "OrderedCollection",
		"totalItems":   0,
		"orderedItems": []string{},
	})
}

func marshalCollection(collection map[string]interface{}) (error, string) {
	jsonBytes, err := json.Marshal(collection)
	if err != nil {
		return fmt.Errorf("failed to marshal collection: %w", err), "{}"
	}
	return nil, string(jsonBytes)
}
