package federation

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/quillhost/quill/domain"
	"github.com/quillhost/quill/util"
)

// ProcessActivity dispatches a verified inbound activity. The dispatch is
// exhaustive over the known kinds; unsupported types are logged and
// acknowledged. Handlers return an error only for conditions the caller
// should surface as a 4xx; anything the service simply cannot act on is a
// silent no-op, because remote servers retry aggressively on failure.
func (s *Service) ProcessActivity(activity *Activity) error {
	switch activity.Kind() {
	case KindFollow:
		return s.handleFollow(activity)
	case KindUndo:
		return s.handleUndo(activity)
	case KindCreate:
		return s.handleCreate(activity)
	case KindAnnounce:
		return s.handleAnnounce(activity)
	case KindLike:
		return s.handleLike(activity)
	case KindEmojiReact:
		return s.handleEmojiReact(activity)
	case KindDelete:
		return s.handleDelete(activity)
	case KindUpdate:
		return s.handleUpdate(activity)
	case KindAccept:
		// Blogs never follow outward, so an Accept has nothing to confirm.
		return nil
	default:
		log.Printf("Inbox: Unsupported activity type: %s", activity.Type)
		return nil
	}
}

// handleFollow runs the inbound half of the follow handshake: persist the
// edge auto-approved, then answer with an Accept. Duplicate deliveries
// collapse on the unique constraints and must not re-send the Accept or
// touch counters.
func (s *Service) handleFollow(activity *Activity) error {
	follower, err := s.ResolveActor(activity.Actor)
	if err != nil || follower == nil {
		log.Printf("Inbox: skipping Follow, cannot resolve actor %s: %v", activity.Actor, err)
		return nil
	}

	followee := s.localActorFromIRI(activity.ObjectIRI())
	if followee == nil {
		log.Printf("Inbox: skipping Follow, no local actor for %s", activity.ObjectIRI())
		return nil
	}

	now := time.Now()
	follow := &domain.Following{
		IRI:        activity.ID,
		FollowerId: follower.Id,
		FolloweeId: followee.Id,
		AcceptedAt: &now, // auto-approve, no review state
		CreatedAt:  now,
	}

	err, inserted := s.Db.CreateFollow(follow)
	if err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}
	if !inserted {
		log.Printf("Inbox: duplicate Follow %s absorbed", activity.ID)
		return nil
	}

	s.updateFollowCounters(follower, followee, +1)

	if err := s.SendAccept(followee, follower, activity.ID); err != nil {
		log.Printf("Inbox: failed to send Accept to %s: %v", follower.Handle(), err)
	}

	log.Printf("Inbox: accepted follow from %s", follower.Handle())
	return nil
}

// handleUndo tears down whatever the wrapped activity built. The wrapped
// object is matched by its recorded IRI together with the acting actor, so
// a spoofed object id cannot remove someone else's state.
func (s *Service) handleUndo(activity *Activity) error {
	actor, err := s.ResolveActor(activity.Actor)
	if err != nil || actor == nil {
		return nil
	}

	var embedded embeddedActivity
	if err := json.Unmarshal(activity.Object, &embedded); err != nil || embedded.Type == "" {
		// A bare IRI names the original activity; remove whatever it keyed.
		iri := activity.ObjectIRI()
		if iri == "" {
			return nil
		}
		s.undoFollowByIRI(iri, actor)
		s.Db.DeleteNotificationsByActivityIRI(iri)
		return nil
	}

	switch ActivityKind(embedded.Type) {
	case KindFollow:
		s.undoFollowByIRI(embedded.ID, actor)
	case KindAnnounce:
		if post := s.localPostFromIRI(rawObjectIRI(embedded.Object)); post != nil {
			s.Db.DeleteNotificationMatch(domain.NotificationAnnounce, post.Id, actor.Id, "")
		}
	case KindLike:
		if post := s.localPostFromIRI(rawObjectIRI(embedded.Object)); post != nil {
			s.Db.DeleteNotificationMatch(domain.NotificationLike, post.Id, actor.Id, "")
		}
	case KindEmojiReact:
		if post := s.localPostFromIRI(rawObjectIRI(embedded.Object)); post != nil {
			s.Db.DeleteNotificationMatch(domain.NotificationEmojiReact, post.Id, actor.Id, embedded.Content)
		}
	default:
		log.Printf("Inbox: ignoring Undo of %s", embedded.Type)
	}
	return nil
}

// undoFollowByIRI resolves the edge by the original Follow activity IRI and
// the follower id, deletes it and settles both counters. Pending and
// accepted follows are symmetric on removal.
func (s *Service) undoFollowByIRI(iri string, follower *domain.Actor) {
	err, follow := s.Db.ReadFollowByIRIAndFollower(iri, follower.Id)
	if err != nil || follow == nil {
		return
	}

	if err := s.Db.DeleteFollowByIRI(follow.IRI); err != nil {
		log.Printf("Inbox: failed to delete follow %s: %v", follow.IRI, err)
		return
	}

	err, followee := s.Db.ReadActorById(follow.FolloweeId)
	if err != nil || followee == nil {
		return
	}
	s.updateFollowCounters(follower, followee, -1)
	log.Printf("Inbox: removed follow from %s", follower.Handle())
}

// updateFollowCounters applies the two-policy counter update: the local
// followee is recomputed from the edge table, the remote follower's
// followee counter moves by a signed delta since its row is only a cached
// snapshot.
func (s *Service) updateFollowCounters(follower *domain.Actor, followee *domain.Actor, delta int) {
	if followee.IsLocal() {
		if err := s.Db.RecomputeFollowersCount(followee.Id); err != nil {
			log.Printf("Inbox: failed to recompute followers count: %v", err)
		}
	} else {
		if err := s.Db.AdjustFollowersCount(followee.Id, delta); err != nil {
			log.Printf("Inbox: failed to adjust followers count: %v", err)
		}
	}
	if !follower.IsLocal() {
		if err := s.Db.AdjustFolloweesCount(follower.Id, delta); err != nil {
			log.Printf("Inbox: failed to adjust followees count: %v", err)
		}
	}
}

// handleCreate classifies an inbound Note/Article into a quote or reply
// notification against a local post.
func (s *Service) handleCreate(activity *Activity) error {
	var note noteObject
	if err := json.Unmarshal(activity.Object, &note); err != nil {
		return nil
	}
	if !isNoteLike(note.Type) || note.ID == "" {
		return nil
	}

	actor, err := s.ResolveActor(activity.Actor)
	if err != nil || actor == nil {
		return nil
	}

	if note.QuoteURL != "" {
		if post := s.localPostFromIRI(note.QuoteURL); post != nil {
			return s.createNotification(domain.NotificationQuote, actor, activity.ID, note.ID, post.Id, note.Content, note.URL)
		}
	}

	if note.InReplyTo != "" {
		if post := s.localPostFromIRI(note.InReplyTo); post != nil {
			return s.createNotification(domain.NotificationReply, actor, activity.ID, note.ID, post.Id, note.Content, note.URL)
		}
	}

	return nil
}

func (s *Service) handleAnnounce(activity *Activity) error {
	actor, err := s.ResolveActor(activity.Actor)
	if err != nil || actor == nil {
		return nil
	}
	post := s.localPostFromIRI(activity.ObjectIRI())
	if post == nil {
		return nil
	}
	return s.createNotification(domain.NotificationAnnounce, actor, activity.ID, activity.ObjectIRI(), post.Id, "", "")
}

func (s *Service) handleLike(activity *Activity) error {
	actor, err := s.ResolveActor(activity.Actor)
	if err != nil || actor == nil {
		return nil
	}
	post := s.localPostFromIRI(activity.ObjectIRI())
	if post == nil {
		return nil
	}
	return s.createNotification(domain.NotificationLike, actor, activity.ID, activity.ObjectIRI(), post.Id, "", "")
}

func (s *Service) handleEmojiReact(activity *Activity) error {
	actor, err := s.ResolveActor(activity.Actor)
	if err != nil || actor == nil {
		return nil
	}
	post := s.localPostFromIRI(activity.ObjectIRI())
	if post == nil {
		return nil
	}
	return s.createNotification(domain.NotificationEmojiReact, actor, activity.ID, activity.ObjectIRI(), post.Id, activity.Content, "")
}

// handleDelete removes every notification referencing the deleted object.
// Matching is purely on the recorded IRI; the remote object may be long
// gone and is never re-resolved.
func (s *Service) handleDelete(activity *Activity) error {
	objectIRI := activity.ObjectIRI()
	if objectIRI == "" {
		return nil
	}
	if err := s.Db.DeleteNotificationsByObjectIRI(objectIRI); err != nil {
		log.Printf("Inbox: failed to clean notifications for %s: %v", objectIRI, err)
	}
	return nil
}

// handleUpdate refreshes the cached profile when a remote actor edits it.
// Object edits carry no notification semantics here.
func (s *Service) handleUpdate(activity *Activity) error {
	var obj struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(activity.Object, &obj); err != nil {
		return nil
	}

	if isActorType(obj.Type) && obj.ID == activity.Actor {
		doc, err := s.fetchActorDocument(activity.Actor)
		if err != nil {
			return nil
		}
		if _, err := s.PersistActor(doc); err != nil {
			log.Printf("Inbox: failed to refresh actor %s: %v", activity.Actor, err)
		}
	}
	return nil
}

func (s *Service) createNotification(nType domain.NotificationType, actor *domain.Actor, activityIRI, objectIRI string, postId uuid.UUID, content, noteURL string) error {
	notification := &domain.Notification{
		Id:          uuid.New(),
		Type:        nType,
		ActorId:     actor.Id,
		ActivityIRI: activityIRI,
		ObjectIRI:   objectIRI,
		PostId:      postId,
		Content:     content,
		URL:         noteURL,
		CreatedAt:   time.Now(),
	}
	if err := s.Db.CreateNotification(notification); err != nil {
		return fmt.Errorf("failed to create %s notification: %w", nType, err)
	}
	log.Printf("Inbox: recorded %s from %s", nType, actor.Handle())
	return nil
}

// localActorFromIRI resolves a local actor from an IRI on this origin by
// parsing the trailing path segment as the blog slug.
func (s *Service) localActorFromIRI(iri string) *domain.Actor {
	if iri == "" || !s.isLocalIRI(iri) {
		return nil
	}
	slug := util.ExtractPathSegment(iri)
	if slug == "" {
		return nil
	}
	actor, err := s.LocalActorBySlug(slug)
	if err != nil {
		return nil
	}
	return actor
}

// localPostFromIRI resolves an object IRI to a local post.
func (s *Service) localPostFromIRI(iri string) *domain.Post {
	if iri == "" || !s.isLocalIRI(iri) {
		return nil
	}
	err, post := s.Db.ReadPostByObjectURI(iri)
	if err != nil || post == nil {
		return nil
	}
	return post
}
