package federation

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quillhost/quill/db"
	"github.com/quillhost/quill/domain"
	"github.com/quillhost/quill/util"
)

// sendRecorder captures outbound sends instead of hitting the network.
type sendRecorder struct {
	sent []recordedSend
}

type recordedSend struct {
	activity map[string]interface{}
	inboxURI string
	from     *domain.Actor
}

func (r *sendRecorder) Send(activity map[string]interface{}, inboxURI string, from *domain.Actor) error {
	r.sent = append(r.sent, recordedSend{activity: activity, inboxURI: inboxURI, from: from})
	return nil
}

func (r *sendRecorder) sentOfType(activityType string) []recordedSend {
	var out []recordedSend
	for _, s := range r.sent {
		if s.activity["type"] == activityType {
			out = append(out, s)
		}
	}
	return out
}

func setupTestService(t *testing.T) (*Service, *sendRecorder) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "quill_test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = "quill.example"
	conf.Conf.WithFed = true

	service := NewService(database, conf)
	recorder := &sendRecorder{}
	service.Sender = recorder
	return service, recorder
}

// seedLocalBlog creates a blog with its backing actor.
func seedLocalBlog(t *testing.T, s *Service, slug string) *domain.Actor {
	t.Helper()

	blog := &domain.Blog{
		Id:        uuid.New(),
		Slug:      slug,
		Title:     slug + "'s blog",
		CreatedAt: time.Now(),
	}
	if err := s.Db.CreateBlog(blog); err != nil {
		t.Fatalf("Failed to create blog: %v", err)
	}
	actor, err := s.EnsureLocalActor(blog)
	if err != nil {
		t.Fatalf("Failed to ensure local actor: %v", err)
	}
	return actor
}

// seedRemoteActor persists a fresh remote actor row so ResolveActor serves
// it from cache without any network fetch.
func seedRemoteActor(t *testing.T, s *Service, username string, host string) *domain.Actor {
	t.Helper()

	now := time.Now()
	actor := &domain.Actor{
		Id:           uuid.New(),
		IRI:          fmt.Sprintf("https://%s/users/%s", host, username),
		Type:         domain.ActorTypePerson,
		Username:     username,
		InstanceHost: host,
		HandleHost:   host,
		InboxURI:     fmt.Sprintf("https://%s/users/%s/inbox", host, username),
		PublishedAt:  now,
		UpdatedAt:    now,
	}
	if err := s.Db.UpsertActorByIRI(actor); err != nil {
		t.Fatalf("Failed to seed remote actor: %v", err)
	}
	err, persisted := s.Db.ReadActorByIRI(actor.IRI)
	if err != nil || persisted == nil {
		t.Fatalf("Failed to read back remote actor: %v", err)
	}
	return persisted
}

func seedPublishedPost(t *testing.T, s *Service, actor *domain.Actor, title string) *domain.Post {
	t.Helper()

	post := &domain.Post{
		Id:        uuid.New(),
		BlogId:    *actor.BlogId,
		Title:     title,
		Content:   "<p>content</p>",
		ObjectURI: fmt.Sprintf("https://quill.example/posts/%s/%s", actor.Username, uuid.NewString()),
		CreatedAt: time.Now(),
	}
	if err := s.Db.CreatePost(post); err != nil {
		t.Fatalf("Failed to create post: %v", err)
	}
	if err := s.Db.PublishPost(post.Id, time.Now()); err != nil {
		t.Fatalf("Failed to publish post: %v", err)
	}
	err, published := s.Db.ReadPostById(post.Id)
	if err != nil || published == nil {
		t.Fatalf("Failed to read back post: %v", err)
	}
	return published
}

func mustParse(t *testing.T, jsonData string) *Activity {
	t.Helper()
	activity, err := ParseActivity([]byte(jsonData))
	if err != nil {
		t.Fatalf("Failed to parse activity: %v", err)
	}
	return activity
}

func followJSON(id string, follower *domain.Actor, followee *domain.Actor) string {
	return fmt.Sprintf(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "%s",
		"type": "Follow",
		"actor": "%s",
		"object": "%s"
	}`, id, follower.IRI, followee.IRI)
}

func TestFollowHandshake(t *testing.T) {
	s, recorder := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	alice := seedRemoteActor(t, s, "alice", "mastodon.example")

	followIRI := "https://mastodon.example/follows/1"
	activity := mustParse(t, followJSON(followIRI, alice, bob))

	if err := s.ProcessActivity(activity); err != nil {
		t.Fatalf("Failed to process Follow: %v", err)
	}

	err, follow := s.Db.ReadFollowByIRI(followIRI)
	if err != nil || follow == nil {
		t.Fatalf("Expected follow row, got err %v", err)
	}
	if !follow.Accepted() {
		t.Error("Follow should be auto-accepted")
	}
	if follow.FollowerId != alice.Id || follow.FolloweeId != bob.Id {
		t.Error("Follow edge points at the wrong actors")
	}

	err, bobRow := s.Db.ReadActorById(bob.Id)
	if err != nil || bobRow == nil {
		t.Fatalf("Failed to read local actor: %v", err)
	}
	if bobRow.FollowersCount != 1 {
		t.Errorf("Expected followers_count 1, got %d", bobRow.FollowersCount)
	}

	err, aliceRow := s.Db.ReadActorById(alice.Id)
	if err != nil || aliceRow == nil {
		t.Fatalf("Failed to read remote actor: %v", err)
	}
	if aliceRow.FolloweesCount != 1 {
		t.Errorf("Expected followees_count 1, got %d", aliceRow.FolloweesCount)
	}

	accepts := recorder.sentOfType("Accept")
	if len(accepts) != 1 {
		t.Fatalf("Expected exactly 1 Accept, got %d", len(accepts))
	}
	if accepts[0].inboxURI != alice.InboxURI {
		t.Errorf("Accept went to '%s', expected '%s'", accepts[0].inboxURI, alice.InboxURI)
	}
	obj, ok := accepts[0].activity["object"].(map[string]interface{})
	if !ok || obj["id"] != followIRI {
		t.Error("Accept must embed the original Follow activity id")
	}
}

func TestFollowRedeliveryIsIdempotent(t *testing.T) {
	s, recorder := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	alice := seedRemoteActor(t, s, "alice", "mastodon.example")

	activity := mustParse(t, followJSON("https://mastodon.example/follows/1", alice, bob))
	for i := 0; i < 3; i++ {
		if err := s.ProcessActivity(activity); err != nil {
			t.Fatalf("Redelivery %d errored: %v", i, err)
		}
	}

	err, count := s.Db.CountAcceptedFollowers(bob.Id)
	if err != nil {
		t.Fatalf("Failed to count followers: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 follow edge after redelivery, got %d", count)
	}

	err, bobRow := s.Db.ReadActorById(bob.Id)
	if err != nil || bobRow == nil {
		t.Fatalf("Failed to read local actor: %v", err)
	}
	if bobRow.FollowersCount != 1 {
		t.Errorf("Expected followers_count 1 after redelivery, got %d", bobRow.FollowersCount)
	}

	if accepts := recorder.sentOfType("Accept"); len(accepts) != 1 {
		t.Errorf("Expected a single Accept across redeliveries, got %d", len(accepts))
	}
}

func TestUndoFollowSymmetry(t *testing.T) {
	s, _ := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	alice := seedRemoteActor(t, s, "alice", "mastodon.example")

	followIRI := "https://mastodon.example/follows/1"
	if err := s.ProcessActivity(mustParse(t, followJSON(followIRI, alice, bob))); err != nil {
		t.Fatalf("Failed to process Follow: %v", err)
	}

	undo := mustParse(t, fmt.Sprintf(`{
		"id": "https://mastodon.example/undos/1",
		"type": "Undo",
		"actor": "%s",
		"object": {
			"id": "%s",
			"type": "Follow",
			"actor": "%s",
			"object": "%s"
		}
	}`, alice.IRI, followIRI, alice.IRI, bob.IRI))

	if err := s.ProcessActivity(undo); err != nil {
		t.Fatalf("Failed to process Undo: %v", err)
	}

	err, follow := s.Db.ReadFollowByIRI(followIRI)
	if follow != nil {
		t.Error("Expected follow row to be removed")
	}
	_ = err

	err, bobRow := s.Db.ReadActorById(bob.Id)
	if err != nil || bobRow == nil {
		t.Fatalf("Failed to read local actor: %v", err)
	}
	if bobRow.FollowersCount != 0 {
		t.Errorf("Expected followers_count 0 after Undo, got %d", bobRow.FollowersCount)
	}

	err, aliceRow := s.Db.ReadActorById(alice.Id)
	if err != nil || aliceRow == nil {
		t.Fatalf("Failed to read remote actor: %v", err)
	}
	if aliceRow.FolloweesCount != 0 {
		t.Errorf("Expected followees_count 0 after Undo, got %d", aliceRow.FolloweesCount)
	}
}

func TestFollowCountersForRemoteFollowee(t *testing.T) {
	s, _ := setupTestService(t)
	alice := seedRemoteActor(t, s, "alice", "mastodon.example")
	carol := seedRemoteActor(t, s, "carol", "pleroma.example")

	// A remote followee has no local edge table to recompute from, so the
	// follower-side counter moves by delta on both rows.
	s.updateFollowCounters(alice, carol, 1)

	err, carolRow := s.Db.ReadActorById(carol.Id)
	if err != nil || carolRow == nil {
		t.Fatalf("Failed to read followee: %v", err)
	}
	if carolRow.FollowersCount != 1 {
		t.Errorf("Expected followers_count 1, got %d", carolRow.FollowersCount)
	}
	if carolRow.FolloweesCount != 0 {
		t.Errorf("Followee's followees_count must not move, got %d", carolRow.FolloweesCount)
	}

	err, aliceRow := s.Db.ReadActorById(alice.Id)
	if err != nil || aliceRow == nil {
		t.Fatalf("Failed to read follower: %v", err)
	}
	if aliceRow.FolloweesCount != 1 {
		t.Errorf("Expected followees_count 1, got %d", aliceRow.FolloweesCount)
	}

	// Removal floors at zero even when applied twice.
	s.updateFollowCounters(alice, carol, -1)
	s.updateFollowCounters(alice, carol, -1)

	err, carolRow = s.Db.ReadActorById(carol.Id)
	if err != nil || carolRow == nil {
		t.Fatalf("Failed to re-read followee: %v", err)
	}
	if carolRow.FollowersCount != 0 {
		t.Errorf("Expected followers_count floored at 0, got %d", carolRow.FollowersCount)
	}
}

func TestUndoFollowFromWrongActorIsIgnored(t *testing.T) {
	s, _ := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	alice := seedRemoteActor(t, s, "alice", "mastodon.example")
	mallory := seedRemoteActor(t, s, "mallory", "pleroma.example")

	followIRI := "https://mastodon.example/follows/1"
	if err := s.ProcessActivity(mustParse(t, followJSON(followIRI, alice, bob))); err != nil {
		t.Fatalf("Failed to process Follow: %v", err)
	}

	// Mallory spoofs an Undo naming Alice's follow.
	undo := mustParse(t, fmt.Sprintf(`{
		"type": "Undo",
		"actor": "%s",
		"object": {"id": "%s", "type": "Follow"}
	}`, mallory.IRI, followIRI))

	if err := s.ProcessActivity(undo); err != nil {
		t.Fatalf("Failed to process spoofed Undo: %v", err)
	}

	err, follow := s.Db.ReadFollowByIRI(followIRI)
	if err != nil || follow == nil {
		t.Fatal("Spoofed Undo must not remove another actor's follow")
	}
}

func TestLikeAndUndoLike(t *testing.T) {
	s, _ := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	carol := seedRemoteActor(t, s, "carol", "pleroma.example")
	post := seedPublishedPost(t, s, bob, "Hello")

	likeIRI := "https://pleroma.example/likes/1"
	like := mustParse(t, fmt.Sprintf(`{
		"id": "%s",
		"type": "Like",
		"actor": "%s",
		"object": "%s"
	}`, likeIRI, carol.IRI, post.ObjectURI))

	if err := s.ProcessActivity(like); err != nil {
		t.Fatalf("Failed to process Like: %v", err)
	}
	// Redelivery must not duplicate the notification.
	if err := s.ProcessActivity(like); err != nil {
		t.Fatalf("Failed to process redelivered Like: %v", err)
	}

	err, notifications := s.Db.ReadNotificationsByPostId(post.Id)
	if err != nil || notifications == nil || len(*notifications) != 1 {
		t.Fatalf("Expected 1 like notification, got %v (err %v)", notifications, err)
	}
	if (*notifications)[0].Type != domain.NotificationLike {
		t.Errorf("Expected like notification, got %s", (*notifications)[0].Type)
	}

	undo := mustParse(t, fmt.Sprintf(`{
		"type": "Undo",
		"actor": "%s",
		"object": {"id": "%s", "type": "Like", "object": "%s"}
	}`, carol.IRI, likeIRI, post.ObjectURI))

	if err := s.ProcessActivity(undo); err != nil {
		t.Fatalf("Failed to process Undo(Like): %v", err)
	}

	err, notifications = s.Db.ReadNotificationsByPostId(post.Id)
	if err != nil {
		t.Fatalf("Failed to read notifications: %v", err)
	}
	if notifications != nil && len(*notifications) != 0 {
		t.Errorf("Expected no notifications after Undo(Like), got %d", len(*notifications))
	}
}

func TestEmojiReactMatchesOnContent(t *testing.T) {
	s, _ := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	carol := seedRemoteActor(t, s, "carol", "pleroma.example")
	post := seedPublishedPost(t, s, bob, "Hello")

	react := func(id string, emoji string) *Activity {
		return mustParse(t, fmt.Sprintf(`{
			"id": "%s",
			"type": "EmojiReact",
			"actor": "%s",
			"object": "%s",
			"content": "%s"
		}`, id, carol.IRI, post.ObjectURI, emoji))
	}

	if err := s.ProcessActivity(react("https://pleroma.example/reacts/1", "🔥")); err != nil {
		t.Fatalf("Failed to process EmojiReact: %v", err)
	}
	if err := s.ProcessActivity(react("https://pleroma.example/reacts/2", "👀")); err != nil {
		t.Fatalf("Failed to process second EmojiReact: %v", err)
	}

	// Undo only the fire reaction; the other survives.
	undo := mustParse(t, fmt.Sprintf(`{
		"type": "Undo",
		"actor": "%s",
		"object": {"id": "https://pleroma.example/reacts/1", "type": "EmojiReact", "object": "%s", "content": "🔥"}
	}`, carol.IRI, post.ObjectURI))
	if err := s.ProcessActivity(undo); err != nil {
		t.Fatalf("Failed to process Undo(EmojiReact): %v", err)
	}

	err, notifications := s.Db.ReadNotificationsByPostId(post.Id)
	if err != nil || notifications == nil || len(*notifications) != 1 {
		t.Fatalf("Expected 1 surviving reaction, got %v (err %v)", notifications, err)
	}
	if (*notifications)[0].Content != "👀" {
		t.Errorf("Wrong reaction survived: %s", (*notifications)[0].Content)
	}
}

func TestReplyCreatesNotification(t *testing.T) {
	s, _ := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	carol := seedRemoteActor(t, s, "carol", "pleroma.example")
	post := seedPublishedPost(t, s, bob, "Hello")

	create := mustParse(t, fmt.Sprintf(`{
		"id": "https://pleroma.example/activities/1",
		"type": "Create",
		"actor": "%s",
		"object": {
			"id": "https://pleroma.example/objects/1",
			"type": "Note",
			"content": "<p>great post</p>",
			"url": "https://pleroma.example/notice/1",
			"inReplyTo": "%s",
			"attributedTo": "%s"
		}
	}`, carol.IRI, post.ObjectURI, carol.IRI))

	if err := s.ProcessActivity(create); err != nil {
		t.Fatalf("Failed to process Create: %v", err)
	}

	err, notifications := s.Db.ReadNotificationsByPostId(post.Id)
	if err != nil || notifications == nil || len(*notifications) != 1 {
		t.Fatalf("Expected 1 reply notification, got %v (err %v)", notifications, err)
	}
	n := (*notifications)[0]
	if n.Type != domain.NotificationReply {
		t.Errorf("Expected reply notification, got %s", n.Type)
	}
	if n.Content != "<p>great post</p>" {
		t.Errorf("Expected note content on the notification, got '%s'", n.Content)
	}
	if n.URL != "https://pleroma.example/notice/1" {
		t.Errorf("Expected note url on the notification, got '%s'", n.URL)
	}
}

func TestCreateForUnrelatedNoteIsIgnored(t *testing.T) {
	s, _ := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	carol := seedRemoteActor(t, s, "carol", "pleroma.example")
	post := seedPublishedPost(t, s, bob, "Hello")

	create := mustParse(t, fmt.Sprintf(`{
		"id": "https://pleroma.example/activities/2",
		"type": "Create",
		"actor": "%s",
		"object": {
			"id": "https://pleroma.example/objects/2",
			"type": "Note",
			"content": "<p>unrelated chatter</p>"
		}
	}`, carol.IRI))

	if err := s.ProcessActivity(create); err != nil {
		t.Fatalf("Failed to process Create: %v", err)
	}

	err, notifications := s.Db.ReadNotificationsByPostId(post.Id)
	if err != nil {
		t.Fatalf("Failed to read notifications: %v", err)
	}
	if notifications != nil && len(*notifications) != 0 {
		t.Errorf("Unrelated note must not produce notifications, got %d", len(*notifications))
	}
}

func TestDeleteRemovesNotificationsByObjectIRI(t *testing.T) {
	s, _ := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	carol := seedRemoteActor(t, s, "carol", "pleroma.example")
	post := seedPublishedPost(t, s, bob, "Hello")

	noteIRI := "https://pleroma.example/objects/1"
	create := mustParse(t, fmt.Sprintf(`{
		"id": "https://pleroma.example/activities/1",
		"type": "Create",
		"actor": "%s",
		"object": {
			"id": "%s",
			"type": "Note",
			"content": "reply",
			"inReplyTo": "%s"
		}
	}`, carol.IRI, noteIRI, post.ObjectURI))
	if err := s.ProcessActivity(create); err != nil {
		t.Fatalf("Failed to process Create: %v", err)
	}

	del := mustParse(t, fmt.Sprintf(`{
		"type": "Delete",
		"actor": "%s",
		"object": {"id": "%s", "type": "Tombstone"}
	}`, carol.IRI, noteIRI))
	if err := s.ProcessActivity(del); err != nil {
		t.Fatalf("Failed to process Delete: %v", err)
	}

	err, notifications := s.Db.ReadNotificationsByPostId(post.Id)
	if err != nil {
		t.Fatalf("Failed to read notifications: %v", err)
	}
	if notifications != nil && len(*notifications) != 0 {
		t.Errorf("Expected notifications removed after Delete, got %d", len(*notifications))
	}
}

func TestAnnounceCreatesNotification(t *testing.T) {
	s, _ := setupTestService(t)
	bob := seedLocalBlog(t, s, "bob")
	carol := seedRemoteActor(t, s, "carol", "pleroma.example")
	post := seedPublishedPost(t, s, bob, "Hello")

	announce := mustParse(t, fmt.Sprintf(`{
		"id": "https://pleroma.example/announces/1",
		"type": "Announce",
		"actor": "%s",
		"object": "%s"
	}`, carol.IRI, post.ObjectURI))

	if err := s.ProcessActivity(announce); err != nil {
		t.Fatalf("Failed to process Announce: %v", err)
	}

	err, notifications := s.Db.ReadNotificationsByPostId(post.Id)
	if err != nil || notifications == nil || len(*notifications) != 1 {
		t.Fatalf("Expected 1 announce notification, got %v (err %v)", notifications, err)
	}
	if (*notifications)[0].Type != domain.NotificationAnnounce {
		t.Errorf("Expected announce notification, got %s", (*notifications)[0].Type)
	}
}

func TestUnsupportedActivityIsAcknowledged(t *testing.T) {
	s, recorder := setupTestService(t)

	activity := mustParse(t, `{
		"type": "Move",
		"actor": "https://mastodon.example/users/alice"
	}`)
	if err := s.ProcessActivity(activity); err != nil {
		t.Fatalf("Unsupported activity must not error: %v", err)
	}
	if len(recorder.sent) != 0 {
		t.Error("Unsupported activity must not trigger sends")
	}
}
