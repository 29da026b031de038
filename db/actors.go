package db

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/quillhost/quill/domain"
)

// Actor queries. The actors table holds both local (blog-backed) and remote
// rows; iri and (username, instance_host) are unique, blog_id is unique when
// present so one blog maps to exactly one actor.
const (
	sqlInsertActor = `INSERT INTO actors(id, iri, type, username, instance_host, handle_host, blog_id,
                        name, bio, avatar_url, header_url, fields_json, emojis_json, tags_json,
                        inbox_uri, shared_inbox_uri, followers_uri, featured_uri,
                        public_key_pem, private_key_pem, successor_id,
                        followees_count, followers_count, posts_count, published_at, updated_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateActorByIRI = `UPDATE actors SET type = ?, username = ?, instance_host = ?, handle_host = ?,
                        name = ?, bio = ?, avatar_url = ?, header_url = ?, fields_json = ?, emojis_json = ?, tags_json = ?,
                        inbox_uri = ?, shared_inbox_uri = ?, followers_uri = ?, featured_uri = ?,
                        public_key_pem = ?, successor_id = ?,
                        followees_count = ?, followers_count = ?, posts_count = ?, updated_at = ?
                        WHERE iri = ?`

	sqlActorColumns = `id, iri, type, username, instance_host, handle_host, blog_id,
                        name, bio, avatar_url, header_url, fields_json, emojis_json, tags_json,
                        inbox_uri, shared_inbox_uri, followers_uri, featured_uri,
                        public_key_pem, private_key_pem, successor_id,
                        followees_count, followers_count, posts_count, published_at, updated_at`

	sqlSelectActorByIRI    = `SELECT ` + sqlActorColumns + ` FROM actors WHERE iri = ?`
	sqlSelectActorById     = `SELECT ` + sqlActorColumns + ` FROM actors WHERE id = ?`
	sqlSelectActorByBlogId = `SELECT ` + sqlActorColumns + ` FROM actors WHERE blog_id = ?`
	sqlSelectActorByHandle = `SELECT ` + sqlActorColumns + ` FROM actors WHERE username = ? AND instance_host = ?`

	sqlRecomputeFollowersCount = `UPDATE actors SET followers_count =
                        (SELECT COUNT(*) FROM follows WHERE followee_id = actors.id AND accepted_at IS NOT NULL)
                        WHERE id = ?`
	sqlAdjustFolloweesCount = `UPDATE actors SET followees_count = MAX(0, followees_count + ?) WHERE id = ?`
	sqlAdjustFollowersCount = `UPDATE actors SET followers_count = MAX(0, followers_count + ?) WHERE id = ?`
	sqlAdjustPostsCount     = `UPDATE actors SET posts_count = MAX(0, posts_count + ?) WHERE id = ?`
)

func (db *DB) CreateActor(actor *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActor, actorInsertArgs(actor)...)
		return err
	})
}

// UpsertActorByIRI inserts the actor or overwrites all profile and network
// fields of the existing row matched on IRI. Field-level last write wins;
// key material and blog linkage of an existing row are never touched here.
func (db *DB) UpsertActorByIRI(actor *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateActorByIRI,
			string(actor.Type),
			actor.Username,
			actor.InstanceHost,
			actor.HandleHost,
			actor.Name,
			actor.Bio,
			actor.AvatarURL,
			actor.HeaderURL,
			marshalMap(actor.Fields),
			marshalMap(actor.Emojis),
			marshalMap(actor.Tags),
			actor.InboxURI,
			actor.SharedInboxURI,
			actor.FollowersURI,
			actor.FeaturedURI,
			actor.PublicKeyPem,
			uuidPtrToString(actor.SuccessorId),
			actor.FolloweesCount,
			actor.FollowersCount,
			actor.PostsCount,
			actor.UpdatedAt,
			actor.IRI,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			_, err = tx.Exec(sqlInsertActor, actorInsertArgs(actor)...)
		}
		return err
	})
}

func (db *DB) ReadActorByIRI(iri string) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByIRI, iri))
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

func (db *DB) ReadActorByBlogId(blogId uuid.UUID) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByBlogId, blogId.String()))
}

func (db *DB) ReadActorByHandle(username string, instanceHost string) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByHandle, username, instanceHost))
}

// RecomputeFollowersCount sets a local actor's follower counter to the live
// count of accepted follow edges. Used instead of increments so a crashed
// request cannot leave the counter permanently wrong.
func (db *DB) RecomputeFollowersCount(actorId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlRecomputeFollowersCount, actorId.String())
		return err
	})
}

// AdjustFolloweesCount applies a signed delta to a remote actor's followee
// counter. Remote rows are cached snapshots, not a source of truth.
func (db *DB) AdjustFolloweesCount(actorId uuid.UUID, delta int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAdjustFolloweesCount, delta, actorId.String())
		return err
	})
}

// AdjustFollowersCount is the follower-side counterpart for remote actors,
// where the edge table cannot be recomputed.
func (db *DB) AdjustFollowersCount(actorId uuid.UUID, delta int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAdjustFollowersCount, delta, actorId.String())
		return err
	})
}

func (db *DB) AdjustPostsCount(actorId uuid.UUID, delta int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAdjustPostsCount, delta, actorId.String())
		return err
	})
}

func actorInsertArgs(actor *domain.Actor) []interface{} {
	return []interface{}{
		actor.Id.String(),
		actor.IRI,
		string(actor.Type),
		actor.Username,
		actor.InstanceHost,
		actor.HandleHost,
		uuidPtrToString(actor.BlogId),
		actor.Name,
		actor.Bio,
		actor.AvatarURL,
		actor.HeaderURL,
		marshalMap(actor.Fields),
		marshalMap(actor.Emojis),
		marshalMap(actor.Tags),
		actor.InboxURI,
		actor.SharedInboxURI,
		actor.FollowersURI,
		actor.FeaturedURI,
		actor.PublicKeyPem,
		actor.PrivateKeyPem,
		uuidPtrToString(actor.SuccessorId),
		actor.FolloweesCount,
		actor.FollowersCount,
		actor.PostsCount,
		actor.PublishedAt,
		actor.UpdatedAt,
	}
}

func scanActor(row *sql.Row) (error, *domain.Actor) {
	var actor domain.Actor
	var idStr, actorType string
	var blogIdStr, successorIdStr sql.NullString
	var fieldsJSON, emojisJSON, tagsJSON sql.NullString
	err := row.Scan(
		&idStr,
		&actor.IRI,
		&actorType,
		&actor.Username,
		&actor.InstanceHost,
		&actor.HandleHost,
		&blogIdStr,
		&actor.Name,
		&actor.Bio,
		&actor.AvatarURL,
		&actor.HeaderURL,
		&fieldsJSON,
		&emojisJSON,
		&tagsJSON,
		&actor.InboxURI,
		&actor.SharedInboxURI,
		&actor.FollowersURI,
		&actor.FeaturedURI,
		&actor.PublicKeyPem,
		&actor.PrivateKeyPem,
		&successorIdStr,
		&actor.FolloweesCount,
		&actor.FollowersCount,
		&actor.PostsCount,
		&actor.PublishedAt,
		&actor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	actor.Id, _ = uuid.Parse(idStr)
	actor.Type = domain.ActorType(actorType)
	actor.BlogId = parseUUIDPtr(blogIdStr)
	actor.SuccessorId = parseUUIDPtr(successorIdStr)
	actor.Fields = unmarshalMap(fieldsJSON)
	actor.Emojis = unmarshalMap(emojisJSON)
	actor.Tags = unmarshalMap(tagsJSON)
	return nil, &actor
}

func uuidPtrToString(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseUUIDPtr(s sql.NullString) *uuid.UUID {
	if !s.Valid || s.String == "" {
		return nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &id
}

func marshalMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMap(s sql.NullString) map[string]string {
	m := map[string]string{}
	if !s.Valid || s.String == "" {
		return m
	}
	json.Unmarshal([]byte(s.String), &m)
	return m
}
