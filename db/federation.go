package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/quillhost/quill/domain"
)

// Instance queries
const (
	sqlUpsertInstance = `INSERT INTO instances(host, software, software_version, created_at, updated_at)
                        VALUES (?, ?, ?, ?, ?)
                        ON CONFLICT(host) DO UPDATE SET software = excluded.software,
                        software_version = excluded.software_version, updated_at = excluded.updated_at`
	sqlSelectInstanceByHost = `SELECT host, software, software_version, created_at, updated_at FROM instances WHERE host = ?`
)

func (db *DB) UpsertInstance(inst *domain.Instance) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertInstance,
			inst.Host,
			nullIfEmpty(inst.Software),
			nullIfEmpty(inst.SoftwareVersion),
			inst.CreatedAt,
			inst.UpdatedAt,
		)
		return err
	})
}

func (db *DB) ReadInstanceByHost(host string) (error, *domain.Instance) {
	row := db.db.QueryRow(sqlSelectInstanceByHost, host)
	var inst domain.Instance
	var software, version sql.NullString
	err := row.Scan(&inst.Host, &software, &version, &inst.CreatedAt, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	inst.Software = software.String
	inst.SoftwareVersion = version.String
	return nil, &inst
}

// Follow queries. The edge is keyed by the inbound Follow activity IRI and
// additionally unique on the (follower, followee) pair; duplicate deliveries
// are absorbed by ON CONFLICT DO NOTHING.
const (
	sqlInsertFollow = `INSERT INTO follows(iri, follower_id, followee_id, accepted_at, created_at)
                        VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`
	sqlSelectFollowByIRI            = `SELECT iri, follower_id, followee_id, accepted_at, created_at FROM follows WHERE iri = ?`
	sqlSelectFollowByIRIAndFollower = `SELECT iri, follower_id, followee_id, accepted_at, created_at FROM follows WHERE iri = ? AND follower_id = ?`
	sqlDeleteFollowByIRI            = `DELETE FROM follows WHERE iri = ?`
	sqlSelectAcceptedFollowers      = `SELECT iri, follower_id, followee_id, accepted_at, created_at FROM follows
                        WHERE followee_id = ? AND accepted_at IS NOT NULL ORDER BY created_at ASC`
	sqlCountAcceptedFollowers = `SELECT COUNT(*) FROM follows WHERE followee_id = ? AND accepted_at IS NOT NULL`
)

// CreateFollow inserts the edge and reports whether a new row was actually
// written; the conflict path returns (nil, false) so callers know to skip
// counter updates and the Accept send.
func (db *DB) CreateFollow(follow *domain.Following) (error, bool) {
	inserted := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertFollow,
			follow.IRI,
			follow.FollowerId.String(),
			follow.FolloweeId.String(),
			follow.AcceptedAt,
			follow.CreatedAt,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = affected > 0
		return nil
	})
	return err, inserted
}

func (db *DB) ReadFollowByIRI(iri string) (error, *domain.Following) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByIRI, iri))
}

// ReadFollowByIRIAndFollower also matches the follower actor so a spoofed
// Undo cannot tear down someone else's edge.
func (db *DB) ReadFollowByIRIAndFollower(iri string, followerId uuid.UUID) (error, *domain.Following) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByIRIAndFollower, iri, followerId.String()))
}

func (db *DB) DeleteFollowByIRI(iri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByIRI, iri)
		return err
	})
}

func (db *DB) ReadAcceptedFollowers(followeeId uuid.UUID) (error, *[]domain.Following) {
	rows, err := db.db.Query(sqlSelectAcceptedFollowers, followeeId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.Following
	for rows.Next() {
		var follow domain.Following
		var followerIdStr, followeeIdStr string
		if err := rows.Scan(&follow.IRI, &followerIdStr, &followeeIdStr, &follow.AcceptedAt, &follow.CreatedAt); err != nil {
			return err, &followers
		}
		follow.FollowerId, _ = uuid.Parse(followerIdStr)
		follow.FolloweeId, _ = uuid.Parse(followeeIdStr)
		followers = append(followers, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

func (db *DB) CountAcceptedFollowers(followeeId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountAcceptedFollowers, followeeId.String()).Scan(&count)
	return err, count
}

func scanFollow(row *sql.Row) (error, *domain.Following) {
	var follow domain.Following
	var followerIdStr, followeeIdStr string
	err := row.Scan(&follow.IRI, &followerIdStr, &followeeIdStr, &follow.AcceptedAt, &follow.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	follow.FollowerId, _ = uuid.Parse(followerIdStr)
	follow.FolloweeId, _ = uuid.Parse(followeeIdStr)
	return nil, &follow
}

// Notification queries. Removal always matches on recorded IRIs plus type,
// actor and content, never by re-resolving the remote object.
const (
	sqlInsertNotification = `INSERT INTO notifications(id, type, actor_id, activity_iri, object_iri, post_id, content, url, is_read, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                        ON CONFLICT(activity_iri) DO NOTHING`
	sqlDeleteNotificationMatch = `DELETE FROM notifications WHERE type = ? AND post_id = ? AND actor_id = ? AND content = ?`
	sqlDeleteNotificationsByObjectIRI   = `DELETE FROM notifications WHERE object_iri = ?`
	sqlDeleteNotificationsByActivityIRI = `DELETE FROM notifications WHERE activity_iri = ?`
	sqlSelectNotificationsByPostId      = `SELECT id, type, actor_id, activity_iri, object_iri, post_id, content, url, is_read, created_at
                        FROM notifications WHERE post_id = ? ORDER BY created_at DESC`
	sqlSelectNotificationsByBlogId = `SELECT n.id, n.type, n.actor_id, n.activity_iri, n.object_iri, n.post_id, n.content, n.url, n.is_read, n.created_at
                        FROM notifications n INNER JOIN posts p ON p.id = n.post_id
                        WHERE p.blog_id = ? ORDER BY n.created_at DESC LIMIT ?`
	sqlMarkNotificationRead = `UPDATE notifications SET is_read = 1 WHERE id = ?`
)

func (db *DB) CreateNotification(n *domain.Notification) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNotification,
			n.Id.String(),
			string(n.Type),
			n.ActorId.String(),
			n.ActivityIRI,
			n.ObjectIRI,
			n.PostId.String(),
			n.Content,
			n.URL,
			boolToInt(n.IsRead),
			n.CreatedAt,
		)
		return err
	})
}

// DeleteNotificationMatch removes notifications matching type, post, actor
// and content; the Undo handlers use this for Announce/Like/EmojiReact.
func (db *DB) DeleteNotificationMatch(nType domain.NotificationType, postId uuid.UUID, actorId uuid.UUID, content string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNotificationMatch, string(nType), postId.String(), actorId.String(), content)
		return err
	})
}

// DeleteNotificationsByObjectIRI is the blanket cleanup for inbound Delete.
func (db *DB) DeleteNotificationsByObjectIRI(iri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNotificationsByObjectIRI, iri)
		return err
	})
}

func (db *DB) DeleteNotificationsByActivityIRI(iri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNotificationsByActivityIRI, iri)
		return err
	})
}

func (db *DB) ReadNotificationsByPostId(postId uuid.UUID) (error, *[]domain.Notification) {
	rows, err := db.db.Query(sqlSelectNotificationsByPostId, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ReadNotificationsByBlogId feeds the dashboard view.
func (db *DB) ReadNotificationsByBlogId(blogId uuid.UUID, limit int) (error, *[]domain.Notification) {
	rows, err := db.db.Query(sqlSelectNotificationsByBlogId, blogId.String(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (db *DB) MarkNotificationRead(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkNotificationRead, id.String())
		return err
	})
}

func scanNotifications(rows *sql.Rows) (error, *[]domain.Notification) {
	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var idStr, nType, actorIdStr, postIdStr string
		var isRead int
		if err := rows.Scan(&idStr, &nType, &actorIdStr, &n.ActivityIRI, &n.ObjectIRI, &postIdStr, &n.Content, &n.URL, &isRead, &n.CreatedAt); err != nil {
			return err, &notifications
		}
		n.Id, _ = uuid.Parse(idStr)
		n.Type = domain.NotificationType(nType)
		n.ActorId, _ = uuid.Parse(actorIdStr)
		n.PostId, _ = uuid.Parse(postIdStr)
		n.IsRead = isRead != 0
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return err, &notifications
	}
	return nil, &notifications
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
