package db

import (
	"database/sql"
	"log"
)

// SQL for the federation tables
const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		iri TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL,
		username TEXT NOT NULL,
		instance_host TEXT NOT NULL,
		handle_host TEXT,
		blog_id TEXT UNIQUE,
		name TEXT,
		bio TEXT,
		avatar_url TEXT,
		header_url TEXT,
		fields_json TEXT,
		emojis_json TEXT,
		tags_json TEXT,
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT,
		followers_uri TEXT,
		featured_uri TEXT,
		public_key_pem TEXT,
		private_key_pem TEXT,
		successor_id TEXT,
		followees_count INTEGER DEFAULT 0,
		followers_count INTEGER DEFAULT 0,
		posts_count INTEGER DEFAULT 0,
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, instance_host)
	)`

	sqlCreateActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_iri ON actors(iri);
		CREATE INDEX IF NOT EXISTS idx_actors_instance_host ON actors(instance_host);
	`

	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instances (
		host TEXT NOT NULL PRIMARY KEY,
		software TEXT,
		software_version TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		iri TEXT NOT NULL PRIMARY KEY,
		follower_id TEXT NOT NULL,
		followee_id TEXT NOT NULL,
		accepted_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_id, followee_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_follower_id ON follows(follower_id);
		CREATE INDEX IF NOT EXISTS idx_follows_followee_id ON follows(followee_id);
	`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		type TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		activity_iri TEXT,
		object_iri TEXT,
		post_id TEXT NOT NULL,
		content TEXT,
		url TEXT,
		is_read INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_post_id ON notifications(post_id);
		CREATE INDEX IF NOT EXISTS idx_notifications_actor_id ON notifications(actor_id);
		CREATE INDEX IF NOT EXISTS idx_notifications_object_iri ON notifications(object_iri);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_activity_iri ON notifications(activity_iri);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_blog_id ON posts(blog_id);
		CREATE INDEX IF NOT EXISTS idx_posts_object_uri ON posts(object_uri);
		CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts(published_at DESC);
	`
)

// RunMigrations executes all federation migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if err := db.createTableIfNotExists(tx, sqlCreateActorsTable, "actors"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateInstancesTable, "instances"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateFollowsTable, "follows"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateNotificationsTable, "notifications"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateDeliveryQueueTable, "delivery_queue"); err != nil {
			return err
		}

		if _, err := tx.Exec(sqlCreateActorsIndices); err != nil {
			log.Printf("Warning: Failed to create actors indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateFollowsIndices); err != nil {
			log.Printf("Warning: Failed to create follows indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateNotificationsIndices); err != nil {
			log.Printf("Warning: Failed to create notifications indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateDeliveryQueueIndices); err != nil {
			log.Printf("Warning: Failed to create delivery_queue indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreatePostsIndices); err != nil {
			log.Printf("Warning: Failed to create posts indices: %v", err)
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
