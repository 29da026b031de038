package db

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/quillhost/quill/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

const (
	//Blogs
	sqlCreateBlogsTable = `CREATE TABLE IF NOT EXISTS blogs(
                        id uuid NOT NULL PRIMARY KEY,
                        slug varchar(100) UNIQUE NOT NULL,
                        title varchar(255),
                        description text,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertBlog       = `INSERT INTO blogs(id, slug, title, description, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectBlogBySlug = `SELECT id, slug, title, description, created_at FROM blogs WHERE slug = ?`
	sqlSelectBlogById   = `SELECT id, slug, title, description, created_at FROM blogs WHERE id = ?`

	//Posts
	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts(
                        id uuid NOT NULL PRIMARY KEY,
                        blog_id uuid NOT NULL,
                        title varchar(500),
                        content text,
                        object_uri varchar(500) UNIQUE,
                        published_at timestamp,
                        first_published_at timestamp,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertPost            = `INSERT INTO posts(id, blog_id, title, content, object_uri, published_at, first_published_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdatePostPublished   = `UPDATE posts SET published_at = ?, first_published_at = COALESCE(first_published_at, ?) WHERE id = ?`
	sqlSelectPostById        = `SELECT id, blog_id, title, content, object_uri, published_at, first_published_at, created_at FROM posts WHERE id = ?`
	sqlSelectPostByObjectURI = `SELECT id, blog_id, title, content, object_uri, published_at, first_published_at, created_at FROM posts WHERE object_uri = ?`
	sqlSelectPublishedPosts  = `SELECT id, blog_id, title, content, object_uri, published_at, first_published_at, created_at FROM posts
                                                            WHERE blog_id = ? AND published_at IS NOT NULL
                                                            ORDER BY published_at DESC LIMIT ?`
)

// New opens (or creates) the database at the given path and runs the schema
// setup. There is deliberately no package-level singleton; callers own the
// handle and inject it where needed.
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// PRAGMAs tuned for a concurrent federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	database := &DB{db: sqlDB}

	if err := database.CreateDB(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return database, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error {
	return db.db.Close()
}

// CreateDB creates the core tables; federation tables live in migrations.go.
func (db *DB) CreateDB() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlCreateBlogsTable); err != nil {
			return err
		}
		if _, err := tx.Exec(sqlCreatePostsTable); err != nil {
			return err
		}
		return nil
	})
}

func (db *DB) CreateBlog(blog *domain.Blog) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertBlog,
			blog.Id.String(),
			blog.Slug,
			blog.Title,
			blog.Description,
			blog.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadBlogBySlug(slug string) (error, *domain.Blog) {
	return db.scanBlog(db.db.QueryRow(sqlSelectBlogBySlug, slug))
}

func (db *DB) ReadBlogById(id uuid.UUID) (error, *domain.Blog) {
	return db.scanBlog(db.db.QueryRow(sqlSelectBlogById, id.String()))
}

func (db *DB) scanBlog(row *sql.Row) (error, *domain.Blog) {
	var blog domain.Blog
	var idStr string
	err := row.Scan(&idStr, &blog.Slug, &blog.Title, &blog.Description, &blog.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	blog.Id, _ = uuid.Parse(idStr)
	return nil, &blog
}

func (db *DB) CreatePost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPost,
			post.Id.String(),
			post.BlogId.String(),
			post.Title,
			post.Content,
			post.ObjectURI,
			post.PublishedAt,
			post.FirstPublishedAt,
			post.CreatedAt,
		)
		return err
	})
}

// PublishPost stamps the publish time; the first publish time is only set
// once so later re-publishes keep the original value.
func (db *DB) PublishPost(id uuid.UUID, at time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePostPublished, at, at, id.String())
		return err
	})
}

func (db *DB) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	return db.scanPost(db.db.QueryRow(sqlSelectPostById, id.String()))
}

func (db *DB) ReadPostByObjectURI(uri string) (error, *domain.Post) {
	return db.scanPost(db.db.QueryRow(sqlSelectPostByObjectURI, uri))
}

func (db *DB) scanPost(row *sql.Row) (error, *domain.Post) {
	var post domain.Post
	var idStr, blogIdStr string
	err := row.Scan(&idStr, &blogIdStr, &post.Title, &post.Content, &post.ObjectURI, &post.PublishedAt, &post.FirstPublishedAt, &post.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	post.Id, _ = uuid.Parse(idStr)
	post.BlogId, _ = uuid.Parse(blogIdStr)
	return nil, &post
}

func (db *DB) ReadPublishedPostsByBlogId(blogId uuid.UUID, limit int) (error, *[]domain.Post) {
	rows, err := db.db.Query(sqlSelectPublishedPosts, blogId.String(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var post domain.Post
		var idStr, blogIdStr string
		if err := rows.Scan(&idStr, &blogIdStr, &post.Title, &post.Content, &post.ObjectURI, &post.PublishedAt, &post.FirstPublishedAt, &post.CreatedAt); err != nil {
			return err, &posts
		}
		post.Id, _ = uuid.Parse(idStr)
		post.BlogId, _ = uuid.Parse(blogIdStr)
		posts = append(posts, post)
	}
	if err = rows.Err(); err != nil {
		return err, &posts
	}

	return nil, &posts
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}
