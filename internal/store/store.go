// Package store persists archived posts: a SQLite document store for
// full records and a JSON-file cache indexing which post ids have been
// seen.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tumblrvault/internal/feed"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by FindOne when no record matches.
var ErrNotFound = errors.New("post not found")

// StoredPost is a full post record as persisted. The indexed columns are
// derived from the payload at write time; the payload itself is the
// stripped feed record.
type StoredPost struct {
	ID            string `db:"id"`
	URL           string `db:"url"`
	Type          string `db:"type"`
	SourceBlog    string `db:"source_blog"`
	Timestamp     int64  `db:"timestamp"`
	RebloggedFrom string `db:"reblogged_from"`
	RebloggedRoot string `db:"reblogged_root"`
	TagsJSON      string `db:"tags"`
	PayloadJSON   string `db:"payload"`

	Tags    []string  `db:"-"`
	Payload feed.Post `db:"-"`
}

// FindOpts filters and pages a query over stored posts.
type FindOpts struct {
	Type          string
	Tag           string
	Blog          string
	RebloggedFrom string
	RebloggedRoot string
	Since         int64 // inclusive lower bound on timestamp
	Until         int64 // exclusive upper bound on timestamp
	SortBy        string
	Desc          bool
	Skip          int
	Limit         int
}

// DocStore is the document persistence interface.
type DocStore interface {
	Insert(ctx context.Context, p *StoredPost) error
	Update(ctx context.Context, p *StoredPost) error
	FindOne(ctx context.Context, id string) (*StoredPost, error)
	Find(ctx context.Context, opts FindOpts) ([]StoredPost, error)
	Count(ctx context.Context, opts FindOpts) (int, error)
	Close() error
}

// SQLiteStore implements DocStore using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open opens the posts database and runs migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, p *StoredPost) error {
	p.encode()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, url, type, source_blog, timestamp, reblogged_from, reblogged_root, tags, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.URL, p.Type, p.SourceBlog, p.Timestamp,
		p.RebloggedFrom, p.RebloggedRoot, p.TagsJSON, p.PayloadJSON)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.ID, err)
	}
	return nil
}

// Update rewrites a record in full. It converges even when the record is
// missing, so re-ingestion after a partial write still ends with one row.
func (s *SQLiteStore) Update(ctx context.Context, p *StoredPost) error {
	p.encode()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, url, type, source_blog, timestamp, reblogged_from, reblogged_root, tags, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			type = excluded.type,
			source_blog = excluded.source_blog,
			timestamp = excluded.timestamp,
			reblogged_from = excluded.reblogged_from,
			reblogged_root = excluded.reblogged_root,
			tags = excluded.tags,
			payload = excluded.payload
	`, p.ID, p.URL, p.Type, p.SourceBlog, p.Timestamp,
		p.RebloggedFrom, p.RebloggedRoot, p.TagsJSON, p.PayloadJSON)
	if err != nil {
		return fmt.Errorf("update post %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FindOne(ctx context.Context, id string) (*StoredPost, error) {
	var p StoredPost
	err := s.db.GetContext(ctx, &p, "SELECT * FROM posts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find post %s: %w", id, err)
	}
	p.decode()
	return &p, nil
}

func (s *SQLiteStore) Find(ctx context.Context, opts FindOpts) ([]StoredPost, error) {
	query, args := buildWhere("SELECT * FROM posts", opts)

	sortBy := "timestamp"
	switch opts.SortBy {
	case "", "timestamp":
	case "id", "type", "url":
		sortBy = opts.SortBy
	default:
		return nil, fmt.Errorf("unsupported sort field %q", opts.SortBy)
	}
	query += " ORDER BY " + sortBy
	if opts.Desc {
		query += " DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Skip)

	var posts []StoredPost
	if err := s.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("find posts: %w", err)
	}
	for i := range posts {
		posts[i].decode()
	}
	return posts, nil
}

func (s *SQLiteStore) Count(ctx context.Context, opts FindOpts) (int, error) {
	query, args := buildWhere("SELECT COUNT(*) FROM posts", opts)

	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}

func buildWhere(base string, opts FindOpts) (string, []any) {
	query := base + " WHERE 1=1"
	var args []any

	if opts.Type != "" {
		query += " AND type = ?"
		args = append(args, opts.Type)
	}
	if opts.Blog != "" {
		query += " AND source_blog = ?"
		args = append(args, opts.Blog)
	}
	if opts.RebloggedFrom != "" {
		query += " AND reblogged_from = ?"
		args = append(args, opts.RebloggedFrom)
	}
	if opts.RebloggedRoot != "" {
		query += " AND reblogged_root = ?"
		args = append(args, opts.RebloggedRoot)
	}
	if opts.Tag != "" {
		query += " AND EXISTS (SELECT 1 FROM json_each(posts.tags) WHERE json_each.value = ?)"
		args = append(args, opts.Tag)
	}
	if opts.Since > 0 {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}
	if opts.Until > 0 {
		query += " AND timestamp < ?"
		args = append(args, opts.Until)
	}

	return query, args
}

func (p *StoredPost) encode() {
	if p.TagsJSON == "" {
		tags := p.Tags
		if tags == nil {
			tags = []string{}
		}
		b, _ := json.Marshal(tags)
		p.TagsJSON = string(b)
	}
	if p.PayloadJSON == "" && p.Payload != nil {
		b, _ := json.Marshal(p.Payload)
		p.PayloadJSON = string(b)
	}
}

func (p *StoredPost) decode() {
	if p.TagsJSON != "" {
		json.Unmarshal([]byte(p.TagsJSON), &p.Tags)
	}
	if p.PayloadJSON != "" {
		dec := json.NewDecoder(strings.NewReader(p.PayloadJSON))
		dec.UseNumber()
		dec.Decode(&p.Payload)
	}
}
