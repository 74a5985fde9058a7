package store

import (
	"context"
	"errors"
	"time"

	"tumblrvault/internal/feed"
)

// PostStore maps post identity to the canonical record. The cache entry
// decides new-vs-seen; the document store always receives the full
// incoming record regardless.
type PostStore struct {
	docs  DocStore
	cache *Cache

	onNewPost func(feed.Post)
	now       func() time.Time
}

// NewPostStore combines a document store and a seen-post cache.
func NewPostStore(docs DocStore, cache *Cache) *PostStore {
	return &PostStore{docs: docs, cache: cache, now: time.Now}
}

// OnNewPost registers a notification for first-seen posts.
func (s *PostStore) OnNewPost(fn func(feed.Post)) {
	s.onNewPost = fn
}

// IsNew reports whether a post id has never been ingested.
func (s *PostStore) IsNew(id string) bool {
	return !s.cache.Has(id)
}

// Cache exposes the seen-post index.
func (s *PostStore) Cache() *Cache { return s.cache }

// Docs exposes the underlying document store.
func (s *PostStore) Docs() DocStore { return s.docs }

// Upsert ingests one post. First sight creates a cache entry and inserts
// the record, firing the new-post notification; a seen id refreshes the
// cache entry's last_update and rewrites the record. Either way the full
// incoming record, minus artifact fields, is what lands in the store.
// It reports whether the post was new.
func (s *PostStore) Upsert(ctx context.Context, blog string, post feed.Post) (*StoredPost, bool, error) {
	id := post.ID()
	if id == "" {
		return nil, false, errors.New("post has no id or url")
	}

	stripped := post.Strip()
	if _, ok := stripped["id"]; !ok {
		stripped["id"] = id
	}

	rec := &StoredPost{
		ID:            id,
		URL:           post.URL(),
		Type:          post.Type(),
		SourceBlog:    blog,
		Timestamp:     post.Timestamp(),
		RebloggedFrom: post.RebloggedFrom(),
		RebloggedRoot: post.RebloggedRoot(),
		Tags:          post.Tags(),
		Payload:       stripped,
	}

	now := s.now()
	isNew := !s.cache.Has(id)
	if isNew {
		s.cache.Put(id, rec.URL, rec.Type, now)
	} else {
		s.cache.Touch(id, rec.URL, rec.Type, now)
	}

	// The record write is keyed on the document's own existence, not on
	// the cache entry: a rebuilt cache must not produce duplicate rows.
	_, err := s.docs.FindOne(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := s.docs.Insert(ctx, rec); err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	default:
		if err := s.docs.Update(ctx, rec); err != nil {
			return nil, false, err
		}
	}

	// Notification follows the cache's verdict, not the write path: a
	// seen post whose row went missing is re-inserted silently.
	if isNew && s.onNewPost != nil {
		s.onNewPost(post)
	}

	return rec, isNew, nil
}
