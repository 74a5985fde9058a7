package feed

import (
	"encoding/json"
	"strconv"
)

// Post is one entry from the Tumblr v1 feed. The v1 API returns an open
// set of hyphenated keys that varies by post type, so the record is kept
// as a generic map with typed accessors for the fields the archive
// indexes on.
type Post map[string]any

// Fields the feed embeds that are scraper artifacts, not content:
// avatar thumbnails, UI buttons and submission flags. They are stripped
// before a post is persisted.
var excludedFields = map[string]struct{}{
	"bookmarklet":   {},
	"mobile":        {},
	"feed-item":     {},
	"is-submission": {},
	"like-button":   {},
	"reblog-button": {},

	"reblogged_from_avatar_url_16":  {},
	"reblogged_from_avatar_url_24":  {},
	"reblogged_from_avatar_url_30":  {},
	"reblogged_from_avatar_url_40":  {},
	"reblogged_from_avatar_url_48":  {},
	"reblogged_from_avatar_url_64":  {},
	"reblogged_from_avatar_url_96":  {},
	"reblogged_from_avatar_url_128": {},
	"reblogged_from_avatar_url_512": {},

	"reblogged_root_avatar_url_16":  {},
	"reblogged_root_avatar_url_24":  {},
	"reblogged_root_avatar_url_30":  {},
	"reblogged_root_avatar_url_40":  {},
	"reblogged_root_avatar_url_48":  {},
	"reblogged_root_avatar_url_64":  {},
	"reblogged_root_avatar_url_96":  {},
	"reblogged_root_avatar_url_128": {},
	"reblogged_root_avatar_url_512": {},

	"video-player-500": {},
	"video-player-250": {},
}

// ID returns the post's stable identifier, falling back to the canonical
// URL when the feed omits an id. The same derivation keys both the cache
// entry and the stored record.
func (p Post) ID() string {
	if id := p.str("id"); id != "" {
		return id
	}
	return p.str("url")
}

func (p Post) URL() string  { return p.str("url") }
func (p Post) Type() string { return p.str("type") }

// Timestamp returns the post's creation time in epoch seconds.
func (p Post) Timestamp() int64 { return p.num("unix-timestamp") }

func (p Post) RebloggedFrom() string { return p.str("reblogged-from-name") }
func (p Post) RebloggedRoot() string { return p.str("reblogged-root-name") }

// Tags returns the post's tags in feed order.
func (p Post) Tags() []string {
	raw, ok := p["tags"].([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// Strip returns a copy of the post without the excluded artifact fields.
func (p Post) Strip() Post {
	out := make(Post, len(p))
	for k, v := range p {
		if _, skip := excludedFields[k]; skip {
			continue
		}
		out[k] = v
	}
	return out
}

// str reads a string field, tolerating numeric ids (Tumblr emits post
// ids as either JSON strings or numbers).
func (p Post) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

func (p Post) num(key string) int64 {
	switch v := p[key].(type) {
	case json.Number:
		n, _ := v.Int64()
		return n
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
