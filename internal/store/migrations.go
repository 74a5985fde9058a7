package store

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    id             TEXT PRIMARY KEY,
    url            TEXT NOT NULL DEFAULT '',
    type           TEXT NOT NULL DEFAULT '',
    source_blog    TEXT NOT NULL DEFAULT '',
    timestamp      INTEGER NOT NULL DEFAULT 0,
    reblogged_from TEXT NOT NULL DEFAULT '',
    reblogged_root TEXT NOT NULL DEFAULT '',
    tags           TEXT NOT NULL DEFAULT '[]',
    payload        TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_posts_type ON posts(type);
CREATE INDEX IF NOT EXISTS idx_posts_timestamp ON posts(timestamp);
CREATE INDEX IF NOT EXISTS idx_posts_source_blog ON posts(source_blog);
CREATE INDEX IF NOT EXISTS idx_posts_reblogged_from ON posts(reblogged_from);
CREATE INDEX IF NOT EXISTS idx_posts_reblogged_root ON posts(reblogged_root);
`
