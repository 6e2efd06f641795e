package sqlite

const schema = `
-- Participants table
CREATE TABLE IF NOT EXISTS participants (
    id TEXT PRIMARY KEY,
    capabilities TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'active',
    last_seen DATETIME NOT NULL,
    default_priority TEXT NOT NULL DEFAULT 'M',
    preferences TEXT NOT NULL DEFAULT '{}'
);

-- Messages table
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL,
    from_participant TEXT NOT NULL,
    to_participants TEXT NOT NULL DEFAULT '[]',
    msg_type TEXT NOT NULL,
    priority TEXT NOT NULL DEFAULT 'M',
    status TEXT NOT NULL DEFAULT 'pending',
    subject TEXT NOT NULL CHECK(length(subject) <= 200),
    summary TEXT NOT NULL DEFAULT '' CHECK(length(summary) <= 503),
    content_ref TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    expires_at DATETIME,
    response_required INTEGER NOT NULL DEFAULT 0,
    dependencies TEXT NOT NULL DEFAULT '[]',
    tags TEXT NOT NULL DEFAULT '[]',
    suggested_approach TEXT,
    resolution_status TEXT,
    resolved_at DATETIME,
    resolved_by TEXT DEFAULT '',
    -- Reserved for vector-semantic search; currently unused.
    semantic_vector BLOB,
    FOREIGN KEY (from_participant) REFERENCES participants(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_priority ON messages(priority);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_participant);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_expires_at ON messages(expires_at);

-- Conversations table (thread aggregates)
CREATE TABLE IF NOT EXISTS conversations (
    thread_id TEXT PRIMARY KEY,
    participants TEXT NOT NULL DEFAULT '[]',
    topic TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL,
    last_activity DATETIME NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    resolution_summary TEXT NOT NULL DEFAULT '',
    message_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
CREATE INDEX IF NOT EXISTS idx_conversations_last_activity ON conversations(last_activity);

-- Metadata table (schema version and engine bookkeeping)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Full-text index over subject, summary, and tags. Kept in sync by the
-- triggers below; content sidecars are never indexed.
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    id UNINDEXED,
    subject,
    summary,
    tags,
    content='messages',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, id, subject, summary, tags)
    VALUES (new.rowid, new.id, new.subject, new.summary, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, id, subject, summary, tags)
    VALUES ('delete', old.rowid, old.id, old.subject, old.summary, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, id, subject, summary, tags)
    VALUES ('delete', old.rowid, old.id, old.subject, old.summary, old.tags);
    INSERT INTO messages_fts(rowid, id, subject, summary, tags)
    VALUES (new.rowid, new.id, new.subject, new.summary, new.tags);
END;
`
