package store

// schemaSQL is the DDL for the full storage substrate: threads, messages,
// sources, chunks with an external-content FTS5 index, citations, claims,
// evidence, the durable ingest queue, and the search audit log.
const schemaSQL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    title TEXT,
    visitor_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user','assistant','system')),
    content_md TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);

CREATE TABLE IF NOT EXISTS sources (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    domain TEXT NOT NULL,
    title TEXT,
    published_at DATETIME,
    crawled_at DATETIME,
    lang TEXT,
    fingerprint TEXT,
    status TEXT NOT NULL DEFAULT 'ok',
    http_status INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sources_url ON sources(url);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sources_fingerprint ON sources(fingerprint) WHERE fingerprint IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_sources_domain ON sources(domain);

CREATE TABLE IF NOT EXISTS source_content (
    source_id TEXT PRIMARY KEY REFERENCES sources(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    html TEXT
);

CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    pos INTEGER NOT NULL,
    char_start INTEGER NOT NULL,
    char_end INTEGER NOT NULL,
    text TEXT NOT NULL,
    tokens INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chunks_source_pos ON chunks(source_id, pos);

-- External-content FTS5 index over chunks.text, synced by the AI/AD/AU
-- triggers below. content_rowid ties it to chunks.id so bm25()/rank apply
-- directly to chunk ids without a join table.
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    text,
    content='chunks',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
    INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
END;

CREATE TABLE IF NOT EXISTS citations (
    id INTEGER PRIMARY KEY,
    message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    source_id TEXT NOT NULL REFERENCES sources(id),
    chunk_id INTEGER REFERENCES chunks(id),
    quote TEXT NOT NULL,
    char_start INTEGER,
    char_end INTEGER,
    rank_score REAL
);
CREATE INDEX IF NOT EXISTS idx_citations_message ON citations(message_id);

CREATE TABLE IF NOT EXISTS claims (
    id INTEGER PRIMARY KEY,
    message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    claim_type TEXT,
    support_score REAL NOT NULL DEFAULT 0 CHECK (support_score >= 0 AND support_score <= 1),
    contradicted INTEGER NOT NULL DEFAULT 0,
    uncertainty_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_claims_message ON claims(message_id);

CREATE TABLE IF NOT EXISTS claim_evidence (
    id INTEGER PRIMARY KEY,
    claim_id INTEGER NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
    source_id TEXT NOT NULL REFERENCES sources(id),
    chunk_id INTEGER NOT NULL REFERENCES chunks(id),
    quote TEXT NOT NULL,
    char_start INTEGER NOT NULL,
    char_end INTEGER NOT NULL,
    score REAL
);
CREATE INDEX IF NOT EXISTS idx_claim_evidence_claim ON claim_evidence(claim_id);

CREATE TABLE IF NOT EXISTS ingest_queue (
    id INTEGER PRIMARY KEY,
    url TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued','processing','done','error')),
    attempts INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    claimed_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ingest_queue_status ON ingest_queue(status, priority DESC, attempts ASC, created_at ASC);

CREATE TABLE IF NOT EXISTS search_events (
    id INTEGER PRIMARY KEY,
    thread_id TEXT,
    query TEXT NOT NULL,
    results_json TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
