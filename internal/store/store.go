// Package store is the SQLite+FTS5 durability layer: threads and
// messages, deduplicated sources and their chunks, citations, verifier
// claims and evidence, and the durable ingest queue.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperifyio/researchorch/internal/errs"
	"github.com/hyperifyio/researchorch/internal/idutil"
)

// Store wraps a *sql.DB configured for SQLite with FTS5 enabled.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path, applying
// the schema and enabling WAL mode and foreign keys.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errs.New(errs.KindStorageError, "store.Open", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.Open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.New(errs.KindStorageError, "store.Open", err)
	}
	// FTS5 requires a single writer at a time under WAL; a small pool avoids
	// SQLITE_BUSY without serializing every read.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.New(errs.KindStorageError, "store.Open", fmt.Errorf("applying schema: %w", err))
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB for call sites that need raw access
// (the ranker's FTS queries, the ingest worker's claim loop).
func (s *Store) DB() *sql.DB { return s.db }

// --- Threads & messages ---

// CreateThread inserts a new Thread with a fresh ULID.
func (s *Store) CreateThread(ctx context.Context, title, visitorID string) (*Thread, error) {
	th := &Thread{ID: idutil.New(), Title: title, VisitorID: visitorID, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, visitor_id, created_at) VALUES (?, ?, ?, ?)
	`, th.ID, th.Title, nullIfEmpty(th.VisitorID), th.CreatedAt)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.CreateThread", err)
	}
	return th, nil
}

// GetThread retrieves a Thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	th := &Thread{}
	var visitorID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, visitor_id, created_at FROM threads WHERE id = ?
	`, id).Scan(&th.ID, &th.Title, &visitorID, &th.CreatedAt)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.GetThread", err)
	}
	th.VisitorID = visitorID.String
	return th, nil
}

// AppendMessage inserts a Message onto a Thread with a fresh ULID, which
// also orders messages by created_at.
func (s *Store) AppendMessage(ctx context.Context, threadID, role, contentMd string) (*Message, error) {
	m := &Message{ID: idutil.New(), ThreadID: threadID, Role: role, ContentMd: contentMd, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, role, content_md, created_at) VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.ThreadID, m.Role, m.ContentMd, m.CreatedAt)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.AppendMessage", err)
	}
	return m, nil
}

// ListMessages returns every Message of a Thread ordered by created_at.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content_md, created_at FROM messages
		WHERE thread_id = ? ORDER BY created_at ASC
	`, threadID)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.ListMessages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.ContentMd, &m.CreatedAt); err != nil {
			return nil, errs.New(errs.KindStorageError, "store.ListMessages", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Sources & content ---

// UpsertSource inserts src, doing nothing on a url conflict (Source rows
// are never mutated after creation per the lifecycle rule). Returns the
// resolved id: src.ID on insert, the existing row's id on conflict. Callers
// must populate src.ID before calling (idutil.New()).
func (s *Store) UpsertSource(ctx context.Context, src Source) (string, error) {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, url, domain, title, published_at, crawled_at, lang, fingerprint, status, http_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING
	`, src.ID, src.URL, src.Domain, nullIfEmpty(src.Title), src.PublishedAt, src.CrawledAt,
		nullIfEmpty(src.Lang), nullIfEmpty(src.Fingerprint), src.Status, nullIfZero(src.HTTPStatus), src.CreatedAt)
	if err != nil {
		return "", errs.New(errs.KindStorageError, "store.UpsertSource", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", errs.New(errs.KindStorageError, "store.UpsertSource", err)
	}
	if n > 0 {
		return src.ID, nil
	}
	var existingID string
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM sources WHERE url = ?`, src.URL).Scan(&existingID); err != nil {
		return "", errs.New(errs.KindStorageError, "store.UpsertSource", err)
	}
	return existingID, nil
}

// GetSourceByURL retrieves a Source by its canonical url, or nil if absent.
func (s *Store) GetSourceByURL(ctx context.Context, url string) (*Source, error) {
	return s.scanSource(s.db.QueryRowContext(ctx, `
		SELECT id, url, domain, title, published_at, crawled_at, lang, fingerprint, status, http_status, created_at
		FROM sources WHERE url = ?
	`, url))
}

// GetSource retrieves a Source by id.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	return s.scanSource(s.db.QueryRowContext(ctx, `
		SELECT id, url, domain, title, published_at, crawled_at, lang, fingerprint, status, http_status, created_at
		FROM sources WHERE id = ?
	`, id))
}

func (s *Store) scanSource(row *sql.Row) (*Source, error) {
	var src Source
	var title, lang, fingerprint sql.NullString
	var publishedAt, crawledAt sql.NullTime
	var httpStatus sql.NullInt64
	err := row.Scan(&src.ID, &src.URL, &src.Domain, &title, &publishedAt, &crawledAt,
		&lang, &fingerprint, &src.Status, &httpStatus, &src.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.scanSource", err)
	}
	src.Title = title.String
	src.Lang = lang.String
	src.Fingerprint = fingerprint.String
	src.HTTPStatus = int(httpStatus.Int64)
	if publishedAt.Valid {
		src.PublishedAt = &publishedAt.Time
	}
	if crawledAt.Valid {
		src.CrawledAt = &crawledAt.Time
	}
	return &src, nil
}

// PutSourceContent upserts the 1:1 extracted body text for a Source.
func (s *Store) PutSourceContent(ctx context.Context, sourceID, text, html string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_content (source_id, text, html) VALUES (?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET text = excluded.text, html = excluded.html
	`, sourceID, text, nullIfEmpty(html))
	if err != nil {
		return errs.New(errs.KindStorageError, "store.PutSourceContent", err)
	}
	return nil
}

// GetSourceContent retrieves the body text (and raw HTML, if stored) of a
// Source.
func (s *Store) GetSourceContent(ctx context.Context, sourceID string) (*SourceContent, error) {
	var sc SourceContent
	var html sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT source_id, text, html FROM source_content WHERE source_id = ?
	`, sourceID).Scan(&sc.SourceID, &sc.Text, &html)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.GetSourceContent", err)
	}
	sc.HTML = html.String
	return &sc, nil
}

// --- Chunks ---

// InsertChunks bulk-inserts chunks for a single Source inside one
// transaction, returning them with ids populated. Chunk.SourceID must
// already be set on every element.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.InsertChunks", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (source_id, pos, char_start, char_end, text, tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.InsertChunks", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.CreatedAt = now
		res, err := stmt.ExecContext(ctx, c.SourceID, c.Pos, c.CharStart, c.CharEnd, c.Text, c.Tokens, c.CreatedAt)
		if err != nil {
			return nil, errs.New(errs.KindStorageError, "store.InsertChunks", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errs.New(errs.KindStorageError, "store.InsertChunks", err)
		}
		c.ID = id
		out[i] = c
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.New(errs.KindStorageError, "store.InsertChunks", err)
	}
	return out, nil
}

// ChunksBySource returns every Chunk of a Source ordered by pos.
func (s *Store) ChunksBySource(ctx context.Context, sourceID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, pos, char_start, char_end, text, tokens, created_at
		FROM chunks WHERE source_id = ? ORDER BY pos ASC
	`, sourceID)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.ChunksBySource", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Pos, &c.CharStart, &c.CharEnd, &c.Text, &c.Tokens, &c.CreatedAt); err != nil {
			return nil, errs.New(errs.KindStorageError, "store.ChunksBySource", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunk retrieves a single Chunk by id.
func (s *Store) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	var c Chunk
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, pos, char_start, char_end, text, tokens, created_at
		FROM chunks WHERE id = ?
	`, id).Scan(&c.ID, &c.SourceID, &c.Pos, &c.CharStart, &c.CharEnd, &c.Text, &c.Tokens, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.GetChunk", err)
	}
	return &c, nil
}

// RebuildFTS drops and repopulates chunks_fts from chunks, used after a
// migration that predates the FTS5 table or to repair detected drift.
func (s *Store) RebuildFTS(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')`)
	if err != nil {
		return errs.New(errs.KindStorageError, "store.RebuildFTS", err)
	}
	return nil
}

// FTSRowCount reports how many rows chunks_fts currently holds, used to
// decide whether a rebuild or LIKE-fallback is needed.
func (s *Store) FTSRowCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM chunks_fts`).Scan(&n)
	if err != nil {
		return 0, errs.New(errs.KindStorageError, "store.FTSRowCount", err)
	}
	return n, nil
}

// --- Citations ---

// InsertCitation attaches a quoted Chunk span to an assistant Message.
func (s *Store) InsertCitation(ctx context.Context, c Citation) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO citations (message_id, source_id, chunk_id, quote, char_start, char_end, rank_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.MessageID, c.SourceID, nullIfZero64(c.ChunkID), c.Quote, nullIfNeg(c.CharStart), nullIfNeg(c.CharEnd), c.RankScore)
	if err != nil {
		return 0, errs.New(errs.KindStorageError, "store.InsertCitation", err)
	}
	return res.LastInsertId()
}

// CitationsByMessage returns every Citation of an assistant Message.
func (s *Store) CitationsByMessage(ctx context.Context, messageID string) ([]Citation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, source_id, chunk_id, quote, char_start, char_end, rank_score
		FROM citations WHERE message_id = ?
	`, messageID)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.CitationsByMessage", err)
	}
	defer rows.Close()

	var out []Citation
	for rows.Next() {
		var c Citation
		var chunkID, charStart, charEnd sql.NullInt64
		var rankScore sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.MessageID, &c.SourceID, &chunkID, &c.Quote, &charStart, &charEnd, &rankScore); err != nil {
			return nil, errs.New(errs.KindStorageError, "store.CitationsByMessage", err)
		}
		c.ChunkID = chunkID.Int64
		c.CharStart = int(charStart.Int64)
		c.CharEnd = int(charEnd.Int64)
		c.RankScore = rankScore.Float64
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Claims & evidence ---

// InsertClaim inserts a verifier-extracted Claim, returning its id.
func (s *Store) InsertClaim(ctx context.Context, c Claim) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (message_id, text, claim_type, support_score, contradicted, uncertainty_reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.MessageID, c.Text, nullIfEmpty(c.ClaimType), clampUnit(c.SupportScore), boolToInt(c.Contradicted), nullIfEmpty(c.UncertaintyReason))
	if err != nil {
		return 0, errs.New(errs.KindStorageError, "store.InsertClaim", err)
	}
	return res.LastInsertId()
}

// InsertClaimEvidence attaches supporting evidence to a Claim. The caller
// must ensure ChunkID belongs to SourceID.
func (s *Store) InsertClaimEvidence(ctx context.Context, e ClaimEvidence) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO claim_evidence (claim_id, source_id, chunk_id, quote, char_start, char_end, score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ClaimID, e.SourceID, e.ChunkID, e.Quote, e.CharStart, e.CharEnd, e.Score)
	if err != nil {
		return 0, errs.New(errs.KindStorageError, "store.InsertClaimEvidence", err)
	}
	return res.LastInsertId()
}

// ClaimsByMessage returns every Claim of an assistant Message with its
// evidence attached.
func (s *Store) ClaimsByMessage(ctx context.Context, messageID string) ([]Claim, map[int64][]ClaimEvidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, text, claim_type, support_score, contradicted, uncertainty_reason
		FROM claims WHERE message_id = ?
	`, messageID)
	if err != nil {
		return nil, nil, errs.New(errs.KindStorageError, "store.ClaimsByMessage", err)
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		var c Claim
		var claimType, reason sql.NullString
		var contradicted int
		if err := rows.Scan(&c.ID, &c.MessageID, &c.Text, &claimType, &c.SupportScore, &contradicted, &reason); err != nil {
			return nil, nil, errs.New(errs.KindStorageError, "store.ClaimsByMessage", err)
		}
		c.ClaimType = claimType.String
		c.Contradicted = contradicted != 0
		c.UncertaintyReason = reason.String
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errs.New(errs.KindStorageError, "store.ClaimsByMessage", err)
	}

	evidence := make(map[int64][]ClaimEvidence, len(claims))
	for _, c := range claims {
		erows, err := s.db.QueryContext(ctx, `
			SELECT id, claim_id, source_id, chunk_id, quote, char_start, char_end, score
			FROM claim_evidence WHERE claim_id = ?
		`, c.ID)
		if err != nil {
			return nil, nil, errs.New(errs.KindStorageError, "store.ClaimsByMessage", err)
		}
		var list []ClaimEvidence
		for erows.Next() {
			var e ClaimEvidence
			var score sql.NullFloat64
			if err := erows.Scan(&e.ID, &e.ClaimID, &e.SourceID, &e.ChunkID, &e.Quote, &e.CharStart, &e.CharEnd, &score); err != nil {
				erows.Close()
				return nil, nil, errs.New(errs.KindStorageError, "store.ClaimsByMessage", err)
			}
			e.Score = score.Float64
			list = append(list, e)
		}
		erows.Close()
		evidence[c.ID] = list
	}
	return claims, evidence, nil
}

// --- Ingest queue ---

// EnqueueIngest inserts a queued ingest job.
func (s *Store) EnqueueIngest(ctx context.Context, url string, priority int) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_queue (url, priority, status, attempts, created_at, updated_at)
		VALUES (?, ?, 'queued', 0, ?, ?)
	`, url, priority, now, now)
	if err != nil {
		return 0, errs.New(errs.KindStorageError, "store.EnqueueIngest", err)
	}
	return res.LastInsertId()
}

// ReviveStaleIngestJobs resets processing rows older than staleAfter back
// to queued, run by the worker before each claim pass.
func (s *Store) ReviveStaleIngestJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_queue SET status = 'queued', claimed_at = NULL, updated_at = ?
		WHERE status = 'processing' AND claimed_at IS NOT NULL AND claimed_at < ?
	`, time.Now().UTC(), cutoff)
	if err != nil {
		return 0, errs.New(errs.KindStorageError, "store.ReviveStaleIngestJobs", err)
	}
	return res.RowsAffected()
}

// ClaimIngestJobs atomically marks up to n queued rows as processing,
// ordered by (priority desc, attempts asc, created_at asc), and returns
// them.
func (s *Store) ClaimIngestJobs(ctx context.Context, n int) ([]IngestQueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.ClaimIngestJobs", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, url, priority, status, attempts, error, claimed_at, created_at, updated_at
		FROM ingest_queue WHERE status = 'queued'
		ORDER BY priority DESC, attempts ASC, created_at ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "store.ClaimIngestJobs", err)
	}
	var items []IngestQueueItem
	for rows.Next() {
		var it IngestQueueItem
		var errStr sql.NullString
		var claimedAt sql.NullTime
		if err := rows.Scan(&it.ID, &it.URL, &it.Priority, &it.Status, &it.Attempts, &errStr, &claimedAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
			rows.Close()
			return nil, errs.New(errs.KindStorageError, "store.ClaimIngestJobs", err)
		}
		it.Error = errStr.String
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindStorageError, "store.ClaimIngestJobs", err)
	}

	now := time.Now().UTC()
	for i := range items {
		if _, err := tx.ExecContext(ctx, `
			UPDATE ingest_queue SET status = 'processing', claimed_at = ?, updated_at = ? WHERE id = ?
		`, now, now, items[i].ID); err != nil {
			return nil, errs.New(errs.KindStorageError, "store.ClaimIngestJobs", err)
		}
		items[i].Status = "processing"
		items[i].ClaimedAt = &now
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.New(errs.KindStorageError, "store.ClaimIngestJobs", err)
	}
	return items, nil
}

// CompleteIngestJob marks a job done.
func (s *Store) CompleteIngestJob(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_queue SET status = 'done', updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return errs.New(errs.KindStorageError, "store.CompleteIngestJob", err)
	}
	return nil
}

// FailIngestJob requeues the job (attempts < maxAttempts) or marks it
// error (attempts >= maxAttempts), truncating errMsg to a bounded length.
func (s *Store) FailIngestJob(ctx context.Context, id int64, attempts, maxAttempts int, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	now := time.Now().UTC()
	if attempts < maxAttempts {
		_, err := s.db.ExecContext(ctx, `
			UPDATE ingest_queue SET status = 'queued', attempts = ?, error = ?, claimed_at = NULL, updated_at = ?
			WHERE id = ?
		`, attempts, errMsg, now, id)
		if err != nil {
			return errs.New(errs.KindStorageError, "store.FailIngestJob", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_queue SET status = 'error', attempts = ?, error = ?, updated_at = ? WHERE id = ?
	`, attempts, errMsg, now, id)
	if err != nil {
		return errs.New(errs.KindStorageError, "store.FailIngestJob", err)
	}
	return nil
}

// CountQueuedIngest returns how many ingest_queue rows are still waiting
// to be claimed.
func (s *Store) CountQueuedIngest(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingest_queue WHERE status = 'queued'`).Scan(&n)
	if err != nil {
		return 0, errs.New(errs.KindStorageError, "store.CountQueuedIngest", err)
	}
	return n, nil
}

// --- Search audit ---

// RecordSearchEvent appends an audit row for a search-adapter call.
func (s *Store) RecordSearchEvent(ctx context.Context, threadID, query, resultsJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_events (thread_id, query, results_json, created_at) VALUES (?, ?, ?, ?)
	`, nullIfEmpty(threadID), query, resultsJSON, time.Now().UTC())
	if err != nil {
		return errs.New(errs.KindStorageError, "store.RecordSearchEvent", err)
	}
	return nil
}

// --- small null helpers ---

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

func nullIfZero64(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

func nullIfNeg(i int) any {
	if i < 0 {
		return nil
	}
	return i
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
