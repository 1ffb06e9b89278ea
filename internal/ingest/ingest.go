// Package ingest takes a URL through canonicalization, an exists check
// against already-known sources, and either immediate read-and-persist or
// enqueueing a durable job for the worker pool, reusing internal/reader,
// internal/text, and internal/store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hyperifyio/researchorch/internal/canon"
	"github.com/hyperifyio/researchorch/internal/errs"
	"github.com/hyperifyio/researchorch/internal/idutil"
	"github.com/hyperifyio/researchorch/internal/reader"
	"github.com/hyperifyio/researchorch/internal/store"
	"github.com/hyperifyio/researchorch/internal/text"
)

// Status is the outcome of a single Ingest call.
type Status string

const (
	StatusExists  Status = "exists"
	StatusOK      Status = "ok"
	StatusQueued  Status = "queued"
)

// Options configures a single Ingest call.
type Options struct {
	Immediate bool
	Priority  int
}

// Result reports what Ingest did.
type Result struct {
	Status   Status
	SourceID string
}

// Ingestor turns URLs into persisted Sources and Chunks.
type Ingestor struct {
	Store  *store.Store
	Reader *reader.Reader

	SanitizeOpts text.SanitizeOptions
	WindowOpts   text.WindowOptions
}

// New constructs an Ingestor with default sanitize and windowing options.
func New(st *store.Store, rdr *reader.Reader) *Ingestor {
	return &Ingestor{Store: st, Reader: rdr, SanitizeOpts: text.SanitizeDefault(), WindowOpts: text.WindowOptionsDefault()}
}

// Ingest canonicalizes rawURL, returns StatusExists if already known,
// otherwise reads+persists immediately (opts.Immediate) or enqueues a
// durable job for the worker pool.
func (ing *Ingestor) Ingest(ctx context.Context, rawURL string, opts Options) (Result, error) {
	canonical, err := canon.URL(rawURL)
	if err != nil {
		return Result{}, errs.New(errs.KindValidation, "ingest.Ingest", err)
	}

	existing, err := ing.Store.GetSourceByURL(ctx, canonical)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return Result{Status: StatusExists, SourceID: existing.ID}, nil
	}

	if !opts.Immediate {
		if _, err := ing.Store.EnqueueIngest(ctx, canonical, opts.Priority); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusQueued}, nil
	}

	sourceID, existed, err := ing.readAndPersist(ctx, canonical)
	if err != nil {
		return Result{}, err
	}
	if existed {
		return Result{Status: StatusExists, SourceID: sourceID}, nil
	}
	return Result{Status: StatusOK, SourceID: sourceID}, nil
}

// readAndPersist fetches canonical, sanitizes the extracted text, and
// writes Source + SourceContent + Chunks. Callers must have already
// confirmed canonical is not a known Source. existed reports true when a
// concurrent ingest of the same URL won the race, in which case no new
// rows were written.
func (ing *Ingestor) readAndPersist(ctx context.Context, canonical string) (sourceID string, existed bool, err error) {
	res, err := ing.Reader.Read(ctx, canonical, reader.Options{})
	if err != nil {
		return "", false, err
	}
	clean := text.Sanitize(res.Text, ing.SanitizeOpts)
	if clean == "" {
		return "", false, errs.New(errs.KindParserFailure, "ingest.readAndPersist", errNoExtractableText(canonical))
	}

	src := store.Source{
		ID:          idutil.New(),
		URL:         canonical,
		Domain:      canon.Domain(canonical),
		Title:       res.Title,
		Lang:        res.Lang,
		Fingerprint: fingerprint(clean),
		Status:      "ok",
		HTTPStatus:  res.HTTPStatus,
	}
	now := time.Now().UTC()
	src.CrawledAt = &now

	sourceID, err = ing.Store.UpsertSource(ctx, src)
	if err != nil {
		return "", false, err
	}
	if sourceID != src.ID {
		// Lost a race against a concurrent ingest of the same URL.
		return sourceID, true, nil
	}
	if err := ing.Store.PutSourceContent(ctx, sourceID, clean, res.HTML); err != nil {
		return "", false, err
	}

	windows := text.SplitIntoWindows(clean, ing.WindowOpts)
	chunks := make([]store.Chunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, store.Chunk{
			SourceID:  sourceID,
			Pos:       i,
			CharStart: w.CharStart,
			CharEnd:   w.CharEnd,
			Text:      w.Text,
			Tokens:    w.ApproxTokens,
		})
	}
	if len(chunks) > 0 {
		if _, err := ing.Store.InsertChunks(ctx, chunks); err != nil {
			return "", false, err
		}
	}
	return sourceID, false, nil
}

func fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

type errNoExtractableText string

func (e errNoExtractableText) Error() string { return "no extractable text from " + string(e) }
