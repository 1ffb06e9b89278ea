// Package httpapi exposes one research run, a debug search, a manual
// ingest, a source lookup, a standalone verify call, and the durable
// ingest-queue worker's trigger endpoint over plain net/http, wiring
// internal/orchestrator's Emitter onto internal/sse for the streamed
// research endpoint.
package httpapi

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/researchorch/internal/errs"
	"github.com/hyperifyio/researchorch/internal/ingest"
	"github.com/hyperifyio/researchorch/internal/orchestrator"
	"github.com/hyperifyio/researchorch/internal/prompts"
	"github.com/hyperifyio/researchorch/internal/search"
	"github.com/hyperifyio/researchorch/internal/sse"
	"github.com/hyperifyio/researchorch/internal/store"
	"github.com/hyperifyio/researchorch/internal/verify"
)

// Server bundles every collaborator a handler needs. All fields are
// required except Worker, which is only needed to serve /ingest-job.
type Server struct {
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	Search       *search.Adapter
	Ingestor     *ingest.Ingestor
	Verifier     *verify.Verifier
	Worker       *ingest.Worker
}

// Routes builds the request router. Callers embed it in their own
// http.Server to control listen address, TLS, and timeouts.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /research", s.handleResearch)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /source/{id}", s.handleGetSource)
	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("GET /ingest-job", s.handleIngestJob)
	mux.HandleFunc("POST /ingest-job", s.handleIngestJob)
	return mux
}

// NewOutboundClient returns an HTTP client tuned for many concurrent
// outbound reads without client-side throttling, the same pool sizing the
// research pipeline's reader and search providers share.
func NewOutboundClient(requestTimeout time.Duration, skipTLSVerify bool) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   1024,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if skipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: requestTimeout}
}

type researchRequest struct {
	ThreadID    string `json:"threadId"`
	Question    string `json:"question"`
	Depth       string `json:"depth"`
	TimeRange   string `json:"timeRange"`
	Region      string `json:"region"`
	Constraints string `json:"constraints"`
}

// handleResearch runs one question through the orchestrator and streams
// its progress, tokens, sources, claims, and completion over SSE.
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if len(strings.TrimSpace(req.Question)) < 8 {
		writeJSONError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "httpapi.handleResearch", errMissingQuestion{}))
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		thread, err := s.Store.CreateThread(r.Context(), req.Question, "")
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err)
			return
		}
		threadID = thread.ID
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	stop := make(chan struct{})
	defer close(stop)
	writer.Heartbeat(sse.DefaultHeartbeatInterval, stop)

	emit := &sseEmitter{w: writer}
	opts := orchestrator.Options{
		Depth:       orchestrator.Depth(req.Depth),
		TimeRange:   req.TimeRange,
		Region:      req.Region,
		Constraints: req.Constraints,
	}
	if _, err := s.Orchestrator.Run(r.Context(), threadID, req.Question, opts, emit); err != nil {
		log.Warn().Err(err).Str("threadId", threadID).Msg("research run ended with an error")
	}
}

// sseEmitter adapts orchestrator.Emitter onto an *sse.Writer.
type sseEmitter struct {
	w *sse.Writer
}

func (e *sseEmitter) Emit(event, data string) error {
	return e.w.Send(data, sse.SendOptions{Event: event})
}

type searchRequest struct {
	Query             string   `json:"query"`
	Size              int      `json:"size"`
	TimeRange         string   `json:"timeRange"`
	Region            string   `json:"region"`
	AllowedDomains    []string `json:"allowedDomains"`
	DisallowedDomains []string `json:"disallowedDomains"`
	ThreadID          string   `json:"threadId"`
}

// handleSearch exposes the raw search-provider results for debugging the
// planner and source selection without running a full research pass.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if len(strings.TrimSpace(req.Query)) < 2 {
		writeJSONError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "httpapi.handleSearch", errQueryTooShort{}))
		return
	}
	results, err := s.Search.Search(r.Context(), req.Query, search.Options{
		Size:              req.Size,
		TimeRange:         req.TimeRange,
		Region:            req.Region,
		AllowedDomains:    req.AllowedDomains,
		DisallowedDomains: req.DisallowedDomains,
	})
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type ingestRequest struct {
	URLs      []string `json:"urls"`
	Immediate bool     `json:"immediate"`
	Priority  int      `json:"priority"`
}

type ingestItemResult struct {
	URL      string `json:"url"`
	Status   string `json:"status"`
	SourceID string `json:"sourceId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// handleIngest canonicalizes and ingests each URL independently, either
// synchronously or by enqueueing it for the worker pool; one URL's
// failure does not prevent the others from being processed.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.URLs) == 0 || len(req.URLs) > 32 {
		writeJSONError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "httpapi.handleIngest", errNoURLs{}))
		return
	}
	if req.Priority < -10 || req.Priority > 10 {
		writeJSONError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "httpapi.handleIngest", errPriorityOutOfRange{}))
		return
	}

	results := make([]ingestItemResult, 0, len(req.URLs))
	sourceIDs := make([]string, 0, len(req.URLs))
	for _, url := range req.URLs {
		res, err := s.Ingestor.Ingest(r.Context(), url, ingest.Options{Immediate: req.Immediate, Priority: req.Priority})
		if err != nil {
			results = append(results, ingestItemResult{URL: url, Status: "error", Message: err.Error()})
			continue
		}
		results = append(results, ingestItemResult{URL: url, Status: string(res.Status), SourceID: res.SourceID})
		if res.SourceID != "" {
			sourceIDs = append(sourceIDs, res.SourceID)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "sourceIds": sourceIDs})
}

type chunkPreview struct {
	ID        int64  `json:"id"`
	Pos       int    `json:"pos"`
	CharStart int    `json:"charStart"`
	CharEnd   int    `json:"charEnd"`
	Text      string `json:"text"`
}

// handleGetSource returns a source's metadata plus, when requested via
// include=content,chunks, a bounded content snippet (or the full text
// when fullContent=1) and up to chunkLimit chunk previews.
func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	src, err := s.Store.GetSource(r.Context(), id)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	if src == nil {
		writeJSONError(w, http.StatusNotFound, errs.New(errs.KindValidation, "httpapi.handleGetSource", errSourceNotFound(id)))
		return
	}

	q := r.URL.Query()
	include := strings.Split(q.Get("include"), ",")
	wantContent, wantChunks := false, false
	for _, part := range include {
		switch strings.TrimSpace(part) {
		case "content":
			wantContent = true
		case "chunks":
			wantChunks = true
		}
	}

	out := map[string]any{"source": src}

	if wantContent {
		content, err := s.Store.GetSourceContent(r.Context(), id)
		if err != nil {
			writeJSONError(w, statusFor(err), err)
			return
		}
		text := ""
		if content != nil {
			text = content.Text
		}
		if q.Get("fullContent") == "1" {
			out["content"] = text
		} else {
			out["content"] = truncateRunes(text, clampInt(q.Get("snippetChars"), 2000, 100, 8000))
		}
	}

	if wantChunks {
		chunks, err := s.Store.ChunksBySource(r.Context(), id)
		if err != nil {
			writeJSONError(w, statusFor(err), err)
			return
		}
		limit := clampInt(q.Get("chunkLimit"), 20, 1, 50)
		if len(chunks) > limit {
			chunks = chunks[:limit]
		}
		previews := make([]chunkPreview, len(chunks))
		for i, c := range chunks {
			previews[i] = chunkPreview{ID: c.ID, Pos: c.Pos, CharStart: c.CharStart, CharEnd: c.CharEnd, Text: c.Text}
		}
		out["chunks"] = previews
	}

	writeJSON(w, http.StatusOK, out)
}

// clampInt parses raw as an int, falling back to def on a parse failure
// or empty string, then clamps the result to [min, max].
func clampInt(raw string, def, min, max int) int {
	n := def
	if raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			n = v
		}
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n
}

// truncateRunes returns at most n runes of s, appending a truncation
// marker when it cut content off.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + fmt.Sprintf(" …[truncated, %d chars total]", len(r))
}

type verifyRequest struct {
	AnswerMarkdown        string              `json:"answerMarkdown"`
	Snippets              []verifySnippetJSON `json:"snippets"`
	NLIContradictionCheck bool                `json:"nliContradictionCheck"`
}

type verifySnippetJSON struct {
	SourceID string `json:"sourceId"`
	ChunkID  int64  `json:"chunkId"`
	Text     string `json:"text"`
}

// handleVerify runs the claim verifier against an arbitrary answer and
// snippet set, independent of a full research run — useful for testing
// and for re-verifying an edited answer.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	chunkTextByID := make(map[int64]string, len(req.Snippets))
	validSourceIDs := make(map[string]bool, len(req.Snippets))
	validChunkIDs := make(map[int64]bool, len(req.Snippets))
	snippets := make([]prompts.VerifySnippet, 0, len(req.Snippets))
	for _, sn := range req.Snippets {
		snippets = append(snippets, prompts.VerifySnippet{SourceID: sn.SourceID, ChunkID: sn.ChunkID, Text: sn.Text})
		chunkTextByID[sn.ChunkID] = sn.Text
		validSourceIDs[sn.SourceID] = true
		validChunkIDs[sn.ChunkID] = true
	}

	res, err := s.Verifier.Verify(r.Context(), verify.Request{
		AnswerMarkdown:        req.AnswerMarkdown,
		Snippets:              snippets,
		ChunkTextByID:         chunkTextByID,
		ValidSourceIDs:        validSourceIDs,
		ValidChunkIDs:         validChunkIDs,
		BindOffsets:           true,
		NLIContradictionCheck: req.NLIContradictionCheck,
	})
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleIngestJob runs one batch of the durable ingest queue and reports
// its outcome counts, for a cron-style external trigger. The standalone
// cmd/ingestworker binary does not use this endpoint; it calls
// Worker.RunBatch directly.
func (s *Server) handleIngestJob(w http.ResponseWriter, r *http.Request) {
	if s.Worker == nil {
		writeJSONError(w, http.StatusNotImplemented, errs.New(errs.KindValidation, "httpapi.handleIngestJob", errNoWorker{}))
		return
	}
	stats, err := s.Worker.RunBatch(r.Context())
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps a semantic error Kind to the HTTP status a client should
// see, so upstream/transient failures aren't confused with a malformed
// request.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindTimeout, errs.KindCancelled:
		return http.StatusGatewayTimeout
	case errs.KindUpstreamTransient:
		return http.StatusBadGateway
	case errs.KindUpstreamNonRetryable:
		return http.StatusBadGateway
	case errs.KindBudgetExceeded:
		return http.StatusPayloadTooLarge
	case errs.KindStorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type errMissingQuestion struct{}

func (errMissingQuestion) Error() string { return "question must be at least 8 characters" }

type errSourceNotFound string

func (e errSourceNotFound) Error() string { return "source not found: " + string(e) }

type errNoWorker struct{}

func (errNoWorker) Error() string { return "no ingest worker configured on this server" }

type errNoURLs struct{}

func (errNoURLs) Error() string { return "urls must contain between 1 and 32 URLs" }

type errQueryTooShort struct{}

func (errQueryTooShort) Error() string { return "query must be at least 2 characters" }

type errPriorityOutOfRange struct{}

func (errPriorityOutOfRange) Error() string { return "priority must be between -10 and 10" }
