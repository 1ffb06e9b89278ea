// Package reader fetches a URL's readable text: canonicalize, check
// robots.txt politeness, optionally call an external readability
// service, and otherwise fetch and extract text directly (retry/backoff,
// ETag caching, redirect cap, binary content-type rejection, byte-cap
// abort).
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hyperifyio/researchorch/internal/cache"
	"github.com/hyperifyio/researchorch/internal/canon"
	"github.com/hyperifyio/researchorch/internal/concurrency"
	"github.com/hyperifyio/researchorch/internal/errs"
)

// Options configures a single Read call.
type Options struct {
	TimeoutMs int
	// MaxBytes caps the response body size read from the network. Zero
	// means the Reader's default (2 MiB).
	MaxBytes int64
	// Prefer selects "primary" (external readability service, default) or
	// "raw" (direct fetch + local extraction) for this call.
	Prefer string
}

// Result is the extracted page content and provenance.
type Result struct {
	Text        string
	HTML        string
	FinalURL    string
	Title       string
	Lang        string
	ContentType string
	HTTPStatus  int
	// From is "primary" or "raw" (a raw fetch answered from the HTTP cache
	// on a 304 still reports "raw").
	From string
}

const (
	defaultMaxBytes       = 2 << 20 // 2 MiB
	defaultRedirectHops   = 5
	defaultCooldown       = 45 * time.Second
	defaultPerRequestWait = 20 * time.Second
)

var binaryContentPrefixes = []string{
	"application/pdf",
	"image/",
	"video/",
	"audio/",
	"application/octet-stream",
	"application/zip",
}

// Reader fetches and extracts page content, with an optional external
// "primary" readability service and a process-wide rate-limit cooldown
// that falls back to raw fetches while active.
type Reader struct {
	HTTPClient      *http.Client
	UserAgent       string
	PrimaryBaseURL  string // external readability service; "" disables it
	Cache           *cache.HTTPCache
	Robots          *robotsManager
	RedirectMaxHops int
	MaxConcurrent   int
	CooldownFor     time.Duration

	limiter     chan struct{}
	limiterOnce sync.Once

	cooldownMu  sync.Mutex
	pausedUntil time.Time
}

// New constructs a Reader with the given politeness cache and user agent,
// wiring a fresh robots manager that shares the same HTTP cache.
func New(httpClient *http.Client, httpCache *cache.HTTPCache, userAgent, primaryBaseURL string) *Reader {
	return &Reader{
		HTTPClient:     httpClient,
		UserAgent:      userAgent,
		PrimaryBaseURL: primaryBaseURL,
		Cache:          httpCache,
		Robots:         &robotsManager{HTTPClient: httpClient, Cache: httpCache, UserAgent: userAgent},
	}
}

// Read fetches rawURL per opts, preferring the external primary reader
// unless disabled, in cooldown, or overridden by opts.Prefer="raw".
func (r *Reader) Read(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	canonical, err := canon.URL(rawURL)
	if err != nil {
		return nil, errs.New(errs.KindValidation, "reader.Read", err)
	}
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	prefer := opts.Prefer
	if prefer == "" {
		prefer = "primary"
	}
	if prefer == "primary" && r.PrimaryBaseURL != "" && !r.inCooldown() {
		res, err := r.readPrimary(ctx, canonical)
		if err == nil {
			return res, nil
		}
		if isRateLimitErr(err) {
			r.startCooldown()
		}
		// Any primary failure (rate limit, timeout, bad gateway) falls
		// through to a direct fetch rather than surfacing to the caller.
	}
	return r.readRaw(ctx, canonical, opts)
}

func (r *Reader) inCooldown() bool {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	return time.Now().Before(r.pausedUntil)
}

func (r *Reader) startCooldown() {
	d := r.CooldownFor
	if d <= 0 {
		d = defaultCooldown
	}
	r.cooldownMu.Lock()
	r.pausedUntil = time.Now().Add(d)
	r.cooldownMu.Unlock()
}

func isRateLimitErr(err error) bool {
	return errs.Is(err, errs.KindUpstreamTransient)
}

// primaryResponse is the expected JSON shape of the external readability
// service response.
type primaryResponse struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	HTML        string `json:"html"`
	Lang        string `json:"lang"`
	FinalURL    string `json:"finalUrl"`
	ContentType string `json:"contentType"`
	HTTPStatus  int    `json:"httpStatus"`
}

func (r *Reader) readPrimary(ctx context.Context, canonicalURL string) (*Result, error) {
	endpoint := strings.TrimSuffix(r.PrimaryBaseURL, "/") + "/extract?url=" + url.QueryEscape(canonicalURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.New(errs.KindValidation, "reader.readPrimary", err)
	}
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}
	client := r.httpClient()
	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamTransient, "reader.readPrimary", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errs.New(errs.KindUpstreamTransient, "reader.readPrimary", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.New(errs.KindUpstreamNonRetryable, "reader.readPrimary", fmt.Errorf("status %d", resp.StatusCode))
	}
	var pr primaryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, defaultMaxBytes)).Decode(&pr); err != nil {
		return nil, errs.New(errs.KindParserFailure, "reader.readPrimary", err)
	}
	if strings.TrimSpace(pr.Text) == "" {
		return nil, errs.New(errs.KindParserFailure, "reader.readPrimary", fmt.Errorf("empty text"))
	}
	finalURL := pr.FinalURL
	if finalURL == "" {
		finalURL = canonicalURL
	}
	return &Result{
		Text:        pr.Text,
		HTML:        pr.HTML,
		FinalURL:    finalURL,
		Title:       pr.Title,
		Lang:        pr.Lang,
		ContentType: pr.ContentType,
		HTTPStatus:  pr.HTTPStatus,
		From:        "primary",
	}, nil
}

func (r *Reader) readRaw(ctx context.Context, canonicalURL string, opts Options) (*Result, error) {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return nil, errs.New(errs.KindValidation, "reader.readRaw", err)
	}
	if r.Robots != nil {
		robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
		allowed, _ := r.Robots.Allowed(ctx, robotsURL, r.UserAgent, u.Path)
		if !allowed {
			return nil, errs.New(errs.KindUpstreamNonRetryable, "reader.readRaw", fmt.Errorf("disallowed by robots.txt: %s", canonicalURL))
		}
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	var body []byte
	var contentType string
	var finalURL string
	var httpStatus int
	err = concurrency.Retry(ctx, concurrency.RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		ShouldRetry: errs.Retryable,
	}, func(ctx context.Context) error {
		b, ct, fu, status, fetchErr := r.fetchOnce(ctx, canonicalURL, maxBytes)
		body, contentType, finalURL, httpStatus = b, ct, fu, status
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	lang := detectLang(body)
	doc := extractFromHTML(body)
	return &Result{
		Text:        doc.Text,
		HTML:        string(body),
		FinalURL:    finalURL,
		Title:       doc.Title,
		Lang:        lang,
		ContentType: contentType,
		HTTPStatus:  httpStatus,
		From:        "raw",
	}, nil
}

func (r *Reader) fetchOnce(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, string, int, error) {
	r.acquire()
	defer r.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", 0, errs.New(errs.KindValidation, "reader.fetchOnce", err)
	}
	if req.URL == nil || !isHTTPScheme(req.URL) {
		return nil, "", "", 0, errs.New(errs.KindValidation, "reader.fetchOnce", fmt.Errorf("unsupported URL scheme"))
	}
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	var etag, lastMod string
	if r.Cache != nil {
		if meta, err := r.Cache.LoadMeta(ctx, rawURL); err == nil && meta != nil {
			etag, lastMod = meta.ETag, meta.LastModified
		}
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	client := r.httpClient()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", "", 0, errs.New(errs.KindTimeout, "reader.fetchOnce", err)
		}
		return nil, "", "", 0, errs.New(errs.KindUpstreamTransient, "reader.fetchOnce", err)
	}
	defer resp.Body.Close()

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if resp.StatusCode >= 500 {
		return nil, "", finalURL, resp.StatusCode, errs.New(errs.KindUpstreamTransient, "reader.fetchOnce", fmt.Errorf("server error: %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusNotModified {
		if r.Cache != nil {
			if cached, err := r.Cache.LoadBody(ctx, rawURL); err == nil {
				return cached, resp.Header.Get("Content-Type"), finalURL, resp.StatusCode, nil
			}
		}
		return nil, "", finalURL, resp.StatusCode, errs.New(errs.KindUpstreamNonRetryable, "reader.fetchOnce", fmt.Errorf("304 with no cached body"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", finalURL, resp.StatusCode, errs.New(errs.KindUpstreamNonRetryable, "reader.fetchOnce", fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if isBinaryContentType(contentType) {
		return nil, contentType, finalURL, resp.StatusCode, errs.New(errs.KindBinaryContent, "reader.fetchOnce", fmt.Errorf("binary content type: %s", contentType))
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, contentType, finalURL, resp.StatusCode, errs.New(errs.KindUpstreamTransient, "reader.fetchOnce", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, contentType, finalURL, resp.StatusCode, errs.New(errs.KindUpstreamNonRetryable, "reader.fetchOnce", fmt.Errorf("response exceeded %d byte cap", maxBytes))
	}

	if r.Cache != nil && resp.StatusCode == 200 {
		_ = r.Cache.Save(ctx, rawURL, contentType, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), b)
	}
	return b, contentType, finalURL, resp.StatusCode, nil
}

func (r *Reader) httpClient() *http.Client {
	base := r.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultPerRequestWait}
	}
	clone := *base
	clone.CheckRedirect = r.checkRedirectFunc()
	return &clone
}

func (r *Reader) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := r.RedirectMaxHops
	if max <= 0 {
		max = defaultRedirectHops
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("too many redirects")
		}
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return fmt.Errorf("redirect to unsupported scheme")
		}
		return nil
	}
}

func (r *Reader) acquire() {
	if r.MaxConcurrent <= 0 {
		return
	}
	r.limiterOnce.Do(func() { r.limiter = make(chan struct{}, r.MaxConcurrent) })
	r.limiter <- struct{}{}
}

func (r *Reader) release() {
	if r.MaxConcurrent <= 0 || r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func isBinaryContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	for _, p := range binaryContentPrefixes {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}
