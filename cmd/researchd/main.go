// Command researchd runs the research pipeline as an HTTP service: plan,
// search, read, rank, answer, and verify, all reachable over the
// endpoints in internal/httpapi.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/researchorch/internal/cache"
	"github.com/hyperifyio/researchorch/internal/config"
	"github.com/hyperifyio/researchorch/internal/httpapi"
	"github.com/hyperifyio/researchorch/internal/ingest"
	"github.com/hyperifyio/researchorch/internal/llmgateway"
	"github.com/hyperifyio/researchorch/internal/orchestrator"
	"github.com/hyperifyio/researchorch/internal/rank"
	"github.com/hyperifyio/researchorch/internal/reader"
	"github.com/hyperifyio/researchorch/internal/search"
	"github.com/hyperifyio/researchorch/internal/store"
	"github.com/hyperifyio/researchorch/internal/verify"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		configPath    string
		listenAddr    string
		dbPath        string
		cacheDir      string
		searxURL      string
		searxKey      string
		skipTLSVerify bool
	)
	flag.StringVar(&configPath, "config", "", "Optional YAML config file, overridden by env vars")
	flag.StringVar(&listenAddr, "listen", "", "Override LISTEN_ADDR")
	flag.StringVar(&dbPath, "db", "", "Override DB_URL")
	flag.StringVar(&cacheDir, "cache.dir", ".researchorch-cache", "HTTP and LLM response cache directory")
	flag.StringVar(&searxURL, "searx.url", os.Getenv("SEARX_URL"), "SearxNG base URL")
	flag.StringVar(&searxKey, "searx.key", os.Getenv("SEARX_KEY"), "SearxNG API key (optional)")
	flag.BoolVar(&skipTLSVerify, "insecure-skip-tls-verify", false, "Disable TLS verification on outbound requests (debug only)")
	flag.Parse()

	cfg, err := config.FromFile(configPath, config.Default())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config file")
	}
	cfg = config.FromEnv(cfg)
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dbPath != "" {
		cfg.DBURL = dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := run(cfg, searxURL, searxKey, cacheDir, skipTLSVerify); err != nil {
		log.Fatal().Err(err).Msg("researchd exited")
	}
}

func run(cfg config.Config, searxURL, searxKey, cacheDir string, skipTLSVerify bool) error {
	st, err := store.Open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	outbound := httpapi.NewOutboundClient(cfg.RequestTimeout(), skipTLSVerify)
	httpCache := &cache.HTTPCache{Dir: cacheDir}

	rdr := reader.New(outbound, httpCache, "researchorch/1.0", "")
	ing := ingest.New(st, rdr)

	adapter := buildSearchAdapter(cfg, outbound, searxURL, searxKey)

	ranker := &rank.Ranker{Store: st}

	llmClient := newLLMClient(cfg, outbound)
	models := map[llmgateway.Alias]string{
		llmgateway.AliasPlan:      cfg.LLMModel,
		llmgateway.AliasAnswer:    cfg.LLMModel,
		llmgateway.AliasVerify:    cfg.LLMModel,
		llmgateway.AliasReasoning: cfg.LLMModel,
	}
	gateway := llmgateway.New(llmClient, models)
	gateway.Cache = &cache.LLMCache{Dir: cacheDir}

	verifier := &verify.Verifier{Gateway: gateway}

	orch := &orchestrator.Orchestrator{
		Store:    st,
		Search:   adapter,
		Ingestor: ing,
		Ranker:   ranker,
		Gateway:  gateway,
		Verifier: verifier,
	}

	worker := ingest.NewWorker(ing, ingest.WorkerOptions{
		BatchSize:        16,
		Concurrency:      cfg.ReaderConcurrency,
		MaxAttempts:      3,
		ReviveStaleAfter: 10 * time.Minute,
	})

	srv := &httpapi.Server{
		Store:        st,
		Orchestrator: orch,
		Search:       adapter,
		Ingestor:     ing,
		Verifier:     verifier,
		Worker:       worker,
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", cfg.ListenAddr).Msg("researchd listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// buildSearchAdapter wires SearxNG as the primary provider when configured,
// falling back to an offline file provider so the service still answers
// /search requests during local development without a SearxNG instance.
func buildSearchAdapter(cfg config.Config, client *http.Client, searxURL, searxKey string) *search.Adapter {
	policy := search.DomainPolicy{}
	if cfg.ReaderPrefer == "raw" {
		policy.Allowlist = cfg.ReaderRawDomains
	}

	if searxURL == "" {
		log.Warn().Msg("SEARX_URL not set; falling back to file-backed search provider")
		return &search.Adapter{
			Primary: &search.FileProvider{Path: os.Getenv("SEARCH_FIXTURE_PATH"), Policy: policy},
		}
	}

	return &search.Adapter{
		Primary: &search.SearxNG{
			BaseURL:    searxURL,
			APIKey:     searxKey,
			HTTPClient: client,
			UserAgent:  "researchorch/1.0",
		},
	}
}

func newLLMClient(cfg config.Config, client *http.Client) *openai.Client {
	oaiCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		oaiCfg.BaseURL = cfg.LLMBaseURL
	}
	oaiCfg.HTTPClient = client
	return openai.NewClientWithConfig(oaiCfg)
}
