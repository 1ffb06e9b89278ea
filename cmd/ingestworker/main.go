// Command ingestworker claims and processes one batch of queued ingest
// jobs, then exits. It is meant for cron-style invocation against the
// same database a researchd instance serves, decoupling bulk ingestion
// from the request-serving process.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/researchorch/internal/cache"
	"github.com/hyperifyio/researchorch/internal/config"
	"github.com/hyperifyio/researchorch/internal/httpapi"
	"github.com/hyperifyio/researchorch/internal/ingest"
	"github.com/hyperifyio/researchorch/internal/reader"
	"github.com/hyperifyio/researchorch/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		dbPath      string
		cacheDir    string
		batchSize   int
		concurrency int
		maxAttempts int
	)
	flag.StringVar(&dbPath, "db", "", "Override DB_URL")
	flag.StringVar(&cacheDir, "cache.dir", ".researchorch-cache", "HTTP response cache directory")
	flag.IntVar(&batchSize, "batch", 32, "Maximum queued jobs to claim this run")
	flag.IntVar(&concurrency, "concurrency", 0, "Override reader concurrency (0 uses READER_CONCURRENCY)")
	flag.IntVar(&maxAttempts, "max-attempts", 3, "Attempts before a job is marked permanently errored")
	flag.Parse()

	cfg := config.FromEnv(config.Default())
	if dbPath != "" {
		cfg.DBURL = dbPath
	}
	if concurrency > 0 {
		cfg.ReaderConcurrency = concurrency
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	st, err := store.Open(cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	outbound := httpapi.NewOutboundClient(cfg.RequestTimeout(), false)
	rdr := reader.New(outbound, &cache.HTTPCache{Dir: cacheDir}, "researchorch-ingestworker/1.0", "")
	ing := ingest.New(st, rdr)

	worker := ingest.NewWorker(ing, ingest.WorkerOptions{
		BatchSize:        batchSize,
		Concurrency:      cfg.ReaderConcurrency,
		MaxAttempts:      maxAttempts,
		ReviveStaleAfter: 10 * time.Minute,
	})

	stats, err := worker.RunBatch(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("ingest batch failed")
	}

	log.Info().
		Int("revived", stats.Revived).
		Int("claimed", stats.Claimed).
		Int("ok", stats.OK).
		Int("exists", stats.Exists).
		Int("requeued", stats.Requeued).
		Int("errors", stats.Errors).
		Int("remaining", stats.Remaining).
		Msg("ingest batch complete")

	if stats.Errors > 0 {
		os.Exit(1)
	}
}
