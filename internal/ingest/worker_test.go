//go:build cgo

package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunBatchProcessesQueuedJobs(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	ing := newTestIngestor(t, srv)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, srv.URL+"/a", Options{}); err != nil {
		t.Fatalf("Ingest enqueue: %v", err)
	}
	if _, err := ing.Ingest(ctx, srv.URL+"/b", Options{}); err != nil {
		t.Fatalf("Ingest enqueue: %v", err)
	}

	w := NewWorker(ing, WorkerOptions{BatchSize: 10, Concurrency: 2})
	stats, err := w.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if stats.Claimed != 2 || stats.Processed != 2 || stats.OK != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Remaining != 0 {
		t.Fatalf("expected no remaining queued jobs, got %d", stats.Remaining)
	}
}

func TestRunBatchMarksPermanentFailureAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	ing := newTestIngestor(t, srv)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, srv.URL+"/broken", Options{}); err != nil {
		t.Fatalf("Ingest enqueue: %v", err)
	}

	w := NewWorker(ing, WorkerOptions{BatchSize: 10, Concurrency: 1, MaxAttempts: 1})
	stats, err := w.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected one permanent error after exhausting attempts, got %+v", stats)
	}
}

func TestRunBatchRequeuesBelowMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	ing := newTestIngestor(t, srv)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, srv.URL+"/broken", Options{}); err != nil {
		t.Fatalf("Ingest enqueue: %v", err)
	}

	w := NewWorker(ing, WorkerOptions{BatchSize: 10, Concurrency: 1, MaxAttempts: 3})
	stats, err := w.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if stats.Requeued != 1 || stats.Remaining != 1 {
		t.Fatalf("expected the job requeued and still waiting, got %+v", stats)
	}
}

func TestRunBatchEmptyQueueReturnsZeroStats(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	ing := newTestIngestor(t, srv)
	w := NewWorker(ing, WorkerOptions{})

	stats, err := w.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if stats.Claimed != 0 || stats.Processed != 0 {
		t.Fatalf("expected zero stats on an empty queue, got %+v", stats)
	}
}
