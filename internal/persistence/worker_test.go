package persistence_test

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/persistence"
	"OracleMirror/internal/store/global"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type fakeWriter struct {
	mu       sync.Mutex
	batches  [][]persistence.PriceRow
	failures int
	written  chan struct{}
}

func newFakeWriter(failures int) *fakeWriter {
	return &fakeWriter{failures: failures, written: make(chan struct{}, 16)}
}

func (f *fakeWriter) WriteBatch(_ context.Context, rows []persistence.PriceRow) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, 0, &persistence.WriteError{Stage: "tx_begin", Err: errors.New("connection refused")}
	}
	f.batches = append(f.batches, append([]persistence.PriceRow(nil), rows...))
	f.written <- struct{}{}
	return int64(len(rows)), int64(len(persistence.LatestPerPrice(rows))), nil
}

func (f *fakeWriter) snapshot() [][]persistence.PriceRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]persistence.PriceRow(nil), f.batches...)
}

func waitWritten(t *testing.T, f *fakeWriter) {
	t.Helper()
	select {
	case <-f.written:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a batch")
	}
}

func TestWorkerFlushesFullBatch(t *testing.T) {
	in := make(chan global.PriceObservation, 4)
	w := newFakeWriter(0)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go persistence.NewProjectionWorker(w, in, 2, time.Hour, metrics, zerolog.Nop()).Run(ctx)

	in <- observation(1, 1)
	in <- observation(1, 2)
	waitWritten(t, w)

	batches := w.snapshot()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches: got %v", batches)
	}
	if got := testutil.ToFloat64(metrics.PersistRowsWritten.WithLabelValues("price_history")); got != 2 {
		t.Errorf("history rows: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.PersistRowsWritten.WithLabelValues("latest_prices")); got != 1 {
		t.Errorf("latest rows: got %v, want 1", got)
	}
}

func TestWorkerFlushesOnTimeout(t *testing.T) {
	in := make(chan global.PriceObservation, 1)
	w := newFakeWriter(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go persistence.NewProjectionWorker(w, in, 100, 10*time.Millisecond, nil, zerolog.Nop()).Run(ctx)

	in <- observation(3, 1)
	waitWritten(t, w)
	if batches := w.snapshot(); len(batches[0]) != 1 {
		t.Errorf("batch size: got %d, want 1", len(batches[0]))
	}
}

func TestWorkerRetriesFailedWrite(t *testing.T) {
	in := make(chan global.PriceObservation, 1)
	w := newFakeWriter(1)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go persistence.NewProjectionWorker(w, in, 1, time.Hour, metrics, zerolog.Nop()).Run(ctx)

	in <- observation(1, 1)
	waitWritten(t, w)

	if got := testutil.ToFloat64(metrics.PersistErrors.WithLabelValues("tx_begin")); got != 1 {
		t.Errorf("errors: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.PersistRetry); got != 1 {
		t.Errorf("retries: got %v, want 1", got)
	}
}

func TestWorkerFlushesOnClose(t *testing.T) {
	in := make(chan global.PriceObservation, 2)
	w := newFakeWriter(0)

	in <- observation(1, 1)
	close(in)
	if err := persistence.NewProjectionWorker(w, in, 100, time.Hour, nil, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if batches := w.snapshot(); len(batches) != 1 {
		t.Errorf("batches: got %d, want 1", len(batches))
	}
}
