package ingestion_test

import (
	"OracleMirror/internal/ingestion"
	"OracleMirror/internal/observability"
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/store/global"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail bool
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("no responders")
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return &jetstream.PubAck{Stream: ingestion.ObservationsStream}, nil
}

func runPublisher(t *testing.T, pub *fakePublisher, obs ...global.PriceObservation) *observability.Metrics {
	t.Helper()
	in := make(chan global.PriceObservation, len(obs))
	for _, o := range obs {
		in <- o
	}
	close(in)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ingestion.NewObservationPublisher(pub, in, metrics, zerolog.Nop()).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	return metrics
}

func TestPublisherPublishesObservation(t *testing.T) {
	obs := global.PriceObservation{
		PriceKey:    priceKey(),
		Symbol:      "BTC/USD",
		Price:       6450000,
		Expo:        -2,
		Status:      pyth.PriceStatusTrading,
		PublishSlot: 77,
		Timestamp:   1690000000,
	}
	pub := &fakePublisher{}
	metrics := runPublisher(t, pub, obs)

	if len(pub.msgs) != 1 {
		t.Fatalf("published: got %d, want 1", len(pub.msgs))
	}
	if want := "oracle.prices." + priceKey().String(); pub.msgs[0].subject != want {
		t.Errorf("subject: got %s, want %s", pub.msgs[0].subject, want)
	}
	var msg ingestion.ObservationMessage
	if err := json.Unmarshal(pub.msgs[0].data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Symbol != "BTC/USD" || msg.Price != 6450000 || msg.Status != "trading" || msg.PublishSlot != 77 {
		t.Errorf("message: got %+v", msg)
	}
	if got := msg.ScaledPrice.String(); got != "64500" {
		t.Errorf("scaled price: got %s, want 64500", got)
	}
	if got := testutil.ToFloat64(metrics.ObservationsPublished); got != 1 {
		t.Errorf("published counter: got %v, want 1", got)
	}
}

func TestPublisherCountsFailures(t *testing.T) {
	pub := &fakePublisher{fail: true}
	metrics := runPublisher(t, pub, global.PriceObservation{PriceKey: priceKey()}, global.PriceObservation{PriceKey: priceKey()})

	if got := testutil.ToFloat64(metrics.PublishDrops); got != 2 {
		t.Errorf("drops: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.ObservationsPublished); got != 0 {
		t.Errorf("published: got %v, want 0", got)
	}
}
