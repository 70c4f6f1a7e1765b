package ingestion_test

import (
	"OracleMirror/internal/ingestion"
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/store/local"
	"OracleMirror/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNATSLocalPriceReachesStore(t *testing.T) {
	testutil.RequireIntegration(t)
	_, js := testutil.SetupTestNATS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ingestion.EnsureStreams(ctx, js, zerolog.Nop()); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}

	messages := make(chan local.Message, 8)
	go local.NewStore(messages, nil, zerolog.Nop()).Run(ctx)

	svc := ingestion.NewPriceIngestService(messages, nil, zerolog.Nop())
	sub := ingestion.NewNATSSubscriber(js, svc, zerolog.Nop())
	if err := sub.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	subject := "oracle.local.prices." + priceKey().String()
	if _, err := js.Publish(ctx, subject, []byte(`{"price":77,"status":"trading","timestamp":5}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	id := pyth.IdentifierFromPubkey(priceKey())
	for {
		info, found, err := local.FetchPriceInfo(ctx, messages, id)
		if err != nil {
			t.Fatalf("price never arrived: %v", err)
		}
		if found && info.Timestamp == 5 {
			if info.Price != 77 {
				t.Errorf("price: got %d, want 77", info.Price)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}
