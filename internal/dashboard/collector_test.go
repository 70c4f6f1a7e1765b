package dashboard_test

import (
	"OracleMirror/internal/dashboard"
	"OracleMirror/internal/oracle"
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/solana"
	"OracleMirror/internal/store/global"
	"OracleMirror/internal/store/local"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCollectorBuildsFromStores(t *testing.T) {
	updates := make(chan oracle.Update, 8)
	lookups := make(chan global.Lookup, 8)
	messages := make(chan local.Message, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go global.NewStore(updates, lookups, nil, zerolog.Nop()).Run(ctx)
	go local.NewStore(messages, nil, zerolog.Nop()).Run(ctx)

	updates <- oracle.ProductAccountUpdate{
		Key: pk(1),
		Account: oracle.ProductAccount{
			Data:          pyth.ProductAccount{Attributes: []pyth.Attribute{{Key: "symbol", Value: "SOL/USD"}}},
			PriceAccounts: []solana.Pubkey{pk(10)},
		},
	}
	updates <- oracle.PriceAccountUpdate{
		Key:     pk(10),
		Account: pyth.PriceAccount{Exponent: -3, Product: pk(1), Timestamp: 1690000000, Aggregate: pyth.PriceInfo{Price: 21500}},
	}
	if err := local.Submit(ctx, messages, pyth.IdentifierFromPubkey(pk(10)), local.PriceInfo{Price: 21600, Timestamp: 1690000005}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	collector := dashboard.NewCollector(messages, lookups, nil, zerolog.Nop())

	// Updates and lookups use different channels; retry until the store
	// has applied the price.
	deadline := time.Now().Add(2 * time.Second)
	for {
		report, err := collector.Build(ctx)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		rows := dashboard.Rows(report)
		if len(rows) == 1 && rows[0].LastPublishedPrice != "no data" {
			if rows[0].Symbol != "SOL/USD" || rows[0].LastPublishedPrice != "21.50" {
				t.Errorf("row: got %+v", rows[0])
			}
			if rows[0].LastLocalUpdateTime != "2023-07-22 04:26:45" {
				t.Errorf("local time: got %q", rows[0].LastLocalUpdateTime)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("store never reflected updates, rows: %+v", rows)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCollectorPropagatesStoreFailure(t *testing.T) {
	lookups := make(chan global.Lookup, 2)
	messages := make(chan local.Message, 1)

	// The global store answers every lookup with an error.
	go func() {
		for l := range lookups {
			switch req := l.(type) {
			case global.LookupAllAccountsData:
				req.ResultTx <- global.AllAccountsDataResult{Err: global.ErrStoreClosed}
			case global.LookupAllAccountsMetadata:
				req.ResultTx <- global.AllAccountsMetadataResult{Err: global.ErrStoreClosed}
			}
		}
	}()
	defer close(lookups)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go local.NewStore(messages, nil, zerolog.Nop()).Run(ctx)

	collector := dashboard.NewCollector(messages, lookups, nil, zerolog.Nop())
	buildCtx, buildCancel := context.WithTimeout(ctx, 2*time.Second)
	defer buildCancel()

	if _, err := collector.Build(buildCtx); !errors.Is(err, global.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}
