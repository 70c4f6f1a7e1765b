package ingestion_test

import (
	"OracleMirror/internal/ingestion"
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/solana"
	"errors"
	"testing"
	"time"
)

func priceKey() solana.Pubkey {
	var k solana.Pubkey
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func TestParsePriceSubmission(t *testing.T) {
	id := pyth.IdentifierFromPubkey(priceKey())
	data := []byte(`{"price_id":"` + id.String() + `","price":-150,"conf":3,"status":"trading","timestamp":1690000000}`)

	sub, err := ingestion.ParsePriceSubmission(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	upd, err := sub.ToUpdate(time.Unix(1, 0))
	if err != nil {
		t.Fatalf("to update: %v", err)
	}
	if upd.PriceIdentifier != id {
		t.Errorf("identifier: got %s, want %s", upd.PriceIdentifier, id)
	}
	if upd.PriceInfo.Price != -150 || upd.PriceInfo.Conf != 3 {
		t.Errorf("price/conf: got %d/%d, want -150/3", upd.PriceInfo.Price, upd.PriceInfo.Conf)
	}
	if upd.PriceInfo.Status != pyth.PriceStatusTrading {
		t.Errorf("status: got %s, want trading", upd.PriceInfo.Status)
	}
	if upd.PriceInfo.Timestamp != 1690000000 {
		t.Errorf("timestamp: got %d, want 1690000000", upd.PriceInfo.Timestamp)
	}
}

func TestSubmissionWithoutTimestampUsesNow(t *testing.T) {
	sub := ingestion.PriceSubmission{PriceID: priceKey().String(), Price: 1, Status: "halted"}
	upd, err := sub.ToUpdate(time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("to update: %v", err)
	}
	if upd.PriceInfo.Timestamp != 1700000000 {
		t.Errorf("timestamp: got %d, want 1700000000", upd.PriceInfo.Timestamp)
	}
	// Base58 and hex forms name the same price.
	if upd.PriceIdentifier != pyth.IdentifierFromPubkey(priceKey()) {
		t.Errorf("identifier: got %s", upd.PriceIdentifier)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		reason string
	}{
		{"not json", `{"price":`, ingestion.ReasonMalformed},
		{"unknown field", `{"price_id":"x","quantity":1}`, ingestion.ReasonMalformed},
		{"bad id", `{"price_id":"zz","price":1}`, ingestion.ReasonInvalidID},
		{"bad status", `{"price_id":"` + priceKey().String() + `","status":"open"}`, ingestion.ReasonInvalidStatus},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sub, err := ingestion.ParsePriceSubmission([]byte(c.data))
			if err == nil {
				_, err = sub.ToUpdate(time.Now())
			}
			if err == nil {
				t.Fatal("expected error")
			}
			var se *ingestion.SubmissionError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SubmissionError, got %T", err)
			}
			if got := ingestion.RejectionReason(err); got != c.reason {
				t.Errorf("reason: got %s, want %s", got, c.reason)
			}
		})
	}
}

func TestParseSubjectPrice(t *testing.T) {
	key := priceKey().String()

	sub, err := ingestion.ParseSubjectPrice("oracle.local.prices."+key, []byte(`{"price":5,"status":"trading"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub.PriceID != key {
		t.Errorf("price id from subject: got %s, want %s", sub.PriceID, key)
	}

	_, err = ingestion.ParseSubjectPrice("oracle.local.prices."+key, []byte(`{"price_id":"other","price":5}`))
	if ingestion.RejectionReason(err) != ingestion.ReasonIDMismatch {
		t.Errorf("expected id mismatch, got %v", err)
	}
}
