package pyth_test

import (
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/solana"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func key(b byte) solana.Pubkey {
	var pk solana.Pubkey
	pk[0] = b
	pk[31] = b
	return pk
}

func TestMappingAccountDecode(t *testing.T) {
	m := pyth.MappingAccount{
		Next:     key(9),
		Products: []solana.Pubkey{key(1), key(2), key(3)},
	}

	got, err := pyth.LoadMappingAccount(m.Encode())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Num != 3 {
		t.Errorf("num: got %d, want 3", got.Num)
	}
	if got.Next != key(9) {
		t.Errorf("next: got %s, want %s", got.Next, key(9))
	}
	for i, want := range m.Products {
		if got.Products[i] != want {
			t.Errorf("products[%d]: got %s, want %s", i, got.Products[i], want)
		}
	}
}

func TestMappingAccountRejectsWrongType(t *testing.T) {
	data := pyth.ProductAccount{}.Encode()
	_, err := pyth.LoadMappingAccount(data)
	if !errors.Is(err, pyth.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestMappingAccountRejectsBadMagic(t *testing.T) {
	data := pyth.MappingAccount{}.Encode()
	binary.LittleEndian.PutUint32(data[0:4], 0xdeadbeef)
	if _, err := pyth.LoadMappingAccount(data); !errors.Is(err, pyth.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestMappingAccountRejectsTruncated(t *testing.T) {
	data := pyth.MappingAccount{Products: []solana.Pubkey{key(1), key(2)}}.Encode()
	if _, err := pyth.LoadMappingAccount(data[:70]); !errors.Is(err, pyth.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
	if _, err := pyth.LoadMappingAccount(data[:10]); !errors.Is(err, pyth.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount for header-only data, got %v", err)
	}
}

func TestProductAccountDecode(t *testing.T) {
	p := pyth.ProductAccount{
		PriceAccount: key(5),
		Attributes: []pyth.Attribute{
			{Key: "symbol", Value: "Crypto.BTC/USD"},
			{Key: "asset_type", Value: "Crypto"},
			{Key: "quote_currency", Value: "USD"},
		},
	}

	got, err := pyth.LoadProductAccount(p.Encode())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.PriceAccount != key(5) {
		t.Errorf("px_acc: got %s, want %s", got.PriceAccount, key(5))
	}
	if len(got.Attributes) != 3 {
		t.Fatalf("attributes: got %d, want 3", len(got.Attributes))
	}
	if got.Attributes[1].Key != "asset_type" {
		t.Errorf("attribute order: got %s at index 1, want asset_type", got.Attributes[1].Key)
	}
	dict := got.AttrDict()
	if dict["symbol"] != "Crypto.BTC/USD" {
		t.Errorf("symbol: got %q, want Crypto.BTC/USD", dict["symbol"])
	}
	if dict["quote_currency"] != "USD" {
		t.Errorf("dict quote_currency: got %q, want USD", dict["quote_currency"])
	}
}

func TestProductAccountRejectsOverrunAttribute(t *testing.T) {
	data := pyth.ProductAccount{Attributes: []pyth.Attribute{{Key: "symbol", Value: "X"}}}.Encode()
	// Claim a value longer than the recorded size.
	data[48+1+len("symbol")] = 200
	if _, err := pyth.LoadProductAccount(data); !errors.Is(err, pyth.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestProductAccountEncodeRejectsLongAttribute(t *testing.T) {
	fits := pyth.ProductAccount{Attributes: []pyth.Attribute{{Key: "k", Value: strings.Repeat("v", pyth.MaxAttributeLen)}}}
	got, err := pyth.LoadProductAccount(fits.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n := len(got.Attributes[0].Value); n != pyth.MaxAttributeLen {
		t.Errorf("value length: got %d, want %d", n, pyth.MaxAttributeLen)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for an attribute over the length limit")
		}
	}()
	pyth.ProductAccount{Attributes: []pyth.Attribute{{Key: "k", Value: strings.Repeat("v", pyth.MaxAttributeLen+1)}}}.Encode()
}

func TestPriceAccountDecode(t *testing.T) {
	p := pyth.PriceAccount{
		PriceType: pyth.PriceTypePrice,
		Exponent:  -2,
		Timestamp: 1690000000,
		Product:   key(1),
		Next:      key(2),
		LastSlot:  1234,
		EMAPrice:  pyth.Rational{Val: 6400000, Numer: 1, Denom: 2},
		Aggregate: pyth.PriceInfo{
			Price:       6450000,
			Conf:        1500,
			Status:      pyth.PriceStatusTrading,
			PublishSlot: 1233,
		},
		Components: []pyth.PriceComponent{
			{Publisher: key(7), Latest: pyth.PriceInfo{Price: 6449000, Status: pyth.PriceStatusTrading}},
		},
	}

	got, err := pyth.LoadPriceAccount(p.Encode())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Exponent != -2 {
		t.Errorf("expo: got %d, want -2", got.Exponent)
	}
	if got.Timestamp != 1690000000 {
		t.Errorf("timestamp: got %d, want 1690000000", got.Timestamp)
	}
	if got.Next != key(2) || got.Product != key(1) {
		t.Errorf("links: got next=%s prod=%s", got.Next, got.Product)
	}
	if got.Aggregate != p.Aggregate {
		t.Errorf("aggregate: got %+v, want %+v", got.Aggregate, p.Aggregate)
	}
	if got.EMAPrice != p.EMAPrice {
		t.Errorf("ema: got %+v, want %+v", got.EMAPrice, p.EMAPrice)
	}
	if len(got.Components) != 1 || got.Components[0].Publisher != key(7) {
		t.Fatalf("components: got %+v", got.Components)
	}
	if got.Components[0].Latest.Price != 6449000 {
		t.Errorf("component latest: got %d, want 6449000", got.Components[0].Latest.Price)
	}
}

func TestPriceAccountRejectsTooManyComponents(t *testing.T) {
	data := pyth.PriceAccount{}.Encode()
	binary.LittleEndian.PutUint32(data[24:28], 33)
	if _, err := pyth.LoadPriceAccount(data); !errors.Is(err, pyth.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestPriceIdentifierRoundTrip(t *testing.T) {
	pk := key(42)
	id := pyth.IdentifierFromPubkey(pk)
	if id.Pubkey() != pk {
		t.Fatalf("pubkey: got %s, want %s", id.Pubkey(), pk)
	}

	fromHex, err := pyth.ParsePriceIdentifier("0x" + id.String())
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != id {
		t.Errorf("hex: got %s, want %s", fromHex, id)
	}

	fromBase58, err := pyth.ParsePriceIdentifier(pk.String())
	if err != nil {
		t.Fatalf("parse base58: %v", err)
	}
	if fromBase58 != id {
		t.Errorf("base58: got %s, want %s", fromBase58, id)
	}
}

func TestParsePriceStatus(t *testing.T) {
	for _, s := range []pyth.PriceStatus{
		pyth.PriceStatusUnknown, pyth.PriceStatusTrading, pyth.PriceStatusHalted,
		pyth.PriceStatusAuction, pyth.PriceStatusIgnored,
	} {
		got, err := pyth.ParsePriceStatus(s.String())
		if err != nil {
			t.Fatalf("parse %s: %v", s, err)
		}
		if got != s {
			t.Errorf("got %s, want %s", got, s)
		}
	}
	if _, err := pyth.ParsePriceStatus("open"); err == nil {
		t.Error("expected error for unknown status")
	}
}
