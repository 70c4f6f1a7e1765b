package pyth

import (
	"OracleMirror/internal/solana"
	"encoding/hex"
	"fmt"
	"strings"
)

// PriceIdentifier keys pending local price updates. It is the raw bytes of
// the price account key.
type PriceIdentifier [32]byte

// IdentifierFromPubkey reinterprets a price account key.
func IdentifierFromPubkey(pk solana.Pubkey) PriceIdentifier {
	return PriceIdentifier(pk)
}

// Pubkey reinterprets the identifier as a price account key.
func (id PriceIdentifier) Pubkey() solana.Pubkey {
	return solana.Pubkey(id)
}

// String renders the identifier as lower-case hex.
func (id PriceIdentifier) String() string {
	return hex.EncodeToString(id[:])
}

// ParsePriceIdentifier accepts either 64 hex characters (optionally 0x
// prefixed) or a base58 price account key.
func ParsePriceIdentifier(s string) (PriceIdentifier, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed) == 2*len(PriceIdentifier{}) {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			var id PriceIdentifier
			copy(id[:], raw)
			return id, nil
		}
	}
	pk, err := solana.ParsePubkey(s)
	if err != nil {
		return PriceIdentifier{}, fmt.Errorf("parse price identifier %q: %w", s, err)
	}
	return IdentifierFromPubkey(pk), nil
}

func (id PriceIdentifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PriceIdentifier) UnmarshalText(text []byte) error {
	parsed, err := ParsePriceIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
