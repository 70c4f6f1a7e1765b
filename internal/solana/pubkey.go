package solana

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/mr-tron/base58"
)

// PubkeyLength is the size in bytes of an account key.
const PubkeyLength = 32

// Pubkey names a single account in the ledger's account space.
// The all-zero key is the sentinel that terminates linked account chains.
type Pubkey [PubkeyLength]byte

// ZeroPubkey is the sentinel key.
var ZeroPubkey Pubkey

// PubkeyFromBytes copies b into a Pubkey. b must be exactly 32 bytes.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeyLength {
		return pk, fmt.Errorf("invalid pubkey length %d, want %d", len(b), PubkeyLength)
	}
	copy(pk[:], b)
	return pk, nil
}

// ParsePubkey decodes a base58 account key.
func ParsePubkey(s string) (Pubkey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	return PubkeyFromBytes(raw)
}

// MustParsePubkey is ParsePubkey for constants and tests.
func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// IsZero reports whether pk is the sentinel key.
func (pk Pubkey) IsZero() bool {
	return pk == ZeroPubkey
}

// Bytes returns a copy of the key bytes.
func (pk Pubkey) Bytes() []byte {
	out := make([]byte, PubkeyLength)
	copy(out, pk[:])
	return out
}

// Compare orders keys by their raw bytes.
func (pk Pubkey) Compare(other Pubkey) int {
	return bytes.Compare(pk[:], other[:])
}

func (pk Pubkey) String() string {
	return base58.Encode(pk[:])
}

// MarshalText implements encoding.TextMarshaler so keys render as base58 in
// JSON and log fields.
func (pk Pubkey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// SortPubkeys sorts keys in place by raw bytes.
func SortPubkeys(keys []Pubkey) {
	slices.SortFunc(keys, Pubkey.Compare)
}
