package oracle

import (
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/solana"
)

// Data is the in-memory mirror of the oracle account graph. It is owned by
// the Oracle goroutine and never shared.
type Data struct {
	MappingAccounts map[solana.Pubkey]pyth.MappingAccount
	ProductAccounts map[solana.Pubkey]ProductAccount
	PriceAccounts   map[solana.Pubkey]pyth.PriceAccount
}

// NewData returns an empty graph.
func NewData() Data {
	return Data{
		MappingAccounts: make(map[solana.Pubkey]pyth.MappingAccount),
		ProductAccounts: make(map[solana.Pubkey]ProductAccount),
		PriceAccounts:   make(map[solana.Pubkey]pyth.PriceAccount),
	}
}

// ProductAccount is a decoded product plus the price keys discovered by
// walking its price chain during the last poll.
type ProductAccount struct {
	Data          pyth.ProductAccount
	PriceAccounts []solana.Pubkey
}

// Update is a message sent downstream to the global store.
type Update interface {
	AccountKey() solana.Pubkey
	isUpdate()
}

// ProductAccountUpdate carries one product account.
type ProductAccountUpdate struct {
	Key     solana.Pubkey
	Account ProductAccount
}

func (u ProductAccountUpdate) AccountKey() solana.Pubkey { return u.Key }
func (ProductAccountUpdate) isUpdate()                    {}

// PriceAccountUpdate carries one price account.
type PriceAccountUpdate struct {
	Key     solana.Pubkey
	Account pyth.PriceAccount
}

func (u PriceAccountUpdate) AccountKey() solana.Pubkey { return u.Key }
func (PriceAccountUpdate) isUpdate()                    {}

func sortedKeys[V any](m map[solana.Pubkey]V) []solana.Pubkey {
	keys := make([]solana.Pubkey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	solana.SortPubkeys(keys)
	return keys
}
