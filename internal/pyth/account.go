package pyth

import (
	"OracleMirror/internal/solana"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic   uint32 = 0xa1b2c3d4
	Version uint32 = 2

	MappingAccountSize = 20536
	ProductAccountSize = 512
	PriceAccountSize   = 3312

	MaxMappingProducts = 640
	MaxPriceComponents = 32

	headerSize = 16
)

// ErrInvalidAccount wraps every decode failure.
var ErrInvalidAccount = errors.New("invalid oracle account")

// AccountType is the tag stored in every account header.
type AccountType uint32

const (
	AccountTypeUnknown AccountType = iota
	AccountTypeMapping
	AccountTypeProduct
	AccountTypePrice
)

func (t AccountType) String() string {
	switch t {
	case AccountTypeMapping:
		return "mapping"
	case AccountTypeProduct:
		return "product"
	case AccountTypePrice:
		return "price"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// Header is the common prefix of mapping, product and price accounts.
type Header struct {
	Magic   uint32
	Version uint32
	Type    AccountType
	Size    uint32
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidAccount, fmt.Sprintf(format, args...))
}

func readHeader(data []byte, want AccountType, minSize int) (Header, error) {
	if len(data) < minSize {
		return Header{}, invalid("%s account too short: %d bytes, need %d", want, len(data), minSize)
	}
	h := Header{
		Magic:   binary.LittleEndian.Uint32(data[0:4]),
		Version: binary.LittleEndian.Uint32(data[4:8]),
		Type:    AccountType(binary.LittleEndian.Uint32(data[8:12])),
		Size:    binary.LittleEndian.Uint32(data[12:16]),
	}
	if h.Magic != Magic {
		return h, invalid("bad magic %#x", h.Magic)
	}
	if h.Version != Version {
		return h, invalid("unsupported version %d", h.Version)
	}
	if h.Type != want {
		return h, invalid("account type %s, want %s", h.Type, want)
	}
	return h, nil
}

func putHeader(buf []byte, t AccountType, size uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(t))
	binary.LittleEndian.PutUint32(buf[12:16], size)
}

func readPubkey(data []byte, off int) solana.Pubkey {
	var pk solana.Pubkey
	copy(pk[:], data[off:off+solana.PubkeyLength])
	return pk
}

// MappingAccount is one node of the root directory chain.
type MappingAccount struct {
	Header
	Num      uint32
	Next     solana.Pubkey
	Products []solana.Pubkey
}

const (
	mappingNumOffset      = 16
	mappingNextOffset     = 24
	mappingProductsOffset = 56
)

// LoadMappingAccount decodes a mapping account. Only the first Num product
// slots are returned.
func LoadMappingAccount(data []byte) (MappingAccount, error) {
	h, err := readHeader(data, AccountTypeMapping, mappingProductsOffset)
	if err != nil {
		return MappingAccount{}, err
	}
	m := MappingAccount{
		Header: h,
		Num:    binary.LittleEndian.Uint32(data[mappingNumOffset:]),
		Next:   readPubkey(data, mappingNextOffset),
	}
	if m.Num > MaxMappingProducts {
		return MappingAccount{}, invalid("mapping lists %d products, max %d", m.Num, MaxMappingProducts)
	}
	end := mappingProductsOffset + int(m.Num)*solana.PubkeyLength
	if len(data) < end {
		return MappingAccount{}, invalid("mapping account truncated: %d bytes, need %d", len(data), end)
	}
	m.Products = make([]solana.Pubkey, m.Num)
	for i := range m.Products {
		m.Products[i] = readPubkey(data, mappingProductsOffset+i*solana.PubkeyLength)
	}
	return m, nil
}

// Encode serialises the account in its on-ledger layout.
func (m MappingAccount) Encode() []byte {
	buf := make([]byte, MappingAccountSize)
	putHeader(buf, AccountTypeMapping, uint32(mappingProductsOffset+len(m.Products)*solana.PubkeyLength))
	binary.LittleEndian.PutUint32(buf[mappingNumOffset:], uint32(len(m.Products)))
	copy(buf[mappingNextOffset:], m.Next[:])
	for i, p := range m.Products {
		copy(buf[mappingProductsOffset+i*solana.PubkeyLength:], p[:])
	}
	return buf
}
