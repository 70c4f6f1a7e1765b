package pyth

import (
	"OracleMirror/internal/solana"
	"fmt"
)

const (
	productPriceAccountOffset = 16
	productAttributesOffset   = 48

	// MaxAttributeLen is the longest key or value a one-byte length prefix
	// can describe.
	MaxAttributeLen = 255
)

// Attribute is one key/value pair from a product account, in stored order.
type Attribute struct {
	Key   string
	Value string
}

// ProductAccount holds the metadata of one tradable symbol.
type ProductAccount struct {
	Header
	// PriceAccount is the head of the product's price-account chain.
	PriceAccount solana.Pubkey
	Attributes   []Attribute
}

// LoadProductAccount decodes a product account. Attributes are read as
// length-prefixed strings up to the size recorded in the header.
func LoadProductAccount(data []byte) (ProductAccount, error) {
	h, err := readHeader(data, AccountTypeProduct, productAttributesOffset)
	if err != nil {
		return ProductAccount{}, err
	}
	end := int(h.Size)
	if end < productAttributesOffset || end > len(data) {
		return ProductAccount{}, invalid("product size %d outside [%d, %d]", end, productAttributesOffset, len(data))
	}

	p := ProductAccount{
		Header:       h,
		PriceAccount: readPubkey(data, productPriceAccountOffset),
	}

	off := productAttributesOffset
	for off < end {
		key, next, err := readString(data, off, end)
		if err != nil {
			return ProductAccount{}, err
		}
		value, next, err := readString(data, next, end)
		if err != nil {
			return ProductAccount{}, err
		}
		p.Attributes = append(p.Attributes, Attribute{Key: key, Value: value})
		off = next
	}
	return p, nil
}

func readString(data []byte, off, end int) (string, int, error) {
	if off >= end {
		return "", off, invalid("attribute truncated at offset %d", off)
	}
	n := int(data[off])
	off++
	if off+n > end {
		return "", off, invalid("attribute length %d overruns account at offset %d", n, off)
	}
	return string(data[off : off+n]), off + n, nil
}

// AttrDict returns the attributes as a map. Later duplicates are ignored.
func (p ProductAccount) AttrDict() map[string]string {
	dict := make(map[string]string, len(p.Attributes))
	for _, a := range p.Attributes {
		if _, ok := dict[a.Key]; !ok {
			dict[a.Key] = a.Value
		}
	}
	return dict
}

// Encode serialises the account in its on-ledger layout. It panics if an
// attribute key or value is longer than MaxAttributeLen.
func (p ProductAccount) Encode() []byte {
	size := productAttributesOffset
	for _, a := range p.Attributes {
		size += 2 + len(a.Key) + len(a.Value)
	}
	bufLen := ProductAccountSize
	if size > bufLen {
		bufLen = size
	}
	buf := make([]byte, bufLen)
	putHeader(buf, AccountTypeProduct, uint32(size))
	copy(buf[productPriceAccountOffset:], p.PriceAccount[:])

	off := productAttributesOffset
	for _, a := range p.Attributes {
		off = putString(buf, off, a.Key)
		off = putString(buf, off, a.Value)
	}
	return buf
}

func putString(buf []byte, off int, s string) int {
	if len(s) > MaxAttributeLen {
		panic(fmt.Sprintf("pyth: attribute of %d bytes exceeds %d", len(s), MaxAttributeLen))
	}
	buf[off] = byte(len(s))
	copy(buf[off+1:], s)
	return off + 1 + len(s)
}
