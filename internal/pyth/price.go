package pyth

import (
	"OracleMirror/internal/solana"
	"encoding/binary"
	"fmt"
	"strings"
)

// PriceStatus is the aggregate trading status of a price account.
type PriceStatus uint32

const (
	PriceStatusUnknown PriceStatus = iota
	PriceStatusTrading
	PriceStatusHalted
	PriceStatusAuction
	PriceStatusIgnored
)

func (s PriceStatus) String() string {
	switch s {
	case PriceStatusTrading:
		return "trading"
	case PriceStatusHalted:
		return "halted"
	case PriceStatusAuction:
		return "auction"
	case PriceStatusIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// ParsePriceStatus accepts the lower-case names produced by String.
func ParsePriceStatus(s string) (PriceStatus, error) {
	switch strings.ToLower(s) {
	case "unknown", "":
		return PriceStatusUnknown, nil
	case "trading":
		return PriceStatusTrading, nil
	case "halted":
		return PriceStatusHalted, nil
	case "auction":
		return PriceStatusAuction, nil
	case "ignored":
		return PriceStatusIgnored, nil
	default:
		return PriceStatusUnknown, fmt.Errorf("unknown price status %q", s)
	}
}

// PriceType distinguishes price account kinds. Only PriceTypePrice is
// published today.
type PriceType uint32

const (
	PriceTypeUnknown PriceType = iota
	PriceTypePrice
)

func (t PriceType) String() string {
	if t == PriceTypePrice {
		return "price"
	}
	return "unknown"
}

// Rational is an exponentially-weighted moving value.
type Rational struct {
	Val   int64
	Numer int64
	Denom int64
}

// PriceInfo is one price/confidence sample.
type PriceInfo struct {
	Price       int64
	Conf        uint64
	Status      PriceStatus
	CorpAct     uint32
	PublishSlot uint64
}

// PriceComponent is one publisher's contribution to the aggregate.
type PriceComponent struct {
	Publisher solana.Pubkey
	Aggregate PriceInfo
	Latest    PriceInfo
}

// PriceAccount is the mutable price record for one symbol.
type PriceAccount struct {
	Header
	PriceType     PriceType
	Exponent      int32
	NumComponents uint32
	NumQuoters    uint32
	LastSlot      uint64
	ValidSlot     uint64
	EMAPrice      Rational
	EMAConf       Rational
	Timestamp     int64
	MinPublishers uint8
	Product       solana.Pubkey
	// Next links to a sibling price account of the same product.
	Next          solana.Pubkey
	PrevSlot      uint64
	PrevPrice     int64
	PrevConf      uint64
	PrevTimestamp int64
	Aggregate     PriceInfo
	Components    []PriceComponent
}

const (
	priceTypeOffset       = 16
	priceExpoOffset       = 20
	priceNumOffset        = 24
	priceNumQtOffset      = 28
	priceLastSlotOffset   = 32
	priceValidSlotOffset  = 40
	priceEMAPriceOffset   = 48
	priceEMAConfOffset    = 72
	priceTimestampOffset  = 96
	priceMinPubOffset     = 104
	priceProductOffset    = 112
	priceNextOffset       = 144
	pricePrevSlotOffset   = 176
	pricePrevPriceOffset  = 184
	pricePrevConfOffset   = 192
	pricePrevTSOffset     = 200
	priceAggOffset        = 208
	priceComponentsOffset = 240

	priceInfoSize      = 32
	priceComponentSize = solana.PubkeyLength + 2*priceInfoSize
)

// LoadPriceAccount decodes a price account including its populated publisher
// components.
func LoadPriceAccount(data []byte) (PriceAccount, error) {
	h, err := readHeader(data, AccountTypePrice, priceComponentsOffset)
	if err != nil {
		return PriceAccount{}, err
	}
	le := binary.LittleEndian

	p := PriceAccount{
		Header:        h,
		PriceType:     PriceType(le.Uint32(data[priceTypeOffset:])),
		Exponent:      int32(le.Uint32(data[priceExpoOffset:])),
		NumComponents: le.Uint32(data[priceNumOffset:]),
		NumQuoters:    le.Uint32(data[priceNumQtOffset:]),
		LastSlot:      le.Uint64(data[priceLastSlotOffset:]),
		ValidSlot:     le.Uint64(data[priceValidSlotOffset:]),
		EMAPrice:      readRational(data, priceEMAPriceOffset),
		EMAConf:       readRational(data, priceEMAConfOffset),
		Timestamp:     int64(le.Uint64(data[priceTimestampOffset:])),
		MinPublishers: data[priceMinPubOffset],
		Product:       readPubkey(data, priceProductOffset),
		Next:          readPubkey(data, priceNextOffset),
		PrevSlot:      le.Uint64(data[pricePrevSlotOffset:]),
		PrevPrice:     int64(le.Uint64(data[pricePrevPriceOffset:])),
		PrevConf:      le.Uint64(data[pricePrevConfOffset:]),
		PrevTimestamp: int64(le.Uint64(data[pricePrevTSOffset:])),
		Aggregate:     readPriceInfo(data, priceAggOffset),
	}

	if p.NumComponents > MaxPriceComponents {
		return PriceAccount{}, invalid("price lists %d components, max %d", p.NumComponents, MaxPriceComponents)
	}
	end := priceComponentsOffset + int(p.NumComponents)*priceComponentSize
	if len(data) < end {
		return PriceAccount{}, invalid("price account truncated: %d bytes, need %d", len(data), end)
	}
	p.Components = make([]PriceComponent, p.NumComponents)
	for i := range p.Components {
		off := priceComponentsOffset + i*priceComponentSize
		p.Components[i] = PriceComponent{
			Publisher: readPubkey(data, off),
			Aggregate: readPriceInfo(data, off+solana.PubkeyLength),
			Latest:    readPriceInfo(data, off+solana.PubkeyLength+priceInfoSize),
		}
	}
	return p, nil
}

func readRational(data []byte, off int) Rational {
	le := binary.LittleEndian
	return Rational{
		Val:   int64(le.Uint64(data[off:])),
		Numer: int64(le.Uint64(data[off+8:])),
		Denom: int64(le.Uint64(data[off+16:])),
	}
}

func readPriceInfo(data []byte, off int) PriceInfo {
	le := binary.LittleEndian
	return PriceInfo{
		Price:       int64(le.Uint64(data[off:])),
		Conf:        le.Uint64(data[off+8:]),
		Status:      PriceStatus(le.Uint32(data[off+16:])),
		CorpAct:     le.Uint32(data[off+20:]),
		PublishSlot: le.Uint64(data[off+24:]),
	}
}

// Encode serialises the account in its on-ledger layout.
func (p PriceAccount) Encode() []byte {
	le := binary.LittleEndian
	buf := make([]byte, PriceAccountSize)
	putHeader(buf, AccountTypePrice, PriceAccountSize)

	le.PutUint32(buf[priceTypeOffset:], uint32(p.PriceType))
	le.PutUint32(buf[priceExpoOffset:], uint32(p.Exponent))
	le.PutUint32(buf[priceNumOffset:], uint32(len(p.Components)))
	le.PutUint32(buf[priceNumQtOffset:], p.NumQuoters)
	le.PutUint64(buf[priceLastSlotOffset:], p.LastSlot)
	le.PutUint64(buf[priceValidSlotOffset:], p.ValidSlot)
	putRational(buf, priceEMAPriceOffset, p.EMAPrice)
	putRational(buf, priceEMAConfOffset, p.EMAConf)
	le.PutUint64(buf[priceTimestampOffset:], uint64(p.Timestamp))
	buf[priceMinPubOffset] = p.MinPublishers
	copy(buf[priceProductOffset:], p.Product[:])
	copy(buf[priceNextOffset:], p.Next[:])
	le.PutUint64(buf[pricePrevSlotOffset:], p.PrevSlot)
	le.PutUint64(buf[pricePrevPriceOffset:], uint64(p.PrevPrice))
	le.PutUint64(buf[pricePrevConfOffset:], p.PrevConf)
	le.PutUint64(buf[pricePrevTSOffset:], uint64(p.PrevTimestamp))
	putPriceInfo(buf, priceAggOffset, p.Aggregate)

	for i, c := range p.Components {
		off := priceComponentsOffset + i*priceComponentSize
		copy(buf[off:], c.Publisher[:])
		putPriceInfo(buf, off+solana.PubkeyLength, c.Aggregate)
		putPriceInfo(buf, off+solana.PubkeyLength+priceInfoSize, c.Latest)
	}
	return buf
}

func putRational(buf []byte, off int, r Rational) {
	le := binary.LittleEndian
	le.PutUint64(buf[off:], uint64(r.Val))
	le.PutUint64(buf[off+8:], uint64(r.Numer))
	le.PutUint64(buf[off+16:], uint64(r.Denom))
}

func putPriceInfo(buf []byte, off int, pi PriceInfo) {
	le := binary.LittleEndian
	le.PutUint64(buf[off:], uint64(pi.Price))
	le.PutUint64(buf[off+8:], pi.Conf)
	le.PutUint32(buf[off+16:], uint32(pi.Status))
	le.PutUint32(buf[off+20:], pi.CorpAct)
	le.PutUint64(buf[off+24:], pi.PublishSlot)
}
