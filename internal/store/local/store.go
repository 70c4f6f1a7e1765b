// Package local holds price updates produced on this host that have not yet
// been confirmed by the remote ledger.
package local

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/pyth"
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"
)

// PriceInfo is the latest pending update for one price.
type PriceInfo struct {
	Status    pyth.PriceStatus
	Price     int64
	Conf      uint64
	Timestamp int64 // unix seconds
}

// Message is anything the Store goroutine handles.
type Message interface {
	isMessage()
}

// Update records info for a price identifier. The last write wins.
type Update struct {
	PriceIdentifier pyth.PriceIdentifier
	PriceInfo       PriceInfo
}

// LookupAllPriceInfo requests a copy of every pending update. ResultTx must
// have room for the reply.
type LookupAllPriceInfo struct {
	ResultTx chan<- map[pyth.PriceIdentifier]PriceInfo
}

// LookupPriceInfo requests the pending update of one identifier.
type LookupPriceInfo struct {
	PriceIdentifier pyth.PriceIdentifier
	ResultTx        chan<- PriceInfoResult
}

// PriceInfoResult answers LookupPriceInfo.
type PriceInfoResult struct {
	Info  PriceInfo
	Found bool
}

func (Update) isMessage()             {}
func (LookupAllPriceInfo) isMessage() {}
func (LookupPriceInfo) isMessage()    {}

// Store owns the pending updates.
type Store struct {
	prices     map[pyth.PriceIdentifier]PriceInfo
	messagesRx <-chan Message
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewStore creates a Store. metrics is optional.
func NewStore(messagesRx <-chan Message, metrics *observability.Metrics, logger zerolog.Logger) *Store {
	return &Store{
		prices:     make(map[pyth.PriceIdentifier]PriceInfo),
		messagesRx: messagesRx,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run handles messages until ctx is cancelled or the channel closes.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.messagesRx:
			if !ok {
				return nil
			}
			s.handle(msg)
		}
	}
}

func (s *Store) handle(msg Message) {
	switch m := msg.(type) {
	case Update:
		s.prices[m.PriceIdentifier] = m.PriceInfo
		s.logger.Debug().
			Str("price_identifier", m.PriceIdentifier.String()).
			Int64("price", m.PriceInfo.Price).
			Msg("pending price updated")
	case LookupAllPriceInfo:
		s.countLookup("all_price_info")
		m.ResultTx <- maps.Clone(s.prices)
	case LookupPriceInfo:
		s.countLookup("price_info")
		info, found := s.prices[m.PriceIdentifier]
		m.ResultTx <- PriceInfoResult{Info: info, Found: found}
	default:
		s.logger.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("ignoring unknown message")
	}
}

func (s *Store) countLookup(name string) {
	if s.metrics != nil {
		s.metrics.StoreLookups.WithLabelValues("local", name).Inc()
	}
}

// Submit sends an update, blocking until the store accepts it or ctx ends.
func Submit(ctx context.Context, messagesTx chan<- Message, id pyth.PriceIdentifier, info PriceInfo) error {
	select {
	case messagesTx <- Update{PriceIdentifier: id, PriceInfo: info}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit local price %s: %w", id, ctx.Err())
	}
}

// FetchAllPriceInfo sends a LookupAllPriceInfo and waits for the reply.
func FetchAllPriceInfo(ctx context.Context, messagesTx chan<- Message) (map[pyth.PriceIdentifier]PriceInfo, error) {
	resultCh := make(chan map[pyth.PriceIdentifier]PriceInfo, 1)
	select {
	case messagesTx <- LookupAllPriceInfo{ResultTx: resultCh}:
	case <-ctx.Done():
		return nil, fmt.Errorf("lookup all price info: %w", ctx.Err())
	}
	select {
	case res := <-resultCh:
		return res, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lookup all price info: %w", ctx.Err())
	}
}

// FetchPriceInfo sends a LookupPriceInfo and waits for the reply.
func FetchPriceInfo(ctx context.Context, messagesTx chan<- Message, id pyth.PriceIdentifier) (PriceInfo, bool, error) {
	resultCh := make(chan PriceInfoResult, 1)
	select {
	case messagesTx <- LookupPriceInfo{PriceIdentifier: id, ResultTx: resultCh}:
	case <-ctx.Done():
		return PriceInfo{}, false, fmt.Errorf("lookup price info %s: %w", id, ctx.Err())
	}
	select {
	case res := <-resultCh:
		return res.Info, res.Found, nil
	case <-ctx.Done():
		return PriceInfo{}, false, fmt.Errorf("lookup price info %s: %w", id, ctx.Err())
	}
}

// NewPriceInfo stamps info with the current time.
func NewPriceInfo(price int64, conf uint64, status pyth.PriceStatus, now time.Time) PriceInfo {
	return PriceInfo{
		Status:    status,
		Price:     price,
		Conf:      conf,
		Timestamp: now.Unix(),
	}
}
