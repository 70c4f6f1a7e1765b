// Package global holds the confirmed view of the oracle accounts as reported
// by the synchronizer, and derives per-account metadata from it.
package global

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/oracle"
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/solana"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

// ErrStoreClosed is carried by lookup results answered during shutdown.
var ErrStoreClosed = errors.New("global store closed")

// AllAccountsData is the confirmed state of every known account.
type AllAccountsData struct {
	ProductAccounts map[solana.Pubkey]oracle.ProductAccount
	PriceAccounts   map[solana.Pubkey]pyth.PriceAccount
}

// ProductAccountMetadata is what the dashboard needs to name a product.
type ProductAccountMetadata struct {
	AttrDict      map[string]string
	PriceAccounts []solana.Pubkey
}

// PriceAccountMetadata is the static part of a price account.
type PriceAccountMetadata struct {
	Expo      int32
	PriceType pyth.PriceType
}

// AllAccountsMetadata is the metadata of every known account.
type AllAccountsMetadata struct {
	ProductAccountsMetadata map[solana.Pubkey]ProductAccountMetadata
	PriceAccountsMetadata   map[solana.Pubkey]PriceAccountMetadata
}

// Lookup is a request answered on the Store goroutine. Result channels must
// have room for the reply.
type Lookup interface {
	isLookup()
}

// LookupAllAccountsData requests a copy of the confirmed state.
type LookupAllAccountsData struct {
	ResultTx chan<- AllAccountsDataResult
}

// AllAccountsDataResult answers LookupAllAccountsData.
type AllAccountsDataResult struct {
	Data AllAccountsData
	Err  error
}

// LookupAllAccountsMetadata requests a copy of the metadata.
type LookupAllAccountsMetadata struct {
	ResultTx chan<- AllAccountsMetadataResult
}

// AllAccountsMetadataResult answers LookupAllAccountsMetadata.
type AllAccountsMetadataResult struct {
	Metadata AllAccountsMetadata
	Err      error
}

func (LookupAllAccountsData) isLookup()     {}
func (LookupAllAccountsMetadata) isLookup() {}

// PriceObservation is a confirmed price update offered to exporters.
type PriceObservation struct {
	PriceKey    solana.Pubkey
	ProductKey  solana.Pubkey
	Symbol      string
	Price       int64
	Conf        uint64
	Expo        int32
	Status      pyth.PriceStatus
	PublishSlot uint64
	Timestamp   int64
	ObservedAt  time.Time
}

type observer struct {
	name string
	ch   chan<- PriceObservation
}

// Store owns the confirmed state. All reads and writes happen on Run.
type Store struct {
	data AllAccountsData
	meta AllAccountsMetadata

	updatesRx <-chan oracle.Update
	lookupsRx <-chan Lookup
	observers []observer

	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewStore creates a Store. metrics is optional.
func NewStore(updatesRx <-chan oracle.Update, lookupsRx <-chan Lookup, metrics *observability.Metrics, logger zerolog.Logger) *Store {
	return &Store{
		data: AllAccountsData{
			ProductAccounts: make(map[solana.Pubkey]oracle.ProductAccount),
			PriceAccounts:   make(map[solana.Pubkey]pyth.PriceAccount),
		},
		meta: AllAccountsMetadata{
			ProductAccountsMetadata: make(map[solana.Pubkey]ProductAccountMetadata),
			PriceAccountsMetadata:   make(map[solana.Pubkey]PriceAccountMetadata),
		},
		updatesRx: updatesRx,
		lookupsRx: lookupsRx,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// AddObserver registers an exporter channel. Observations are offered
// without blocking; a full channel drops the observation. Must be called
// before Run.
func (s *Store) AddObserver(name string, ch chan<- PriceObservation) {
	s.observers = append(s.observers, observer{name: name, ch: ch})
}

// Run applies updates and answers lookups until ctx is cancelled. Lookups
// still queued at shutdown are answered with ErrStoreClosed.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.rejectPending()
			return ctx.Err()
		case upd, ok := <-s.updatesRx:
			if !ok {
				s.updatesRx = nil
				continue
			}
			s.apply(upd)
		case lookup, ok := <-s.lookupsRx:
			if !ok {
				s.lookupsRx = nil
				continue
			}
			s.answer(lookup)
		}
	}
}

func (s *Store) rejectPending() {
	for {
		select {
		case lookup, ok := <-s.lookupsRx:
			if !ok {
				return
			}
			switch l := lookup.(type) {
			case LookupAllAccountsData:
				l.ResultTx <- AllAccountsDataResult{Err: ErrStoreClosed}
			case LookupAllAccountsMetadata:
				l.ResultTx <- AllAccountsMetadataResult{Err: ErrStoreClosed}
			}
		default:
			return
		}
	}
}

func (s *Store) apply(upd oracle.Update) {
	switch u := upd.(type) {
	case oracle.ProductAccountUpdate:
		s.data.ProductAccounts[u.Key] = u.Account
		s.meta.ProductAccountsMetadata[u.Key] = ProductAccountMetadata{
			AttrDict:      u.Account.Data.AttrDict(),
			PriceAccounts: slices.Clone(u.Account.PriceAccounts),
		}
		s.countUpdate("product")

	case oracle.PriceAccountUpdate:
		s.data.PriceAccounts[u.Key] = u.Account
		s.meta.PriceAccountsMetadata[u.Key] = PriceAccountMetadata{
			Expo:      u.Account.Exponent,
			PriceType: u.Account.PriceType,
		}
		s.countUpdate("price")
		s.notify(u.Key, u.Account)

	default:
		s.logger.Warn().Str("type", fmt.Sprintf("%T", upd)).Msg("ignoring unknown update")
	}
}

func (s *Store) countUpdate(kind string) {
	if s.metrics != nil {
		s.metrics.GlobalUpdatesApplied.WithLabelValues(kind).Inc()
	}
}

func (s *Store) notify(key solana.Pubkey, account pyth.PriceAccount) {
	if len(s.observers) == 0 {
		return
	}
	obs := PriceObservation{
		PriceKey:    key,
		ProductKey:  account.Product,
		Symbol:      s.meta.ProductAccountsMetadata[account.Product].AttrDict["symbol"],
		Price:       account.Aggregate.Price,
		Conf:        account.Aggregate.Conf,
		Expo:        account.Exponent,
		Status:      account.Aggregate.Status,
		PublishSlot: account.Aggregate.PublishSlot,
		Timestamp:   account.Timestamp,
		ObservedAt:  s.now().UTC(),
	}
	for _, o := range s.observers {
		select {
		case o.ch <- obs:
		default:
			if s.metrics != nil {
				s.metrics.ObservationDrops.WithLabelValues(o.name).Inc()
			}
		}
	}
}

func (s *Store) answer(lookup Lookup) {
	switch l := lookup.(type) {
	case LookupAllAccountsData:
		s.countLookup("all_accounts_data")
		l.ResultTx <- AllAccountsDataResult{Data: AllAccountsData{
			ProductAccounts: maps.Clone(s.data.ProductAccounts),
			PriceAccounts:   maps.Clone(s.data.PriceAccounts),
		}}
	case LookupAllAccountsMetadata:
		s.countLookup("all_accounts_metadata")
		l.ResultTx <- AllAccountsMetadataResult{Metadata: AllAccountsMetadata{
			ProductAccountsMetadata: maps.Clone(s.meta.ProductAccountsMetadata),
			PriceAccountsMetadata:   maps.Clone(s.meta.PriceAccountsMetadata),
		}}
	default:
		s.logger.Warn().Str("type", fmt.Sprintf("%T", lookup)).Msg("ignoring unknown lookup")
	}
}

func (s *Store) countLookup(name string) {
	if s.metrics != nil {
		s.metrics.StoreLookups.WithLabelValues("global", name).Inc()
	}
}

// FetchAllAccountsData sends a LookupAllAccountsData and waits for the reply.
func FetchAllAccountsData(ctx context.Context, lookupsTx chan<- Lookup) (AllAccountsData, error) {
	resultCh := make(chan AllAccountsDataResult, 1)
	select {
	case lookupsTx <- LookupAllAccountsData{ResultTx: resultCh}:
	case <-ctx.Done():
		return AllAccountsData{}, fmt.Errorf("lookup all accounts data: %w", ctx.Err())
	}
	select {
	case res := <-resultCh:
		if res.Err != nil {
			return AllAccountsData{}, fmt.Errorf("lookup all accounts data: %w", res.Err)
		}
		return res.Data, nil
	case <-ctx.Done():
		return AllAccountsData{}, fmt.Errorf("lookup all accounts data: %w", ctx.Err())
	}
}

// FetchAllAccountsMetadata sends a LookupAllAccountsMetadata and waits for
// the reply.
func FetchAllAccountsMetadata(ctx context.Context, lookupsTx chan<- Lookup) (AllAccountsMetadata, error) {
	resultCh := make(chan AllAccountsMetadataResult, 1)
	select {
	case lookupsTx <- LookupAllAccountsMetadata{ResultTx: resultCh}:
	case <-ctx.Done():
		return AllAccountsMetadata{}, fmt.Errorf("lookup all accounts metadata: %w", ctx.Err())
	}
	select {
	case res := <-resultCh:
		if res.Err != nil {
			return AllAccountsMetadata{}, fmt.Errorf("lookup all accounts metadata: %w", res.Err)
		}
		return res.Metadata, nil
	case <-ctx.Done():
		return AllAccountsMetadata{}, fmt.Errorf("lookup all accounts metadata: %w", ctx.Err())
	}
}
