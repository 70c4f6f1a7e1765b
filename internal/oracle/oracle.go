package oracle

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/solana"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrChainCycle is returned when a linked account chain revisits a key.
var ErrChainCycle = errors.New("account chain revisits a key")

// AccountFetcher reads raw account bytes. *solana.RPCClient satisfies it.
type AccountFetcher interface {
	GetAccountData(ctx context.Context, key solana.Pubkey) ([]byte, error)
}

// ReadinessSetter is notified after the first successful poll.
type ReadinessSetter interface {
	SetReady(ready bool)
}

// Config controls the synchronizer.
type Config struct {
	// MappingAccountKey is the head of the mapping-account chain.
	MappingAccountKey solana.Pubkey
	PollInterval      time.Duration
}

// Oracle keeps the account graph in sync with the remote ledger. A poll tick
// rebuilds the graph from scratch; a push notification patches a single
// known price account. Both are applied on the Run goroutine only.
type Oracle struct {
	cfg    Config
	data   Data
	client AccountFetcher

	updatesRx <-chan solana.AccountUpdate
	globalTx  chan<- Update

	metrics   *observability.Metrics
	readiness ReadinessSetter
	logger    zerolog.Logger
}

// New creates an Oracle. updatesRx may be nil when the push feed is disabled.
// metrics and readiness are optional.
func New(
	cfg Config,
	client AccountFetcher,
	updatesRx <-chan solana.AccountUpdate,
	globalTx chan<- Update,
	metrics *observability.Metrics,
	readiness ReadinessSetter,
	logger zerolog.Logger,
) *Oracle {
	return &Oracle{
		cfg:       cfg,
		data:      NewData(),
		client:    client,
		updatesRx: updatesRx,
		globalTx:  globalTx,
		metrics:   metrics,
		readiness: readiness,
		logger:    logger,
	}
}

// Run polls immediately and then handles one event at a time until ctx is
// cancelled. Errors from individual events are logged and never stop the loop.
func (o *Oracle) Run(ctx context.Context) error {
	o.logger.Info().
		Str("mapping_account", o.cfg.MappingAccountKey.String()).
		Dur("poll_interval", o.cfg.PollInterval).
		Bool("push_feed", o.updatesRx != nil).
		Msg("oracle started")

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	if err := o.Poll(ctx); err != nil {
		o.logError(ctx, err, "poll failed")
	}

	updates := o.updatesRx
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("oracle stopped")
			return ctx.Err()

		case upd, ok := <-updates:
			if !ok {
				o.logger.Warn().Msg("account update channel closed, continuing with polling only")
				updates = nil
				continue
			}
			if err := o.HandleAccountUpdate(ctx, upd.Key, upd.Data); err != nil {
				o.logError(ctx, err, "account update failed")
			}

		case <-ticker.C:
			if err := o.Poll(ctx); err != nil {
				o.logError(ctx, err, "poll failed")
			}
		}
	}
}

func (o *Oracle) logError(ctx context.Context, err error, msg string) {
	if ctx.Err() != nil {
		return
	}
	o.logger.Error().Err(err).Msg(msg)
}

// Data returns the current graph. Only safe to call when Run is not running.
func (o *Oracle) Data() Data {
	return o.data
}

// Poll rebuilds the graph from the mapping chain and forwards every product
// and price account downstream. The graph is replaced only if every fetch
// succeeds.
func (o *Oracle) Poll(ctx context.Context) error {
	start := time.Now()
	cycleID := uuid.New()
	logger := o.logger.With().Str("cycle_id", cycleID.String()).Logger()

	data, err := o.fetchGraph(ctx)
	if err != nil {
		o.observePoll("failure", start)
		return fmt.Errorf("poll cycle %s: %w", cycleID, err)
	}
	o.data = data

	if o.metrics != nil {
		o.metrics.GraphAccounts.WithLabelValues("mapping").Set(float64(len(data.MappingAccounts)))
		o.metrics.GraphAccounts.WithLabelValues("product").Set(float64(len(data.ProductAccounts)))
		o.metrics.GraphAccounts.WithLabelValues("price").Set(float64(len(data.PriceAccounts)))
	}

	if err := o.sendAllData(ctx); err != nil {
		o.observePoll("failure", start)
		return fmt.Errorf("poll cycle %s: %w", cycleID, err)
	}
	o.observePoll("success", start)

	if o.readiness != nil {
		o.readiness.SetReady(true)
	}

	logger.Debug().
		Int("mapping_accounts", len(data.MappingAccounts)).
		Int("product_accounts", len(data.ProductAccounts)).
		Int("price_accounts", len(data.PriceAccounts)).
		Dur("elapsed", time.Since(start)).
		Msg("poll complete")
	return nil
}

func (o *Oracle) observePoll(outcome string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.PollCycles.WithLabelValues(outcome).Inc()
	o.metrics.PollDuration.Observe(time.Since(start).Seconds())
}

func (o *Oracle) fetchGraph(ctx context.Context) (Data, error) {
	data := NewData()

	mappingKeys, err := o.fetchMappingAccounts(ctx, data.MappingAccounts)
	if err != nil {
		return Data{}, err
	}

	for _, mappingKey := range mappingKeys {
		for _, productKey := range data.MappingAccounts[mappingKey].Products {
			if _, seen := data.ProductAccounts[productKey]; seen {
				continue
			}
			product, err := o.fetchProductAccount(ctx, productKey, data.PriceAccounts)
			if err != nil {
				return Data{}, err
			}
			data.ProductAccounts[productKey] = product
		}
	}
	return data, nil
}

// fetchMappingAccounts walks the mapping chain from the configured root and
// returns the keys in chain order.
func (o *Oracle) fetchMappingAccounts(ctx context.Context, into map[solana.Pubkey]pyth.MappingAccount) ([]solana.Pubkey, error) {
	var order []solana.Pubkey
	for key := o.cfg.MappingAccountKey; !key.IsZero(); {
		if _, seen := into[key]; seen {
			return nil, fmt.Errorf("mapping account %s: %w", key, ErrChainCycle)
		}
		raw, err := o.fetch(ctx, "mapping", key)
		if err != nil {
			return nil, err
		}
		account, err := pyth.LoadMappingAccount(raw)
		if err != nil {
			return nil, fmt.Errorf("decode mapping account %s: %w", key, err)
		}
		into[key] = account
		order = append(order, key)
		key = account.Next
	}
	return order, nil
}

// fetchProductAccount fetches a product and every price account on its
// chain. Fetched prices are added to prices.
func (o *Oracle) fetchProductAccount(ctx context.Context, key solana.Pubkey, prices map[solana.Pubkey]pyth.PriceAccount) (ProductAccount, error) {
	raw, err := o.fetch(ctx, "product", key)
	if err != nil {
		return ProductAccount{}, err
	}
	account, err := pyth.LoadProductAccount(raw)
	if err != nil {
		return ProductAccount{}, fmt.Errorf("decode product account %s: %w", key, err)
	}

	product := ProductAccount{Data: account}
	visited := make(map[solana.Pubkey]struct{})
	for priceKey := account.PriceAccount; !priceKey.IsZero(); {
		if _, seen := visited[priceKey]; seen {
			return ProductAccount{}, fmt.Errorf("price chain of product %s at %s: %w", key, priceKey, ErrChainCycle)
		}
		visited[priceKey] = struct{}{}

		price, err := o.fetchPriceAccount(ctx, priceKey)
		if err != nil {
			return ProductAccount{}, err
		}
		prices[priceKey] = price
		product.PriceAccounts = append(product.PriceAccounts, priceKey)
		priceKey = price.Next
	}
	solana.SortPubkeys(product.PriceAccounts)
	return product, nil
}

func (o *Oracle) fetchPriceAccount(ctx context.Context, key solana.Pubkey) (pyth.PriceAccount, error) {
	raw, err := o.fetch(ctx, "price", key)
	if err != nil {
		return pyth.PriceAccount{}, err
	}
	account, err := pyth.LoadPriceAccount(raw)
	if err != nil {
		return pyth.PriceAccount{}, fmt.Errorf("decode price account %s: %w", key, err)
	}
	return account, nil
}

func (o *Oracle) fetch(ctx context.Context, kind string, key solana.Pubkey) ([]byte, error) {
	raw, err := o.client.GetAccountData(ctx, key)
	if o.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		o.metrics.AccountFetches.WithLabelValues(kind, outcome).Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s account %s: %w", kind, key, err)
	}
	return raw, nil
}

// HandleAccountUpdate applies a pushed price account. Keys not already in
// the graph are ignored: only a poll discovers new accounts.
func (o *Oracle) HandleAccountUpdate(ctx context.Context, key solana.Pubkey, raw []byte) error {
	if _, known := o.data.PriceAccounts[key]; !known {
		o.observePush("ignored")
		return nil
	}

	account, err := pyth.LoadPriceAccount(raw)
	if err != nil {
		o.observePush("invalid")
		return fmt.Errorf("decode pushed price account %s: %w", key, err)
	}
	o.data.PriceAccounts[key] = account

	if err := o.send(ctx, PriceAccountUpdate{Key: key, Account: account}, "push"); err != nil {
		o.observePush("failed")
		return err
	}
	o.observePush("applied")
	return nil
}

func (o *Oracle) observePush(outcome string) {
	if o.metrics != nil {
		o.metrics.PushUpdates.WithLabelValues(outcome).Inc()
	}
}

// sendAllData forwards every product and then every price account in key
// order. Nothing is diffed against earlier polls.
func (o *Oracle) sendAllData(ctx context.Context) error {
	for _, key := range sortedKeys(o.data.ProductAccounts) {
		if err := o.send(ctx, ProductAccountUpdate{Key: key, Account: o.data.ProductAccounts[key]}, "poll"); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(o.data.PriceAccounts) {
		if err := o.send(ctx, PriceAccountUpdate{Key: key, Account: o.data.PriceAccounts[key]}, "poll"); err != nil {
			return err
		}
	}
	return nil
}

// send blocks until the global store accepts upd or ctx is cancelled.
func (o *Oracle) send(ctx context.Context, upd Update, source string) error {
	kind := "price"
	if _, ok := upd.(ProductAccountUpdate); ok {
		kind = "product"
	}

	select {
	case o.globalTx <- upd:
	case <-ctx.Done():
		return fmt.Errorf("forward %s account update %s: %w", kind, upd.AccountKey(), ctx.Err())
	}

	if o.metrics != nil {
		o.metrics.ForwardedUpdates.WithLabelValues(kind, source).Inc()
		o.metrics.SetChannelMetrics("global_updates", len(o.globalTx), cap(o.globalTx))
	}
	return nil
}
