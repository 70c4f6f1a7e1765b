package oracle

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/solana"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrFeedClosed is returned when the push feed stops delivering.
var ErrFeedClosed = errors.New("change feed closed")

// Feed is an established push subscription.
type Feed interface {
	Recv(ctx context.Context) (solana.AccountUpdate, error)
	Close() error
}

// ChangeFeed establishes push subscriptions for every account owned by a
// root key.
type ChangeFeed interface {
	Subscribe(ctx context.Context, rootKey solana.Pubkey) (Feed, error)
}

// WebsocketFeed subscribes through a node's websocket endpoint.
type WebsocketFeed struct {
	URL        string
	Commitment solana.Commitment
}

func (w WebsocketFeed) Subscribe(ctx context.Context, rootKey solana.Pubkey) (Feed, error) {
	feed, err := solana.DialProgramFeed(ctx, w.URL, rootKey, w.Commitment)
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// Subscriber forwards push notifications for everything owned by a root key
// to the Oracle.
//
// A failed subscription ends Run and is not retried. Once subscribed, a
// receive or forward failure is logged and the loop immediately tries again,
// so a permanently broken feed produces a stream of errors until ctx ends.
type Subscriber struct {
	rootKey   solana.Pubkey
	feed      ChangeFeed
	updatesTx chan<- solana.AccountUpdate
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewSubscriber creates a Subscriber. metrics is optional.
func NewSubscriber(
	rootKey solana.Pubkey,
	feed ChangeFeed,
	updatesTx chan<- solana.AccountUpdate,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Subscriber {
	return &Subscriber{
		rootKey:   rootKey,
		feed:      feed,
		updatesTx: updatesTx,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run subscribes once and forwards notifications until ctx is cancelled.
// It returns nil after logging a subscription failure.
func (s *Subscriber) Run(ctx context.Context) error {
	feed, err := s.feed.Subscribe(ctx, s.rootKey)
	if err != nil {
		s.countError("subscribe")
		s.logger.Error().
			Err(err).
			Str("root_key", s.rootKey.String()).
			Msg("failed to subscribe to account changes, push updates disabled")
		return nil
	}
	defer feed.Close()

	s.logger.Info().Str("root_key", s.rootKey.String()).Msg("subscribed to account changes")

	for {
		if err := s.forwardNext(ctx, feed); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.countError("forward")
			s.logger.Error().Err(err).Msg("failed to forward account update")
		}
	}
}

func (s *Subscriber) forwardNext(ctx context.Context, feed Feed) error {
	update, err := feed.Recv(ctx)
	if err != nil {
		if errors.Is(err, solana.ErrFeedClosed) {
			return fmt.Errorf("receive account update: %w", ErrFeedClosed)
		}
		return fmt.Errorf("receive account update: %w", err)
	}

	select {
	case s.updatesTx <- update:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.metrics != nil {
		s.metrics.SetChannelMetrics("account_updates", len(s.updatesTx), cap(s.updatesTx))
	}
	return nil
}

func (s *Subscriber) countError(stage string) {
	if s.metrics != nil {
		s.metrics.SubscriberErrors.WithLabelValues(stage).Inc()
	}
}
