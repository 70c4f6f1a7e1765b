package ingestion

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/store/global"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// ObservationsStream holds confirmed price observations.
	ObservationsStream = "ORACLE_PRICES"
	// ObservationsSubject is oracle.prices.<price_key>.
	ObservationsSubject = "oracle.prices.>"
)

// Publisher is the subset of jetstream.JetStream the observation publisher
// needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ObservationPublisher publishes confirmed price observations to NATS for
// downstream consumers.
type ObservationPublisher struct {
	js        Publisher
	inputChan <-chan global.PriceObservation
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// ObservationMessage is the JSON payload published per observation.
type ObservationMessage struct {
	PriceKey    string          `json:"price_key"`
	ProductKey  string          `json:"product_key"`
	Symbol      string          `json:"symbol,omitempty"`
	Price       int64           `json:"price"`
	Conf        uint64          `json:"conf"`
	Expo        int32           `json:"expo"`
	ScaledPrice decimal.Decimal `json:"scaled_price"`
	Status      string          `json:"status"`
	PublishSlot uint64          `json:"publish_slot"`
	Timestamp   int64           `json:"timestamp"`
	ObservedAt  time.Time       `json:"observed_at"`
}

func NewObservationPublisher(js Publisher, inputChan <-chan global.PriceObservation, metrics *observability.Metrics, logger zerolog.Logger) *ObservationPublisher {
	return &ObservationPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes observations until ctx ends or the input closes.
func (op *ObservationPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case obs, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, obs); err != nil {
				// Non-fatal: the next poll re-sends every price.
				op.logger.Warn().Err(err).Str("price_key", obs.PriceKey.String()).Msg("observation publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
				continue
			}
			if op.metrics != nil {
				op.metrics.ObservationsPublished.Inc()
			}
		}
	}
}

// Subject returns oracle.prices.<price_key>.
func Subject(obs global.PriceObservation) string {
	return "oracle.prices." + obs.PriceKey.String()
}

// NewObservationMessage converts obs to its wire form.
func NewObservationMessage(obs global.PriceObservation) ObservationMessage {
	return ObservationMessage{
		PriceKey:    obs.PriceKey.String(),
		ProductKey:  obs.ProductKey.String(),
		Symbol:      obs.Symbol,
		Price:       obs.Price,
		Conf:        obs.Conf,
		Expo:        obs.Expo,
		ScaledPrice: decimal.New(obs.Price, obs.Expo),
		Status:      obs.Status.String(),
		PublishSlot: obs.PublishSlot,
		Timestamp:   obs.Timestamp,
		ObservedAt:  obs.ObservedAt,
	}
}

func (op *ObservationPublisher) publish(ctx context.Context, obs global.PriceObservation) error {
	data, err := json.Marshal(NewObservationMessage(obs))
	if err != nil {
		return fmt.Errorf("marshal observation: %w", err)
	}
	_, err = op.js.Publish(ctx, Subject(obs), data)
	return err
}
