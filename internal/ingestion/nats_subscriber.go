package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// LocalPricesStream holds pending local prices.
	LocalPricesStream = "ORACLE_LOCAL_PRICES"
	// LocalPricesSubject is oracle.local.prices.<price_id>.
	LocalPricesSubject  = "oracle.local.prices.>"
	localPricesConsumer = "mirror-local-prices"
)

// NATSSubscriber consumes pending local prices from JetStream and submits
// them through the PriceIngestService.
type NATSSubscriber struct {
	js       jetstream.JetStream
	ingest   *PriceIngestService
	logger   zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewNATSSubscriber(js jetstream.JetStream, ingest *PriceIngestService, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:     js,
		ingest: ingest,
		logger: logger,
	}
}

// Subscribe creates the durable consumer and starts delivery.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, LocalPricesStream, jetstream.ConsumerConfig{
		Durable:       localPricesConsumer,
		FilterSubject: LocalPricesSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", localPricesConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ns.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", localPricesConsumer, err)
	}

	ns.consumer = cc
	ns.logger.Info().
		Str("subject", LocalPricesSubject).
		Str("consumer", localPricesConsumer).
		Msg("subscribed to local prices")
	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	sub, err := ParseSubjectPrice(msg.Subject(), msg.Data())
	if err == nil {
		_, err = ns.ingest.SubmitPrice(ctx, SourceNATS, sub)
	}

	var se *SubmissionError
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.As(err, &se):
		// Redelivery cannot fix a bad payload.
		ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("terminating invalid local price")
		_ = msg.Term()
	default:
		_ = msg.Nak()
	}
}

// Stop stops message delivery.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// Run subscribes, then blocks until ctx ends.
func (ns *NATSSubscriber) Run(ctx context.Context) error {
	if err := ns.Subscribe(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	ns.Stop()
	return ctx.Err()
}

// EnsureStreams creates the local price and observation streams if they
// don't exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      LocalPricesStream,
			Subjects:  []string{LocalPricesSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      ObservationsStream,
			Subjects:  []string{ObservationsSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("oracle-mirror"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
