package ingestion

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/store/local"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Submission sources, used as metric labels.
const (
	SourceHTTP = "http"
	SourceNATS = "nats"
)

// PriceIngestService validates pending local prices and hands them to the
// local store. It is the single entry point for every submission surface.
type PriceIngestService struct {
	messagesTx chan<- local.Message
	metrics    *observability.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewPriceIngestService creates the service. metrics is optional.
func NewPriceIngestService(messagesTx chan<- local.Message, metrics *observability.Metrics, logger zerolog.Logger) *PriceIngestService {
	return &PriceIngestService{
		messagesTx: messagesTx,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// SubmitPrice converts sub and blocks until the local store accepts it or
// ctx ends. Validation failures are returned as *SubmissionError.
func (s *PriceIngestService) SubmitPrice(ctx context.Context, source string, sub PriceSubmission) (local.Update, error) {
	upd, err := sub.ToUpdate(s.now())
	if err != nil {
		s.reject(source, err)
		return local.Update{}, err
	}
	if err := local.Submit(ctx, s.messagesTx, upd.PriceIdentifier, upd.PriceInfo); err != nil {
		return local.Update{}, err
	}

	if s.metrics != nil {
		s.metrics.LocalUpdates.WithLabelValues(source).Inc()
		s.metrics.SetChannelMetrics("local_messages", len(s.messagesTx), cap(s.messagesTx))
	}
	s.logger.Debug().
		Str("source", source).
		Str("price_identifier", upd.PriceIdentifier.String()).
		Int64("price", upd.PriceInfo.Price).
		Msg("local price accepted")
	return upd, nil
}

func (s *PriceIngestService) reject(source string, err error) {
	reason := RejectionReason(err)
	if s.metrics != nil {
		s.metrics.LocalUpdatesRejected.WithLabelValues(source, reason).Inc()
	}
	s.logger.Warn().Err(err).Str("source", source).Str("reason", reason).Msg("local price rejected")
}
