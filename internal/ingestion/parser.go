package ingestion

import (
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/store/local"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Rejection reasons, used as metric labels.
const (
	ReasonMalformed     = "malformed"
	ReasonInvalidID     = "invalid_id"
	ReasonInvalidStatus = "invalid_status"
	ReasonIDMismatch    = "id_mismatch"
)

// SubmissionError is returned for a price submission that cannot become a
// local update.
type SubmissionError struct {
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("invalid price submission (%s): %v", e.Reason, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// RejectionReason returns the metric label for err.
func RejectionReason(err error) string {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Reason
	}
	return "internal"
}

// PriceSubmission is the JSON wire format of a pending local price, shared by
// the NATS consumer and the HTTP endpoint. Field names use snake_case to
// match upstream producers.
type PriceSubmission struct {
	PriceID   string `json:"price_id"`
	Price     int64  `json:"price"`
	Conf      uint64 `json:"conf"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix seconds; zero means "now"
}

// ParsePriceSubmission decodes a JSON payload. Unknown fields are rejected.
func ParsePriceSubmission(data []byte) (PriceSubmission, error) {
	var s PriceSubmission
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return PriceSubmission{}, &SubmissionError{Reason: ReasonMalformed, Err: err}
	}
	return s, nil
}

// ParseSubjectPrice decodes a message received on subject. The last subject
// token names the price.
func ParseSubjectPrice(subject string, data []byte) (PriceSubmission, error) {
	return ParseNamedPrice(subject[strings.LastIndexByte(subject, '.')+1:], data)
}

// ParseNamedPrice decodes a payload addressed to priceID, as in a subject
// token or URL path. The payload may omit price_id but must not contradict
// priceID.
func ParseNamedPrice(priceID string, data []byte) (PriceSubmission, error) {
	s, err := ParsePriceSubmission(data)
	if err != nil {
		return PriceSubmission{}, err
	}
	switch {
	case s.PriceID == "":
		s.PriceID = priceID
	case s.PriceID != priceID:
		return PriceSubmission{}, &SubmissionError{
			Reason: ReasonIDMismatch,
			Err:    fmt.Errorf("payload price_id %q, addressed to %q", s.PriceID, priceID),
		}
	}
	return s, nil
}

// ToUpdate validates the submission and converts it to a local store update.
func (s PriceSubmission) ToUpdate(now time.Time) (local.Update, error) {
	id, err := pyth.ParsePriceIdentifier(s.PriceID)
	if err != nil {
		return local.Update{}, &SubmissionError{Reason: ReasonInvalidID, Err: err}
	}
	status, err := pyth.ParsePriceStatus(s.Status)
	if err != nil {
		return local.Update{}, &SubmissionError{Reason: ReasonInvalidStatus, Err: err}
	}

	info := local.NewPriceInfo(s.Price, s.Conf, status, now)
	if s.Timestamp != 0 {
		info.Timestamp = s.Timestamp
	}
	return local.Update{PriceIdentifier: id, PriceInfo: info}, nil
}
