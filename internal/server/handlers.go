package server

import (
	"OracleMirror/internal/dashboard"
	"OracleMirror/internal/ingestion"
	"OracleMirror/internal/observability"
	"OracleMirror/internal/store/local"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// maxSubmissionBytes bounds a price submission body.
const maxSubmissionBytes = 4 << 10

// ReportBuilder produces a dashboard report.
type ReportBuilder interface {
	Build(ctx context.Context) (dashboard.Report, error)
}

// PriceSubmitter accepts pending local prices.
type PriceSubmitter interface {
	SubmitPrice(ctx context.Context, source string, sub ingestion.PriceSubmission) (local.Update, error)
}

type handlers struct {
	reports ReportBuilder
	prices  PriceSubmitter
	health  *observability.HealthChecker
	metrics *observability.Metrics
	title   string
	logger  zerolog.Logger
}

// dashboardResponse is the JSON form of the dashboard.
type dashboardResponse struct {
	Title   string          `json:"title"`
	Uptime  string          `json:"uptime"`
	Columns []string        `json:"columns"`
	Rows    []dashboard.Row `json:"rows"`
}

type submitResponse struct {
	PriceID   string `json:"price_id"`
	Price     int64  `json:"price"`
	Conf      uint64 `json:"conf"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *handlers) build(r *http.Request, format string) ([]dashboard.Row, bool) {
	report, err := h.reports.Build(r.Context())
	if err != nil {
		h.countRender(format, "error")
		h.logger.Error().Err(err).Str("format", format).Msg("dashboard build failed")
		return nil, false
	}
	return dashboard.Rows(report), true
}

func (h *handlers) dashboardHTML(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.build(r, "html")
	if !ok {
		http.Error(w, "dashboard unavailable", http.StatusServiceUnavailable)
		return
	}

	// Render fully before writing so a template error can still set the status.
	var buf bytes.Buffer
	err := dashboard.WriteHTML(&buf, dashboard.Page{
		Title:  h.title,
		Uptime: h.health.Uptime(),
		Rows:   rows,
	})
	if err != nil {
		h.countRender("html", "error")
		h.logger.Error().Err(err).Msg("dashboard render failed")
		http.Error(w, "dashboard render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
	h.countRender("html", "ok")
}

func (h *handlers) dashboardJSON(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	rows, ok := h.build(r, "json")
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: "dashboard unavailable"})
		return
	}
	if rows == nil {
		rows = []dashboard.Row{}
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Title:   h.title,
		Uptime:  h.health.Uptime().Truncate(time.Second).String(),
		Columns: dashboard.Columns,
		Rows:    rows,
	})
	h.countRender("json", "ok")
}

func (h *handlers) submitPrice(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse{Error: ingestion.ReasonMalformed, Message: err.Error()})
		return
	}

	upd, err := h.submit(r.Context(), params["price_id"], body)
	var se *ingestion.SubmissionError
	switch {
	case err == nil:
	case errors.As(err, &se):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: se.Reason, Message: se.Error()})
		return
	default:
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		PriceID:   upd.PriceIdentifier.String(),
		Price:     upd.PriceInfo.Price,
		Conf:      upd.PriceInfo.Conf,
		Status:    upd.PriceInfo.Status.String(),
		Timestamp: upd.PriceInfo.Timestamp,
	})
}

func (h *handlers) submit(ctx context.Context, priceID string, body []byte) (local.Update, error) {
	sub, err := ingestion.ParseNamedPrice(priceID, body)
	if err != nil {
		if h.metrics != nil {
			h.metrics.LocalUpdatesRejected.WithLabelValues(ingestion.SourceHTTP, ingestion.RejectionReason(err)).Inc()
		}
		return local.Update{}, err
	}
	return h.prices.SubmitPrice(ctx, ingestion.SourceHTTP, sub)
}

func (h *handlers) countRender(format, outcome string) {
	if h.metrics != nil {
		h.metrics.DashboardRenders.WithLabelValues(format, outcome).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
