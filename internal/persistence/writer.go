package persistence

import (
	"OracleMirror/internal/store/global"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PriceRow is one confirmed observation in table form.
type PriceRow struct {
	PriceKey    string
	ProductKey  string
	Symbol      string
	Price       int64
	Conf        string // NUMERIC; uint64 does not fit a driver int64
	Expo        int32
	Status      string
	PublishSlot string // NUMERIC
	PublishTime int64
	ObservedAt  time.Time

	slot uint64
}

// RowFromObservation converts an observation to its row form.
func RowFromObservation(obs global.PriceObservation) PriceRow {
	return PriceRow{
		PriceKey:    obs.PriceKey.String(),
		ProductKey:  obs.ProductKey.String(),
		Symbol:      obs.Symbol,
		Price:       obs.Price,
		Conf:        strconv.FormatUint(obs.Conf, 10),
		Expo:        obs.Expo,
		Status:      obs.Status.String(),
		PublishSlot: strconv.FormatUint(obs.PublishSlot, 10),
		PublishTime: obs.Timestamp,
		ObservedAt:  obs.ObservedAt,
		slot:        obs.PublishSlot,
	}
}

const rowColumns = 10

func (r PriceRow) args() []any {
	return []any{
		r.PriceKey, r.ProductKey, r.Symbol, r.Price, r.Conf,
		r.Expo, r.Status, r.PublishSlot, r.PublishTime, r.ObservedAt,
	}
}

// LatestPerPrice keeps, for each price key, the row with the highest publish
// slot. Later rows win ties. The result is ordered by price key so that
// concurrent upserts lock rows in the same order.
func LatestPerPrice(rows []PriceRow) []PriceRow {
	latest := make(map[string]PriceRow, len(rows))
	for _, r := range rows {
		if cur, ok := latest[r.PriceKey]; ok && cur.slot > r.slot {
			continue
		}
		latest[r.PriceKey] = r
	}
	out := make([]PriceRow, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b PriceRow) int { return strings.Compare(a.PriceKey, b.PriceKey) })
	return out
}

// ProjectionWriter writes price rows using multi-row INSERTs.
type ProjectionWriter struct {
	db *sql.DB
}

func NewProjectionWriter(db *sql.DB) *ProjectionWriter {
	return &ProjectionWriter{db: db}
}

// DB returns the underlying handle.
func (w *ProjectionWriter) DB() *sql.DB {
	return w.db
}

// WriteBatch writes rows to both tables in one transaction and reports the
// number of rows affected per table.
func (w *ProjectionWriter) WriteBatch(ctx context.Context, rows []PriceRow) (history, latest int64, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, &WriteError{Stage: "tx_begin", Err: err}
	}
	defer tx.Rollback()

	query, args := HistoryInsert(rows)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, 0, &WriteError{Stage: "write_history", Err: err}
	}
	history, _ = res.RowsAffected()

	query, args = LatestUpsert(LatestPerPrice(rows))
	res, err = tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, 0, &WriteError{Stage: "write_latest", Err: err}
	}
	latest, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, &WriteError{Stage: "tx_commit", Err: err}
	}
	return history, latest, nil
}

func valuesClause(n int) string {
	values := make([]string, 0, n)
	for i := 0; i < n; i++ {
		base := i * rowColumns
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
	}
	return strings.Join(values, ", ")
}

func batchArgs(rows []PriceRow) []any {
	args := make([]any, 0, len(rows)*rowColumns)
	for _, r := range rows {
		args = append(args, r.args()...)
	}
	return args
}

// HistoryInsert builds the price_history insert. A repeated
// (price_key, publish_slot) is ignored, which makes replays idempotent.
func HistoryInsert(rows []PriceRow) (string, []any) {
	query := `INSERT INTO projections.price_history
		(price_key, product_key, symbol, price, conf, expo, status, publish_slot, publish_time, observed_at)
		VALUES ` + valuesClause(len(rows)) +
		` ON CONFLICT (price_key, publish_slot) DO NOTHING`
	return query, batchArgs(rows)
}

// LatestUpsert builds the latest_prices upsert. rows must hold at most one
// row per price key. An older slot never replaces a newer one.
func LatestUpsert(rows []PriceRow) (string, []any) {
	query := `INSERT INTO projections.latest_prices
		(price_key, product_key, symbol, price, conf, expo, status, publish_slot, publish_time, observed_at)
		VALUES ` + valuesClause(len(rows)) + `
		ON CONFLICT (price_key) DO UPDATE SET
			product_key  = EXCLUDED.product_key,
			symbol       = EXCLUDED.symbol,
			price        = EXCLUDED.price,
			conf         = EXCLUDED.conf,
			expo         = EXCLUDED.expo,
			status       = EXCLUDED.status,
			publish_slot = EXCLUDED.publish_slot,
			publish_time = EXCLUDED.publish_time,
			observed_at  = EXCLUDED.observed_at,
			updated_at   = NOW()
		WHERE projections.latest_prices.publish_slot <= EXCLUDED.publish_slot`
	return query, batchArgs(rows)
}

// WriteError tags a failed write with the stage that failed.
type WriteError struct {
	Stage string
	Err   error
}

func (e *WriteError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

// ErrorType returns a metric label for err: the failing stage, refined by the
// Postgres error class when the server reported one.
func ErrorType(err error) string {
	stage := "unknown"
	var we *WriteError
	if errors.As(err, &we) {
		stage = we.Stage
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return stage + ":" + pqErr.Code.Class().Name()
	}
	return stage
}
