package dashboard

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/solana"
	"fmt"

	"github.com/rs/zerolog"
)

// NopReporter discards all diagnostics.
type NopReporter struct{}

func (NopReporter) BuildStarted(BuildStats)                             {}
func (NopReporter) DuplicateSymbol(string, string, DashboardSymbolView) {}
func (NopReporter) MissingProductMetadata(solana.Pubkey)                {}
func (NopReporter) Orphans([]solana.Pubkey, []solana.Pubkey)            {}

// LogReporter writes build diagnostics to a zerolog logger and, if metrics
// are set, counts renames and orphans.
type LogReporter struct {
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

func (r LogReporter) BuildStarted(s BuildStats) {
	r.Logger.Debug().
		Int("local_data_len", s.LocalPrices).
		Int("global_data_products_len", s.GlobalProducts).
		Int("global_data_prices_len", s.GlobalPrices).
		Int("global_metadata_products_len", s.MetadataProducts).
		Int("global_metadata_prices_len", s.MetadataPrices).
		Msg("building dashboard data")
}

func (r LogReporter) DuplicateSymbol(symbol, renamedTo string, view DashboardSymbolView) {
	if r.Metrics != nil {
		r.Metrics.DashboardRenames.Inc()
	}
	r.Logger.Warn().
		Str("symbol_name", symbol).
		Str("symbol_renamed_to", renamedTo).
		Str("conflicting_symbol_data", fmt.Sprintf("%+v", view)).
		Msg("duplicate symbol name detected, renaming")
}

func (r LogReporter) MissingProductMetadata(product solana.Pubkey) {
	r.Logger.Warn().
		Str("product_id", product.String()).
		Msg("failed to look up product metadata")
}

func (r LogReporter) Orphans(products, prices []solana.Pubkey) {
	if r.Metrics != nil {
		r.Metrics.DashboardOrphans.WithLabelValues("product").Add(float64(len(products)))
		r.Metrics.DashboardOrphans.WithLabelValues("price").Add(float64(len(prices)))
	}
	r.Logger.Warn().
		Strs("remaining_product_ids", keyStrings(products)).
		Strs("remaining_price_ids", keyStrings(prices)).
		Msg("orphaned product/price IDs detected")
}

func keyStrings(keys []solana.Pubkey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
