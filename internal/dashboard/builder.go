// Package dashboard merges the confirmed state, its metadata and the pending
// local updates into one per-symbol report.
package dashboard

import (
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/solana"
	"OracleMirror/internal/store/global"
	"OracleMirror/internal/store/local"
	"sort"
)

const duplicateSuffix = " (duplicate)"

// DashboardPriceView joins what each source knows about one price. Any
// field is nil when its source has no record.
type DashboardPriceView struct {
	LocalData      *local.PriceInfo
	GlobalData     *pyth.PriceAccount
	GlobalMetadata *global.PriceAccountMetadata
}

// DashboardSymbolView is one product and its prices.
type DashboardSymbolView struct {
	Product solana.Pubkey
	Prices  map[solana.Pubkey]DashboardPriceView
}

// PriceKeys returns the view's price keys in byte order.
func (v DashboardSymbolView) PriceKeys() []solana.Pubkey {
	keys := make([]solana.Pubkey, 0, len(v.Prices))
	for k := range v.Prices {
		keys = append(keys, k)
	}
	solana.SortPubkeys(keys)
	return keys
}

// Report maps display names to symbol views.
type Report map[string]DashboardSymbolView

// Symbols returns the display names in sorted order.
func (r Report) Symbols() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reporter receives the diagnostics produced while building a report.
type Reporter interface {
	BuildStarted(stats BuildStats)
	DuplicateSymbol(symbol, renamedTo string, view DashboardSymbolView)
	MissingProductMetadata(product solana.Pubkey)
	Orphans(products, prices []solana.Pubkey)
}

// BuildStats sizes the three inputs of a build.
type BuildStats struct {
	LocalPrices      int
	GlobalProducts   int
	GlobalPrices     int
	MetadataProducts int
	MetadataPrices   int
}

// BuildDashboardData merges the three snapshots into a Report.
//
// Products come from the metadata snapshot and are visited in ascending key
// order, so when two products share a symbol the smaller key keeps the plain
// name and the later one gets the duplicate suffix. Price and product keys
// that no product consumes are passed to Reporter.Orphans.
//
// The input maps are consumed: entries are removed as they are placed.
func BuildDashboardData(
	localData map[pyth.PriceIdentifier]local.PriceInfo,
	globalData global.AllAccountsData,
	globalMetadata global.AllAccountsMetadata,
	reporter Reporter,
) Report {
	if reporter == nil {
		reporter = NopReporter{}
	}
	reporter.BuildStarted(BuildStats{
		LocalPrices:      len(localData),
		GlobalProducts:   len(globalData.ProductAccounts),
		GlobalPrices:     len(globalData.PriceAccounts),
		MetadataProducts: len(globalMetadata.ProductAccountsMetadata),
		MetadataPrices:   len(globalMetadata.PriceAccountsMetadata),
	})

	productKeys := make([]solana.Pubkey, 0, len(globalMetadata.ProductAccountsMetadata))
	for k := range globalMetadata.ProductAccountsMetadata {
		productKeys = append(productKeys, k)
	}
	solana.SortPubkeys(productKeys)

	remainingPrices := make(map[solana.Pubkey]struct{})
	for k := range globalData.PriceAccounts {
		remainingPrices[k] = struct{}{}
	}
	for k := range globalMetadata.PriceAccountsMetadata {
		remainingPrices[k] = struct{}{}
	}
	for id := range localData {
		remainingPrices[id.Pubkey()] = struct{}{}
	}

	remainingProducts := make(map[solana.Pubkey]struct{}, len(productKeys))
	for _, k := range productKeys {
		remainingProducts[k] = struct{}{}
	}

	report := make(Report)
	for _, productKey := range productKeys {
		delete(globalData.ProductAccounts, productKey)

		productMetadata, ok := globalMetadata.ProductAccountsMetadata[productKey]
		if !ok {
			reporter.MissingProductMetadata(productKey)
			continue
		}
		delete(globalMetadata.ProductAccountsMetadata, productKey)

		symbol, ok := productMetadata.AttrDict["symbol"]
		if !ok {
			symbol = "unnamed product " + productKey.String()
		}

		view := DashboardSymbolView{
			Product: productKey,
			Prices:  make(map[solana.Pubkey]DashboardPriceView),
		}
		for _, priceKey := range dedupSorted(productMetadata.PriceAccounts) {
			view.Prices[priceKey] = takePriceView(priceKey, localData, globalData, globalMetadata)
			delete(remainingPrices, priceKey)
		}
		delete(remainingProducts, productKey)

		name := symbol
		for {
			if _, taken := report[name]; !taken {
				break
			}
			renamed := name + duplicateSuffix
			reporter.DuplicateSymbol(name, renamed, view)
			name = renamed
		}
		report[name] = view
	}

	if len(remainingPrices) > 0 || len(remainingProducts) > 0 {
		reporter.Orphans(sortedSet(remainingProducts), sortedSet(remainingPrices))
	}
	return report
}

func takePriceView(
	priceKey solana.Pubkey,
	localData map[pyth.PriceIdentifier]local.PriceInfo,
	globalData global.AllAccountsData,
	globalMetadata global.AllAccountsMetadata,
) DashboardPriceView {
	var view DashboardPriceView
	if account, ok := globalData.PriceAccounts[priceKey]; ok {
		view.GlobalData = &account
		delete(globalData.PriceAccounts, priceKey)
	}
	if meta, ok := globalMetadata.PriceAccountsMetadata[priceKey]; ok {
		view.GlobalMetadata = &meta
		delete(globalMetadata.PriceAccountsMetadata, priceKey)
	}
	id := pyth.IdentifierFromPubkey(priceKey)
	if info, ok := localData[id]; ok {
		view.LocalData = &info
		delete(localData, id)
	}
	return view
}

func dedupSorted(keys []solana.Pubkey) []solana.Pubkey {
	set := make(map[solana.Pubkey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return sortedSet(set)
}

func sortedSet(set map[solana.Pubkey]struct{}) []solana.Pubkey {
	out := make([]solana.Pubkey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	solana.SortPubkeys(out)
	return out
}
