package dashboard

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
)

const (
	noData          = "no data"
	timestampLayout = "2006-01-02 15:04:05"

	// Range of unix seconds a calendar timestamp can represent (years
	// -262144 through 262143). Anything outside renders as invalid.
	minTimestamp int64 = -8334632937600
	maxTimestamp int64 = 8210298412799
)

// Columns are the report headers in display order.
var Columns = []string{
	"Symbol",
	"Product ID",
	"Price ID",
	"Last Published Price",
	"Last Publish Time",
	"Last Local Update Time",
}

// Row is one (symbol, price) line of the report.
type Row struct {
	Symbol              string `json:"symbol"`
	ProductID           string `json:"product_id"`
	PriceID             string `json:"price_id"`
	LastPublishedPrice  string `json:"last_published_price"`
	LastPublishTime     string `json:"last_publish_time"`
	LastLocalUpdateTime string `json:"last_local_update_time"`
}

func (r Row) cells() []string {
	return []string{r.Symbol, r.ProductID, r.PriceID, r.LastPublishedPrice, r.LastPublishTime, r.LastLocalUpdateTime}
}

// Rows flattens a report, ordered by symbol then price key.
func Rows(report Report) []Row {
	var rows []Row
	for _, symbol := range report.Symbols() {
		view := report[symbol]
		for _, priceKey := range view.PriceKeys() {
			price := view.Prices[priceKey]
			row := Row{
				Symbol:              symbol,
				ProductID:           view.Product.String(),
				PriceID:             priceKey.String(),
				LastPublishedPrice:  noData,
				LastPublishTime:     noData,
				LastLocalUpdateTime: noData,
			}
			if price.GlobalData != nil {
				row.LastPublishedPrice = FormatPrice(price.GlobalData.Aggregate.Price, price.GlobalData.Exponent)
				row.LastPublishTime = FormatTimestamp(price.GlobalData.Timestamp)
			}
			if price.LocalData != nil {
				row.LastLocalUpdateTime = FormatTimestamp(price.LocalData.Timestamp)
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// FormatPrice renders price * 10^expo with two decimals, rounding half away
// from zero.
func FormatPrice(price int64, expo int32) string {
	return decimal.New(price, expo).StringFixed(2)
}

// FormatTimestamp renders unix seconds as a UTC date and time.
func FormatTimestamp(ts int64) string {
	if ts < minTimestamp || ts > maxTimestamp {
		return fmt.Sprintf("Invalid timestamp %d", ts)
	}
	return time.Unix(ts, 0).UTC().Format(timestampLayout)
}

// WriteText writes the rows as a bordered table.
func WriteText(w io.Writer, rows []Row) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(Columns...)
	for _, r := range rows {
		t.Row(r.cells()...)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// Page is the data behind the HTML dashboard.
type Page struct {
	Title  string
	Uptime time.Duration
	Rows   []Row
}

var pageTemplate = template.Must(template.New("dashboard").Parse(`<html>
<head>
<title>{{.Title}}</title>
<style>
table {
  width: 100%;
  border-collapse: collapse;
}
table, th, td {
  border: 1px solid;
}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
Uptime: {{.Uptime}}
<h2>State Overview</h2>
<table>
<tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr>
{{- range .Rows}}
<tr><td>{{.Symbol}}</td><td>{{.ProductID}}</td><td>{{.PriceID}}</td><td>{{.LastPublishedPrice}}</td><td>{{.LastPublishTime}}</td><td>{{.LastLocalUpdateTime}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))

// WriteHTML renders the page. Uptime is shown in whole seconds.
func WriteHTML(w io.Writer, page Page) error {
	return pageTemplate.Execute(w, struct {
		Title   string
		Uptime  string
		Columns []string
		Rows    []Row
	}{
		Title:   page.Title,
		Uptime:  page.Uptime.Truncate(time.Second).String(),
		Columns: Columns,
		Rows:    page.Rows,
	})
}
