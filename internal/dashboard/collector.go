package dashboard

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/pyth"
	"OracleMirror/internal/store/global"
	"OracleMirror/internal/store/local"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Collector gathers the three snapshots a report needs and builds it.
type Collector struct {
	localTx  chan<- local.Message
	globalTx chan<- global.Lookup
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewCollector creates a Collector. metrics is optional.
func NewCollector(localTx chan<- local.Message, globalTx chan<- global.Lookup, metrics *observability.Metrics, logger zerolog.Logger) *Collector {
	return &Collector{
		localTx:  localTx,
		globalTx: globalTx,
		metrics:  metrics,
		logger:   logger,
	}
}

// Build issues the three lookups concurrently and merges the replies. A
// failure of any lookup fails the build.
func (c *Collector) Build(ctx context.Context) (Report, error) {
	start := time.Now()
	renderID := uuid.New()
	logger := c.logger.With().Str("render_id", renderID.String()).Logger()

	var (
		localData      map[pyth.PriceIdentifier]local.PriceInfo
		globalData     global.AllAccountsData
		globalMetadata global.AllAccountsMetadata
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		localData, err = local.FetchAllPriceInfo(gctx, c.localTx)
		return err
	})
	g.Go(func() error {
		var err error
		globalData, err = global.FetchAllAccountsData(gctx, c.globalTx)
		return err
	})
	g.Go(func() error {
		var err error
		globalMetadata, err = global.FetchAllAccountsMetadata(gctx, c.globalTx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect dashboard data (render %s): %w", renderID, err)
	}

	report := BuildDashboardData(localData, globalData, globalMetadata, LogReporter{Logger: logger, Metrics: c.metrics})
	if c.metrics != nil {
		c.metrics.DashboardDuration.Observe(time.Since(start).Seconds())
	}
	return report, nil
}
