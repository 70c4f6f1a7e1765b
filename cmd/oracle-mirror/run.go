package main

import (
	"OracleMirror/internal/config"
	"OracleMirror/internal/dashboard"
	"OracleMirror/internal/ingestion"
	"OracleMirror/internal/observability"
	"OracleMirror/internal/oracle"
	"OracleMirror/internal/persistence"
	"OracleMirror/internal/server"
	"OracleMirror/internal/solana"
	"OracleMirror/internal/store/global"
	"OracleMirror/internal/store/local"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the mirror, its stores, exporters and the HTTP/gRPC surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, cfg, logger)
		},
	}
}

// channels connects the goroutines. Capacities come from config.
type channels struct {
	accountUpdates chan solana.AccountUpdate
	globalUpdates  chan oracle.Update
	globalLookups  chan global.Lookup
	localMessages  chan local.Message
}

func newChannels(cfg *config.Config) channels {
	return channels{
		accountUpdates: make(chan solana.AccountUpdate, cfg.Oracle.UpdatesChannelCapacity),
		globalUpdates:  make(chan oracle.Update, cfg.Stores.GlobalUpdatesCapacity),
		globalLookups:  make(chan global.Lookup, cfg.Stores.LookupCapacity),
		localMessages:  make(chan local.Message, cfg.Stores.LocalCapacity),
	}
}

func (c channels) sample(m *observability.Metrics) {
	m.SetChannelMetrics("account_updates", len(c.accountUpdates), cap(c.accountUpdates))
	m.SetChannelMetrics("global_updates", len(c.globalUpdates), cap(c.globalUpdates))
	m.SetChannelMetrics("global_lookups", len(c.globalLookups), cap(c.globalLookups))
	m.SetChannelMetrics("local_messages", len(c.localMessages), cap(c.localMessages))
}

func runAgent(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("rpc_url", cfg.Oracle.RPCURL).
		Str("mapping_account", cfg.Oracle.MappingAccountKey).
		Bool("nats", cfg.NATS.Enabled).
		Bool("postgres", cfg.Postgres.Enabled).
		Msg("oracle-mirror starting")

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	healthChecker := observability.NewHealthChecker()

	ch := newChannels(cfg)
	globalStore := global.NewStore(ch.globalUpdates, ch.globalLookups, metrics, observability.Subsystem(logger, "global_store"))
	localStore := local.NewStore(ch.localMessages, metrics, observability.Subsystem(logger, "local_store"))
	ingest := ingestion.NewPriceIngestService(ch.localMessages, metrics, observability.Subsystem(logger, "ingest"))

	g, ctx := errgroup.WithContext(ctx)

	// --- Exporters (observers must be added before the store runs) ---
	if cfg.NATS.Enabled {
		if err := startNATS(ctx, g, cfg, globalStore, ingest, metrics, logger); err != nil {
			return err
		}
	}
	if cfg.Postgres.Enabled {
		db, err := startProjection(ctx, g, cfg, globalStore, metrics, logger)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	// --- Stores ---
	g.Go(func() error { return globalStore.Run(ctx) })
	g.Go(func() error { return localStore.Run(ctx) })

	// --- Oracle + push feed ---
	rpc := solana.NewRPCClient(cfg.Oracle.RPCURL, cfg.Oracle.CommitmentLevel(), cfg.Oracle.RPCTimeout)
	var accountUpdates <-chan solana.AccountUpdate
	if cfg.Oracle.SubscriberEnabled {
		accountUpdates = ch.accountUpdates
		subscriber := oracle.NewSubscriber(
			cfg.Oracle.ProgramKey(),
			oracle.WebsocketFeed{URL: cfg.Oracle.WSSURL, Commitment: cfg.Oracle.CommitmentLevel()},
			ch.accountUpdates,
			metrics,
			observability.Subsystem(logger, "subscriber"),
		)
		g.Go(func() error { return subscriber.Run(ctx) })
	}
	orc := oracle.New(
		oracle.Config{MappingAccountKey: cfg.Oracle.MappingKey(), PollInterval: cfg.Oracle.PollInterval},
		rpc,
		accountUpdates,
		ch.globalUpdates,
		metrics,
		healthChecker,
		observability.Subsystem(logger, "oracle"),
	)
	g.Go(func() error { return orc.Run(ctx) })

	// --- HTTP + gRPC ---
	srv, err := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.Deps{
		Reports:       dashboard.NewCollector(ch.localMessages, ch.globalLookups, metrics, observability.Subsystem(logger, "dashboard")),
		Prices:        ingest,
		HealthChecker: healthChecker,
		Gatherer:      reg,
		Metrics:       metrics,
		Title:         "Oracle Mirror Dashboard - " + version,
		Logger:        observability.Subsystem(logger, "server"),
	})
	if err != nil {
		return err
	}
	g.Go(func() error { return srv.StartHTTP(ctx) })
	if cfg.Server.GRPCAddr != "" {
		g.Go(func() error { return srv.StartGRPC(ctx) })
	}

	// --- Channel utilization ---
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				ch.sample(metrics)
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("oracle-mirror stopped with error")
		return err
	}
	logger.Info().Msg("oracle-mirror shutdown complete")
	return nil
}

func startNATS(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	globalStore *global.Store,
	ingest *ingestion.PriceIngestService,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	natsLogger := observability.Subsystem(logger, "nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
	if err != nil {
		return err
	}
	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		nc.Close()
		return fmt.Errorf("ensure NATS streams: %w", err)
	}

	observations := make(chan global.PriceObservation, cfg.Stores.ObservationCapacity)
	globalStore.AddObserver("nats", observations)

	publisher := ingestion.NewObservationPublisher(js, observations, metrics, natsLogger)
	subscriber := ingestion.NewNATSSubscriber(js, ingest, natsLogger)
	g.Go(func() error { return publisher.Run(ctx) })
	g.Go(func() error {
		defer nc.Close()
		return subscriber.Run(ctx)
	})
	return nil
}

func startProjection(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	globalStore *global.Store,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*sql.DB, error) {
	pgLogger := observability.Subsystem(logger, "projection")
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, pgLogger).Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	observations := make(chan global.PriceObservation, cfg.Stores.ObservationCapacity)
	globalStore.AddObserver("postgres", observations)

	worker := persistence.NewProjectionWorker(
		persistence.NewProjectionWriter(db),
		observations,
		cfg.Postgres.BatchSize,
		cfg.Postgres.FlushTimeout,
		metrics,
		pgLogger,
	)
	g.Go(func() error { return worker.Run(ctx) })
	return db, nil
}
