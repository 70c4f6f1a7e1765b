package main

import (
	"OracleMirror/internal/dashboard"
	"OracleMirror/internal/observability"
	"OracleMirror/internal/oracle"
	"OracleMirror/internal/solana"
	"OracleMirror/internal/store/global"
	"OracleMirror/internal/store/local"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newDashboardCmd(flags *rootFlags) *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Poll the account graph once and print the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rpc := solana.NewRPCClient(cfg.Oracle.RPCURL, cfg.Oracle.CommitmentLevel(), cfg.Oracle.RPCTimeout)
			rows, err := oneShotRows(ctx, rpc, cfg.Oracle.MappingKey(), observability.Subsystem(logger, "dashboard"))
			if err != nil {
				return err
			}
			if asJSON {
				return writeRowsJSON(cmd.OutOrStdout(), rows)
			}
			return dashboard.WriteText(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print rows as JSON instead of a table")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the poll and render")
	return cmd
}

// oneShotRows runs a single poll through the stores and renders the result.
func oneShotRows(ctx context.Context, client oracle.AccountFetcher, mappingKey solana.Pubkey, logger zerolog.Logger) ([]dashboard.Row, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unbuffered: once Poll returns, the store has taken every update, and
	// it applies each one before it can answer a later lookup.
	globalUpdates := make(chan oracle.Update)
	globalLookups := make(chan global.Lookup, 2)
	localMessages := make(chan local.Message, 1)

	go global.NewStore(globalUpdates, globalLookups, nil, logger).Run(ctx)
	go local.NewStore(localMessages, nil, logger).Run(ctx)

	orc := oracle.New(oracle.Config{MappingAccountKey: mappingKey, PollInterval: time.Hour}, client, nil, globalUpdates, nil, nil, logger)
	if err := orc.Poll(ctx); err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	report, err := dashboard.NewCollector(localMessages, globalLookups, nil, logger).Build(ctx)
	if err != nil {
		return nil, err
	}
	return dashboard.Rows(report), nil
}

func writeRowsJSON(w io.Writer, rows []dashboard.Row) error {
	if rows == nil {
		rows = []dashboard.Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
