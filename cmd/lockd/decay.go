package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-lockd-backend/internal/config"
	"github.com/tbourn/go-lockd-backend/internal/ledger"
	"github.com/tbourn/go-lockd-backend/internal/repo"
)

func decayCommand(cfgFn func() config.Config) *cobra.Command {
	var (
		height int64
		drift  bool
	)
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Run one decay pass and exit",
		Long: "Runs one decay pass under the shared lease at the current chain height.\n" +
			"With --height the pass runs at that height and skips the lease.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if height < 0 {
				return fmt.Errorf("--height must not be negative")
			}
			a, err := newApp(cfgFn())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var res ledger.PassResult
			if height > 0 {
				res, err = a.admin.RunDecayPass(ctx, height)
			} else {
				res, err = a.scheduler.RunOnce(ctx)
			}
			if errors.Is(err, ledger.ErrLeaseHeld) {
				log.Warn().Msg("another instance is running a decay pass")
				return nil
			}
			if err != nil {
				return err
			}

			out := map[string]any{"result": res}
			if drift {
				d, err := a.admin.ScoreDrift(ctx)
				if err != nil {
					return err
				}
				if d == nil {
					d = []ledger.Drift{}
				}
				out["drift"] = d
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().Int64Var(&height, "height", 0, "apply decay at this block height instead of the chain tip")
	cmd.Flags().BoolVar(&drift, "drift", false, "also report contents whose cached score disagrees with their locks")
	return cmd
}

func migrateCommand(cfgFn func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFn()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			log.Info().Str("db", cfg.DBPath).Msg("schema up to date")
			return nil
		},
	}
}

func purgeCommand(cfgFn func() config.Config) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge-idempotency",
		Short: "Delete settled idempotency records older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			db, err := openDB(cfgFn())
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			n, err := repo.PurgeIdempotency(cmd.Context(), db, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("idempotency records purged")
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention window for completed and failed records")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", programName, version)
		},
	}
}
