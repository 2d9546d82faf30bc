package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/stratos-brokerage/paycore/internal/store/gormstore"
	"github.com/stratos-brokerage/paycore/pkg/ledger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const flagDatabaseURL = "database-url"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Offline ledger verification and repair",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagDatabaseURL, "", "PostgreSQL or sqlite connection string (or DATABASE_URL)")
	cmd.AddCommand(newVerifyCommand(), newReplayCommand(), newSummaryCommand())
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute every balance from the transaction log and compare",
		RunE: func(cmd *cobra.Command, args []string) error {
			verifier, cleanup, err := openVerifier(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := verifier.Verify(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(cmd, report); err != nil {
					return err
				}
			} else {
				printVerifyReport(cmd, report)
			}
			if !report.Pass {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the full report as JSON")
	return cmd
}

func newReplayCommand() *cobra.Command {
	var execute bool
	var assumeYes bool
	var batchSize int
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the balance store from the transaction log",
		Long: "Rebuild every balance by replaying the transaction log in order.\n" +
			"Runs as a dry run unless --execute is given. With --execute the\n" +
			"balance store is cleared before the replay starts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			verifier, cleanup, err := openVerifier(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if execute {
				fmt.Fprintln(cmd.OutOrStdout(), "WARNING: this clears the balance store and replays the full transaction log")
				if !assumeYes {
					if !confirm(cmd) {
						fmt.Fprintln(cmd.OutOrStdout(), "aborted")
						return nil
					}
				}
			}
			result, err := verifier.Replay(cmd.Context(), ledger.ReplayOptions{
				DryRun:    !execute,
				BatchSize: batchSize,
			})
			if err != nil {
				return err
			}
			mode := "dry-run"
			if !result.DryRun {
				mode = "executed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replay %s: %d transactions in %d batches\n", mode, result.Processed, result.Batches)
			return nil
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "actually clear and rebuild balances (default is a dry run)")
	cmd.Flags().BoolVar(&assumeYes, "yes", false, "skip the confirmation prompt")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "transactions per batch (0 uses the default)")
	return cmd
}

func confirm(cmd *cobra.Command) bool {
	fmt.Fprint(cmd.OutOrStdout(), "type yes to continue: ")
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}

func newSummaryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print transaction and balance counts with per-currency totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			verifier, cleanup, err := openVerifier(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := verifier.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "transactions: %d\n", summary.TransactionCount)
			fmt.Fprintf(out, "balance keys: %d\n", summary.BalanceKeyCount)
			currencies := make([]string, 0, len(summary.TotalsByCurrency))
			for currency := range summary.TotalsByCurrency {
				currencies = append(currencies, currency)
			}
			sort.Strings(currencies)
			for _, currency := range currencies {
				fmt.Fprintf(out, "total %s: %d\n", currency, summary.TotalsByCurrency[currency])
			}
			return nil
		},
	}
}

func openVerifier(cmd *cobra.Command) (*ledger.Verifier, func(), error) {
	dsn, err := cmd.Flags().GetString(flagDatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("database connection string required via --%s or DATABASE_URL", flagDatabaseURL)
	}

	db, cleanup, err := openDatabase(cmd.Context(), dsn)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := ledger.NewVerifier(gormstore.NewLedgerStore(db), unixUTCNow)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return verifier, cleanup, nil
}

func printVerifyReport(cmd *cobra.Command, report ledger.VerifyReport) {
	out := cmd.OutOrStdout()
	for _, result := range report.Results {
		if result.Pass {
			continue
		}
		if result.Err != "" {
			fmt.Fprintf(out, "ERROR %s/%s %s: %s\n", result.Key.EntityType, result.Key.EntityID, result.Key.Currency, result.Err)
			continue
		}
		fmt.Fprintf(out, "FAIL %s/%s %s: stored=%d calculated=%d difference=%d\n",
			result.Key.EntityType, result.Key.EntityID, result.Key.Currency,
			result.Stored, result.Calculated, result.Difference)
	}
	verdict := "PASS"
	if !report.Pass {
		verdict = "FAIL"
	}
	fmt.Fprintf(out, "%s: %d keys checked, %d mismatched, %d errors\n",
		verdict, report.CheckedKeys, report.FailedKeys, report.ErrorCount)
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func(), error) {
	var db *gorm.DB
	var err error
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		var sqlitePath string
		sqlitePath, err = resolveSQLitePath(dsn)
		if err != nil {
			return nil, nil, err
		}
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db.WithContext(ctx), func() { _ = sqlDB.Close() }, nil
}

func resolveSQLitePath(dsn string) (string, error) {
	path := dsn
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path = u.Path
		if path == "" {
			path = u.Host
		}
	}
	if path == "" || path == "/" {
		return "", fmt.Errorf("sqlite path missing in %q", dsn)
	}
	if path == ":memory:" {
		return path, nil
	}
	return filepath.Clean(path), nil
}

func unixUTCNow() int64 {
	return time.Now().UTC().Unix()
}
