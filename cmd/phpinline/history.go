package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/phpinline/internal/annotation"
	"github.com/sakif/phpinline/internal/config"
	"github.com/sakif/phpinline/internal/logging"
	sqliteRepo "github.com/sakif/phpinline/internal/repository/sqlite"
	"github.com/sakif/phpinline/internal/service"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List, inspect and prune recorded evaluations",
	Long: `Reads the evaluation history kept in the SQLite database at historyPath.
Without a subcommand it lists the most recent evaluations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		uri, _ := cmd.Flags().GetString("uri")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		svc, closeFn, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		evaluations, err := svc.List(cmd.Context(), uri, limit, 0)
		if err != nil {
			return userError(err)
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(evaluations)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tWHEN\tMODE\tLINE\tSECONDS\tOUTPUT")
		for _, e := range evaluations {
			output := e.Output
			if e.Failed {
				output = "✗ " + output
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				e.ID, e.CreatedAt.Local().Format(time.DateTime), e.Mode, e.Line+1,
				annotation.Seconds(e.Duration), truncate(output, 60))
		}
		return tw.Flush()
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one recorded evaluation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := svc.Delete(cmd.Context(), args[0]); err != nil {
			return userError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete evaluations older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		age, _ := cmd.Flags().GetDuration("older-than")

		svc, closeFn, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := svc.Prune(cmd.Context(), age)
		if err != nil {
			return userError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d evaluation(s)\n", n)
		return nil
	},
}

// openHistory builds a service that only serves history. It never starts an
// interpreter, so it is safe to use while another phpinline is running.
func openHistory(cmd *cobra.Command) (*service.EvaluationService, func(), error) {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.HistoryPath == "" {
		return nil, nil, errors.New("history is disabled: set historyPath in the config file")
	}
	if _, err := os.Stat(cfg.HistoryPath); err != nil {
		return nil, nil, fmt.Errorf("no history at %s", cfg.HistoryPath)
	}

	db, err := sqliteRepo.New(cfg.HistoryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening history: %w", err)
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)
	svc := service.NewEvaluationService(nil, nil, config.NewStore(cfg), logger, service.WithHistory(db))
	return svc, func() { _ = db.Close() }, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyDeleteCmd, historyPruneCmd)

	historyCmd.Flags().String("uri", "", "Only show evaluations of this document URI")
	historyCmd.Flags().IntP("limit", "n", service.DefaultListLimit, "Number of evaluations to show")
	historyCmd.Flags().Bool("json", false, "Print JSON instead of a table")

	historyPruneCmd.Flags().Duration("older-than", 7*24*time.Hour, "Age beyond which evaluations are deleted")
}
