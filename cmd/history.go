package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/scm/config"
	"github.com/kilianp07/scm/core/history"
	"github.com/kilianp07/scm/pkg/export"
)

var (
	histQuery  history.Query
	histSince  time.Duration
	histFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the recompute cycle history",
}

var historyLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recorded cycles",
	RunE:  runHistoryLs,
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded cycles as csv or json",
	RunE:  runHistoryExport,
}

func init() {
	f := historyCmd.PersistentFlags()
	f.StringVar(&histQuery.Group, "group", "", "filter by site group")
	f.StringVar(&histQuery.Outcome, "outcome", "", "filter by outcome")
	f.StringVar(&histQuery.SessionID, "session", "", "filter by session id")
	f.DurationVar(&histSince, "since", 24*time.Hour, "look back window")
	f.IntVar(&histQuery.Limit, "limit", 50, "maximum number of records, 0 for all")
	historyExportCmd.Flags().StringVar(&histFormat, "format", "csv", "csv or json")
	historyCmd.AddCommand(historyLsCmd, historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryLs(cmd *cobra.Command, args []string) error {
	recs, err := queryHistory(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range recs {
		fmt.Fprintf(out, "%s %-10s %-20s %-8s sessions=%d/%d profiles=%d %s\n",
			r.Timestamp.Format(time.RFC3339), r.Group, r.Outcome, r.Trigger,
			r.ActiveSessions, r.Sessions, len(r.Profiles), r.Error)
	}
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	recs, err := queryHistory(cmd)
	if err != nil {
		return err
	}
	switch histFormat {
	case "csv":
		return export.WriteCSV(cmd.OutOrStdout(), recs)
	case "json":
		return export.WriteJSON(cmd.OutOrStdout(), recs)
	default:
		return fmt.Errorf("unknown format %q", histFormat)
	}
}

func queryHistory(cmd *cobra.Command) ([]history.Record, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("history backend is disabled")
	}
	defer func() {
		if err := store.Close(); err != nil {
			if _, ferr := fmt.Fprintf(cmd.ErrOrStderr(), "error while closing history: %v\n", err); ferr != nil {
				fmt.Println("failed to write to stderr:", ferr)
			}
		}
	}()
	if histSince > 0 {
		histQuery.Start = time.Now().Add(-histSince)
	}
	return store.Query(ctx, histQuery)
}
