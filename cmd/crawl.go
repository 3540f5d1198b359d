package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagewatch/pagewatch/internal/app"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <task-name>",
		Short: "Crawl one task immediately, ignoring its schedule and work window",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close()

	task, err := a.Scheduler.ForceCrawl(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("crawl %q: %w", args[0], err)
	}

	out, err := json.MarshalIndent(map[string]any{
		"name":             task.Name,
		"latest_result":    task.LatestResult,
		"last_change_time": task.LastChangeTime,
		"last_error":       task.LastError,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
