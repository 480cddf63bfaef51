package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genebench/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded analysis runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.NewStore(cfg.History.DatabasePath, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List(historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}
		for _, run := range runs {
			fmt.Printf("%s  %-9s  %s\n", run.StartedAt.Format("2006-01-02 15:04"), run.Status, run.Request)
			fmt.Printf("    id: %s\n", run.ID)
			if len(run.Datasets) > 0 {
				fmt.Printf("    datasets: %s\n", strings.Join(run.Datasets, ", "))
			}
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show one run with its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.NewStore(cfg.History.DatabasePath, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Request:   %s\n", run.Request)
		fmt.Printf("Status:    %s\n", run.Status)
		fmt.Printf("Workspace: %s\n", run.WorkingDirectory)
		fmt.Printf("Started:   %s (took %s)\n",
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
		if len(run.Datasets) > 0 {
			fmt.Printf("Datasets:  %s\n", strings.Join(run.Datasets, ", "))
		}
		for _, step := range run.Steps {
			marker := " "
			switch step.Status {
			case "completed":
				marker = "x"
			case "failed":
				marker = "!"
			case "cancelled":
				marker = "-"
			}
			fmt.Printf("  [%s] %d. %s", marker, step.Index+1, step.Description)
			if step.Source == "template" {
				fmt.Print(" (template)")
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to list")
	historyCmd.AddCommand(historyShowCmd)
}
