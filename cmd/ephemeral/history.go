package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigreer/ephemeral/internal/db"
	"github.com/sigreer/ephemeral/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded detection runs",
	Long: `Show detection runs recorded with 'detect --record' or history.record.

Examples:
  ephemeral history
  ephemeral history --limit 5
  ephemeral history show 7d444840-9dc0-11d1-b245-5ffdce74fad2`,
	Run: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-uuid>",
	Short: "Show the devices of a recorded run",
	Args:  cobra.ExactArgs(1),
	Run:   runHistoryShow,
}

func init() {
	historyCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	historyCmd.AddCommand(historyShowCmd)
}

func openHistory() *db.DB {
	cfg := loadConfig()
	database, err := db.New(cfg.History.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history database: %v\n", err)
		os.Exit(1)
	}
	return database
}

func runHistory(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOut, _ := cmd.Flags().GetBool("json")

	database := openHistory()
	defer database.Close()

	runs, err := database.GetRecentRuns(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
		os.Exit(1)
	}

	if jsonOut {
		if err := output.PrintJSON(os.Stdout, runs); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
		return
	}

	output.PrintRuns(os.Stdout, runs, time.Now())
}

func runHistoryShow(cmd *cobra.Command, args []string) {
	jsonOut, _ := cmd.Flags().GetBool("json")

	database := openHistory()
	defer database.Close()

	run, err := database.GetRun(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
		os.Exit(1)
	}
	if run == nil {
		fmt.Fprintf(os.Stderr, "Error: no recorded run '%s'\n", args[0])
		os.Exit(1)
	}

	if jsonOut {
		if err := output.PrintJSON(os.Stdout, run); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
		return
	}

	output.PrintRun(os.Stdout, run)
}
