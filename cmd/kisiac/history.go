package main

import (
	"fmt"
	"os"

	"github.com/kisiac/kisiac/internal/db"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [scan-id]",
	Short: "Show recorded health scans",
	Long: `Without arguments, history lists the most recent recorded scans.
With a scan id it shows the per-disk results of that scan.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of scans to list")
	historyCmd.Flags().String("db", db.DefaultPath, "inventory database path")
}

func runHistory(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	dbPath, _ := cmd.Flags().GetString("db")

	database, err := db.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if len(args) == 1 {
		showScan(database, args[0])
		return
	}

	scans, err := database.ListScans(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing scans: %v\n", err)
		os.Exit(1)
	}
	if len(scans) == 0 {
		fmt.Println("No recorded scans.")
		return
	}

	fmt.Printf("%-36s %-20s %-12s %s\n", "SCAN", "STARTED", "HOST", "RESULT")
	for _, scan := range scans {
		scanHost := scan.Host
		if scanHost == "" {
			scanHost = "local"
		}
		result := fmt.Sprintf("%d/%d healthy", scan.Healthy, scan.Total)
		if scan.Failed > 0 {
			result += fmt.Sprintf(", %d unreadable", scan.Failed)
		}
		fmt.Printf("%-36s %-20s %-12s %s\n",
			scan.ID, scan.StartedAt.Format("2006-01-02 15:04:05"), scanHost, result)
	}
}

func showScan(database *db.DB, scanID string) {
	records, err := database.ScanResults(scanID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading scan: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No results for that scan.")
		return
	}

	results := make([]CheckResult, 0, len(records))
	for _, r := range records {
		results = append(results, CheckResult{
			Device:  r.Device,
			Healthy: r.Healthy,
			Status:  r.Status,
			Error:   r.Error,
		})
	}
	printResults(results)
}
