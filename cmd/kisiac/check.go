package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kisiac/kisiac/internal/db"
	"github.com/kisiac/kisiac/internal/device"
	"github.com/kisiac/kisiac/internal/health"
	"github.com/kisiac/kisiac/internal/hostexec"
	"github.com/spf13/cobra"
)

// CheckResult is the health verdict of one disk in the check output.
type CheckResult struct {
	Device  string `json:"device"`
	Healthy bool   `json:"healthy"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CheckOutput is the complete check output.
type CheckOutput struct {
	ScanID    string         `json:"scan_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Results   []CheckResult  `json:"results"`
	Summary   health.Summary `json:"summary"`
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run SMART health checks on the host's disks",
	Long: `Check queries every physical disk with smartctl and reports the
overall SMART verdict. A disk that cannot be queried is reported and
the check moves on. With --record the scan is stored in the inventory
database for later review with history.`,
	Run: runCheck,
}

func init() {
	checkCmd.Flags().Bool("json", false, "Output as JSON")
	checkCmd.Flags().Bool("record", false, "Record the scan in the inventory database")
	checkCmd.Flags().String("db", db.DefaultPath, "inventory database path")
}

func runCheck(cmd *cobra.Command, args []string) {
	jsonOut, _ := cmd.Flags().GetBool("json")
	record, _ := cmd.Flags().GetBool("record")
	dbPath, _ := cmd.Flags().GetString("db")
	ctx := cmd.Context()
	runner := hostexec.NewSystem(host)

	devices, err := device.Discover(ctx, runner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering devices: %v\n", err)
		os.Exit(1)
	}

	start := time.Now().UTC()
	results := health.Scan(ctx, runner, devices)
	summary := health.Summarize(results)

	output := CheckOutput{Timestamp: start, Summary: summary}
	for _, r := range results {
		output.Results = append(output.Results, CheckResult{
			Device:  r.Device,
			Healthy: r.Healthy,
			Status:  r.Status,
			Error:   r.Err,
		})
	}

	if record {
		output.ScanID = uuid.NewString()
		if err := recordScan(dbPath, output.ScanID, start, results, summary); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not record scan: %v\n", err)
			output.ScanID = ""
		}
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(output)
		return
	}

	printResults(output.Results)
	fmt.Printf("\n%d disks checked: %d healthy, %d unhealthy, %d unreadable\n",
		summary.Total, summary.Healthy, summary.Unhealthy, summary.Failed)
	if output.ScanID != "" {
		fmt.Printf("Recorded as scan %s\n", output.ScanID)
	}
}

func recordScan(path, scanID string, start time.Time, results []health.Result, summary health.Summary) error {
	database, err := db.New(path)
	if err != nil {
		return err
	}
	defer database.Close()

	records := make([]db.ResultRecord, 0, len(results))
	for _, r := range results {
		records = append(records, db.ResultRecord{
			Device:  r.Device,
			Healthy: r.Healthy,
			Status:  r.Status,
			Error:   r.Err,
		})
	}
	return database.RecordScan(db.ScanRecord{
		ID:        scanID,
		Host:      host,
		StartedAt: start,
		Total:     summary.Total,
		Healthy:   summary.Healthy,
		Unhealthy: summary.Unhealthy,
		Failed:    summary.Failed,
	}, records)
}

func printResults(results []CheckResult) {
	fmt.Printf("%-24s %-10s %s\n", "DEVICE", "HEALTH", "DETAIL")
	fmt.Println(strings.Repeat("-", 50))
	for _, r := range results {
		state := "ok"
		detail := r.Status
		if !r.Healthy {
			state = "FAILING"
		}
		if r.Error != "" {
			state = "error"
			detail = r.Error
		}
		fmt.Printf("%-24s %-10s %s\n", r.Device, state, detail)
	}
}
