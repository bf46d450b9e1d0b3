package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kisiac/kisiac/internal/device"
	"github.com/kisiac/kisiac/internal/hostexec"
	"github.com/rs/zerolog"
)

// Result is the health verdict of one physical disk.
type Result struct {
	Device  string
	Healthy bool
	// Status is the overall SMART verdict, PASSED or FAILED.
	Status string
	// Err records why the disk could not be checked.
	Err string
}

// Scan checks every disk type device. A disk that cannot be queried is
// reported with its error and the scan moves on. Results come back
// sorted by device.
func Scan(ctx context.Context, runner hostexec.Runner, devices *device.Discovery) []Result {
	log := zerolog.Ctx(ctx)

	var results []Result
	for _, info := range devices.All() {
		if info.Type != "disk" {
			continue
		}
		result := checkDevice(ctx, runner, info.Device)
		if result.Err != "" {
			log.Warn().Str("device", info.Device).Str("error", result.Err).Msg("health check failed")
		} else if !result.Healthy {
			log.Warn().Str("device", info.Device).Str("status", result.Status).Msg("disk reports bad health")
		}
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Device < results[j].Device
	})
	return results
}

func checkDevice(ctx context.Context, runner hostexec.Runner, dev string) Result {
	res, err := runner.Run(ctx, hostexec.Cmd{
		Argv: []string{"smartctl", "-H", "--json", dev},
		Sudo: true,
	})
	if err != nil {
		return Result{Device: dev, Err: err.Error()}
	}

	var report struct {
		SmartStatus struct {
			Passed bool `json:"passed"`
		} `json:"smart_status"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &report); err != nil {
		return Result{Device: dev, Err: fmt.Sprintf("unreadable smartctl report: %v", err)}
	}

	status := "FAILED"
	if report.SmartStatus.Passed {
		status = "PASSED"
	}
	return Result{Device: dev, Healthy: report.SmartStatus.Passed, Status: status}
}

// Summary counts a scan's outcomes.
type Summary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Failed    int `json:"failed"`
}

func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Err != "":
			s.Failed++
		case r.Healthy:
			s.Healthy++
		default:
			s.Unhealthy++
		}
	}
	return s
}
