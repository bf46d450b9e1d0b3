package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRecordAndListScans(t *testing.T) {
	t.Parallel()

	d := openTestDB(t)

	older := ScanRecord{
		ID:        "scan-1",
		Host:      "",
		StartedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Total:     2,
		Healthy:   2,
	}
	require.NoError(t, d.RecordScan(older, []ResultRecord{
		{Device: "/dev/sda", Healthy: true, Status: "PASSED"},
		{Device: "/dev/sdb", Healthy: true, Status: "PASSED"},
	}))

	newer := ScanRecord{
		ID:        "scan-2",
		Host:      "root@storage1",
		StartedAt: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC),
		Total:     3,
		Healthy:   1,
		Unhealthy: 1,
		Failed:    1,
	}
	require.NoError(t, d.RecordScan(newer, []ResultRecord{
		{Device: "/dev/sdb", Healthy: false, Status: "FAILED"},
		{Device: "/dev/sda", Healthy: true, Status: "PASSED"},
		{Device: "/dev/sdc", Error: "cannot open device"},
	}))

	scans, err := d.ListScans(0)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, "scan-2", scans[0].ID)
	assert.Equal(t, "root@storage1", scans[0].Host)
	assert.Equal(t, 3, scans[0].Total)
	assert.Equal(t, "scan-1", scans[1].ID)

	scans, err = d.ListScans(1)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "scan-2", scans[0].ID)

	results, err := d.ScanResults("scan-2")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "/dev/sda", results[0].Device)
	assert.True(t, results[0].Healthy)
	assert.Equal(t, "/dev/sdb", results[1].Device)
	assert.Equal(t, "FAILED", results[1].Status)
	assert.Equal(t, "cannot open device", results[2].Error)
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "inventory.db")
	d, err := New(path)
	require.NoError(t, err)
	require.NoError(t, d.RecordScan(ScanRecord{
		ID:        "scan-1",
		StartedAt: time.Now().UTC(),
		Total:     1,
		Healthy:   1,
	}, []ResultRecord{{Device: "/dev/sda", Healthy: true, Status: "PASSED"}}))
	require.NoError(t, d.Close())

	// Reopening runs the migrations again without clobbering anything.
	d, err = New(path)
	require.NoError(t, err)
	defer d.Close()

	scans, err := d.ListScans(0)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "scan-1", scans[0].ID)
}
