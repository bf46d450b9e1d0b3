package db

import (
	"fmt"
	"time"
)

// ScanRecord is one recorded run of the disk health check
type ScanRecord struct {
	ID        string
	Host      string
	StartedAt time.Time
	Total     int
	Healthy   int
	Unhealthy int
	Failed    int
}

// ResultRecord is one device verdict within a scan
type ResultRecord struct {
	Device  string
	Healthy bool
	Status  string
	Error   string
}

// RecordScan stores a scan and its per-device results atomically
func (d *DB) RecordScan(scan ScanRecord, results []ResultRecord) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO health_scans (
			id, host, started_at,
			devices_total, devices_healthy, devices_unhealthy, devices_failed
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, scan.ID, scan.Host, scan.StartedAt, scan.Total, scan.Healthy, scan.Unhealthy, scan.Failed)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record scan: %w", err)
	}

	for _, result := range results {
		_, err = tx.Exec(`
			INSERT INTO health_results (scan_id, device, healthy, status, error)
			VALUES (?, ?, ?, ?, ?)
		`, scan.ID, result.Device, result.Healthy, result.Status, result.Error)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record result for %s: %w", result.Device, err)
		}
	}

	return tx.Commit()
}

// ListScans returns the most recent scans, newest first
func (d *DB) ListScans(limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.conn.Query(`
		SELECT id, host, started_at,
			devices_total, devices_healthy, devices_unhealthy, devices_failed
		FROM health_scans
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var scans []ScanRecord
	for rows.Next() {
		var scan ScanRecord
		err := rows.Scan(&scan.ID, &scan.Host, &scan.StartedAt,
			&scan.Total, &scan.Healthy, &scan.Unhealthy, &scan.Failed)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

// ScanResults returns the device verdicts of one scan, sorted by device
func (d *DB) ScanResults(scanID string) ([]ResultRecord, error) {
	rows, err := d.conn.Query(`
		SELECT device, healthy, status, error
		FROM health_results
		WHERE scan_id = ?
		ORDER BY device
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results of scan %s: %w", scanID, err)
	}
	defer rows.Close()

	var results []ResultRecord
	for rows.Next() {
		var result ResultRecord
		if err := rows.Scan(&result.Device, &result.Healthy, &result.Status, &result.Error); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
