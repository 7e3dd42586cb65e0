package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// RecordRun stores a detection run with its devices. UUID and CreatedAt
// are filled in when empty.
func (d *DB) RecordRun(run *Run) error {
	if run.UUID == "" {
		run.UUID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin run transaction")
	}

	result, err := tx.Exec(`
		INSERT INTO runs (run_uuid, cloud, hypervisor, strict, inventory_source, device_count, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.UUID, run.Cloud, run.Hypervisor, run.Strict, nullString(run.InventorySource),
		run.DeviceCount, nullString(run.Error), run.CreatedAt)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "failed to record run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "failed to get run id")
	}

	for _, dev := range run.Devices {
		_, err := tx.Exec(`
			INSERT INTO run_devices (run_id, position, original_path, final_path, outcome)
			VALUES (?, ?, ?, ?, ?)
		`, id, dev.Position, dev.OriginalPath, nullString(dev.FinalPath), dev.Outcome)
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to record device '%s'", dev.OriginalPath)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit run")
	}

	run.ID = id
	return nil
}

// GetRecentRuns returns the most recent runs without their devices
func (d *DB) GetRecentRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.conn.Query(`
		SELECT id, run_uuid, cloud, hypervisor, strict, inventory_source, device_count, error, created_at
		FROM runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetRun returns a run and its devices by UUID, or nil when unknown
func (d *DB) GetRun(runUUID string) (*Run, error) {
	row := d.conn.QueryRow(`
		SELECT id, run_uuid, cloud, hypervisor, strict, inventory_source, device_count, error, created_at
		FROM runs WHERE run_uuid = ?
	`, runUUID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := d.conn.Query(`
		SELECT position, original_path, final_path, outcome
		FROM run_devices WHERE run_id = ?
		ORDER BY position
	`, run.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query run devices")
	}
	defer rows.Close()

	for rows.Next() {
		var dev RunDevice
		var finalPath sql.NullString
		if err := rows.Scan(&dev.Position, &dev.OriginalPath, &finalPath, &dev.Outcome); err != nil {
			return nil, errors.Wrap(err, "failed to scan run device")
		}
		dev.FinalPath = finalPath.String
		run.Devices = append(run.Devices, &dev)
	}

	return run, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var inventorySource, runErr sql.NullString

	err := row.Scan(
		&run.ID, &run.UUID, &run.Cloud, &run.Hypervisor, &run.Strict,
		&inventorySource, &run.DeviceCount, &runErr, &run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan run")
	}

	run.InventorySource = inventorySource.String
	run.Error = runErr.String
	return &run, nil
}
