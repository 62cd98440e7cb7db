package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"buzzhive/internal/models"
)

// SQLiteDB archives telemetry locally when no cloud endpoint is configured.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (creating if needed) the database at dataSourceName.
func NewSQLiteDB(dataSourceName string) (*SQLiteDB, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %w", err)
	}
	if _, err := db.Exec(SQLiteTelemetryTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

// SaveTelemetry inserts one telemetry record.
func (s *SQLiteDB) SaveTelemetry(ctx context.Context, t *models.Telemetry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hive_telemetry (timestamp, hive_id, queen_status, queen_status_name,
			anomaly_score, temperature, humidity, battery_mv)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Timestamp, t.HiveID, t.QueenStatus, t.QueenStatusName,
		t.AnomalyScore, t.Temperature, t.Humidity, t.BatteryMv,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// RecentTelemetry returns up to limit records for hiveID, newest first.
func (s *SQLiteDB) RecentTelemetry(ctx context.Context, hiveID, limit int) ([]models.Telemetry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, hive_id, queen_status, queen_status_name, anomaly_score,
			temperature, humidity, battery_mv
		FROM hive_telemetry
		WHERE hive_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, hiveID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var out []models.Telemetry
	for rows.Next() {
		var t models.Telemetry
		if err := rows.Scan(&t.Timestamp, &t.HiveID, &t.QueenStatus, &t.QueenStatusName,
			&t.AnomalyScore, &t.Temperature, &t.Humidity, &t.BatteryMv); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Ping checks the database handle.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
