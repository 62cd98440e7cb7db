package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"buzzhive/internal/models"
)

// ClickHouseConfig holds connection settings
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

type ClickHouseDB struct {
	conn   driver.Conn
	logger *slog.Logger
	now    func() time.Time
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, cfg ClickHouseConfig, logger *slog.Logger) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger = logger.With("component", "clickhouse")
	logger.Info("connected", "addr", cfg.Addr, "database", cfg.Database)

	db := &ClickHouseDB{conn: conn, logger: logger, now: time.Now}

	// Initialize schema
	if err := db.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.Info("schema initialized")
	return nil
}

// SaveTelemetry inserts one telemetry record
func (db *ClickHouseDB) SaveTelemetry(ctx context.Context, t *models.Telemetry) error {
	query := `
		INSERT INTO hive_telemetry (timestamp, received_at, hive_id, queen_status, queen_status_name,
			anomaly_score, temperature, humidity, battery_mv)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		t.Time(),
		db.now(),
		uint8(t.HiveID),
		uint8(t.QueenStatus),
		t.QueenStatusName,
		uint8(t.AnomalyScore),
		t.Temperature,
		uint8(t.Humidity),
		uint16(t.BatteryMv),
	)

	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}

	return nil
}

// Ping checks that the server is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	return db.conn.Close()
}
