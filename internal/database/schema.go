package database

// SQL schemas for the telemetry archive

const (
	// HiveTelemetryTableSQL creates the ClickHouse hive_telemetry table
	HiveTelemetryTableSQL = `
		CREATE TABLE IF NOT EXISTS hive_telemetry (
			timestamp DateTime,
			received_at DateTime64(3),
			hive_id UInt8,
			queen_status UInt8,
			queen_status_name LowCardinality(String),
			anomaly_score UInt8,
			temperature Float64,
			humidity UInt8,
			battery_mv UInt16
		) ENGINE = MergeTree()
		ORDER BY (hive_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// HiveStatusDailyViewSQL keeps per-day class counts for each hive
	HiveStatusDailyViewSQL = `
		CREATE MATERIALIZED VIEW IF NOT EXISTS hive_status_daily
		ENGINE = SummingMergeTree()
		ORDER BY (hive_id, day, queen_status)
		AS SELECT
			hive_id,
			toDate(timestamp) AS day,
			queen_status,
			count() AS recordings
		FROM hive_telemetry
		GROUP BY hive_id, day, queen_status
	`

	// SQLiteTelemetryTableSQL creates the local-only telemetry table
	SQLiteTelemetryTableSQL = `
	CREATE TABLE IF NOT EXISTS hive_telemetry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		hive_id INTEGER NOT NULL,
		queen_status INTEGER NOT NULL,
		queen_status_name TEXT NOT NULL,
		anomaly_score INTEGER NOT NULL DEFAULT 0,
		temperature REAL NOT NULL,
		humidity INTEGER NOT NULL,
		battery_mv INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hive_telemetry_hive_ts ON hive_telemetry(hive_id, timestamp);
	`
)

// AllTables returns the ClickHouse DDL in creation order
func AllTables() []string {
	return []string{
		HiveTelemetryTableSQL,
		HiveStatusDailyViewSQL,
	}
}
