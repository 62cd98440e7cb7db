package models

import "time"

// Telemetry is the uplink payload produced by the base station for every
// successfully decoded packet.
type Telemetry struct {
	HiveID          int     `json:"hive_id"`
	QueenStatus     int     `json:"queen_status"`
	QueenStatusName string  `json:"queen_status_name"`
	AnomalyScore    int     `json:"anomaly_score"` // no detector exists, always 0
	Temperature     float64 `json:"temperature"`   // Celsius
	Humidity        int     `json:"humidity"`      // Percentage 0-100
	BatteryMv       int     `json:"battery_mv"`
	Timestamp       int64   `json:"timestamp"` // Unix seconds
}

// Time returns Timestamp as a time.Time.
func (t *Telemetry) Time() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}
