package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Sensor modes.
const (
	SensorModeForward  = "forward"
	SensorModeClassify = "classify"
)

// Radio transports.
const (
	RadioMQTT   = "mqtt"
	RadioSerial = "serial"
)

// Audio sources.
const (
	AudioTone    = "tone"
	AudioSilence = "silence"
	AudioFile    = "file"
)

// Uplink kinds.
const (
	UplinkHTTP       = "http"
	UplinkMQTT       = "mqtt"
	UplinkClickHouse = "clickhouse"
	UplinkInfluxDB   = "influxdb"
	UplinkSQLite     = "sqlite"
)

// Config is shared by the hive sensor and the base station. Each process reads
// the options it needs; the LoRa channel plan must match on both sides.
type Config struct {
	HiveID int

	// LoRa channel plan
	LoRaFrequency       int64 // Hz
	LoRaSpreadingFactor int
	LoRaBandwidth       int64 // Hz
	LoRaCodingRate      int

	// Radio transport
	RadioTransport       string
	RadioMQTTTopicPrefix string
	RadioSerialPort      string
	RadioSerialBaud      int
	RadioRxBuffer        int

	// MQTT Configuration
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// Audio capture
	AudioSampleRate  int
	AudioDurationSec int
	AudioSource      string
	AudioFile        string
	AudioRealtime    bool

	// Duty cycle
	WinterTempThreshold float64
	ActiveInterval      time.Duration
	WinterInterval      time.Duration
	AlertInterval       time.Duration // not wired to any trigger
	RecordingGrace      time.Duration
	RecordingCooldown   time.Duration
	SensorMode          string

	// Simulated environment peripherals
	SimTemperature float64
	SimHumidity    float64
	SimBatteryMv   int

	// Classification model
	ModelRulesPath  string
	ModelScalerPath string

	// Uplink
	UplinkKind      string
	APIEndpoint     string
	APIKey          string
	UplinkTimeout   time.Duration
	UplinkMQTTTopic string

	// ClickHouse Configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// InfluxDB Configuration
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	SQLitePath string

	ConnectivityCheckInterval time.Duration
	HealthAddr                string
	LogLevel                  string
}

// RecordingSamples is the length of one AudioFrame buffer.
func (c *Config) RecordingSamples() int {
	return c.AudioSampleRate * c.AudioDurationSec
}

// RecordingDuration is the nominal length of one recording.
func (c *Config) RecordingDuration() time.Duration {
	return time.Duration(c.AudioDurationSec) * time.Second
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return Loader{}.Load()
}

// Loader loads configuration from environment variables. Tests can override
// Lookup to inject deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load builds and validates a Config.
func (l Loader) Load() (*Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	e := &env{lookup: l.Lookup}

	cfg := &Config{
		HiveID: e.getEnvInt("HIVE_ID", 1),

		LoRaFrequency:       e.getEnvInt64("LORA_FREQUENCY", 915000000),
		LoRaSpreadingFactor: e.getEnvInt("LORA_SPREADING_FACTOR", 10),
		LoRaBandwidth:       e.getEnvInt64("LORA_BANDWIDTH", 125000),
		LoRaCodingRate:      e.getEnvInt("LORA_CODING_RATE", 5),

		RadioTransport:       e.getEnv("RADIO_TRANSPORT", RadioMQTT),
		RadioMQTTTopicPrefix: e.getEnv("RADIO_MQTT_TOPIC_PREFIX", "buzzhive/lora"),
		RadioSerialPort:      e.getEnv("RADIO_SERIAL_PORT", "/dev/ttyUSB0"),
		RadioSerialBaud:      e.getEnvInt("RADIO_SERIAL_BAUD", 115200),
		RadioRxBuffer:        e.getEnvInt("RADIO_RX_BUFFER", 16),

		MQTTBroker:   e.getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: e.getEnv("MQTT_CLIENT_ID", "buzzhive"),
		MQTTUsername: e.getEnv("MQTT_USERNAME", ""),
		MQTTPassword: e.getEnv("MQTT_PASSWORD", ""),

		AudioSampleRate:  e.getEnvInt("AUDIO_SAMPLE_RATE", 22050),
		AudioDurationSec: e.getEnvInt("AUDIO_DURATION_SEC", 10),
		AudioSource:      e.getEnv("AUDIO_SOURCE", AudioTone),
		AudioFile:        e.getEnv("AUDIO_FILE", ""),
		AudioRealtime:    e.getEnvBool("AUDIO_REALTIME", false),

		WinterTempThreshold: e.getEnvFloat("WINTER_TEMP_THRESHOLD", 15.0),
		ActiveInterval:      e.getEnvDuration("ACTIVE_INTERVAL", 15*time.Minute),
		WinterInterval:      e.getEnvDuration("WINTER_INTERVAL", 2*time.Hour),
		AlertInterval:       e.getEnvDuration("ALERT_INTERVAL", 5*time.Minute),
		RecordingGrace:      e.getEnvDuration("RECORDING_GRACE", 2*time.Second),
		RecordingCooldown:   e.getEnvDuration("RECORDING_COOLDOWN", time.Minute),
		SensorMode:          e.getEnv("SENSOR_MODE", SensorModeForward),

		SimTemperature: e.getEnvFloat("SIM_TEMPERATURE", 22.0),
		SimHumidity:    e.getEnvFloat("SIM_HUMIDITY", 55),
		SimBatteryMv:   e.getEnvInt("SIM_BATTERY_MV", 3700),

		ModelRulesPath:  e.getEnv("MODEL_RULES_PATH", ""),
		ModelScalerPath: e.getEnv("MODEL_SCALER_PATH", ""),

		UplinkKind:      e.getEnv("UPLINK_KIND", UplinkHTTP),
		APIEndpoint:     e.getEnv("API_ENDPOINT", "http://localhost:8080/api/hive-data"),
		APIKey:          e.getEnv("API_KEY", ""),
		UplinkTimeout:   e.getEnvDuration("UPLINK_TIMEOUT", 15*time.Second),
		UplinkMQTTTopic: e.getEnv("UPLINK_MQTT_TOPIC", "buzzhive/hives/{hive_id}/telemetry"),

		ClickHouseAddr: e.getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   e.getEnv("CLICKHOUSE_DB", "buzzhive"),
		ClickHouseUser: e.getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: e.getEnv("CLICKHOUSE_PASS", ""),

		InfluxURL:    e.getEnv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  e.getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    e.getEnv("INFLUX_ORG", "buzzhive"),
		InfluxBucket: e.getEnv("INFLUX_BUCKET", "hives"),

		SQLitePath: e.getEnv("SQLITE_PATH", "buzzhive.db"),

		ConnectivityCheckInterval: e.getEnvDuration("CONNECTIVITY_CHECK_INTERVAL", 30*time.Second),
		HealthAddr:                e.getEnv("HEALTH_ADDR", ""),
		LogLevel:                  e.getEnv("LOG_LEVEL", "info"),
	}

	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and the options required by the selected modes.
func (c *Config) Validate() error {
	switch {
	case c.HiveID < 1 || c.HiveID > 255:
		return fmt.Errorf("config: HIVE_ID must be 1..255, got %d", c.HiveID)
	case c.LoRaFrequency <= 0:
		return fmt.Errorf("config: LORA_FREQUENCY must be positive, got %d", c.LoRaFrequency)
	case c.LoRaSpreadingFactor < 7 || c.LoRaSpreadingFactor > 12:
		return fmt.Errorf("config: LORA_SPREADING_FACTOR must be 7..12, got %d", c.LoRaSpreadingFactor)
	case c.LoRaBandwidth <= 0:
		return fmt.Errorf("config: LORA_BANDWIDTH must be positive, got %d", c.LoRaBandwidth)
	case c.LoRaCodingRate < 5 || c.LoRaCodingRate > 8:
		return fmt.Errorf("config: LORA_CODING_RATE must be 5..8, got %d", c.LoRaCodingRate)
	case c.RadioRxBuffer <= 0:
		return fmt.Errorf("config: RADIO_RX_BUFFER must be positive, got %d", c.RadioRxBuffer)
	case c.AudioSampleRate <= 0:
		return fmt.Errorf("config: AUDIO_SAMPLE_RATE must be positive, got %d", c.AudioSampleRate)
	case c.AudioDurationSec <= 0:
		return fmt.Errorf("config: AUDIO_DURATION_SEC must be positive, got %d", c.AudioDurationSec)
	case c.ActiveInterval <= 0 || c.WinterInterval <= 0 || c.AlertInterval <= 0:
		return fmt.Errorf("config: sleep intervals must be positive")
	case c.RecordingGrace < 0 || c.RecordingCooldown <= 0:
		return fmt.Errorf("config: invalid recording grace %s or cooldown %s", c.RecordingGrace, c.RecordingCooldown)
	case c.UplinkTimeout <= 0:
		return fmt.Errorf("config: UPLINK_TIMEOUT must be positive, got %s", c.UplinkTimeout)
	case c.ConnectivityCheckInterval <= 0:
		return fmt.Errorf("config: CONNECTIVITY_CHECK_INTERVAL must be positive, got %s", c.ConnectivityCheckInterval)
	}

	if err := oneOf("RADIO_TRANSPORT", c.RadioTransport, RadioMQTT, RadioSerial); err != nil {
		return err
	}
	if err := oneOf("SENSOR_MODE", c.SensorMode, SensorModeForward, SensorModeClassify); err != nil {
		return err
	}
	if err := oneOf("AUDIO_SOURCE", c.AudioSource, AudioTone, AudioSilence, AudioFile); err != nil {
		return err
	}
	if err := oneOf("UPLINK_KIND", c.UplinkKind, UplinkHTTP, UplinkMQTT, UplinkClickHouse, UplinkInfluxDB, UplinkSQLite); err != nil {
		return err
	}

	if c.AudioSource == AudioFile && c.AudioFile == "" {
		return fmt.Errorf("config: AUDIO_FILE is required when AUDIO_SOURCE=%s", AudioFile)
	}
	if c.RadioTransport == RadioSerial && c.RadioSerialPort == "" {
		return fmt.Errorf("config: RADIO_SERIAL_PORT is required when RADIO_TRANSPORT=%s", RadioSerial)
	}
	if c.UplinkKind == UplinkHTTP && c.APIEndpoint == "" {
		return fmt.Errorf("config: API_ENDPOINT is required when UPLINK_KIND=%s", UplinkHTTP)
	}
	if c.UplinkKind == UplinkInfluxDB && c.InfluxToken == "" {
		return fmt.Errorf("config: INFLUX_TOKEN is required when UPLINK_KIND=%s", UplinkInfluxDB)
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("config: %s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}

// env reads typed values and keeps the first parse error.
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) getEnv(key, defaultValue string) string {
	value, ok := e.lookup(key)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return defaultValue
	}
	return value
}

func (e *env) parse(key string, parse func(string) error) {
	value, ok := e.lookup(key)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return
	}
	if err := parse(value); err != nil && e.err == nil {
		e.err = fmt.Errorf("config: invalid value for %s: %w", key, err)
	}
}

func (e *env) getEnvInt(key string, defaultValue int) int {
	result := defaultValue
	e.parse(key, func(s string) error {
		v, err := strconv.Atoi(s)
		if err == nil {
			result = v
		}
		return err
	})
	return result
}

func (e *env) getEnvInt64(key string, defaultValue int64) int64 {
	result := defaultValue
	e.parse(key, func(s string) error {
		v, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			result = v
		}
		return err
	})
	return result
}

func (e *env) getEnvFloat(key string, defaultValue float64) float64 {
	result := defaultValue
	e.parse(key, func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err == nil {
			result = v
		}
		return err
	})
	return result
}

func (e *env) getEnvBool(key string, defaultValue bool) bool {
	result := defaultValue
	e.parse(key, func(s string) error {
		v, err := strconv.ParseBool(s)
		if err == nil {
			result = v
		}
		return err
	})
	return result
}

func (e *env) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	result := defaultValue
	e.parse(key, func(s string) error {
		v, err := time.ParseDuration(s)
		if err == nil {
			result = v
		}
		return err
	})
	return result
}
