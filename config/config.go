package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/pkg/readout"
)

// Config represents the application configuration
type Config struct {
	BLE           BLEConfig           `yaml:"ble"`
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	Stats         StatsConfig         `yaml:"stats"`
	Health        HealthConfig        `yaml:"health"`
	Logging       LoggingConfig       `yaml:"logging"`
	OpenTelemetry OpenTelemetryConfig `yaml:"openTelemetry"`
	Profiling     ProfilingConfig     `yaml:"profiling"`
}

// BLEConfig contains the Victron devices to listen for
type BLEConfig struct {
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes a single Victron device and its Instant Readout key
type DeviceConfig struct {
	Name          string `yaml:"name"`
	ID            int    `yaml:"id"`
	MACAddress    string `yaml:"macAddress"`
	EncryptionKey string `yaml:"encryptionKey"`
}

// PrometheusConfig contains Prometheus remote_write configuration
type PrometheusConfig struct {
	PushIntervalSeconds int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"15"`
	URL                 string `yaml:"prometheusUrl" env:"PROMETHEUS_URL" env-required:"true"`
	Username            string `yaml:"prometheusUsername" env:"PROMETHEUS_USERNAME" env-required:"true"`
	Password            string `yaml:"prometheusPassword" env:"PROMETHEUS_PASSWORD"`
	StartAtEvenSecond   bool   `yaml:"startAtEvenSecond" env:"START_AT_EVEN_SECOND" env-default:"true"`
	BufferSize          int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"1000"`
	BatchSize           int    `yaml:"batchSize" env:"BATCH_SIZE" env-default:"500"`
}

// StatsConfig controls the periodic decode statistics report
type StatsConfig struct {
	ReportInterval time.Duration `yaml:"reportInterval" env:"STATS_REPORT_INTERVAL" env-default:"1m"`
}

// HealthConfig controls the HTTP health endpoint. Port 0 disables it.
type HealthConfig struct {
	Port int `yaml:"port" env:"HEALTH_CHECK_PORT" env-default:"8080"`
}

var macAddressRegex = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// Load loads configuration from a YAML file with environment variable overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.BLE.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}

	seenIDs := make(map[int]bool)
	seenMACs := make(map[string]bool)

	for i, device := range c.BLE.Devices {
		if device.Name == "" {
			return fmt.Errorf("device %d: name is required", i)
		}

		if device.ID < 1 {
			return fmt.Errorf("device %s: ID must be >= 1, got %d", device.Name, device.ID)
		}
		if seenIDs[device.ID] {
			return fmt.Errorf("device %s: duplicate ID %d", device.Name, device.ID)
		}
		seenIDs[device.ID] = true

		if !macAddressRegex.MatchString(device.MACAddress) {
			return fmt.Errorf("device %s: invalid MAC address format: %s (expected format: XX:XX:XX:XX:XX:XX)", device.Name, device.MACAddress)
		}
		macUpper := strings.ToUpper(device.MACAddress)
		if seenMACs[macUpper] {
			return fmt.Errorf("device %s: duplicate MAC address %s", device.Name, device.MACAddress)
		}
		seenMACs[macUpper] = true

		if _, err := readout.ParseKey(device.EncryptionKey); err != nil {
			return fmt.Errorf("device %s: %w", device.Name, err)
		}
	}

	if c.Prometheus.URL == "" {
		return fmt.Errorf("prometheus URL is required")
	}
	if c.Prometheus.Username == "" {
		return fmt.Errorf("prometheus username is required")
	}
	if c.Prometheus.PushIntervalSeconds < 1 {
		return fmt.Errorf("push interval must be at least 1 second")
	}
	if c.Prometheus.BufferSize < 1 {
		return fmt.Errorf("buffer size must be at least 1")
	}
	if c.Prometheus.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}

	if c.Stats.ReportInterval < time.Second {
		return fmt.Errorf("stats report interval must be at least 1s, got %s", c.Stats.ReportInterval)
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("healthCheckPort must be between 0 and 65535, got %d", c.Health.Port)
	}

	if err := ValidateLogging(&c.Logging); err != nil {
		return err
	}
	if err := ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return err
	}
	if err := ValidateProfiling(&c.Profiling); err != nil {
		return err
	}

	return nil
}

// DeviceKeys returns the decoded encryption key of every device keyed by
// upper-case MAC address. Validate must have succeeded.
func (c *Config) DeviceKeys() map[string][]byte {
	keys := make(map[string][]byte, len(c.BLE.Devices))
	for _, device := range c.BLE.Devices {
		key, err := readout.ParseKey(device.EncryptionKey)
		if err != nil {
			continue
		}
		keys[strings.ToUpper(device.MACAddress)] = key
	}
	return keys
}

// NewLogger builds the zap logger described by the logging section
func (c *Config) NewLogger() (*zap.Logger, error) {
	return NewLogger(&c.Logging)
}

// PrintConfig prints the configuration (masking sensitive fields)
func (c *Config) PrintConfig(logger *zap.Logger) {
	deviceInfo := make([]string, len(c.BLE.Devices))
	for i, device := range c.BLE.Devices {
		deviceInfo[i] = fmt.Sprintf("%s (ID:%d, MAC:%s)", device.Name, device.ID, device.MACAddress)
	}

	logger.Info("configuration loaded",
		zap.Int("device_count", len(c.BLE.Devices)),
		zap.Strings("devices", deviceInfo),
		zap.Int("push_interval_seconds", c.Prometheus.PushIntervalSeconds),
		zap.String("prometheus_url", c.Prometheus.URL),
		zap.String("prometheus_username", c.Prometheus.Username),
		zap.Bool("prometheus_password_set", c.Prometheus.Password != ""),
		zap.Bool("start_at_even_second", c.Prometheus.StartAtEvenSecond),
		zap.Int("buffer_size", c.Prometheus.BufferSize),
		zap.Int("batch_size", c.Prometheus.BatchSize),
		zap.Duration("stats_report_interval", c.Stats.ReportInterval),
		zap.Int("health_check_port", c.Health.Port),
		zap.String("log_format", c.Logging.Format),
		zap.String("log_level", c.Logging.Level),
		zap.Bool("otel_enabled", c.OpenTelemetry.Enabled),
		zap.Bool("profiling_enabled", c.Profiling.Enabled),
	)
}
