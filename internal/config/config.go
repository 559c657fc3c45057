package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Offline    OfflineConfig    `mapstructure:"offline"`
	AlarmReset AlarmResetConfig `mapstructure:"alarm_reset"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Thresholds ThresholdConfig  `mapstructure:"thresholds"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	Environment  string `mapstructure:"environment"`
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

// TelemetryConfig holds the external acquisition source configuration
type TelemetryConfig struct {
	URL        string `mapstructure:"url"`
	APIToken   string `mapstructure:"api_token"`
	Timeout    int    `mapstructure:"timeout"`
	RetryCount int    `mapstructure:"retry_count"`
}

// ClassifierConfig holds the expert diagnosis service configuration
type ClassifierConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	URL            string   `mapstructure:"url"`
	Timeout        int      `mapstructure:"timeout"`
	RetryCount     int      `mapstructure:"retry_count"`
	NegativeLabels []string `mapstructure:"negative_labels"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Brokers          string `mapstructure:"brokers"`
	ConsumerGroup    string `mapstructure:"consumer_group"`
	SecurityEnable   bool   `mapstructure:"security_enable"`
	SecurityUser     string `mapstructure:"security_user"`
	SecurityPass     string `mapstructure:"security_pass"`
	AlarmTopic       string `mapstructure:"alarm_topic"`
	PointStateTopic  string `mapstructure:"point_state_topic"`
	JobRequestsTopic string `mapstructure:"job_requests_topic"`
}

// JWTConfig holds ops API authentication configuration
type JWTConfig struct {
	Secret          string `mapstructure:"secret"`
	ExpirationHours int    `mapstructure:"expiration_hours"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// SyncConfig controls the sample synchronisation job
type SyncConfig struct {
	Interval     time.Duration   `mapstructure:"interval"`
	Workers      int             `mapstructure:"workers"`
	DefaultStart string          `mapstructure:"default_start"`
	Lookbacks    []time.Duration `mapstructure:"lookbacks"`
	PointTimeout time.Duration   `mapstructure:"point_timeout"`
}

// OfflineConfig controls the offline sweep job
type OfflineConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// AlarmResetConfig controls the alarm reset job
type AlarmResetConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// RegistryConfig controls the point registry sync job
type RegistryConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ThresholdConfig holds the defaults applied to points without their own thresholds.
// Magnitudes and the ratio are decimal strings so they never pass through float64.
type ThresholdConfig struct {
	Ignore                string `mapstructure:"ignore"`
	Mutation              string `mapstructure:"mutation"`
	Level1                string `mapstructure:"level1"`
	Level2                string `mapstructure:"level2"`
	Level3                string `mapstructure:"level3"`
	DischargeEventRatio   string `mapstructure:"discharge_event_ratio"`
	EventCountPeriodHours int    `mapstructure:"event_count_period_hours"`
	AlarmResetDelayHours  int    `mapstructure:"alarm_reset_delay_hours"`
	OfflineJudgmentHours  int    `mapstructure:"offline_judgment_hours"`
}

// LoadConfig loads the application configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	if configPath == "" {
		configPath = "./config"
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("PDMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and env vars still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default values for the configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 15)  // seconds
	v.SetDefault("server.write_timeout", 30) // seconds
	v.SetDefault("server.idle_timeout", 60)  // seconds
	v.SetDefault("server.environment", "development")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "pdmon")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")

	// Telemetry source defaults
	v.SetDefault("telemetry.url", "http://telemetry:8080")
	v.SetDefault("telemetry.timeout", 10) // seconds
	v.SetDefault("telemetry.retry_count", 2)

	// Classifier defaults
	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.url", "http://diagnosis:8000")
	v.SetDefault("classifier.timeout", 5) // seconds
	v.SetDefault("classifier.retry_count", 1)
	v.SetDefault("classifier.negative_labels", []string{"none", "normal"})

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "kafka:9092")
	v.SetDefault("kafka.consumer_group", "pdmon")
	v.SetDefault("kafka.security_enable", false)
	v.SetDefault("kafka.alarm_topic", "pd-alarm-events")
	v.SetDefault("kafka.point_state_topic", "pd-point-state")
	v.SetDefault("kafka.job_requests_topic", "pd-job-requests")

	// JWT defaults
	v.SetDefault("jwt.expiration_hours", 24)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	// Job defaults
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.default_start", "2020-01-01T00:00:00Z")
	v.SetDefault("sync.lookbacks", []string{"2160h"}) // last 3 months before entire history
	v.SetDefault("sync.point_timeout", "10m")
	v.SetDefault("offline.interval", "10m")
	v.SetDefault("alarm_reset.interval", "10m")
	v.SetDefault("registry.enabled", true)
	v.SetDefault("registry.interval", "1h")

	// Threshold defaults
	v.SetDefault("thresholds.ignore", "0")
	v.SetDefault("thresholds.mutation", "30")
	v.SetDefault("thresholds.level1", "20")
	v.SetDefault("thresholds.level2", "40")
	v.SetDefault("thresholds.level3", "60")
	v.SetDefault("thresholds.discharge_event_ratio", "0.25")
	v.SetDefault("thresholds.event_count_period_hours", 24)
	v.SetDefault("thresholds.alarm_reset_delay_hours", 24)
	v.SetDefault("thresholds.offline_judgment_hours", 24)
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.JWT.Secret == "" {
		if config.Server.Environment == "development" {
			config.JWT.Secret = "development-jwt-secret-key-change-in-production"
		} else {
			return fmt.Errorf("JWT secret is required in non-development environments")
		}
	}

	if config.Database.Password == "" {
		dbPassword := os.Getenv("PDMON_DATABASE_PASSWORD")
		if dbPassword == "" {
			if config.Server.Environment != "development" {
				return fmt.Errorf("database password is required in non-development environments")
			}
		} else {
			config.Database.Password = dbPassword
		}
	}

	if config.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", config.Sync.Workers)
	}

	if _, err := config.Sync.StartTime(); err != nil {
		return err
	}

	if _, err := config.Thresholds.Parse(); err != nil {
		return err
	}

	return nil
}

// StartTime parses the configured "entire history" start time
func (c *SyncConfig) StartTime() (time.Time, error) {
	start, err := time.Parse(time.RFC3339, c.DefaultStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid sync.default_start %q: %w", c.DefaultStart, err)
	}
	return start.UTC(), nil
}

// ThresholdDefaults is the parsed form of ThresholdConfig
type ThresholdDefaults struct {
	Ignore                decimal.Decimal
	Mutation              decimal.Decimal
	Level1                decimal.Decimal
	Level2                decimal.Decimal
	Level3                decimal.Decimal
	DischargeEventRatio   decimal.Decimal
	EventCountPeriodHours int
	AlarmResetDelayHours  int
	OfflineJudgmentHours  int
}

// Parse converts the configured threshold strings to decimals and checks their ordering
func (c *ThresholdConfig) Parse() (*ThresholdDefaults, error) {
	d := &ThresholdDefaults{
		EventCountPeriodHours: c.EventCountPeriodHours,
		AlarmResetDelayHours:  c.AlarmResetDelayHours,
		OfflineJudgmentHours:  c.OfflineJudgmentHours,
	}

	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"ignore", c.Ignore, &d.Ignore},
		{"mutation", c.Mutation, &d.Mutation},
		{"level1", c.Level1, &d.Level1},
		{"level2", c.Level2, &d.Level2},
		{"level3", c.Level3, &d.Level3},
		{"discharge_event_ratio", c.DischargeEventRatio, &d.DischargeEventRatio},
	}

	for _, f := range fields {
		parsed, err := decimal.NewFromString(f.value)
		if err != nil {
			return nil, fmt.Errorf("invalid thresholds.%s %q: %w", f.name, f.value, err)
		}
		*f.dst = parsed
	}

	if d.Level1.GreaterThan(d.Level2) || d.Level2.GreaterThan(d.Level3) {
		return nil, fmt.Errorf("thresholds.level1..level3 must be ascending")
	}
	if d.EventCountPeriodHours <= 0 {
		return nil, fmt.Errorf("thresholds.event_count_period_hours must be positive")
	}
	if d.OfflineJudgmentHours <= 0 {
		return nil, fmt.Errorf("thresholds.offline_judgment_hours must be positive")
	}
	if d.AlarmResetDelayHours < 0 {
		return nil, fmt.Errorf("thresholds.alarm_reset_delay_hours must not be negative")
	}

	return d, nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.TimeZone)
}

// IsProduction returns true if the environment is production
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment returns true if the environment is development
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}
