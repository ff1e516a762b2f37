package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the full runtime configuration for the server.
type Config struct {
	ServerHost string
	ServerPort string
	DBPath     string
	LogLevel   string
	Env        string

	// Backup group
	BackupEnabled             bool
	BackupIntervalHours       int
	BackupRetentionDays       int
	BackupPath                string
	BackupCompressThresholdMB int

	// Email
	EmailEncryptionKey string
	CheckSinceDays     int
	CheckLimit         int
	CheckIntervalMins  int

	// Feature flags
	ParseTracing            bool
	ParseTraceVerbose       bool
	EnableMobilePhotoUpload bool
	MobilePhotoMaxSizeMB    int
	PipelineV2Enabled       bool
}

// Address returns the host:port pair the server listens on.
func (c *Config) Address() string {
	return c.ServerHost + ":" + c.ServerPort
}

// validate checks configuration sanity
func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.BackupIntervalHours <= 0 {
		return fmt.Errorf("backup interval must be positive, got %d", c.BackupIntervalHours)
	}
	if c.BackupRetentionDays <= 0 {
		return fmt.Errorf("backup retention must be positive, got %d", c.BackupRetentionDays)
	}
	if c.MobilePhotoMaxSizeMB <= 0 {
		return fmt.Errorf("mobile photo max size must be positive, got %d", c.MobilePhotoMaxSizeMB)
	}
	return nil
}

// Load loads configuration using a fresh Viper instance.
func Load() (*Config, error) {
	return LoadWithViper(viper.New())
}

// LoadWithViper loads configuration using the provided Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	setupEnvBinding(v)

	if err := loadConfigFile(v); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	config := unmarshalConfig(v)
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// setDefaults sets default values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.path", "./database.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("env", "development")

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.interval_hours", 24)
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("backup.path", "./backups")
	v.SetDefault("backup.compress_threshold_mb", 5)

	v.SetDefault("email.check_since_days", 7)
	v.SetDefault("email.check_limit", 50)
	v.SetDefault("email.check_interval_mins", 15)

	v.SetDefault("features.parse_tracing", true)
	v.SetDefault("features.parse_trace_verbose", false)
	v.SetDefault("features.mobile_photo_upload", true)
	v.SetDefault("features.mobile_photo_max_size_mb", 20)
	v.SetDefault("features.pipeline_v2", false)
}

// setupEnvBinding binds the recognized environment surface
func setupEnvBinding(v *viper.Viper) {
	v.AutomaticEnv()

	envBindings := map[string][]string{
		"server.host":                       {"SERVER_HOST"},
		"server.port":                       {"SERVER_PORT", "PORT"},
		"database.path":                     {"DB_PATH", "DATABASE_PATH"},
		"logging.level":                     {"LOG_LEVEL"},
		"env":                               {"NODE_ENV", "APP_ENV"},
		"backup.enabled":                    {"DATABASE_BACKUP_ENABLED"},
		"backup.interval_hours":             {"DATABASE_BACKUP_INTERVAL_HOURS"},
		"backup.retention_days":             {"DATABASE_BACKUP_RETENTION_DAYS"},
		"backup.path":                       {"DATABASE_BACKUP_PATH"},
		"backup.compress_threshold_mb":      {"DATABASE_BACKUP_COMPRESS_THRESHOLD_MB"},
		"email.encryption_key":              {"EMAIL_ENCRYPTION_KEY"},
		"email.check_since_days":            {"EMAIL_CHECK_SINCE_DAYS"},
		"email.check_limit":                 {"EMAIL_CHECK_LIMIT"},
		"email.check_interval_mins":         {"EMAIL_CHECK_INTERVAL_MINS"},
		"features.parse_tracing":            {"PARSE_TRACING"},
		"features.parse_trace_verbose":      {"PARSE_TRACE_VERBOSE"},
		"features.mobile_photo_upload":      {"ENABLE_MOBILE_PHOTO_UPLOAD"},
		"features.mobile_photo_max_size_mb": {"MOBILE_PHOTO_MAX_SIZE_MB"},
		"features.pipeline_v2":              {"PIPELINE_V2_ENABLED"},
	}

	for configKey, envVars := range envBindings {
		args := append([]string{configKey}, envVars...)
		v.BindEnv(args...)
	}
}

// loadConfigFile loads an optional configuration file
func loadConfigFile(v *viper.Viper) error {
	if v.ConfigFileUsed() == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, only return error if it's not a "not found" error
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// unmarshalConfig maps Viper keys to the Config struct
func unmarshalConfig(v *viper.Viper) *Config {
	return &Config{
		ServerHost: v.GetString("server.host"),
		ServerPort: v.GetString("server.port"),
		DBPath:     v.GetString("database.path"),
		LogLevel:   v.GetString("logging.level"),
		Env:        v.GetString("env"),

		BackupEnabled:             v.GetBool("backup.enabled"),
		BackupIntervalHours:       v.GetInt("backup.interval_hours"),
		BackupRetentionDays:       v.GetInt("backup.retention_days"),
		BackupPath:                v.GetString("backup.path"),
		BackupCompressThresholdMB: v.GetInt("backup.compress_threshold_mb"),

		EmailEncryptionKey: v.GetString("email.encryption_key"),
		CheckSinceDays:     v.GetInt("email.check_since_days"),
		CheckLimit:         v.GetInt("email.check_limit"),
		CheckIntervalMins:  v.GetInt("email.check_interval_mins"),

		ParseTracing:            v.GetBool("features.parse_tracing"),
		ParseTraceVerbose:       v.GetBool("features.parse_trace_verbose"),
		EnableMobilePhotoUpload: v.GetBool("features.mobile_photo_upload"),
		MobilePhotoMaxSizeMB:    v.GetInt("features.mobile_photo_max_size_mb"),
		PipelineV2Enabled:       v.GetBool("features.pipeline_v2"),
	}
}

// LoadEnvFile loads KEY=VALUE pairs from a .env style file into the process
// environment. Missing files are not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" && os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	return nil
}
