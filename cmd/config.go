package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"procodus.dev/sewer-monitor/pkg/logger"
)

// InitConfig initializes Viper configuration.
// Values come from flags, SEWER_* environment variables (optionally loaded
// from a .env file), config.yaml and finally the defaults below.
func InitConfig(cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/sewer-monitor/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("SEWER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("log.file.max_size_mb", 100)
	viper.SetDefault("log.file.max_backups", 5)
	viper.SetDefault("log.file.max_age_days", 28)

	viper.SetDefault("alerts.check_interval", 30*time.Second)
	viper.SetDefault("alerts.batch_size", 10)
	viper.SetDefault("alerts.suppression_window", time.Hour)
	viper.SetDefault("alerts.staleness_window", 2*time.Hour)
	viper.SetDefault("alerts.send_timeout", 5*time.Second)
	viper.SetDefault("alerts.offline_auto_resolve", false)
	viper.SetDefault("alerts.timezone", "UTC")
	viper.SetDefault("alerts.message_template", "")

	viper.SetDefault("whatsapp.enabled", false)
	viper.SetDefault("whatsapp.api_url", "")
	viper.SetDefault("whatsapp.token", "")
	viper.SetDefault("whatsapp.phone_number_id", "")
	viper.SetDefault("whatsapp.timeout", 10*time.Second)

	viper.SetDefault("server.allowed_origins", []string{})
	viper.SetDefault("server.db.max_idle_conns", 10)
	viper.SetDefault("server.db.max_open_conns", 25)
	viper.SetDefault("server.db.conn_max_lifetime", time.Hour)
}

// GetLogger creates a slog.Logger based on configuration. The returned
// function closes the rotated log file, if one is configured.
func GetLogger() (*slog.Logger, func()) {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.ParseLevel(viper.GetString("log.level"))
	cfg.Format = logger.ParseFormat(viper.GetString("log.format"))
	cfg.AddSource = viper.GetBool("log.add_source")

	if path := viper.GetString("log.file.path"); path != "" {
		cfg.File = &logger.FileConfig{
			Path:       path,
			MaxSizeMB:  viper.GetInt("log.file.max_size_mb"),
			MaxBackups: viper.GetInt("log.file.max_backups"),
			MaxAgeDays: viper.GetInt("log.file.max_age_days"),
			Compress:   viper.GetBool("log.file.compress"),
		}
	}

	return logger.NewWithCleanup(cfg)
}
