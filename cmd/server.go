package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/sewer-monitor/internal/backend"
	"procodus.dev/sewer-monitor/internal/gateway"
	"procodus.dev/sewer-monitor/internal/store"
	"procodus.dev/sewer-monitor/pkg/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the monitoring server",
	Long: `Run the monitoring server that:
- Consumes sensor readings and provisioning messages from RabbitMQ
- Classifies readings and raises deduplicated alerts
- Detects offline sensors and dispatches WhatsApp notifications
- Serves the HTTP API, the dashboard websocket and gRPC health`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	f := serverCmd.Flags()
	f.String("store", backend.StorePostgres, "persistence backend (postgres, memory)")
	f.String("db-host", "localhost", "PostgreSQL host")
	f.Int("db-port", 5432, "PostgreSQL port")
	f.String("db-user", "postgres", "PostgreSQL user")
	f.String("db-password", "", "PostgreSQL password")
	f.String("db-name", "sewer_monitor", "PostgreSQL database name")
	f.String("db-sslmode", "disable", "PostgreSQL SSL mode")
	f.String("rabbitmq-url", "", "RabbitMQ URL (empty disables the queue consumers)")
	f.String("queue-name", "sensor-readings", "RabbitMQ queue name for sensor readings")
	f.String("provisioning-queue-name", "sensor-provisioning", "RabbitMQ queue name for sensor provisioning")
	f.Int("http-port", 3001, "HTTP server port")
	f.Int("grpc-port", 9090, "gRPC server port")
	f.Duration("check-interval", 30*time.Second, "interval between dispatch and offline sweeps")
	f.Bool("offline-auto-resolve", false, "resolve offline alerts when a sensor reports again")

	for key, flag := range map[string]string{
		"server.store":                            "store",
		"server.db.host":                          "db-host",
		"server.db.port":                          "db-port",
		"server.db.user":                          "db-user",
		"server.db.password":                      "db-password",
		"server.db.name":                          "db-name",
		"server.db.sslmode":                       "db-sslmode",
		"server.rabbitmq.url":                     "rabbitmq-url",
		"server.rabbitmq.queue_name":              "queue-name",
		"server.rabbitmq.provisioning_queue_name": "provisioning-queue-name",
		"server.http.port":                        "http-port",
		"server.grpc.port":                        "grpc-port",
		"alerts.check_interval":                   "check-interval",
		"alerts.offline_auto_resolve":             "offline-auto-resolve",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func dbConfig() *store.DBConfig {
	return &store.DBConfig{
		Host:            viper.GetString("server.db.host"),
		Port:            viper.GetInt("server.db.port"),
		User:            viper.GetString("server.db.user"),
		Password:        viper.GetString("server.db.password"),
		DBName:          viper.GetString("server.db.name"),
		SSLMode:         viper.GetString("server.db.sslmode"),
		MaxIdleConns:    viper.GetInt("server.db.max_idle_conns"),
		MaxOpenConns:    viper.GetInt("server.db.max_open_conns"),
		ConnMaxLifetime: viper.GetDuration("server.db.conn_max_lifetime"),
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	logger, closeLog := GetLogger()
	defer closeLog()
	metrics.RegisterBuildInfo(metrics.Namespace, rootCmd.Version, "server")
	logger.Info("starting sewer monitor server")

	config := &backend.ServerConfig{
		Logger:            logger,
		Store:             viper.GetString("server.store"),
		DB:                dbConfig(),
		HTTPPort:          viper.GetInt("server.http.port"),
		GRPCPort:          viper.GetInt("server.grpc.port"),
		RabbitMQURL:       viper.GetString("server.rabbitmq.url"),
		ReadingQueue:      viper.GetString("server.rabbitmq.queue_name"),
		ProvisioningQueue: viper.GetString("server.rabbitmq.provisioning_queue_name"),
		Alerts: backend.AlertsConfig{
			CheckInterval:      viper.GetDuration("alerts.check_interval"),
			SuppressionWindow:  viper.GetDuration("alerts.suppression_window"),
			StalenessWindow:    viper.GetDuration("alerts.staleness_window"),
			SendTimeout:        viper.GetDuration("alerts.send_timeout"),
			BatchSize:          viper.GetInt("alerts.batch_size"),
			OfflineAutoResolve: viper.GetBool("alerts.offline_auto_resolve"),
			Timezone:           viper.GetString("alerts.timezone"),
			MessageTemplate:    viper.GetString("alerts.message_template"),
		},
		WhatsApp: gateway.Config{
			APIURL:        viper.GetString("whatsapp.api_url"),
			Token:         viper.GetString("whatsapp.token"),
			PhoneNumberID: viper.GetString("whatsapp.phone_number_id"),
			Enabled:       viper.GetBool("whatsapp.enabled"),
			Timeout:       viper.GetDuration("whatsapp.timeout"),
		},
		AllowedOrigins: viper.GetStringSlice("server.allowed_origins"),
		Metrics: backend.Metrics{
			API:      metrics.NewAPIMetrics(metrics.Namespace),
			Alerting: metrics.NewAlertingMetrics(metrics.Namespace),
			Realtime: metrics.NewRealtimeMetrics(metrics.Namespace),
			MQ:       metrics.NewMQMetrics(metrics.Namespace),
		},
	}

	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return err
	}

	logger.Info("server configuration",
		"store", config.Store,
		"db_host", config.DB.Host,
		"db_name", config.DB.DBName,
		"rabbitmq_enabled", config.RabbitMQURL != "",
		"reading_queue", config.ReadingQueue,
		"provisioning_queue", config.ProvisioningQueue,
		"http_port", config.HTTPPort,
		"grpc_port", config.GRPCPort,
		"check_interval", config.Alerts.CheckInterval,
		"whatsapp", config.WhatsApp.Status(),
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}
