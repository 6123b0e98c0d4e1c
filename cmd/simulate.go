package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/sewer-monitor/internal/simulator"
	"procodus.dev/sewer-monitor/pkg/generator"
	"procodus.dev/sewer-monitor/pkg/metrics"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the sensor simulator",
	Long: `Run the sensor simulator that:
- Announces synthetic sewer sensors on the provisioning queue
- Publishes water level and gas readings on the reading queue
- Can push the fleet into a storm or gas leak scenario`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	f := simulateCmd.Flags()
	f.String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	f.String("queue-name", "sensor-readings", "RabbitMQ queue name for sensor readings")
	f.String("provisioning-queue-name", "sensor-provisioning", "RabbitMQ queue name for sensor provisioning")
	f.Int("producer-count", 2, "Number of concurrent producers")
	f.Int("sensors", 5, "Number of sensors per producer")
	f.Duration("interval", 10*time.Second, "Interval between two readings of a sensor")
	f.String("scenario", string(generator.ScenarioNormal), "reading scenario (normal, storm, gas_leak)")
	f.Uint64("seed", 0, "random seed for a reproducible fleet (0 is random)")
	f.Bool("unconfirmed", false, "publish readings without waiting for broker confirms")
	f.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")

	for key, flag := range map[string]string{
		"simulator.rabbitmq.url":                     "rabbitmq-url",
		"simulator.rabbitmq.queue_name":              "queue-name",
		"simulator.rabbitmq.provisioning_queue_name": "provisioning-queue-name",
		"simulator.producer_count":                   "producer-count",
		"simulator.sensors":                          "sensors",
		"simulator.interval":                         "interval",
		"simulator.scenario":                         "scenario",
		"simulator.seed":                             "seed",
		"simulator.unconfirmed":                      "unconfirmed",
		"simulator.metrics_port":                     "metrics-port",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func runSimulate(_ *cobra.Command, _ []string) error {
	logger, closeLog := GetLogger()
	defer closeLog()
	metrics.RegisterBuildInfo(metrics.Namespace, rootCmd.Version, "simulate")
	logger.Info("starting sensor simulator")

	scenario := generator.Scenario(viper.GetString("simulator.scenario"))
	switch scenario {
	case generator.ScenarioNormal, generator.ScenarioStorm, generator.ScenarioGasLeak:
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}

	config := &simulator.ServerConfig{
		Logger:             logger,
		RabbitMQURL:        viper.GetString("simulator.rabbitmq.url"),
		ReadingQueue:       viper.GetString("simulator.rabbitmq.queue_name"),
		ProvisioningQueue:  viper.GetString("simulator.rabbitmq.provisioning_queue_name"),
		Interval:           viper.GetDuration("simulator.interval"),
		ProducerCount:      viper.GetInt("simulator.producer_count"),
		SensorsPerProducer: viper.GetInt("simulator.sensors"),
		Scenario:           scenario,
		Seed:               viper.GetUint64("simulator.seed"),
		Unconfirmed:        viper.GetBool("simulator.unconfirmed"),
		Metrics:            metrics.NewSimulatorMetrics(metrics.Namespace),
		MQMetrics:          metrics.NewMQMetrics(metrics.Namespace),
	}

	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	if port := viper.GetInt("simulator.metrics_port"); port > 0 {
		metricsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "address", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}()
	}

	logger.Info("simulator configuration",
		"reading_queue", config.ReadingQueue,
		"provisioning_queue", config.ProvisioningQueue,
		"producer_count", config.ProducerCount,
		"sensors_per_producer", config.SensorsPerProducer,
		"scenario", config.Scenario,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}

	logger.Info("simulator stopped")
	return nil
}
