package commands

import (
	"context"
	"fmt"
	"os"

	"cmgdl/internal/components/chrono"
	"cmgdl/internal/components/serviceutil"
	"cmgdl/internal/components/telemetry"
	"cmgdl/internal/db"
	"cmgdl/internal/scrapers/caimogu"
	"cmgdl/internal/service"

	"github.com/spf13/cobra"
)

var configPath *string

var rootCmd = &cobra.Command{
	Use:   "cmgdl",
	Short: "cmgdl downloads attachments from caimogu.cc posts.",
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "The config file, config.local.json5 next to it overrides it.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg     Config
	tel     telemetry.API
	clock   chrono.StandardImpl
	service *service.Service
	close   func()
}

// setup reads the config and wires everything commands share, fatal on any
// error.
func setup(ctx context.Context) app {
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	telemetry.InitSlog(cfg.Debug)
	tel := telemetry.SlogAPI{}

	otel, err := telemetry.Setup(ctx, "cmgdl", cfg.Telemetry)
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}

	clock, err := chrono.NewStandardImpl()
	if err != nil {
		serviceutil.Fatal("failed to load timezone", err)
	}

	opts, err := cfg.ClientOptions()
	if err != nil {
		serviceutil.Fatal("invalid config", err)
	}
	client, err := caimogu.NewClient(opts, tel)
	if err != nil {
		serviceutil.Fatal("failed to create caimogu client", err)
	}

	ledger, err := db.Open(cfg.Database)
	if err != nil {
		serviceutil.Fatal("failed to open ledger", err)
	}

	svc, err := service.New(
		client,
		service.WithLedger(ledger),
		service.WithClock(clock),
		service.WithTelemetryAPI(tel),
	)
	if err != nil {
		serviceutil.Fatal("failed to create service", err)
	}

	return app{
		cfg:     cfg,
		tel:     tel,
		clock:   clock,
		service: svc,
		close: func() {
			ledger.Close()
			err := otel.Shutdown(context.Background())
			if err != nil {
				tel.ReportWarning("telemetry.shutdown", err)
			}
		},
	}
}
