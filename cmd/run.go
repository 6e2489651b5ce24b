package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"anomaly-watchdog/internal/monitoring/analyzer"
	"anomaly-watchdog/internal/monitoring/engine"
	"anomaly-watchdog/internal/monitoring/storage"
	"anomaly-watchdog/internal/web"
	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	runOnce    bool
	runWithWeb bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the DoS pattern detector for this host",
	Long: `Executa o detector de padrões a cada tick (detector.interval, padrão 2s).

Fonte de amostras (source):
  local       gopsutil no próprio host
  prometheus  node_exporter consultado via Prometheus (prometheus.endpoint/instance)

Exemplos:
  anomaly-watchdog run
  anomaly-watchdog run --web          # API somente leitura no mesmo processo
  anomaly-watchdog run --once --debug # um único tick`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if err := cfg.Validate(); err != nil {
			return err
		}

		detectorConfig, err := cfg.DetectorConfig()
		if err != nil {
			return fmt.Errorf("configuração inválida: %w", err)
		}

		clk := clock.NewClock()

		source, err := buildSource(cfg, clk)
		if err != nil {
			return err
		}

		dispatcher, err := buildDispatcher(cfg)
		if err != nil {
			return err
		}

		deps := engine.Deps{
			Source:   source,
			Detector: analyzer.NewDetector(detectorConfig),
			Store:    storage.NewStateStore(cfg.CheckpointPath(), clk),
			Notifier: dispatcher,
			Clock:    clk,
		}

		results := openResults(cfg)
		if results != nil {
			defer results.Close()
			deps.Results = results
		}

		tracker := openHistory(cfg, clk)
		if tracker != nil {
			deps.Recorder = tracker
		}

		eng, err := engine.New(cfg.EngineConfig(), deps)
		if err != nil {
			return fmt.Errorf("failed to create engine: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runOnce {
			result, err := eng.Tick(ctx)
			if err != nil {
				return fmt.Errorf("tick failed: %w", err)
			}
			fmt.Printf("entity=%s skipped=%t anomalous=%t action=%s phase=%s\n",
				source.Entity(), result.Skipped, result.Verdict.Anomalous, result.Action, result.Phase)
			return nil
		}

		if runWithWeb {
			webDeps := web.Deps{Engine: eng, Clock: clk}
			if results != nil {
				webDeps.Results = results
			}
			if tracker != nil {
				webDeps.Alerts = tracker
			}
			serveInBackground(ctx, webServer(cfg, source.Entity(), webDeps))
		}

		if err := eng.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		log.Info().Msg("Shutdown signal received")
		eng.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single tick and exit")
	runCmd.Flags().BoolVar(&runWithWeb, "web", false, "Serve the read-only API in the same process")
}
