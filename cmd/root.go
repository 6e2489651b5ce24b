package cmd

import (
	"context"
	"fmt"
	"time"

	"anomaly-watchdog/internal/config"
	"anomaly-watchdog/internal/logs"
	"anomaly-watchdog/internal/updater"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	envFile      string
	debug        bool
	checkUpdates bool

	// appConfig configuração carregada no PersistentPreRunE
	appConfig  *config.Config
	logManager *logs.Manager
)

var rootCmd = &cobra.Command{
	Use:   "anomaly-watchdog",
	Short: "Host anomaly watchdog: DoS pattern detector and SNMP host monitor",
	Long: `anomaly-watchdog observa métricas de host e alerta quando padrões anômalos aparecem.

Detector (run):
- Amostra CPU, memória e conexões a cada tick (local via gopsutil ou node_exporter via Prometheus)
- Três regras sobre a janela de decisão (sustentada, simultânea, fim de semana)
- Histerese: um alerta por episódio e uma mensagem de recuperação
- Checkpoint atômico em ~/.anomaly-watchdog/checkpoint.json

Monitor SNMP (snmp):
- Hosts configurados ou descoberta da subnet
- Pool limitado de coletas (padrão 3)
- Alertas com cooldown por host e condição (CPU, RAM, disco, reboot, tráfego, MAC, offline)

Consulta:
- status (--watch), web (API somente leitura), config, version`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		if debug {
			cfg.Debug = true
		}
		appConfig = cfg

		manager, err := logs.Setup(logs.Config{
			Dir:     cfg.LogsDir(),
			Debug:   cfg.Debug,
			Console: true,
		})
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		logManager = manager

		// Verificar updates em background (não-bloqueante)
		if checkUpdates && cmd.Name() != "version" {
			checker := updater.NewChecker(cfg.DataDir)
			if checker.ShouldCheckForUpdates() {
				go checkForUpdatesAsync(checker)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logManager != nil {
			_ = logManager.Close()
		}
	},
}

// Execute executa o comando raiz
func Execute() error {
	return rootCmd.Execute()
}

// checkForUpdatesAsync verifica updates em background
func checkForUpdatesAsync(checker *updater.Checker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := checker.CheckForUpdates(ctx)
	if err != nil {
		// Ignorar erros silenciosamente (não atrapalhar o monitoramento)
		log.Debug().Err(err).Msg("Update check failed")
		return
	}

	// Marcar verificação feita
	_ = checker.MarkUpdateChecked()

	if info.Available {
		log.Info().
			Str("current", info.CurrentVersion).
			Str("latest", info.LatestVersion).
			Str("url", info.ReleaseURL).
			Msg("New version available, run 'anomaly-watchdog version' for details")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to config.yaml (default: ./config.yaml or ~/.anomaly-watchdog/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"Path to .env file (default: ./.env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&checkUpdates, "check-updates", true,
		"Check for updates on startup")
}
