package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"anomaly-watchdog/internal/web"
	"code.cloudfoundry.org/clock"
	"github.com/spf13/cobra"
)

var (
	webPort    int
	foreground bool
)

// runInBackground executa o servidor web como processo destacado
func runInBackground() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not get current executable path: %w", err)
	}

	args := []string{"web", "--foreground", "--check-updates=false"}
	if webPort > 0 {
		args = append(args, "--port", fmt.Sprintf("%d", webPort))
	}
	if debug {
		args = append(args, "--debug")
	}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	if envFile != "" {
		args = append(args, "--env-file", envFile)
	}

	cmd := exec.Command(executable, args...)

	// Saída do processo em background (o log estruturado continua no lumberjack)
	if err := os.MkdirAll(appConfig.LogsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	logFile := filepath.Join(appConfig.LogsDir(), fmt.Sprintf("web-%d.out", time.Now().Unix()))
	outFile, err := os.Create(logFile)
	if err != nil {
		fmt.Printf("⚠️  Could not create output file: %v\n", err)
		fmt.Println("   Starting without it...")
	} else {
		cmd.Stdout = outFile
		cmd.Stderr = outFile
		defer outFile.Close()
	}

	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start background process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release background process: %w", err)
	}

	port := appConfig.Web.Port
	if webPort > 0 {
		port = webPort
	}
	fmt.Printf("✅ anomaly-watchdog web API started in background (PID: %d)\n", pid)
	fmt.Printf("🌐 API: http://localhost:%d/api/v1\n", port)
	if outFile != nil {
		fmt.Printf("📋 Output: %s\n", logFile)
	}

	fmt.Println("\n💡 To stop the server:")
	fmt.Printf("   kill %d\n", pid)

	return nil
}

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the read-only HTTP API",
	Long: `Inicia a API somente leitura sobre os arquivos do data dir
(checkpoint, results.db, histórico de alertas).

Por padrão o servidor roda em BACKGROUND. Use --foreground/-f para rodar no terminal atual.
Para ver o estado ao vivo do engine ou os cooldowns, use 'run --web' ou 'snmp --web'.

Autenticação:
  web.token (ou WATCHDOG_WEB_TOKEN). Sem token, um aleatório é gerado e registrado no log.
  Todas as rotas /api/v1 exigem o header:
    Authorization: Bearer <token>

Endpoints:
  GET    /health                     - Health check (sem auth)
  GET    /metrics                    - Métricas Prometheus (sem auth)
  GET    /api/v1/state               - Fase da histerese (engine ou checkpoint)
  GET    /api/v1/cooldowns           - Registros de cooldown ativos
  GET    /api/v1/alerts              - Histórico (?key=&severity=&status=&start_date=&end_date=&limit=)
  GET    /api/v1/alerts/stats        - Agregados do histórico
  GET    /api/v1/alerts/:id          - Um alerta
  GET    /api/v1/hosts               - Última linha de cada host
  GET    /api/v1/hosts/:ip           - Linhas de um host (?duration=1h)
  GET    /api/v1/samples             - Samples do detector (?entity=&duration=1h)
  GET    /api/v1/logs                - Buffer de logs (?tail=)
  DELETE /api/v1/logs                - Limpa o buffer e rotaciona o arquivo
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !foreground {
			return runInBackground()
		}

		cfg := appConfig
		if webPort > 0 {
			cfg.Web.Port = webPort
		}
		if err := cfg.ValidateWeb(); err != nil {
			return err
		}

		clk := clock.NewClock()
		deps := web.Deps{Clock: clk}

		results := openResults(cfg)
		if results != nil {
			defer results.Close()
			deps.Results = results
		}
		if tracker := openHistory(cfg, clk); tracker != nil {
			deps.Alerts = tracker
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return webServer(cfg, cfg.Entity, deps).Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(webCmd)

	webCmd.Flags().IntVar(&webPort, "port", 0, "Port for the API (overrides web.port)")
	webCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run server in foreground (default: background)")
}
