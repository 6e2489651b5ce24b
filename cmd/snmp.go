package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"anomaly-watchdog/internal/monitoring/alerting"
	"anomaly-watchdog/internal/monitoring/collector"
	"anomaly-watchdog/internal/monitoring/engine"
	"anomaly-watchdog/internal/monitoring/scanner"
	"anomaly-watchdog/internal/tui"
	"anomaly-watchdog/internal/web"
	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	snmpOnce    bool
	snmpWithWeb bool
	snmpHosts   []string
	snmpSubnet  string
	snmpWorkers int
)

var snmpCmd = &cobra.Command{
	Use:   "snmp",
	Short: "Poll hosts over SNMP and alert per host and condition",
	Long: `Coleta os hosts via SNMP a cada snmp.interval (padrão 5m).

Alvos:
  snmp.hosts   lista fixa de IPs
  snmp.subnet  varredura da subnet quando não há lista fixa (padrão 172.20.10.0/24)

Cada coleta roda com prazo próprio num pool de snmp.max_workers (padrão 3).
MACs fora de Trust_Devices.txt disparam alerta; o arquivo é recarregado ao ser editado.

Exemplos:
  anomaly-watchdog snmp
  anomaly-watchdog snmp --hosts 10.0.0.5,10.0.0.6 --once
  anomaly-watchdog snmp --subnet 192.168.1.0/24 --workers 5 --web`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if len(snmpHosts) > 0 {
			cfg.SNMP.Hosts = snmpHosts
		}
		if snmpSubnet != "" {
			cfg.SNMP.Subnet = snmpSubnet
		}
		if snmpWorkers > 0 {
			cfg.SNMP.MaxWorkers = snmpWorkers
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		poll := cfg.PollConfig()
		if err := poll.Validate(); err != nil {
			return fmt.Errorf("configuração inválida: %w", err)
		}
		fmt.Print(poll.Summary())

		clk := clock.NewClock()

		dispatcher, err := buildDispatcher(cfg)
		if err != nil {
			return err
		}

		alerts := alerting.NewManager(dispatcher, clk)
		tracker := openHistory(cfg, clk)
		if tracker != nil {
			alerts.OnDispatch(tracker.RecordDispatch)
		}

		trusted, err := scanner.LoadTrustedDevices(poll.TrustedFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := trusted.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("Trusted devices hot reload disabled")
		}

		deps := engine.PollerDeps{
			Targets:   scanner.NewDiscoverer(poll, nil, alerts, clk),
			Collector: collector.NewHostCollector(poll.SNMP, clk),
			Rules:     engine.NewHostRuleSet(poll.Rules, alerts, trusted, poll.TrustedFile, clk),
			Clock:     clk,
		}

		results := openResults(cfg)
		if results != nil {
			defer results.Close()
			deps.Results = results
		}

		poller, err := engine.NewPoller(poll, deps)
		if err != nil {
			return fmt.Errorf("failed to create poller: %w", err)
		}

		if snmpOnce {
			result, err := poller.Cycle(ctx)
			if err != nil {
				return err
			}
			fmt.Print(tui.RenderHosts(result.Rows, 0))
			fmt.Printf("\n%d alvos, %d online, %d offline, %d falhas em %s\n",
				result.Targets, result.Online, result.Offline, result.Failed, result.Duration)
			return nil
		}

		if snmpWithWeb {
			webDeps := web.Deps{Cooldowns: alerts, Clock: clk}
			if results != nil {
				webDeps.Results = results
			}
			if tracker != nil {
				webDeps.Alerts = tracker
			}
			serveInBackground(ctx, webServer(cfg, cfg.Entity, webDeps))
		}

		if err := poller.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		log.Info().Msg("Shutdown signal received")
		poller.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snmpCmd)

	snmpCmd.Flags().BoolVar(&snmpOnce, "once", false, "Run a single polling cycle, print the hosts and exit")
	snmpCmd.Flags().BoolVar(&snmpWithWeb, "web", false, "Serve the read-only API in the same process")
	snmpCmd.Flags().StringSliceVar(&snmpHosts, "hosts", nil, "Explicit host list (overrides snmp.hosts)")
	snmpCmd.Flags().StringVar(&snmpSubnet, "subnet", "", "Subnet to scan when no hosts are given (overrides snmp.subnet)")
	snmpCmd.Flags().IntVar(&snmpWorkers, "workers", 0, "Worker pool width (overrides snmp.max_workers)")
}
