package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"anomaly-watchdog/internal/history"
	"anomaly-watchdog/internal/monitoring/storage"
	"anomaly-watchdog/internal/tui"
	"code.cloudfoundry.org/clock"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	statusWatch    bool
	statusInterval time.Duration
	statusReset    bool
	statusYes      bool
	statusAlerts   int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint phase, latest host rows and recent alerts",
	Long: `Mostra o estado salvo pelo detector, a última coleta de cada host e os últimos alertas.

Exemplos:
  anomaly-watchdog status
  anomaly-watchdog status --watch --interval 5s
  anomaly-watchdog status --reset --yes   # apaga o checkpoint (volta para NORMAL)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		clk := clock.NewClock()
		store := storage.NewStateStore(cfg.CheckpointPath(), clk)

		if statusReset {
			if !statusYes {
				return fmt.Errorf("--reset apaga %s; confirme com --yes", store.Path())
			}
			if err := store.Reset(); err != nil {
				return err
			}
			fmt.Printf("✅ Checkpoint removido: %s\n", store.Path())
			return nil
		}

		results := openResults(cfg)
		if results != nil {
			defer results.Close()
		}
		tracker := openHistory(cfg, clk)

		load := func() tui.Snapshot {
			snap := tui.Snapshot{
				GeneratedAt:    clk.Now(),
				CheckpointPath: store.Path(),
			}

			state, err := store.Inspect()
			switch {
			case err == nil:
				snap.Checkpoint = &state
			case !errors.Is(err, fs.ErrNotExist):
				snap.CheckpointErr = err
			}

			if results != nil {
				if hosts, err := results.LatestHosts(); err == nil {
					snap.Hosts = hosts
				}
			}
			if tracker != nil {
				// Arquivos do histórico podem ter sido escritos por outro processo
				if fresh, err := history.NewTracker(cfg.DataDir, clk); err == nil {
					tracker = fresh
				}
				snap.Alerts = tracker.GetFiltered(history.Filter{Limit: statusAlerts})
			}
			return snap
		}

		if !statusWatch {
			width, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil {
				width = 0
			}
			fmt.Print(tui.RenderStatus(load(), width))
			return nil
		}

		p := tea.NewProgram(tui.NewWatchModel(load, statusInterval), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("failed to run status dashboard: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Refresh the status periodically")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "Refresh interval for --watch")
	statusCmd.Flags().BoolVar(&statusReset, "reset", false, "Delete the detector checkpoint")
	statusCmd.Flags().BoolVar(&statusYes, "yes", false, "Confirm --reset")
	statusCmd.Flags().IntVar(&statusAlerts, "alerts", 10, "Number of recent alerts to show")
}
