package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"anomaly-watchdog/internal/updater"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Exibir versão da aplicação",
	Long:  `Exibe a versão atual do anomaly-watchdog e verifica se há updates disponíveis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("anomaly-watchdog versão %s\n\n", updater.Version)

		// Se versão é "dev", não verificar updates
		if updater.Version == "dev" {
			fmt.Println("ℹ️  Versão de desenvolvimento - verificação de updates desabilitada")
			return nil
		}

		fmt.Println("🔍 Verificando updates...")
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		checker := updater.NewChecker(appConfig.DataDir)
		info, err := checker.CheckForUpdates(ctx)
		if err != nil {
			// Erro ao verificar - não falhar, apenas informar
			fmt.Printf("⚠️  Não foi possível verificar updates: %v\n", err)
			return nil
		}
		_ = checker.MarkUpdateChecked()

		if !info.Available {
			fmt.Println("✅ Você está usando a versão mais recente!")
			return nil
		}

		fmt.Printf("🆕 Nova versão disponível: %s → %s\n", info.CurrentVersion, info.LatestVersion)
		fmt.Printf("📦 Download: %s\n", info.ReleaseURL)

		// Release notes (primeiras 5 linhas)
		if info.ReleaseNotes != "" {
			lines := strings.Split(info.ReleaseNotes, "\n")
			maxLines := min(5, len(lines))

			fmt.Printf("\n📝 Release Notes (preview):\n")
			for _, line := range lines[:maxLines] {
				fmt.Printf("   %s\n", line)
			}
			if len(lines) > maxLines {
				fmt.Printf("   ... (ver mais em %s)\n", info.ReleaseURL)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
