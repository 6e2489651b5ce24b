package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configValidate bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := appConfig.YAML()
		if err != nil {
			return err
		}
		fmt.Print(string(out))

		if configValidate {
			if err := appConfig.Validate(); err != nil {
				return err
			}
			fmt.Println("\n✅ Configuração válida")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().BoolVar(&configValidate, "validate", false, "Also validate the configuration")
}
