package cmd

import (
	"github.com/spf13/cobra"
)

var (
	confDir string
	format  string
	envFile string

	rootCmd = &cobra.Command{
		Use:   "ketch",
		Short: "A declarative container service deployment tool",
		Long: `Ketch reads a declarative descriptor of services, volumes and networks,
checks its structure, and materializes it through podman or as systemd services`,
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&confDir, "conf", ".", "configuration root directory")
	rootCmd.PersistentFlags().StringVar(&format, "format", "auto", "descriptor format: auto, cue or compose")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file used for ${VAR} substitution (defaults to .env when present)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(printCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(initCmd)
}
