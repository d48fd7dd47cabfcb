package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"eduff/ketch/conf"
	"eduff/ketch/podman"
	"eduff/ketch/systemd"
)

var (
	runBackend string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Materialize the configuration",
		Long: `Materialize the configuration: create volumes, networks and containers,
and start the services`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
)

func init() {
	runCmd.Flags().StringVar(&runBackend, "backend", "podman", "runtime backend: podman or systemd")
}

func run(cmd *cobra.Command) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	return materialize(cmd, config)
}

func materialize(cmd *cobra.Command, config conf.Config) error {
	switch runBackend {
	case "podman":
		return podman.Execute(cmd.Context(), config)
	case "systemd":
		return systemd.Create(config)
	default:
		return fmt.Errorf("%q is not a valid backend", runBackend)
	}
}
