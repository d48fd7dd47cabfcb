package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"eduff/ketch/podman"
	"eduff/ketch/systemd"
)

var (
	downBackend string

	downCmd = &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the configuration's containers",
		Long: `Stop and remove the configuration's containers and networks,
keeping the named volumes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return down(cmd)
		},
	}
)

func init() {
	downCmd.Flags().StringVar(&downBackend, "backend", "podman", "runtime backend: podman or systemd")
}

func down(cmd *cobra.Command) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	switch downBackend {
	case "podman":
		return podman.Down(cmd.Context(), config)
	case "systemd":
		return systemd.Down(config)
	default:
		return fmt.Errorf("%q is not a valid backend", downBackend)
	}
}
