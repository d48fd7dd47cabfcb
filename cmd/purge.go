package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"eduff/ketch/podman"
	"eduff/ketch/systemd"
)

var (
	purgeBackend string
	purgeVolumes bool

	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Purge the configuration's containers and services",
		Long: `Purge the configuration's containers and services, optionally
removing the named volumes as well`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return purge(cmd)
		},
	}
)

func init() {
	purgeCmd.Flags().StringVar(&purgeBackend, "backend", "podman", "runtime backend: podman or systemd")
	purgeCmd.Flags().BoolVar(&purgeVolumes, "volumes", false, "also remove the named volumes")
}

func purge(cmd *cobra.Command) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	switch purgeBackend {
	case "podman":
		return podman.Purge(cmd.Context(), config, purgeVolumes)
	case "systemd":
		return systemd.Purge(purgeVolumes)
	default:
		return fmt.Errorf("%q is not a valid backend", purgeBackend)
	}
}
