package cmd

import (
	"fmt"

	"github.com/kr/pretty"
	"github.com/spf13/cobra"
)

var (
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Check the configuration",
		Long: `Check the configuration, without actually applying it`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return check()
		},
	}
)

func init() {
}

func check() error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("%# v\n", pretty.Formatter(config))
	return nil
}
