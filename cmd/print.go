package cmd

import (
	"fmt"
	"os"

	"cuelang.org/go/cue/errors"
	"github.com/joomcode/errorx"
	"github.com/spf13/cobra"

	"eduff/ketch/cue"
)

var (
	printCmd = &cobra.Command{
		Use:   "print <path>",
		Short: "Print part of the cue configuration",
		Long: `Print part of the cue configuration, by specifying a path`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return print(args[0])
		},
	}
)

func init() {
}

func print(path string) error {
	if err := os.Chdir(confDir); err != nil {
		return err
	}
	value, err := cue.GetValue(".")
	if errx, ok := err.(*errorx.Error); ok && cue.CueErrors.IsNamespaceOf(errx.Type()) {
		fmt.Printf("Error in configuration: [%s] %s \n", errx.Type().FullName(), errx.Message())
		fmt.Println(errors.Details(errx.Cause(), nil))
		os.Exit(1)
	}
	if err != nil {
		return err
	}
	return cue.Print(*value, path)
}
