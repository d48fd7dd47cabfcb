package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"eduff/ketch/common"
	"eduff/ketch/image"
)

var (
	fetchCmd = &cobra.Command{
		Use:   "fetch <image> <tag>",
		Short: "Fetch an image",
		Long: `Fetch an image from its registry and unpack it under the
configuration directory`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetch(args[0], args[1])
		},
	}
)

func init() {
}

func fetch(imageName string, tag string) error {
	if err := os.Chdir(confDir); err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	common.SetPaths(cwd)

	bundlePath := filepath.Join(common.ImagePath, imageName)
	if _, err := os.Stat(bundlePath); os.IsNotExist(err) {
		return image.Fetch(imageName, tag, bundlePath)
	}
	return nil
}
