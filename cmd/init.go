package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const exampleConf = `$volume: "db-data": {}

$network: backend: {}

$service: database: {
	image:   "postgres:13"
	restart: "always"
	envFiles: [".env"]
	volumes: "/var/lib/postgresql/data": $volume."db-data"
	ports: [{host: 5432, service: 5432}]
	networks: [$network.backend]
}
`

const exampleEnv = `POSTGRES_USER=postgres
POSTGRES_PASSWORD=change-me
POSTGRES_DB=app
`

var (
	initCmd = &cobra.Command{
		Use:   "init [module]",
		Short: "Initialize a configuration directory",
		Long: `Initialize a configuration directory with a cue module and an
example descriptor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doInit(args)
		},
	}
)

func init() {
}

func doInit(args []string) error {
	module := ""
	if len(args) > 0 {
		if len(args) != 1 {
			return fmt.Errorf("too many arguments")
		}
		module = args[0]
		u, err := url.Parse("https://" + module)
		if err != nil {
			return fmt.Errorf("invalid module name: %v", module)
		}
		if h := u.Hostname(); !strings.Contains(h, ".") {
			return fmt.Errorf("invalid host name %s", h)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	mod := filepath.Join(cwd, "cue.mod")

	_, err = os.Stat(mod)
	if err == nil {
		return fmt.Errorf("cue.mod directory already exists")
	}

	err = os.Mkdir(mod, 0755)
	if err != nil && !os.IsExist(err) {
		return err
	}

	f, err := os.Create(filepath.Join(mod, "module.cue"))
	if err != nil {
		return err
	}
	defer f.Close()

	// Set module even if it is empty, making it easier for users to fill it in.
	_, err = fmt.Fprintf(f, "module: %q\n", module)
	if err != nil {
		return err
	}

	if err = os.Mkdir(filepath.Join(mod, "usr"), 0755); err != nil {
		return err
	}
	if err = os.Mkdir(filepath.Join(mod, "pkg"), 0755); err != nil {
		return err
	}

	if _, err := os.Stat("ketch.cue"); os.IsNotExist(err) {
		if err := os.WriteFile("ketch.cue", []byte(exampleConf), 0644); err != nil {
			return err
		}
	}
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		if err := os.WriteFile(".env", []byte(exampleEnv), 0600); err != nil {
			return err
		}
	}

	return nil
}
