package cmd

import (
	"os"

	"eduff/ketch/common"
	"eduff/ketch/compose"
	"eduff/ketch/conf"
	"eduff/ketch/cue"
)

// loadConfig enters the configuration directory, loads the descriptor
// through the selected frontend and validates it.
func loadConfig() (conf.Config, error) {
	if err := os.Chdir(confDir); err != nil {
		return conf.Config{}, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return conf.Config{}, err
	}
	common.SetPaths(cwd)

	fileVars := map[string]string{}
	switch {
	case envFile != "":
		fileVars, err = conf.ParseEnvFile(envFile)
		if err != nil {
			return conf.Config{}, err
		}
	default:
		// A conventional .env next to the descriptor is picked up when
		// present.
		if _, err := os.Stat(".env"); err == nil {
			fileVars, err = conf.ParseEnvFile(".env")
			if err != nil {
				return conf.Config{}, err
			}
		}
	}
	lookup := conf.EnvLookup(fileVars)

	var config conf.Config
	switch resolveFormat() {
	case "compose":
		path, ok := compose.Find(".")
		if !ok {
			return conf.Config{}, compose.ReadError.New("no compose file in %s", cwd)
		}
		config, err = compose.Load(path, lookup)
	default:
		config, err = cue.GetConfig(".")
		if err == nil {
			err = conf.ResolveEnvFiles(&config, cwd)
		}
	}
	if err != nil {
		return conf.Config{}, err
	}

	if err := conf.Validate(config); err != nil {
		return conf.Config{}, err
	}
	return config, nil
}

func resolveFormat() string {
	if format != "auto" {
		return format
	}
	if _, ok := compose.Find("."); ok {
		return "compose"
	}
	return "cue"
}
