package systemd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/coreos/go-systemd/v22/dbus"

	"eduff/ketch/common"
	"eduff/ketch/conf"
	"eduff/ketch/image"
)

func handleVolume(v conf.Volume) error {
	if v.External {
		return nil
	}
	p := filepath.Join(common.VolumePath, v.Name)
	err := os.MkdirAll(p, 0777)
	if err != nil {
		return CreateVolumeError.Wrap(err, "cannot create volume directory %s", p)
	}
	return nil
}

// handleImage makes sure the unpacked rootfs for a service matches its
// descriptor. The descriptor is recorded next to the bundle; when it
// is unchanged the image is left alone.
func handleImage(name string, s conf.Service) (bool, error) {
	from := s.Image
	files := map[string]conf.File{}
	extraEnv := s.Environment
	if s.Build != nil {
		from = s.Build.From
		files = s.Build.Files
		extraEnv = mergeEnv(s.Build.Env, s.Environment)
	}
	ref, ver := splitImageRef(from)

	p := filepath.Join(common.ImagePath, name)
	confP := filepath.Join(p, "conf.json")
	// If the file does not exist, oldConf will be nil.
	oldConf, _ := os.ReadFile(confP)

	newConf, err := json.Marshal(s)
	if err != nil {
		return false, CreateImageError.Wrap(err, "cannot marshal config for %s", name)
	}
	if bytes.Equal(oldConf, newConf) {
		return false, nil
	}

	err = os.RemoveAll(p)
	if err != nil {
		return false, RemoveImageError.Wrap(err, "cannot remove image %s", name)
	}

	err = image.Fetch(ref, ver, p)
	if err != nil {
		return false, CreateImageError.Wrap(err, "cannot fetch image %s for %s", from, name)
	}

	for path, file := range files {
		err = image.Extra(p, path, file.Content, fs.FileMode(file.Permissions))
		if err != nil {
			return false, CreateImageError.Wrap(err, "cannot add file %s to image %s", path, name)
		}
	}

	meta, err := image.ReadMetadata(p)
	if err != nil {
		return false, err
	}
	env := meta.Process.Env
	for k, v := range extraEnv {
		env = append(env, strings.Join([]string{k, v}, "="))
	}
	envS := strings.Join(env, "\n")

	err = os.WriteFile(filepath.Join(p, "environment"), []byte(envS), 0666)
	if err != nil {
		return false, CreateImageError.Wrap(err, "cannot add environment file to image %s", name)
	}

	err = os.WriteFile(confP, newConf, 0666)
	if err != nil {
		return false, CreateImageError.Wrap(err, "cannot record conf for image %s", name)
	}

	return true, nil
}

func mergeEnv(base map[string]string, over map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	return merged
}

func splitImageRef(ref string) (string, string) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) == 1 {
		return parts[0], "latest"
	}
	return parts[0], parts[1]
}

const unitTemplateStr = `
[Unit]
Description= Ketch service {{.Name}}
{{ range .After}}
After = {{.}}.service
{{end}}
{{ range .Requires}}
Requires = {{.}}.service
{{end}}

[Service]
Restart = {{.Restart}}
PrivateNetwork = true
PrivateTmp = true
PrivateDevices = true
PrivateIPC = true
ProtectHostname = true
ProtectProc = invisible
MountAPIVFS = true
BindReadOnlyPaths=/dev/log /run/systemd/journal/socket /run/systemd/journal/stdout

RootDirectory = {{.ImageDir}}/rootfs
{{ range $k, $v := .Binds}}
BindPaths = {{$k}}:{{$v}}
{{end}}
EnvironmentFile = {{.ImageDir}}/environment
ExecStart = {{.Cmd}}

[Install]
WantedBy=default.target
`

var unitTemplate *template.Template = template.Must(template.New("unit").Funcs(template.FuncMap{}).Parse(unitTemplateStr))

type UnitConf struct {
	Name     string
	ImageDir string
	Binds    map[string]string
	Cmd      string
	Restart  string
	After    []string
	Requires []string
}

// restartValue maps the descriptor restart policy onto systemd's
// Restart= setting. unless-stopped has no systemd equivalent and gets
// the nearest one.
func restartValue(p conf.RestartPolicy) string {
	switch p {
	case conf.RestartAlways, conf.RestartUnlessStopped:
		return "always"
	case conf.RestartOnFailure:
		return "on-failure"
	default:
		return "no"
	}
}

func renderUnit(c UnitConf) (string, error) {
	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, c)
	if err != nil {
		return "", CreateServiceError.Wrap(err, "cannot render unit for service %s", c.Name)
	}
	return buf.String(), nil
}

func unitConf(name string, s conf.Service) (UnitConf, error) {
	imageDir := filepath.Join(common.ImagePath, name)
	bindsMap := make(map[string]string)
	for _, v := range s.Volumes {
		var n string
		if v.Name[0] != '/' {
			n = filepath.Join(common.VolumePath, v.Name)
		} else {
			n = v.Name
		}
		bindsMap[n] = v.Dest
	}
	cmdVec := s.Command
	if len(s.Entrypoint) != 0 {
		cmdVec = append(append([]string{}, s.Entrypoint...), s.Command...)
	}
	if len(cmdVec) == 0 {
		meta, err := image.ReadMetadata(imageDir)
		if err != nil {
			return UnitConf{}, CreateServiceError.Wrap(err, "cannot get metadata for service %s", name)
		}
		cmdVec = meta.Process.Args
	}
	cmdStr := ""
	for _, c := range cmdVec {
		cmdStr += fmt.Sprintf("%q ", c)
	}
	return UnitConf{
		Name:     name,
		ImageDir: imageDir,
		Binds:    bindsMap,
		Cmd:      cmdStr,
		Restart:  restartValue(s.Restart),
		After:    s.DependsOn,
		Requires: s.DependsOn,
	}, nil
}

func handleService(systemd *dbus.Conn, name string, s conf.Service) (bool, error) {
	c, err := unitConf(name, s)
	if err != nil {
		return false, err
	}
	unitStr, err := renderUnit(c)
	if err != nil {
		return false, err
	}

	unitP := filepath.Join(common.UnitPath, name+".service")

	// If the file is not there, oldUnit will be nil.
	oldUnit, _ := os.ReadFile(unitP)
	if unitStr == string(oldUnit) {
		return false, nil
	}

	if len(oldUnit) != 0 {
		err = stopDisableDeleteUnit(systemd, name+".service")
		if err != nil {
			return false, err
		}
	}

	err = os.WriteFile(unitP, []byte(unitStr), 0644)
	if err != nil {
		return false, CreateServiceError.Wrap(err, "cannot write unit file for service %s", name)
	}

	_, _, err = systemd.EnableUnitFilesContext(context.Background(), []string{unitP}, false, true)
	if err != nil {
		return false, RuntimeServiceError.Wrap(err, "cannot enable unit for service %s", name)
	}
	return true, nil
}

// The dbus list call can come back empty for a unit systemd has never
// seen; treat that as inactive and not loaded.
func unitActive(statuses []dbus.UnitStatus) bool {
	return len(statuses) != 0 && statuses[0].ActiveState == "active"
}

func unitLoaded(statuses []dbus.UnitStatus) bool {
	return len(statuses) != 0 && statuses[0].LoadState != "not-found"
}

func stopDisableDeleteUnit(systemd *dbus.Conn, name string) error {
	statuses, err := systemd.ListUnitsByNamesContext(context.Background(), []string{name})
	if err != nil {
		return RuntimeServiceError.Wrap(err, "cannot list unit %s", name)
	}
	if unitActive(statuses) {
		wait := make(chan string)
		_, err := systemd.StopUnitContext(context.Background(), name, "replace", wait)
		if err != nil {
			return RuntimeServiceError.Wrap(err, "cannot stop unit %s", name)
		}
		fmt.Printf("stopping %s...\n", name)
		res := <-wait
		if res != "done" {
			return RuntimeServiceError.New("cannot stop unit %s", name)
		}
		fmt.Printf("done\n")
	}
	if unitLoaded(statuses) {
		_, err = systemd.DisableUnitFilesContext(context.Background(), []string{name}, false)
		if err != nil {
			return RuntimeServiceError.Wrap(err, "cannot disable unit %s", name)
		}
	}
	err = os.RemoveAll(filepath.Join(common.UnitPath, name))
	if err != nil {
		return RemoveUnitError.Wrap(err, "cannot remove unit %s", name)
	}
	return nil
}

// Create renders and starts one unit per service, after making sure
// the volume directories and unpacked images are in place. Units for
// services that left the descriptor are stopped and removed.
func Create(config conf.Config) error {
	err := os.MkdirAll(common.VolumePath, 0700)
	if err != nil {
		return FilesystemError.Wrap(err, "cannot create volumes directory")
	}
	err = os.MkdirAll(common.ImagePath, 0700)
	if err != nil {
		return FilesystemError.Wrap(err, "cannot create images directory")
	}
	err = os.MkdirAll(common.UnitPath, 0700)
	if err != nil {
		return FilesystemError.Wrap(err, "cannot create units directory")
	}

	reload := false

	for _, v := range config.Volumes {
		err := handleVolume(v)
		if err != nil {
			return err
		}
	}

	curImages, err := os.ReadDir(common.ImagePath)
	if err != nil {
		return RemoveImageError.Wrap(err, "cannot list current images")
	}
	for _, ci := range curImages {
		if _, exists := config.Services[ci.Name()]; !exists {
			err = os.RemoveAll(filepath.Join(common.ImagePath, ci.Name()))
			if err != nil {
				return RemoveImageError.Wrap(err, "cannot remove image %s", ci.Name())
			}
		}
	}
	for n, s := range config.Services {
		changed, err := handleImage(n, s)
		if err != nil {
			return err
		}
		if changed {
			reload = true
		}
	}

	systemd, err := dbus.NewSystemConnectionContext(context.Background())
	if err != nil {
		return RuntimeServiceError.Wrap(err, "cannot connect to systemd dbus")
	}

	curUnits, err := os.ReadDir(common.UnitPath)
	if err != nil {
		return RemoveUnitError.Wrap(err, "cannot list current units")
	}
	for _, cu := range curUnits {
		n := strings.TrimSuffix(cu.Name(), ".service")
		if _, exists := config.Services[n]; !exists {
			err = stopDisableDeleteUnit(systemd, cu.Name())
			if err != nil {
				return err
			}
			reload = true
		}
	}
	for n, s := range config.Services {
		changed, err := handleService(systemd, n, s)
		if err != nil {
			return err
		}
		if changed {
			reload = true
		}
	}

	if reload {
		systemd.ReloadContext(context.Background())
	}

	for _, wave := range conf.StartOrder(config.Services) {
		for _, n := range wave {
			wait := make(chan string)
			_, err := systemd.StartUnitContext(context.Background(), n+".service", "replace", wait)
			if err != nil {
				return RuntimeServiceError.Wrap(err, "cannot start service %s", n)
			}
			fmt.Printf("starting %s...\n", n)
			res := <-wait
			if res != "done" {
				return RuntimeServiceError.New("cannot start service %s", n)
			}
			fmt.Printf("done\n")
		}
	}

	return nil
}

// Down stops the descriptor's units without touching images or
// volume directories.
func Down(config conf.Config) error {
	systemd, err := dbus.NewSystemConnectionContext(context.Background())
	if err != nil {
		return RuntimeServiceError.Wrap(err, "cannot connect to systemd dbus")
	}
	for n := range config.Services {
		err = stopDisableDeleteUnit(systemd, n+".service")
		if err != nil {
			return err
		}
	}
	systemd.ReloadContext(context.Background())
	return nil
}

// Purge removes every unit and unpacked image. Volume directories are
// kept unless removeVolumes is set.
func Purge(removeVolumes bool) error {
	err := os.RemoveAll(common.ImagePath)
	if err != nil {
		return RemoveImageError.Wrap(err, "cannot remove image directory")
	}

	systemd, err := dbus.NewSystemConnectionContext(context.Background())
	if err != nil {
		return RuntimeServiceError.Wrap(err, "cannot connect to systemd dbus")
	}

	curUnits, err := os.ReadDir(common.UnitPath)
	if err != nil {
		return RemoveUnitError.Wrap(err, "cannot list current units")
	}
	for _, cu := range curUnits {
		err = stopDisableDeleteUnit(systemd, cu.Name())
		if err != nil {
			return err
		}
	}

	err = os.RemoveAll(common.UnitPath)
	if err != nil {
		return RemoveUnitError.Wrap(err, "cannot remove unit directory")
	}

	systemd.ReloadContext(context.Background())

	if removeVolumes {
		err = os.RemoveAll(common.VolumePath)
		if err != nil {
			return RemoveVolumeError.Wrap(err, "cannot remove volume directory")
		}
	}

	return nil
}
