package podman

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/containers/buildah/define"
	"github.com/containers/image/v5/manifest"
	"github.com/containers/podman/v4/pkg/bindings"
	"github.com/containers/podman/v4/pkg/specgen"
	spec "github.com/opencontainers/runtime-spec/specs-go"

	nettypes "github.com/containers/common/libnetwork/types"
	"github.com/containers/podman/v4/pkg/bindings/containers"
	"github.com/containers/podman/v4/pkg/bindings/images"
	"github.com/containers/podman/v4/pkg/bindings/network"
	"github.com/containers/podman/v4/pkg/bindings/volumes"
	"github.com/containers/podman/v4/pkg/domain/entities"

	"eduff/ketch/conf"
)

const (
	volumeLabel  = "ketch_volume"
	networkLabel = "ketch_network"
	serviceLabel = "ketch_service"
	specLabel    = "ketch_config"

	defaultSocket = "unix://run/podman/podman.sock"
)

const containerTemplateStr = `
FROM {{ .From }}
{{ range $p, $f := .Files}}
COPY --chmod={{ Octal $f.Permissions }} {{ ConvPath $p }} {{$p}}
{{end}}
LABEL "ketch"=""
{{ range $k, $v := .Labels}}
LABEL {{$k}}={{$v}}
{{end}}
{{ range $k, $v := .Env}}
ENV {{$k}}={{$v}}
{{end}}
{{if  .Entrypoint}}
ENTRYPOINT [{{ StringsJoin .Entrypoint ","}}]
{{end}}
{{if .Cmd}}
CMD [{{ StringsJoin .Cmd ","}}]
{{end}}
`

func stringsJoin(strings []string, sep string) string {
	var ret string
	for i, s := range strings {
		if i != 0 {
			ret += sep
		}
		ret += fmt.Sprintf("%q", s)
	}
	return ret
}
func convPath(p string) string {
	return strings.ReplaceAll(p, "/", "_")
}
func octal(i uint16) string {
	return fmt.Sprintf("%o", uint32(i))
}

var containerTemplate = template.Must(template.New("containerfile").
	Funcs(template.FuncMap{"StringsJoin": stringsJoin, "ConvPath": convPath, "Octal": octal}).
	Parse(containerTemplateStr))

// Connect opens a connection to the podman service socket.
func Connect(ctx context.Context) (context.Context, error) {
	uri := os.Getenv("KETCH_PODMAN_SOCKET")
	if uri == "" {
		uri = defaultSocket
	}
	conn, err := bindings.NewConnection(ctx, uri)
	if err != nil {
		return nil, ConnectError.Wrap(err, "cannot connect to podman socket %s", uri)
	}
	return conn, nil
}

func buildImage(conn context.Context, name string, b conf.Build) (string, error) {
	var buf bytes.Buffer
	err := containerTemplate.Execute(&buf, b)
	if err != nil {
		return "", BuildError.Wrap(err, "cannot render Containerfile for %s", name)
	}
	tmpdir, err := os.MkdirTemp("", "ketch_"+name)
	if err != nil {
		return "", BuildError.Wrap(err, "cannot create build directory for %s", name)
	}
	defer os.RemoveAll(tmpdir)
	if err := os.Chdir(tmpdir); err != nil {
		return "", BuildError.Wrap(err, "cannot enter build directory for %s", name)
	}
	if err := os.WriteFile("Containerfile", buf.Bytes(), fs.FileMode(0o666)); err != nil {
		return "", BuildError.Wrap(err, "cannot write Containerfile for %s", name)
	}
	for p, f := range b.Files {
		if err := os.WriteFile(convPath(p), []byte(f.Content), fs.FileMode(f.Permissions)); err != nil {
			return "", BuildError.Wrap(err, "cannot write file %s for %s", p, name)
		}
	}
	report, err := images.Build(conn, []string{"Containerfile"}, entities.BuildOptions{
		BuildOptions: define.BuildOptions{
			Timestamp: &time.Time{},
			Layers:    true,
			Quiet:     true,
		},
	})
	if err != nil {
		return "", BuildError.Wrap(err, "cannot build image for %s", name)
	}
	return report.ID, nil
}

// serviceImages builds every build: stanza and pulls every image
// reference that is not already present, returning service name to
// image id or reference.
func serviceImages(conn context.Context, services map[string]conf.Service) (map[string]string, error) {
	refs := make(map[string]string, len(services))
	for n, s := range services {
		if s.Build != nil {
			id, err := buildImage(conn, n, *s.Build)
			if err != nil {
				return nil, err
			}
			refs[n] = id
			continue
		}
		exists, err := images.Exists(conn, s.Image, nil)
		if err != nil {
			return nil, ImageError.Wrap(err, "cannot check for image %s", s.Image)
		}
		if !exists {
			quiet := true
			_, err = images.Pull(conn, s.Image, &images.PullOptions{Quiet: &quiet})
			if err != nil {
				return nil, ImageError.Wrap(err, "cannot pull image %s", s.Image)
			}
		}
		refs[n] = s.Image
	}
	return refs, nil
}

func createVolumes(conn context.Context, vols map[string]conf.Volume) error {
	for _, v := range vols {
		if v.External {
			// Externally managed: it must already be there.
			exists, err := volumes.Exists(conn, v.Name, nil)
			if err != nil {
				return VolumeError.Wrap(err, "cannot check for external volume %s", v.Name)
			}
			if !exists {
				return VolumeError.New("external volume %s does not exist", v.Name)
			}
			continue
		}
		list, err := volumes.List(conn, &volumes.ListOptions{
			Filters: map[string][]string{
				"label": {fmt.Sprintf("%s=%s", volumeLabel, v.Name)},
			},
		})
		if err != nil {
			return VolumeError.Wrap(err, "cannot list volumes")
		}
		if len(list) > 1 {
			return VolumeError.New("more than one volume labelled %s", v.Name)
		}
		if len(list) == 0 {
			_, err = volumes.Create(conn, entities.VolumeCreateOptions{
				Name:   v.Name,
				Labels: map[string]string{volumeLabel: v.Name},
			}, nil)
			if err != nil {
				return VolumeError.Wrap(err, "cannot create volume %s", v.Name)
			}
		}
	}
	return nil
}

func createNetworks(conn context.Context, nets map[string]conf.Network) error {
	for _, n := range nets {
		if n.External {
			exists, err := network.Exists(conn, n.Name, nil)
			if err != nil {
				return NetworkError.Wrap(err, "cannot check for external network %s", n.Name)
			}
			if !exists {
				return NetworkError.New("external network %s does not exist", n.Name)
			}
			continue
		}
		list, err := network.List(conn, &network.ListOptions{
			Filters: map[string][]string{
				"label": {fmt.Sprintf("%s=%s", networkLabel, n.Name)},
			},
		})
		if err != nil {
			return NetworkError.Wrap(err, "cannot list networks")
		}
		if len(list) > 1 {
			return NetworkError.New("more than one network labelled %s", n.Name)
		}
		if len(list) == 0 {
			driver := n.Driver
			if driver == "" {
				driver = "bridge"
			}
			_, err = network.Create(conn, &nettypes.Network{
				Name:   n.Name,
				Driver: driver,
				Labels: map[string]string{networkLabel: n.Name},
			})
			if err != nil {
				return NetworkError.Wrap(err, "cannot create network %s", n.Name)
			}
		}
	}
	return nil
}

func getVolumes(s conf.Service) []*specgen.NamedVolume {
	var ret []*specgen.NamedVolume
	for _, v := range s.Volumes {
		if v.Name[0] == '/' {
			continue
		}
		vol := specgen.NamedVolume{
			Name: v.Name,
			Dest: v.Dest,
		}
		if v.ReadOnly {
			vol.Options = []string{"ro"}
		}
		ret = append(ret, &vol)
	}
	return ret
}
func getMounts(s conf.Service) []spec.Mount {
	var ret []spec.Mount
	for _, v := range s.Volumes {
		if v.Name[0] != '/' {
			continue
		}
		mount := spec.Mount{
			Source:      v.Name,
			Destination: v.Dest,
			Type:        "bind",
		}
		if v.ReadOnly {
			mount.Options = []string{"ro"}
		}
		ret = append(ret, mount)
	}
	return ret
}
func getNetworks(s conf.Service) map[string]nettypes.PerNetworkOptions {
	ret := make(map[string]nettypes.PerNetworkOptions, len(s.Networks))
	for _, n := range s.Networks {
		ret[n] = nettypes.PerNetworkOptions{
			Aliases: []string{s.Name},
		}
	}
	return ret
}
func getPortMappings(s conf.Service) []nettypes.PortMapping {
	ret := make([]nettypes.PortMapping, len(s.Ports))
	for i, p := range s.Ports {
		ret[i].ContainerPort = p.Service
		ret[i].HostPort = p.Host
		ret[i].Protocol = p.Protocol
	}
	return ret
}

func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func getHealthConfig(s conf.Service) *manifest.Schema2HealthConfig {
	h := s.Healthcheck
	if h == nil {
		return nil
	}
	return &manifest.Schema2HealthConfig{
		Test:        h.Test,
		Interval:    duration(h.Interval, 30*time.Second),
		Timeout:     duration(h.Timeout, 30*time.Second),
		StartPeriod: duration(h.StartPeriod, 0),
		Retries:     h.Retries,
	}
}

func serviceSpec(name string, s conf.Service, image string) *specgen.SpecGenerator {
	sg := specgen.NewSpecGenerator(image, false)
	sg.Name = s.Name
	sg.Env = s.Environment
	sg.Entrypoint = s.Entrypoint
	sg.Command = s.Command
	sg.Volumes = getVolumes(s)
	sg.Mounts = getMounts(s)
	sg.Networks = getNetworks(s)
	sg.PortMappings = getPortMappings(s)
	sg.RestartPolicy = string(s.Restart)
	sg.HealthConfig = getHealthConfig(s)
	sg.Labels = map[string]string{serviceLabel: name}
	return sg
}

func specMatches(recorded string, sg specgen.SpecGenerator) (bool, error) {
	specBytes, err := json.Marshal(sg)
	if err != nil {
		return false, ContainerError.Wrap(err, "cannot marshal container spec")
	}
	return string(specBytes) == recorded, nil
}

func matchSpec(conn context.Context, id string, sg specgen.SpecGenerator) (bool, error) {
	size := false
	data, err := containers.Inspect(conn, id, &containers.InspectOptions{
		Size: &size,
	})
	if err != nil {
		return false, ContainerError.Wrap(err, "cannot inspect container %s", id)
	}
	return specMatches(data.Config.Annotations[specLabel], sg)
}

func findAllContainers(conn context.Context, services map[string]conf.Service) (map[string]string, error) {
	old := make(map[string]string)
	for n := range services {
		all := true
		list, err := containers.List(conn, &containers.ListOptions{
			All: &all,
			Filters: map[string][]string{
				"label": {fmt.Sprintf("%s=%s", serviceLabel, n)},
			},
		})
		if err != nil {
			return nil, ContainerError.Wrap(err, "cannot list containers for %s", n)
		}
		if len(list) > 1 {
			return nil, ContainerError.New("more than one container for service %s", n)
		}
		if len(list) == 1 {
			old[n] = list[0].ID
		}
	}
	return old, nil
}

// createContainers makes sure one container per service exists and
// matches its spec. A container whose recorded spec drifted is
// removed before its replacement is created: the old one still holds
// the service name.
func createContainers(conn context.Context, services map[string]conf.Service, imageRefs map[string]string, oldContainers map[string]string) (map[string]string, error) {
	newContainers := make(map[string]string)
	for n, s := range services {
		sg := serviceSpec(n, s, imageRefs[n])
		if oldc, ok := oldContainers[n]; ok {
			match, err := matchSpec(conn, oldc, *sg)
			if err != nil {
				return nil, err
			}
			if match {
				newContainers[n] = oldc
				continue
			}
			if err := removeContainer(conn, n, oldc); err != nil {
				return nil, err
			}
		}
		specBytes, err := json.Marshal(*sg)
		if err != nil {
			return nil, ContainerError.Wrap(err, "cannot marshal container spec")
		}
		sg.Annotations = map[string]string{specLabel: string(specBytes)}
		created, err := containers.CreateWithSpec(conn, sg, &containers.CreateOptions{})
		if err != nil {
			return nil, ContainerError.Wrap(err, "cannot create container for %s", n)
		}
		newContainers[n] = created.ID
	}
	return newContainers, nil
}

func removeContainer(conn context.Context, name string, id string) error {
	timeout := uint(10)
	ignore := true
	err := containers.Stop(conn, id, &containers.StopOptions{Timeout: &timeout, Ignore: &ignore})
	if err != nil {
		return ContainerError.Wrap(err, "cannot stop container for %s", name)
	}
	_, err = containers.Remove(conn, id, nil)
	if err != nil {
		return ContainerError.Wrap(err, "cannot remove container for %s", name)
	}
	return nil
}

func removeContainers(conn context.Context, ids map[string]string) error {
	for n, c := range ids {
		if err := removeContainer(conn, n, c); err != nil {
			return err
		}
	}
	return nil
}

func startContainers(conn context.Context, services map[string]conf.Service, ids map[string]string) error {
	for _, wave := range conf.StartOrder(services) {
		for _, n := range wave {
			err := containers.Start(conn, ids[n], nil)
			if err != nil {
				return ContainerError.Wrap(err, "cannot start container for %s", n)
			}
			fmt.Printf("started %s\n", n)
		}
	}
	return nil
}

// Execute materializes the descriptor: volumes and networks first,
// then images, then one container per service, started in dependency
// order. Everything is labelled so later runs and teardown can find
// what belongs to the descriptor.
func Execute(ctx context.Context, config conf.Config) error {
	conn, err := Connect(ctx)
	if err != nil {
		return err
	}

	err = createVolumes(conn, config.Volumes)
	if err != nil {
		return err
	}
	err = createNetworks(conn, config.Networks)
	if err != nil {
		return err
	}
	imageRefs, err := serviceImages(conn, config.Services)
	if err != nil {
		return err
	}
	oldContainers, err := findAllContainers(conn, config.Services)
	if err != nil {
		return err
	}
	newContainers, err := createContainers(conn, config.Services, imageRefs, oldContainers)
	if err != nil {
		return err
	}
	return startContainers(conn, config.Services, newContainers)
}

// Down stops and removes the descriptor's containers and networks.
// Named volumes are kept, matching their retained-until-removed
// lifecycle.
func Down(ctx context.Context, config conf.Config) error {
	conn, err := Connect(ctx)
	if err != nil {
		return err
	}

	old, err := findAllContainers(conn, config.Services)
	if err != nil {
		return err
	}
	err = removeContainers(conn, old)
	if err != nil {
		return err
	}
	for _, n := range config.Networks {
		if n.External {
			continue
		}
		list, err := network.List(conn, &network.ListOptions{
			Filters: map[string][]string{
				"label": {fmt.Sprintf("%s=%s", networkLabel, n.Name)},
			},
		})
		if err != nil {
			return NetworkError.Wrap(err, "cannot list networks")
		}
		for _, found := range list {
			_, err = network.Remove(conn, found.Name, nil)
			if err != nil {
				return NetworkError.Wrap(err, "cannot remove network %s", found.Name)
			}
		}
	}
	return nil
}

// Purge is Down plus, optionally, the named volumes.
func Purge(ctx context.Context, config conf.Config, removeVolumes bool) error {
	err := Down(ctx, config)
	if err != nil {
		return err
	}
	if !removeVolumes {
		return nil
	}
	conn, err := Connect(ctx)
	if err != nil {
		return err
	}
	for _, v := range config.Volumes {
		if v.External {
			continue
		}
		list, err := volumes.List(conn, &volumes.ListOptions{
			Filters: map[string][]string{
				"label": {fmt.Sprintf("%s=%s", volumeLabel, v.Name)},
			},
		})
		if err != nil {
			return VolumeError.Wrap(err, "cannot list volumes")
		}
		for _, found := range list {
			err = volumes.Remove(conn, found.Name, nil)
			if err != nil {
				return VolumeError.Wrap(err, "cannot remove volume %s", found.Name)
			}
		}
	}
	return nil
}
