package compose

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"

	"eduff/ketch/conf"
)

// DefaultFiles are the descriptor names probed inside a configuration
// directory, in order.
var DefaultFiles = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}

type composeFile struct {
	Services map[string]composeService  `yaml:"services"`
	Volumes  map[string]*composeVolume  `yaml:"volumes"`
	Networks map[string]*composeNetwork `yaml:"networks"`
}

type composeService struct {
	Image         string              `yaml:"image"`
	ContainerName string              `yaml:"container_name"`
	Restart       string              `yaml:"restart"`
	Environment   envMap              `yaml:"environment"`
	EnvFile       stringList          `yaml:"env_file"`
	Volumes       []mountEntry        `yaml:"volumes"`
	Ports         []portEntry         `yaml:"ports"`
	Networks      []string            `yaml:"networks"`
	DependsOn     dependsList         `yaml:"depends_on"`
	Entrypoint    commandList         `yaml:"entrypoint"`
	Command       commandList         `yaml:"command"`
	Healthcheck   *composeHealthcheck `yaml:"healthcheck"`
}

type composeVolume struct {
	Name     string `yaml:"name"`
	External bool   `yaml:"external"`
}

type composeNetwork struct {
	Name     string `yaml:"name"`
	Driver   string `yaml:"driver"`
	External bool   `yaml:"external"`
}

type composeHealthcheck struct {
	Test        testCommand `yaml:"test"`
	Interval    string      `yaml:"interval"`
	Timeout     string      `yaml:"timeout"`
	Retries     int         `yaml:"retries"`
	StartPeriod string      `yaml:"start_period"`
}

// stringList accepts either a scalar or a sequence of strings.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*l = stringList(ss)
		return nil
	}
	return ParseError.New("line %d: expected string or list of strings", node.Line)
}

// commandList accepts an exec-form list or a shell string, which is
// split with shell word rules.
type commandList []string

func (l *commandList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		words, err := shellwords.Parse(s)
		if err != nil {
			return ParseError.Wrap(err, "line %d: cannot split command %q", node.Line, s)
		}
		*l = commandList(words)
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*l = commandList(ss)
		return nil
	}
	return ParseError.New("line %d: expected command string or list", node.Line)
}

// envMap accepts either a mapping or a KEY=VALUE list.
type envMap map[string]string

func (m *envMap) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(map[string]string)
		if err := node.Decode(&out); err != nil {
			return err
		}
		*m = out
		return nil
	case yaml.SequenceNode:
		var entries []string
		if err := node.Decode(&entries); err != nil {
			return err
		}
		out := make(map[string]string, len(entries))
		for _, e := range entries {
			key, value, _ := strings.Cut(e, "=")
			if key == "" {
				return ParseError.New("line %d: environment entry %q has no name", node.Line, e)
			}
			out[key] = value
		}
		*m = out
		return nil
	}
	return ParseError.New("line %d: expected environment mapping or list", node.Line)
}

// dependsList accepts the list form or the condition-mapping form of
// depends_on; only the service names are kept.
type dependsList []string

func (d *dependsList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		*d = names
		return nil
	case yaml.MappingNode:
		var conditions map[string]struct {
			Condition string `yaml:"condition"`
		}
		if err := node.Decode(&conditions); err != nil {
			return err
		}
		names := make([]string, 0, len(conditions))
		for name := range conditions {
			names = append(names, name)
		}
		sort.Strings(names)
		*d = names
		return nil
	}
	return ParseError.New("line %d: expected depends_on list or mapping", node.Line)
}

// testCommand accepts a shell string or an exec-form list.
type testCommand []string

func (t *testCommand) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*t = testCommand{"CMD-SHELL", s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*t = testCommand(ss)
		return nil
	}
	return ParseError.New("line %d: expected healthcheck test string or list", node.Line)
}

// portEntry accepts "host:container[/proto]", a bare port, or the
// long form with target/published/protocol.
type portEntry conf.PortMapping

func (p *portEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var long struct {
			Target    uint16 `yaml:"target"`
			Published string `yaml:"published"`
			Protocol  string `yaml:"protocol"`
		}
		if err := node.Decode(&long); err != nil {
			return err
		}
		// An unpublished target would bind an ephemeral host port; the
		// descriptor model has no notion of one.
		if long.Published == "" {
			return ParseError.New("line %d: port %d has no published host port", node.Line, long.Target)
		}
		host, err := strconv.ParseUint(long.Published, 10, 16)
		if err != nil {
			return ParseError.Wrap(err, "line %d: invalid published port %q", node.Line, long.Published)
		}
		*p = portEntry{Host: uint16(host), Service: long.Target, Protocol: long.Protocol}
		return nil
	}

	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	spec := raw
	proto := ""
	if before, after, found := strings.Cut(spec, "/"); found {
		spec = before
		proto = after
	}
	parts := strings.Split(spec, ":")
	var hostStr, serviceStr string
	switch len(parts) {
	case 1:
		hostStr, serviceStr = parts[0], parts[0]
	case 2:
		hostStr, serviceStr = parts[0], parts[1]
	case 3:
		// Compose allows a host IP prefix; the descriptor model does
		// not carry it, the mapping itself is kept.
		hostStr, serviceStr = parts[1], parts[2]
	default:
		return ParseError.New("line %d: invalid port mapping %q", node.Line, raw)
	}
	host, err := strconv.ParseUint(hostStr, 10, 16)
	if err != nil {
		return ParseError.Wrap(err, "line %d: invalid host port in %q", node.Line, raw)
	}
	service, err := strconv.ParseUint(serviceStr, 10, 16)
	if err != nil {
		return ParseError.Wrap(err, "line %d: invalid container port in %q", node.Line, raw)
	}
	*p = portEntry{Host: uint16(host), Service: uint16(service), Protocol: proto}
	return nil
}

// mountEntry accepts "source:/target[:ro]" or the long form with
// source/target/read_only.
type mountEntry conf.VolumeMapping

func (m *mountEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var long struct {
			Source   string `yaml:"source"`
			Target   string `yaml:"target"`
			ReadOnly bool   `yaml:"read_only"`
		}
		if err := node.Decode(&long); err != nil {
			return err
		}
		*m = mountEntry{Name: long.Source, Dest: long.Target, ReadOnly: long.ReadOnly}
		return nil
	}

	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parts := strings.Split(raw, ":")
	// A leading / on the first element makes it a host bind mount,
	// otherwise it names a volume.
	switch len(parts) {
	case 2:
		*m = mountEntry{Name: parts[0], Dest: parts[1]}
	case 3:
		*m = mountEntry{Name: parts[0], Dest: parts[1], ReadOnly: parts[2] == "ro"}
	default:
		return ParseError.New("line %d: invalid volume mapping %q", node.Line, raw)
	}
	return nil
}

// Load reads a compose file, substitutes ${VAR} references through
// lookup, and converts it into the descriptor model. Service env_file
// entries are resolved relative to the compose file and folded into
// the service environment, with explicit environment entries winning.
func Load(path string, lookup conf.Lookup) (conf.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return conf.Config{}, ReadError.Wrap(err, "cannot read compose file %s", path)
	}
	expanded, err := conf.Expand(string(raw), lookup)
	if err != nil {
		return conf.Config{}, err
	}

	var file composeFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return conf.Config{}, ParseError.Wrap(err, "cannot parse compose file %s", path)
	}
	c, err := convert(file)
	if err != nil {
		return conf.Config{}, err
	}
	// env_file entries are relative to the compose file.
	if err := conf.ResolveEnvFiles(&c, filepath.Dir(path)); err != nil {
		return conf.Config{}, err
	}
	return c, nil
}

// Find locates a compose file in dir, probing DefaultFiles.
func Find(dir string) (string, bool) {
	for _, name := range DefaultFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func convert(file composeFile) (conf.Config, error) {
	c := conf.Config{
		Volumes:  make(map[string]conf.Volume, len(file.Volumes)),
		Networks: make(map[string]conf.Network, len(file.Networks)),
		Services: make(map[string]conf.Service, len(file.Services)),
	}

	for key, v := range file.Volumes {
		vol := conf.Volume{Name: key}
		if v != nil {
			if v.Name != "" {
				vol.Name = v.Name
			}
			vol.External = v.External
		}
		c.Volumes[key] = vol
	}
	for key, n := range file.Networks {
		net := conf.Network{Name: key, Driver: "bridge"}
		if n != nil {
			if n.Name != "" {
				net.Name = n.Name
			}
			if n.Driver != "" {
				net.Driver = n.Driver
			}
			net.External = n.External
		}
		c.Networks[key] = net
	}

	for key, s := range file.Services {
		svc, err := convertService(key, s)
		if err != nil {
			return conf.Config{}, err
		}
		// Mount sources that name a volume key are normalized to the
		// declared volume name.
		for i, m := range svc.Volumes {
			if v, ok := c.Volumes[m.Name]; ok {
				svc.Volumes[i].Name = v.Name
			}
		}
		for i, n := range svc.Networks {
			if net, ok := c.Networks[n]; ok {
				svc.Networks[i] = net.Name
			}
		}
		c.Services[key] = svc
	}
	return c, nil
}

func convertService(name string, s composeService) (conf.Service, error) {
	svc := conf.Service{
		Name:       name,
		Image:      s.Image,
		Restart:    conf.RestartNever,
		EnvFiles:   []string(s.EnvFile),
		Networks:   s.Networks,
		DependsOn:  []string(s.DependsOn),
		Entrypoint: []string(s.Entrypoint),
		Command:    []string(s.Command),
	}
	if s.ContainerName != "" {
		svc.Name = s.ContainerName
	}
	if s.Restart != "" {
		svc.Restart = conf.RestartPolicy(s.Restart)
	}

	if len(s.Environment) > 0 {
		svc.Environment = map[string]string(s.Environment)
	}

	for _, p := range s.Ports {
		svc.Ports = append(svc.Ports, conf.PortMapping(p))
	}
	for _, m := range s.Volumes {
		svc.Volumes = append(svc.Volumes, conf.VolumeMapping(m))
	}
	if s.Healthcheck != nil {
		svc.Healthcheck = &conf.Healthcheck{
			Test:        []string(s.Healthcheck.Test),
			Interval:    s.Healthcheck.Interval,
			Timeout:     s.Healthcheck.Timeout,
			Retries:     s.Healthcheck.Retries,
			StartPeriod: s.Healthcheck.StartPeriod,
		}
	}
	return svc, nil
}
