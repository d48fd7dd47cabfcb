package conf

import (
	"sort"
	"strings"
	"time"
)

var restartPolicies = map[RestartPolicy]bool{
	RestartAlways:        true,
	RestartOnFailure:     true,
	RestartNever:         true,
	RestartUnlessStopped: true,
}

// Validate checks the structural invariants of a descriptor: every
// port mapping resolves to exactly one host and one container port,
// volume names are unique, every mount and network membership refers
// to a declared volume or network, restart policies are part of the
// enum, and the dependency graph is complete and acyclic.
func Validate(c Config) error {
	volumes, err := declaredVolumes(c)
	if err != nil {
		return err
	}
	networks := make(map[string]bool, len(c.Networks))
	for _, n := range c.Networks {
		networks[n.Name] = true
	}

	for _, name := range sortedServices(c.Services) {
		s := c.Services[name]
		if err := validateService(name, s, volumes, networks); err != nil {
			return err
		}
	}

	if err := checkDependenciesExist(c.Services); err != nil {
		return err
	}
	return checkDependencyCycles(c.Services)
}

func declaredVolumes(c Config) (map[string]bool, error) {
	set := make(map[string]bool, len(c.Volumes))
	for key, v := range c.Volumes {
		if v.Name == "" {
			return nil, ValidateError.New("volume %q has an empty name", key)
		}
		if set[v.Name] {
			return nil, ValidateError.New("duplicate volume name %q", v.Name)
		}
		set[v.Name] = true
	}
	return set, nil
}

func validateService(name string, s Service, volumes map[string]bool, networks map[string]bool) error {
	if s.Image == "" && s.Build == nil {
		return ValidateError.New("service %q has neither an image nor a build", name)
	}
	if !restartPolicies[s.Restart] {
		return ValidateError.New("service %q has invalid restart policy %q", name, s.Restart)
	}

	for _, p := range s.Ports {
		if p.Host == 0 || p.Service == 0 {
			return ValidateError.New("service %q port mapping must bind one host and one container port", name)
		}
		switch p.Protocol {
		case "", "tcp", "udp":
		default:
			return ValidateError.New("service %q port %d has invalid protocol %q", name, p.Service, p.Protocol)
		}
	}

	seenDest := make(map[string]bool, len(s.Volumes))
	for _, m := range s.Volumes {
		if m.Name == "" {
			return ValidateError.New("service %q has a mount with an empty source", name)
		}
		if !strings.HasPrefix(m.Dest, "/") {
			return ValidateError.New("service %q mount target %q must be absolute", name, m.Dest)
		}
		if seenDest[m.Dest] {
			return ValidateError.New("service %q has duplicate mount target %q", name, m.Dest)
		}
		seenDest[m.Dest] = true
		// A source starting with / is a host bind mount, not a named volume.
		if !strings.HasPrefix(m.Name, "/") && !volumes[m.Name] {
			return ValidateError.New("service %q mounts undeclared volume %q", name, m.Name)
		}
	}

	for _, n := range s.Networks {
		if !networks[n] {
			return ValidateError.New("service %q joins undeclared network %q", name, n)
		}
	}

	if s.Healthcheck != nil {
		if err := validateHealthcheck(name, *s.Healthcheck); err != nil {
			return err
		}
	}
	return nil
}

func validateHealthcheck(service string, h Healthcheck) error {
	if len(h.Test) == 0 {
		return ValidateError.New("service %q healthcheck has no test command", service)
	}
	for _, d := range []string{h.Interval, h.Timeout, h.StartPeriod} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return ValidateError.Wrap(err, "service %q healthcheck has invalid duration %q", service, d)
		}
	}
	if h.Retries < 0 {
		return ValidateError.New("service %q healthcheck retries must not be negative", service)
	}
	return nil
}

func checkDependenciesExist(services map[string]Service) error {
	for _, name := range sortedServices(services) {
		for _, dep := range services[name].DependsOn {
			if _, ok := services[dep]; !ok {
				return ValidateError.New("service %q depends on %q, which is not declared", name, dep)
			}
		}
	}
	return nil
}

const (
	unvisited = iota
	visiting
	visited
)

func checkDependencyCycles(services map[string]Service) error {
	state := make(map[string]int, len(services))

	var walk func(name string, trail []string) error
	walk = func(name string, trail []string) error {
		switch state[name] {
		case visiting:
			return ValidateError.New("circular dependency: %s", cyclePath(trail, name))
		case visited:
			return nil
		}
		state[name] = visiting
		for _, dep := range services[name].DependsOn {
			if _, ok := services[dep]; !ok {
				continue
			}
			if err := walk(dep, append(trail, name)); err != nil {
				return err
			}
		}
		state[name] = visited
		return nil
	}

	for _, name := range sortedServices(services) {
		if err := walk(name, nil); err != nil {
			return err
		}
	}
	return nil
}

func cyclePath(trail []string, repeated string) string {
	start := 0
	for i, n := range trail {
		if n == repeated {
			start = i
			break
		}
	}
	path := append(trail[start:], repeated)
	return strings.Join(path, " -> ")
}

// StartOrder groups services into waves: every service in a wave only
// depends on services of earlier waves. Validate must have passed.
func StartOrder(services map[string]Service) [][]string {
	var waves [][]string
	started := make(map[string]bool, len(services))
	remaining := sortedServices(services)

	for len(remaining) > 0 {
		var wave, rest []string
		for _, name := range remaining {
			ready := true
			for _, dep := range services[name].DependsOn {
				if !started[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, name)
			} else {
				rest = append(rest, name)
			}
		}
		if len(wave) == 0 {
			// Unsatisfiable dependencies; Validate rejects these.
			break
		}
		for _, name := range wave {
			started[name] = true
		}
		waves = append(waves, wave)
		remaining = rest
	}
	return waves
}

func sortedServices(services map[string]Service) []string {
	names := make([]string, 0, len(services))
	for n := range services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
