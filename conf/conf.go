package conf

// RestartPolicy is the restart behaviour requested for a service
// container. The runtime is responsible for honouring it.
type RestartPolicy string

const (
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartNever         RestartPolicy = "no"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

type Volume struct {
	Name     string
	External bool
}
type Network struct {
	Name     string
	Driver   string
	External bool
}
type File struct {
	Content     string
	Permissions uint16
}
type PortMapping struct {
	Host     uint16
	Service  uint16
	Protocol string
}
type VolumeMapping struct {
	Name     string
	Dest     string
	ReadOnly bool
}
type Build struct {
	From       string
	Files      map[string]File `json:"$files"`
	Labels     map[string]string
	Env        map[string]string
	Entrypoint []string
	Cmd        []string
}
type Healthcheck struct {
	Test        []string
	Interval    string
	Timeout     string
	Retries     int
	StartPeriod string `json:"startPeriod"`
}
type Service struct {
	Name        string
	Image       string          `json:"$image"`
	Build       *Build          `json:"$build"`
	Restart     RestartPolicy
	Environment map[string]string
	EnvFiles    []string        `json:"envFiles"`
	Volumes     []VolumeMapping `json:"$volumes"`
	Ports       []PortMapping   `json:"$ports"`
	Networks    []string        `json:"$networks"`
	DependsOn   []string        `json:"$dependsOn"`
	Entrypoint  []string
	Command     []string
	Healthcheck *Healthcheck
}

// Config is the decoded descriptor: pure data, no runtime state.
type Config struct {
	Volumes  map[string]Volume  `json:"$volumes"`
	Networks map[string]Network `json:"$networks"`
	Services map[string]Service `json:"$services"`
}
