package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postgresConfig() Config {
	return Config{
		Volumes: map[string]Volume{
			"db-data": {Name: "db-data"},
		},
		Networks: map[string]Network{
			"backend": {Name: "backend", Driver: "bridge"},
		},
		Services: map[string]Service{
			"database": {
				Name:    "database",
				Image:   "postgres:13",
				Restart: RestartAlways,
				Environment: map[string]string{
					"POSTGRES_PASSWORD": "secret",
				},
				Volumes:  []VolumeMapping{{Name: "db-data", Dest: "/var/lib/postgresql/data"}},
				Ports:    []PortMapping{{Host: 5432, Service: 5432, Protocol: "tcp"}},
				Networks: []string{"backend"},
			},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, Validate(postgresConfig()))
}

func TestValidateRejectsUnknownRestartPolicy(t *testing.T) {
	c := postgresConfig()
	s := c.Services["database"]
	s.Restart = "sometimes"
	c.Services["database"] = s

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart policy")
}

func TestValidateRejectsPartialPortMapping(t *testing.T) {
	c := postgresConfig()
	s := c.Services["database"]
	s.Ports = []PortMapping{{Host: 5432}}
	c.Services["database"] = s

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one host and one container port")
}

func TestValidateRejectsUndeclaredVolume(t *testing.T) {
	c := postgresConfig()
	s := c.Services["database"]
	s.Volumes = append(s.Volumes, VolumeMapping{Name: "scratch", Dest: "/scratch"})
	c.Services["database"] = s

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undeclared volume "scratch"`)
}

func TestValidateAllowsHostBindMount(t *testing.T) {
	c := postgresConfig()
	s := c.Services["database"]
	s.Volumes = append(s.Volumes, VolumeMapping{Name: "/etc/postgres", Dest: "/etc/postgresql", ReadOnly: true})
	c.Services["database"] = s

	require.NoError(t, Validate(c))
}

func TestValidateRejectsRelativeMountTarget(t *testing.T) {
	c := postgresConfig()
	s := c.Services["database"]
	s.Volumes = []VolumeMapping{{Name: "db-data", Dest: "data"}}
	c.Services["database"] = s

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")
}

func TestValidateRejectsDuplicateMountTarget(t *testing.T) {
	c := postgresConfig()
	s := c.Services["database"]
	s.Volumes = append(s.Volumes, VolumeMapping{Name: "db-data", Dest: "/var/lib/postgresql/data"})
	c.Services["database"] = s

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate mount target")
}

func TestValidateRejectsUndeclaredNetwork(t *testing.T) {
	c := postgresConfig()
	s := c.Services["database"]
	s.Networks = []string{"frontend"}
	c.Services["database"] = s

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undeclared network "frontend"`)
}

func TestValidateRejectsDuplicateVolumeName(t *testing.T) {
	c := postgresConfig()
	c.Volumes["db-data-alias"] = Volume{Name: "db-data"}

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate volume name")
}

func TestValidateRejectsMissingImageAndBuild(t *testing.T) {
	c := postgresConfig()
	s := c.Services["database"]
	s.Image = ""
	c.Services["database"] = s

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither an image nor a build")
}

func TestValidateRejectsMissingDependency(t *testing.T) {
	c := postgresConfig()
	c.Services["api"] = Service{
		Name:      "api",
		Image:     "api:latest",
		Restart:   RestartNever,
		DependsOn: []string{"cache"},
	}

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depends on "cache"`)
}

func TestValidateRejectsDependencyCycle(t *testing.T) {
	c := postgresConfig()
	c.Services["a"] = Service{Name: "a", Image: "a", Restart: RestartNever, DependsOn: []string{"b"}}
	c.Services["b"] = Service{Name: "b", Image: "b", Restart: RestartNever, DependsOn: []string{"a"}}

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestValidateRejectsBadHealthcheckDuration(t *testing.T) {
	c := postgresConfig()
	s := c.Services["database"]
	s.Healthcheck = &Healthcheck{Test: []string{"CMD", "pg_isready"}, Interval: "soon"}
	c.Services["database"] = s

	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestStartOrderRespectsDependencies(t *testing.T) {
	services := map[string]Service{
		"database": {Name: "database", Image: "postgres:13", Restart: RestartAlways},
		"api":      {Name: "api", Image: "api", Restart: RestartAlways, DependsOn: []string{"database"}},
		"proxy":    {Name: "proxy", Image: "nginx", Restart: RestartAlways, DependsOn: []string{"api"}},
		"metrics":  {Name: "metrics", Image: "exporter", Restart: RestartAlways},
	}

	waves := StartOrder(services)
	require.Len(t, waves, 3)
	assert.ElementsMatch(t, []string{"database", "metrics"}, waves[0])
	assert.Equal(t, []string{"api"}, waves[1])
	assert.Equal(t, []string{"proxy"}, waves[2])
}
