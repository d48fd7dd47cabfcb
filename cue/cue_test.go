package cue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduff/ketch/conf"
)

const postgresSrc = `
$volume: "db-data": {}

$network: backend: {}

$service: database: {
	image:   "postgres:13"
	restart: "always"
	environment: {
		POSTGRES_USER: "postgres"
	}
	envFiles: [".env"]
	volumes: "/var/lib/postgresql/data": $volume."db-data"
	ports: [{host: 5432, service: 5432}]
	networks: [$network.backend]
}
`

func TestFromStringDecodesPostgresService(t *testing.T) {
	c, err := FromString(postgresSrc)
	require.NoError(t, err)

	require.Contains(t, c.Volumes, "db-data")
	assert.Equal(t, "db-data", c.Volumes["db-data"].Name)

	require.Contains(t, c.Networks, "backend")
	assert.Equal(t, "bridge", c.Networks["backend"].Driver)

	require.Contains(t, c.Services, "database")
	s := c.Services["database"]
	assert.Equal(t, "database", s.Name)
	assert.Equal(t, "postgres:13", s.Image)
	assert.Equal(t, conf.RestartAlways, s.Restart)
	assert.Equal(t, []string{".env"}, s.EnvFiles)
	assert.Equal(t, []conf.VolumeMapping{{Name: "db-data", Dest: "/var/lib/postgresql/data"}}, s.Volumes)
	assert.Equal(t, []conf.PortMapping{{Host: 5432, Service: 5432, Protocol: "tcp"}}, s.Ports)
	assert.Equal(t, []string{"backend"}, s.Networks)

	require.NoError(t, conf.Validate(c))
}

func TestFromStringShortPortForm(t *testing.T) {
	c, err := FromString(`
$service: cache: {
	image: "redis:7"
	ports: [6379]
}
`)
	require.NoError(t, err)
	s := c.Services["cache"]
	assert.Equal(t, []conf.PortMapping{{Host: 6379, Service: 6379, Protocol: "tcp"}}, s.Ports)
	assert.Equal(t, conf.RestartNever, s.Restart)
}

func TestFromStringRejectsUndeclaredVolume(t *testing.T) {
	_, err := FromString(`
$service: database: {
	image: "postgres:13"
	volumes: "/var/lib/postgresql/data": {name: "db-data"}
}
`)
	require.Error(t, err)
}

func TestFromStringRejectsBadRestartPolicy(t *testing.T) {
	_, err := FromString(`
$service: database: {
	image:   "postgres:13"
	restart: "sometimes"
}
`)
	require.Error(t, err)
}
