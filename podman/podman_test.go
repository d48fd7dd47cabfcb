package podman

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduff/ketch/conf"
)

func databaseService() conf.Service {
	return conf.Service{
		Name:    "database",
		Image:   "postgres:13",
		Restart: conf.RestartAlways,
		Environment: map[string]string{
			"POSTGRES_PASSWORD": "secret",
		},
		Volumes:  []conf.VolumeMapping{{Name: "db-data", Dest: "/var/lib/postgresql/data"}},
		Ports:    []conf.PortMapping{{Host: 5432, Service: 5432, Protocol: "tcp"}},
		Networks: []string{"backend"},
	}
}

func TestServiceSpec(t *testing.T) {
	sg := serviceSpec("database", databaseService(), "postgres:13")

	assert.Equal(t, "database", sg.Name)
	assert.Equal(t, "always", sg.RestartPolicy)
	require.Len(t, sg.PortMappings, 1)
	assert.Equal(t, uint16(5432), sg.PortMappings[0].HostPort)
	assert.Equal(t, uint16(5432), sg.PortMappings[0].ContainerPort)
	require.Len(t, sg.Volumes, 1)
	assert.Equal(t, "db-data", sg.Volumes[0].Name)
	assert.Contains(t, sg.Networks, "backend")
	assert.Equal(t, map[string]string{serviceLabel: "database"}, sg.Labels)
}

func TestSpecMatchesDetectsDrift(t *testing.T) {
	s := databaseService()
	sg := serviceSpec("database", s, "postgres:13")
	recorded, err := json.Marshal(*sg)
	require.NoError(t, err)

	match, err := specMatches(string(recorded), *sg)
	require.NoError(t, err)
	assert.True(t, match)

	// Editing the descriptor must be seen as drift, so the old
	// container gets removed before the replacement takes its name.
	s.Ports[0].Host = 15432
	edited := serviceSpec("database", s, "postgres:13")
	match, err = specMatches(string(recorded), *edited)
	require.NoError(t, err)
	assert.False(t, match)
}
