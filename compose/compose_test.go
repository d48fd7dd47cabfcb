package compose

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduff/ketch/conf"
)

const postgresCompose = `
services:
  database:
    image: postgres:${POSTGRES_TAG:-13}
    restart: always
    env_file:
      - .env
    environment:
      POSTGRES_DB: attendance
    ports:
      - "5432:5432"
    volumes:
      - postgres_data:/var/lib/postgresql/data
    networks:
      - backend

volumes:
  postgres_data:

networks:
  backend:
    driver: bridge
`

func loadString(t *testing.T, src string, files map[string]string, lookup conf.Lookup) conf.Config {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	p := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	c, err := Load(p, lookup)
	require.NoError(t, err)
	return c
}

func TestLoadPostgresCompose(t *testing.T) {
	c := loadString(t, postgresCompose, map[string]string{
		".env": "POSTGRES_USER=postgres\nPOSTGRES_PASSWORD=secret\n",
	}, nil)

	require.Contains(t, c.Services, "database")
	s := c.Services["database"]
	assert.Equal(t, "postgres:13", s.Image)
	assert.Equal(t, conf.RestartAlways, s.Restart)
	assert.Equal(t, []conf.PortMapping{{Host: 5432, Service: 5432}}, s.Ports)
	assert.Equal(t, []conf.VolumeMapping{{Name: "postgres_data", Dest: "/var/lib/postgresql/data"}}, s.Volumes)
	assert.Equal(t, []string{"backend"}, s.Networks)

	// env_file folded in, explicit environment wins.
	assert.Equal(t, "postgres", s.Environment["POSTGRES_USER"])
	assert.Equal(t, "secret", s.Environment["POSTGRES_PASSWORD"])
	assert.Equal(t, "attendance", s.Environment["POSTGRES_DB"])

	assert.Equal(t, conf.Volume{Name: "postgres_data"}, c.Volumes["postgres_data"])
	assert.Equal(t, conf.Network{Name: "backend", Driver: "bridge"}, c.Networks["backend"])

	require.NoError(t, conf.Validate(c))
}

func TestLoadInterpolatesFromLookup(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "POSTGRES_TAG" {
			return "14", true
		}
		return "", false
	}
	c := loadString(t, postgresCompose, map[string]string{".env": ""}, lookup)
	assert.Equal(t, "postgres:14", c.Services["database"].Image)
}

func TestLoadEnvironmentList(t *testing.T) {
	c := loadString(t, `
services:
  cache:
    image: redis:7
    environment:
      - REDIS_PORT=6379
      - EMPTY
`, nil, nil)
	s := c.Services["cache"]
	assert.Equal(t, "6379", s.Environment["REDIS_PORT"])
	assert.Equal(t, "", s.Environment["EMPTY"])
}

func TestLoadPortForms(t *testing.T) {
	c := loadString(t, `
services:
  web:
    image: nginx:alpine
    ports:
      - "8080:80"
      - "53:53/udp"
      - "127.0.0.1:9090:90"
      - target: 443
        published: "8443"
        protocol: tcp
`, nil, nil)
	s := c.Services["web"]
	assert.Equal(t, []conf.PortMapping{
		{Host: 8080, Service: 80},
		{Host: 53, Service: 53, Protocol: "udp"},
		{Host: 9090, Service: 90},
		{Host: 8443, Service: 443, Protocol: "tcp"},
	}, s.Ports)
}

func TestLoadCommandForms(t *testing.T) {
	c := loadString(t, `
services:
  database:
    image: postgres:13
    command: postgres -c max_connections=100
  web:
    image: nginx:alpine
    entrypoint: /docker-entrypoint.sh "extra arg"
    command: ["nginx", "-g", "daemon off;"]
`, nil, nil)
	assert.Equal(t, []string{"postgres", "-c", "max_connections=100"}, c.Services["database"].Command)
	assert.Equal(t, []string{"/docker-entrypoint.sh", "extra arg"}, c.Services["web"].Entrypoint)
	assert.Equal(t, []string{"nginx", "-g", "daemon off;"}, c.Services["web"].Command)
}

func TestLoadRejectsUnpublishedLongPort(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(p, []byte(`
services:
  web:
    image: nginx:alpine
    ports:
      - target: 443
`), 0o644))

	_, err := Load(p, func(string) (string, bool) { return "", false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "published")
}

func TestLoadMountForms(t *testing.T) {
	c := loadString(t, `
services:
  web:
    image: nginx:alpine
    volumes:
      - content:/usr/share/nginx/html:ro
      - /etc/ssl/certs:/etc/ssl/certs
      - type: volume
        source: logs
        target: /var/log/nginx
volumes:
  content:
  logs:
`, nil, nil)
	s := c.Services["web"]
	assert.Equal(t, []conf.VolumeMapping{
		{Name: "content", Dest: "/usr/share/nginx/html", ReadOnly: true},
		{Name: "/etc/ssl/certs", Dest: "/etc/ssl/certs"},
		{Name: "logs", Dest: "/var/log/nginx"},
	}, s.Volumes)
}

func TestLoadDependsOnForms(t *testing.T) {
	c := loadString(t, `
services:
  database:
    image: postgres:13
  api:
    image: api:1
    depends_on:
      - database
  worker:
    image: worker:1
    depends_on:
      database:
        condition: service_healthy
`, nil, nil)
	assert.Equal(t, []string{"database"}, c.Services["api"].DependsOn)
	assert.Equal(t, []string{"database"}, c.Services["worker"].DependsOn)
}

func TestLoadHealthcheckStringForm(t *testing.T) {
	c := loadString(t, `
services:
  database:
    image: postgres:13
    healthcheck:
      test: pg_isready -U postgres
      interval: 10s
      timeout: 5s
      retries: 5
`, nil, nil)
	h := c.Services["database"].Healthcheck
	require.NotNil(t, h)
	assert.Equal(t, []string{"CMD-SHELL", "pg_isready -U postgres"}, h.Test)
	assert.Equal(t, "10s", h.Interval)
	assert.Equal(t, 5, h.Retries)
}

func TestLoadMissingVariableFails(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(p, []byte("services:\n  db:\n    image: postgres:${UNSET_TAG}\n"), 0o644))

	_, err := Load(p, func(string) (string, bool) { return "", false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"UNSET_TAG" is not set`)
}

func TestFindProbesDefaultNames(t *testing.T) {
	dir := t.TempDir()
	_, ok := Find(dir)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte("services: {}\n"), 0o644))
	p, ok := Find(dir)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "compose.yaml"), p)
}
