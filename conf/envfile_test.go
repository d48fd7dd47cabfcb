package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestParseEnvFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), ".env", `
# database settings
POSTGRES_USER=postgres
export POSTGRES_PASSWORD="s3cret"
POSTGRES_DB='attendance'
EMPTY=
`)

	vars, err := ParseEnvFile(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"POSTGRES_USER":     "postgres",
		"POSTGRES_PASSWORD": "s3cret",
		"POSTGRES_DB":       "attendance",
		"EMPTY":             "",
	}, vars)
}

func TestParseEnvFileRejectsBareWord(t *testing.T) {
	p := writeFile(t, t.TempDir(), ".env", "JUSTAWORD\n")

	_, err := ParseEnvFile(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEY=VALUE")
}

func TestLoadEnvFilesLaterWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.env", "PORT=5432\nHOST=localhost\n")
	writeFile(t, dir, "b.env", "PORT=15432\n")

	vars, err := LoadEnvFiles(dir, []string{"a.env", "b.env"})
	require.NoError(t, err)
	assert.Equal(t, "15432", vars["PORT"])
	assert.Equal(t, "localhost", vars["HOST"])
}

func TestResolveEnvFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "POSTGRES_USER=postgres\nPOSTGRES_DB=files\n")

	c := Config{
		Services: map[string]Service{
			"database": {
				Name:        "database",
				Image:       "postgres:13",
				EnvFiles:    []string{".env"},
				Environment: map[string]string{"POSTGRES_DB": "explicit"},
			},
		},
	}
	require.NoError(t, ResolveEnvFiles(&c, dir))

	env := c.Services["database"].Environment
	assert.Equal(t, "postgres", env["POSTGRES_USER"])
	// Explicit environment entries win over env file entries.
	assert.Equal(t, "explicit", env["POSTGRES_DB"])
}

func mapLookup(vars map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestExpand(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"POSTGRES_PORT": "5432",
		"TAG":           "13",
	})

	cases := map[string]string{
		"postgres:${TAG}":          "postgres:13",
		"postgres:$TAG":            "postgres:13",
		"${POSTGRES_PORT}:5432":    "5432:5432",
		"${MISSING:-fallback}":     "fallback",
		"${TAG:-fallback}":         "13",
		"cost is $$5":              "cost is $5",
		"plain":                    "plain",
		"${TAG}-${POSTGRES_PORT}":  "13-5432",
	}
	for in, want := range cases {
		got, err := Expand(in, lookup)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestExpandMissingVariable(t *testing.T) {
	_, err := Expand("image: ${WHO}", mapLookup(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"WHO" is not set`)
}

func TestExpandUnterminatedExpression(t *testing.T) {
	_, err := Expand("${OOPS", mapLookup(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated")
}

func TestEnvLookupProcessWins(t *testing.T) {
	t.Setenv("KETCH_TEST_VAR", "from-process")

	lookup := EnvLookup(map[string]string{"KETCH_TEST_VAR": "from-file", "ONLY_FILE": "f"})
	v, ok := lookup("KETCH_TEST_VAR")
	require.True(t, ok)
	assert.Equal(t, "from-process", v)

	v, ok = lookup("ONLY_FILE")
	require.True(t, ok)
	assert.Equal(t, "f", v)
}
