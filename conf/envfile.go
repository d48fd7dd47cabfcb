package conf

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Lookup resolves a variable name during interpolation.
type Lookup func(name string) (string, bool)

// EnvLookup combines the process environment with an env-file map.
// Process variables win, matching compose substitution rules.
func EnvLookup(fileVars map[string]string) Lookup {
	return func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := fileVars[name]
		return v, ok
	}
}

// ParseEnvFile reads a KEY=VALUE file. Blank lines and lines starting
// with # are skipped, a leading "export " is tolerated, and values may
// be wrapped in single or double quotes.
func ParseEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, EnvFileError.Wrap(err, "cannot open env file %s", path)
	}
	defer f.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.TrimPrefix(text, "export ")
		key, value, found := strings.Cut(text, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, EnvFileError.New("%s:%d: not a KEY=VALUE line", path, line)
		}
		vars[key] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, EnvFileError.Wrap(err, "cannot read env file %s", path)
	}
	return vars, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// LoadEnvFiles merges env files in order, later files overriding
// earlier ones. Relative paths are resolved against base.
func LoadEnvFiles(base string, paths []string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		vars, err := ParseEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			merged[k] = v
		}
	}
	return merged, nil
}

// ResolveEnvFiles folds each service's env files into its environment
// map. Explicit environment entries win over file entries. Relative
// paths are resolved against baseDir.
func ResolveEnvFiles(c *Config, baseDir string) error {
	for name, s := range c.Services {
		if len(s.EnvFiles) == 0 {
			continue
		}
		fileVars, err := LoadEnvFiles(baseDir, s.EnvFiles)
		if err != nil {
			return err
		}
		env := make(map[string]string, len(fileVars)+len(s.Environment))
		for k, v := range fileVars {
			env[k] = v
		}
		for k, v := range s.Environment {
			env[k] = v
		}
		s.Environment = env
		c.Services[name] = s
	}
	return nil
}

// Expand substitutes variable references in s. Supported forms are
// $VAR, ${VAR}, ${VAR:-default} and the $$ escape. A reference to an
// unset variable without a default is an error.
func Expand(s string, lookup Lookup) (string, error) {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' {
			out.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", ExpandError.New("unterminated $ at end of input")
		}
		next := s[i+1]
		if next == '$' {
			out.WriteByte('$')
			i++
			continue
		}
		if next == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return "", ExpandError.New("unterminated ${ expression")
			}
			expr := s[i+2 : i+2+end]
			i += 2 + end
			name, def, hasDef := strings.Cut(expr, ":-")
			if name == "" {
				return "", ExpandError.New("empty variable name in ${} expression")
			}
			v, ok := lookup(name)
			if !ok {
				if !hasDef {
					return "", ExpandError.New("variable %q is not set", name)
				}
				v = def
			}
			out.WriteString(v)
			continue
		}
		j := i + 1
		for j < len(s) && isNameByte(s[j]) {
			j++
		}
		if j == i+1 {
			return "", ExpandError.New("invalid character after $ at offset %d", i)
		}
		name := s[i+1 : j]
		v, ok := lookup(name)
		if !ok {
			return "", ExpandError.New("variable %q is not set", name)
		}
		out.WriteString(v)
		i = j - 1
	}
	return out.String(), nil
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
