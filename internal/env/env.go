package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Var is a set of environment variables handed to the emulated game.
type Var map[string]string

// Apply sets "K=V" pairs in order. Entries without '=' or with an empty key
// are skipped.
func (v Var) Apply(kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			v[kv[:i]] = kv[i+1:]
		}
	}
}

// Merge copies every entry of o into v.
func (v Var) Merge(o Var) {
	for k, val := range o {
		if k != "" {
			v[k] = val
		}
	}
}

// List expands ${VAR} references, first against v and then against the
// process environment, and returns sorted "K=V" pairs. Expansion is a single
// pass: values pulled in are not expanded again.
func (v Var) List() []string {
	out := make([]string, 0, len(v))
	for k, val := range v {
		out = append(out, k+"="+v.expand(val))
	}
	sort.Strings(out)
	return out
}

func (v Var) expand(s string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if val, ok := v[name]; ok {
			b.WriteString(val)
		} else if val, ok := os.LookupEnv(name); ok {
			b.WriteString(val)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}

// LoadFile parses a simple .env file with KEY=VALUE lines (no export, no
// quotes). Lines starting with # are ignored.
func LoadFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			if k == "" {
				continue
			}
			m[k] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
