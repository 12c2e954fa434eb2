package env

import (
	"os"
	"strings"
)

type Var map[string]string

// Env resolves ${VAR} references against the process environment plus
// explicit overrides.
type Env struct {
	Var Var // overrides (K->V), applied over the OS environment
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.env = base
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Lookup returns the override for k, falling back to the OS environment.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil {
		e.FromOS()
	}
	v, ok := e.env[k]
	return v, ok
}

// Expand replaces every ${VAR} in s. Unknown variables expand to the
// empty string and an unterminated reference is left as is. Values are
// not expanded again.
func (e *Env) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		v, _ := e.Lookup(s[i+2 : i+2+end])
		b.WriteString(v)
		s = s[i+2+end+1:]
	}
	return b.String()
}
