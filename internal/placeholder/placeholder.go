// Package placeholder expands ${key} and ${key:default} references in
// declared topics and groups.
//
// Values are looked up in an ordered chain of sources, first hit wins:
// typically the configuration "properties" map, then the process
// environment, then a .env file.
package placeholder

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

var (
	// ErrUnresolved is returned when a reference has no value and no default.
	ErrUnresolved = errors.New("placeholder: unresolved reference")

	// ErrMalformed is returned for a "${" without a closing "}".
	ErrMalformed = errors.New("placeholder: malformed reference")
)

// Source provides values for keys.
type Source interface {
	Lookup(key string) (string, bool)
}

// Map is a Source backed by a map.
type Map map[string]string

// Lookup returns m[key].
func (m Map) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Env is a Source backed by the process environment. A key is tried as
// written and then in environment form: upper case with '.' and '-'
// replaced by '_' (so "site.name" also finds SITE_NAME).
type Env struct {
	// Prefix is prepended to the environment form, e.g. "MQTTROUTE_".
	Prefix string
}

// Lookup reads the environment.
func (e Env) Lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	return os.LookupEnv(e.Prefix + envName(key))
}

func envName(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// DotEnv reads a .env file into a Map. A missing file yields an empty Map.
func DotEnv(path string) (Map, error) {
	if path == "" {
		return Map{}, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Map{}, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	return Map(values), nil
}

// Expander expands references against a chain of sources.
type Expander struct {
	sources []Source
}

// New creates an Expander that consults sources in order.
func New(sources ...Source) *Expander {
	return &Expander{sources: sources}
}

// Lookup returns the first value found for key.
func (e *Expander) Lookup(key string) (string, bool) {
	for _, s := range e.sources {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// Expand replaces every ${key} and ${key:default} in s. Text outside
// references, including MQTT wildcards and {name} placeholders, is left
// untouched.
func (e *Expander) Expand(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])

		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		ref := rest[start+2 : start+end]

		key, def, hasDefault := strings.Cut(ref, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return "", fmt.Errorf("%w: %q: empty key", ErrMalformed, s)
		}

		v, ok := e.Lookup(key)
		switch {
		case ok:
			b.WriteString(v)
		case hasDefault:
			b.WriteString(def)
		default:
			return "", fmt.Errorf("%w: ${%s} in %q", ErrUnresolved, key, s)
		}

		rest = rest[start+end+1:]
	}

	return b.String(), nil
}
