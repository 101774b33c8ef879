package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Remotes is the named-remote registry, stored as YAML:
//
//	remotes:
//	  prod: ssh://bit@scopes.example.com:22/var/scopes/prod
//	  staging: deploy@10.0.0.5:scopes/staging
type Remotes struct {
	Remotes map[string]string `yaml:"remotes"`
}

// LoadRemotes reads the registry at path. A missing file yields an empty
// registry so that URL addresses keep working without one.
func LoadRemotes(path string) (*Remotes, error) {
	r := &Remotes{Remotes: map[string]string{}}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("read remotes file: %w", err)
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parse remotes file %s: %w", path, err)
	}
	if r.Remotes == nil {
		r.Remotes = map[string]string{}
	}
	return r, nil
}

// Save writes the registry back to path.
func (r *Remotes) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal remotes: %w", err)
	}
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create remotes dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write remotes file: %w", err)
	}
	return nil
}

// Names returns the registered remote names in sorted order.
func (r *Remotes) Names() []string {
	names := make([]string, 0, len(r.Remotes))
	for name := range r.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns a remote name or an address into an Endpoint. Names are
// looked up first; anything containing ":" that is not a registered name
// is parsed as an address.
func (r *Remotes) Resolve(nameOrAddr, defaultUser string) (Endpoint, error) {
	if addr, ok := r.Remotes[nameOrAddr]; ok {
		return ParseEndpoint(addr, defaultUser)
	}
	if !strings.Contains(nameOrAddr, ":") {
		return Endpoint{}, fmt.Errorf("unknown remote %q", nameOrAddr)
	}
	return ParseEndpoint(nameOrAddr, defaultUser)
}
