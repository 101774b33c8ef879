package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultSSHPort = 22

// Endpoint identifies a remote component store. It is immutable once a
// client has been built from it.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Path string `yaml:"path"`
}

// Addr returns host:port suitable for dialing.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("ssh://%s@%s%s", e.User, e.Addr(), e.displayPath())
}

func (e Endpoint) displayPath() string {
	if strings.HasPrefix(e.Path, "/") {
		return e.Path
	}
	return "/" + e.Path
}

// Validate reports whether the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint: host is empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint: invalid port %d", e.Port)
	}
	if e.User == "" {
		return fmt.Errorf("endpoint: user is empty")
	}
	if e.Path == "" {
		return fmt.Errorf("endpoint: path is empty")
	}
	return nil
}

// ParseEndpoint accepts "ssh://user@host:port/path" URLs and the scp-like
// "user@host:path" form. A missing user falls back to defaultUser, a missing
// port to 22. In URL form a leading "/~" keeps the path home-relative.
func ParseEndpoint(raw, defaultUser string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("parse endpoint: empty address")
	}

	var ep Endpoint
	if strings.HasPrefix(raw, "ssh://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
		}
		ep.Host = u.Hostname()
		ep.Port = defaultSSHPort
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return Endpoint{}, fmt.Errorf("parse endpoint %q: invalid port %q", raw, p)
			}
			ep.Port = port
		}
		if u.User != nil {
			ep.User = u.User.Username()
		}
		ep.Path = u.Path
		if strings.HasPrefix(ep.Path, "/~") {
			ep.Path = ep.Path[1:]
		}
	} else {
		userHost, path, ok := strings.Cut(raw, ":")
		if !ok {
			return Endpoint{}, fmt.Errorf("parse endpoint %q: expected user@host:path or ssh:// URL", raw)
		}
		if user, host, found := strings.Cut(userHost, "@"); found {
			ep.User, ep.Host = user, host
		} else {
			ep.Host = userHost
		}
		ep.Port = defaultSSHPort
		ep.Path = path
	}

	if ep.User == "" {
		ep.User = defaultUser
	}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	return ep, nil
}

// ExpandHome replaces a leading "~" with the local user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
