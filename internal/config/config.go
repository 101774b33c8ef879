package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	// Private key used to authenticate, either a path or inline PEM material.
	KeyPath       string `envconfig:"KEY_PATH" default:"~/.ssh/id_ed25519"`
	KeyPassphrase string `envconfig:"KEY_PASSPHRASE" default:""`

	// Host key policy. KnownHosts takes precedence over HostFingerprint;
	// with neither set the connection is refused unless InsecureHostKey is on.
	KnownHosts      string `envconfig:"KNOWN_HOSTS" default:""`
	HostFingerprint string `envconfig:"HOST_FINGERPRINT" default:""`
	InsecureHostKey bool   `envconfig:"INSECURE_HOST_KEY" default:"false"`

	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" default:"10s"`
	ExecTimeout time.Duration `envconfig:"EXEC_TIMEOUT" default:"5m"`

	// Tool is the executable invoked on the remote host.
	Tool string `envconfig:"REMOTE_TOOL" default:"bit"`
	User string `envconfig:"SSH_USER" default:"root"`

	RemotesFile string `envconfig:"REMOTES_FILE" default:"~/.remotescope/remotes.yaml"`
	LogPath     string `envconfig:"LOG_PATH" default:"~/.remotescope/remotescope.log"`
}

var Cfg Settings

// Load reads REMOTESCOPE_* environment variables into Cfg.
func Load() error {
	if err := envconfig.Process("REMOTESCOPE", &Cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}
