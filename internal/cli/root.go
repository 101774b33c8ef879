// Package cli wires the remote scope client to the remotescope command line.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gluk-w/remotescope/internal/config"
	"github.com/gluk-w/remotescope/internal/logging"
	"github.com/gluk-w/remotescope/internal/remote"
	"github.com/gluk-w/remotescope/internal/sshkeys"
	"github.com/gluk-w/remotescope/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
)

// globalFlags override the REMOTESCOPE_* settings for one invocation.
type globalFlags struct {
	key         string
	knownHosts  string
	fingerprint string
	insecure    bool
	timeout     time.Duration
	remotesFile string
	tool        string
	asJSON      bool
	verbose     bool
}

// NewRootCmd builds the remotescope command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "remotescope",
		Short: "Operate on a component scope hosted on another machine",
		Long: `remotescope talks to a remote component scope over SSH. Every command
runs one operation of the scope tool on the remote host and prints the
decoded result.

A <remote> is either a name from the remotes file or an address such as
ssh://bit@scopes.example.com:22/var/scopes/prod or deploy@host:scopes/dev.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return err
			}
			return logging.Init(config.ExpandHome(config.Cfg.LogPath), g.verbose)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.key, "key", "i", "", "private key file or PEM material (default $REMOTESCOPE_KEY_PATH)")
	pf.StringVar(&g.knownHosts, "known-hosts", "", "known_hosts file used to verify the remote host key")
	pf.StringVar(&g.fingerprint, "fingerprint", "", "expected SHA256 host key fingerprint, or the host's public key file")
	pf.BoolVar(&g.insecure, "insecure", false, "accept any host key")
	pf.DurationVar(&g.timeout, "timeout", 0, "per-command timeout (default $REMOTESCOPE_EXEC_TIMEOUT)")
	pf.StringVar(&g.remotesFile, "remotes", "", "remotes file (default $REMOTESCOPE_REMOTES_FILE)")
	pf.StringVar(&g.tool, "tool", "", "scope tool executable on the remote host")
	pf.BoolVar(&g.asJSON, "json", false, "print results as JSON")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log to stderr as well as the log file")

	root.AddCommand(
		newScopeCmd(g),
		newListCmd(g),
		newShowCmd(g),
		newSearchCmd(g),
		newFetchCmd(g),
		newPushCmd(g),
		newRemoteCmd(g),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// exitCode gives scripts a stable code per failure kind.
func exitCode(err error) int {
	switch remote.KindOf(err) {
	case remote.KindComponentNotFound:
		return 3
	case remote.KindPermissionDenied:
		return 4
	case remote.KindRemoteScopeNotFound:
		return 5
	case remote.KindConnection:
		return 6
	default:
		return 1
	}
}

func (g *globalFlags) remotesPath() string {
	if g.remotesFile != "" {
		return g.remotesFile
	}
	return config.Cfg.RemotesFile
}

// newClient resolves the remote and builds a client from flags and settings.
func (g *globalFlags) newClient(remoteArg string) (*remote.Client, error) {
	remotes, err := config.LoadRemotes(g.remotesPath())
	if err != nil {
		return nil, err
	}
	ep, err := remotes.Resolve(remoteArg, config.Cfg.User)
	if err != nil {
		return nil, err
	}

	key := g.key
	if key == "" {
		key = config.Cfg.KeyPath
	}
	if !sshkeys.IsKeyMaterial(key) {
		key = config.ExpandHome(key)
	}
	signer, err := sshkeys.LoadSigner(key, config.Cfg.KeyPassphrase)
	if err != nil {
		return nil, err
	}

	policy := sshkeys.HostKeyPolicy{
		KnownHostsFile: config.ExpandHome(firstNonEmpty(g.knownHosts, config.Cfg.KnownHosts)),
		Fingerprint:    firstNonEmpty(g.fingerprint, config.Cfg.HostFingerprint),
		Insecure:       g.insecure || config.Cfg.InsecureHostKey,
	}
	hostKeyCallback, err := policy.Callback()
	if err != nil {
		return nil, err
	}

	timeout := g.timeout
	if timeout == 0 {
		timeout = config.Cfg.ExecTimeout
	}

	return remote.New(ep, remote.Options{
		Tool:            firstNonEmpty(g.tool, config.Cfg.Tool),
		Signer:          signer,
		HostKeyCallback: hostKeyCallback,
		DialTimeout:     config.Cfg.DialTimeout,
		ExecTimeout:     timeout,
	}), nil
}

// withClient connects to remoteArg, runs fn, and always closes the
// connection. SIGINT/SIGTERM cancel the context, which tears down the
// connection mid-command.
func (g *globalFlags) withClient(cmd *cobra.Command, remoteArg string, fn func(context.Context, *remote.Client) error) error {
	c, err := g.newClient(remoteArg)
	if err != nil {
		return err
	}

	c.OnStateChange(func(from, to transport.State) {
		log.Printf("[cli] connection %s: %s -> %s", logging.SanitizeForLog(c.Endpoint().Addr()), from, to)
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Printf("[cli] close: %v", err)
		}
		if g.verbose {
			for _, tr := range c.StateHistory() {
				log.Printf("[cli] state %s %s -> %s", tr.Timestamp.Format(time.RFC3339Nano), tr.From, tr.To)
			}
		}
	}()

	log.Printf("[cli] %s on %s", cmd.Name(), logging.SanitizeForLog(c.Endpoint().String()))
	return fn(ctx, c)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
