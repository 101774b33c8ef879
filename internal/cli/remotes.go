package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gluk-w/remotescope/internal/config"
)

func newRemoteCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage named remotes",
	}

	add := &cobra.Command{
		Use:     "add <name> <address>",
		Short:   "Register a remote under a name",
		Example: "  remotescope remote add prod ssh://bit@scopes.example.com/var/scopes/prod",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, addr := args[0], args[1]
			ep, err := config.ParseEndpoint(addr, config.Cfg.User)
			if err != nil {
				return err
			}
			r, err := config.LoadRemotes(g.remotesPath())
			if err != nil {
				return err
			}
			if _, exists := r.Remotes[name]; exists {
				return fmt.Errorf("remote %q already exists", name)
			}
			r.Remotes[name] = ep.String()
			if err := r.Save(g.remotesPath()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added remote %s -> %s\n", name, ep)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List named remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := config.LoadRemotes(g.remotesPath())
			if err != nil {
				return err
			}
			if g.asJSON {
				return writeJSON(cmd.OutOrStdout(), r.Remotes)
			}
			names := r.Names()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No remotes.")
				return nil
			}
			w := newTable(cmd.OutOrStdout())
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", name, r.Remotes[name])
			}
			return w.Flush()
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Forget a named remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := config.LoadRemotes(g.remotesPath())
			if err != nil {
				return err
			}
			if _, ok := r.Remotes[args[0]]; !ok {
				return fmt.Errorf("unknown remote %q", args[0])
			}
			delete(r.Remotes, args[0])
			if err := r.Save(g.remotesPath()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed remote %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}
