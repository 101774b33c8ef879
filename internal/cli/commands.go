package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gluk-w/remotescope/internal/component"
	"github.com/gluk-w/remotescope/internal/remote"
)

func newScopeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scope <remote>",
		Short: "Describe the remote scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd, args[0], func(ctx context.Context, c *remote.Client) error {
				d, err := c.DescribeScope(ctx)
				if err != nil {
					return err
				}
				if g.asJSON {
					return writeJSON(cmd.OutOrStdout(), d)
				}
				w := newTable(cmd.OutOrStdout())
				fmt.Fprintf(w, "Name:\t%s\n", d.Name)
				if d.GroupName != "" {
					fmt.Fprintf(w, "Group:\t%s\n", d.GroupName)
				}
				if d.Version != "" {
					fmt.Fprintf(w, "Version:\t%s\n", d.Version)
				}
				return w.Flush()
			})
		},
	}
}

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <remote>",
		Short: "List the components in the remote scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd, args[0], func(ctx context.Context, c *remote.Client) error {
				comps, err := c.List(ctx)
				if err != nil {
					return err
				}
				if g.asJSON {
					return writeJSON(cmd.OutOrStdout(), comps)
				}
				if len(comps) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No components.")
					return nil
				}
				w := newTable(cmd.OutOrStdout())
				fmt.Fprintln(w, "ID\tLANG\tDEPENDENCIES")
				for _, comp := range comps {
					fmt.Fprintf(w, "%s\t%s\t%d\n", comp.ID(), dash(comp.Lang), len(comp.Dependencies))
				}
				return w.Flush()
			})
		},
	}
}

func newShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "show <remote> <id>",
		Short:   "Show one component of the remote scope",
		Example: "  remotescope show prod ui/button@0.0.3",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := component.ParseBitID(args[1])
			if err != nil {
				return err
			}
			return g.withClient(cmd, args[0], func(ctx context.Context, c *remote.Client) error {
				comp, err := c.Show(ctx, id)
				if err != nil {
					return err
				}
				if g.asJSON {
					return writeJSON(cmd.OutOrStdout(), comp)
				}
				if comp == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: no such component\n", id)
					return nil
				}
				w := newTable(cmd.OutOrStdout())
				fmt.Fprintf(w, "ID:\t%s\n", comp.ID())
				fmt.Fprintf(w, "Lang:\t%s\n", dash(comp.Lang))
				fmt.Fprintf(w, "Compiler:\t%s\n", dash(comp.Compiler))
				fmt.Fprintf(w, "Tester:\t%s\n", dash(comp.Tester))
				fmt.Fprintf(w, "Dependencies:\t%s\n", dash(strings.Join(comp.Dependencies, ", ")))
				fmt.Fprintf(w, "Files:\t%s\n", dash(strings.Join(comp.Files, ", ")))
				return w.Flush()
			})
		},
	}
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var reindex bool
	cmd := &cobra.Command{
		Use:   "search <remote> <query>",
		Short: "Search the remote scope's index",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args[1:], " ")
			return g.withClient(cmd, args[0], func(ctx context.Context, c *remote.Client) error {
				results, err := c.Search(ctx, query, reindex)
				if err != nil {
					return err
				}
				if g.asJSON {
					return writeJSON(cmd.OutOrStdout(), results)
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No results.")
					return nil
				}
				w := newTable(cmd.OutOrStdout())
				fmt.Fprintln(w, "ID\tSCORE\tDESCRIPTION")
				for _, r := range results {
					fmt.Fprintf(w, "%s\t%.2f\t%s\n", r.ID, r.Score, dash(r.Description))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&reindex, "reindex", false, "rebuild the search index before querying")
	return cmd
}

func newFetchCmd(g *globalFlags) *cobra.Command {
	var (
		noDeps bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "fetch <remote> <id>...",
		Short: "Download component objects from the remote scope",
		Long: `Download the objects of one or more components. Dependencies are included
unless --no-deps is given. With --out each bundle is written to its own
file named after the component, otherwise a summary is printed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := component.ParseBitIDs(args[1:])
			if err != nil {
				return err
			}
			return g.withClient(cmd, args[0], func(ctx context.Context, c *remote.Client) error {
				bundles, err := c.Fetch(ctx, ids, noDeps)
				if err != nil {
					return err
				}
				if outDir != "" {
					return writeBundles(cmd.OutOrStdout(), outDir, bundles)
				}
				if g.asJSON {
					return writeJSON(cmd.OutOrStdout(), bundles)
				}
				w := newTable(cmd.OutOrStdout())
				fmt.Fprintln(w, "COMPONENT\tOBJECTS")
				for _, b := range bundles {
					fmt.Fprintf(w, "%s\t%d\n", bundleName(b), len(b.Objects))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVarP(&noDeps, "no-deps", "n", false, "skip dependencies")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to write fetched bundles to")
	return cmd
}

func newPushCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "push <remote> <file>",
		Short: "Upload a component bundle to the remote scope",
		Long: `Upload a component bundle, as written by "fetch --out", to the remote
scope. Use "-" to read the bundle from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			objects, err := readBundle(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			return g.withClient(cmd, args[0], func(ctx context.Context, c *remote.Client) error {
				ack, err := c.Push(ctx, objects)
				if err != nil {
					return err
				}
				if g.asJSON {
					return writeJSON(cmd.OutOrStdout(), ack)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s (%d objects)\n", bundleName(ack), len(ack.Objects))
				return nil
			})
		},
	}
}

func readBundle(stdin io.Reader, path string) (*component.Objects, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	objects, err := component.ParseObjects(string(data))
	if err != nil {
		return nil, err
	}
	if objects == nil {
		return nil, fmt.Errorf("read bundle %s: bundle is null", path)
	}
	return objects, nil
}

func writeBundles(out io.Writer, dir string, bundles []*component.Objects) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for i, b := range bundles {
		data, err := b.Serialize()
		if err != nil {
			return err
		}
		name := bundleFileName(b, i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0644); err != nil {
			return fmt.Errorf("write bundle: %w", err)
		}
		fmt.Fprintf(out, "Wrote %s\n", name)
	}
	return nil
}

// bundleName is the id of the component a bundle carries, or "?" if the
// component payload is not a readable component.
func bundleName(b *component.Objects) string {
	comp, err := component.ParseComponent(string(b.Component))
	if err != nil || comp == nil {
		return "?"
	}
	return comp.ID().String()
}

func bundleFileName(b *component.Objects, i int) string {
	name := bundleName(b)
	if name == "?" {
		return fmt.Sprintf("bundle-%d.json", i)
	}
	r := strings.NewReplacer("/", "_", "@", "_")
	return r.Replace(name) + ".json"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
