package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weft-tools/loupe/internal/graph"
	"github.com/weft-tools/loupe/internal/query"
)

var (
	depsReverse bool
	depsDepth   int
)

var depsCmd = &cobra.Command{
	Use:   "deps <name> [path]",
	Short: "Show what an entity depends on, or what depends on it",
	Long: `Show the dependency tree of an entity. Name an entity by its qualified
name (pkg.Type.Method, module.function) or its simple name; with --reverse
the tree follows incoming edges instead, answering "who uses this?".`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(pathArg(args, 1))
		if err != nil {
			return err
		}
		defer s.close()

		if _, err := s.refresh(cmd.Context()); err != nil {
			return err
		}
		f := s.facade()
		ent, err := resolveEntity(f, args[0])
		if err != nil {
			return err
		}

		depth := depsDepth
		if depth <= 0 {
			depth = s.cfg.Traversal.MaxDepth
		}
		traverse := f.Dependencies
		if depsReverse {
			traverse = f.Dependents
		}
		tree, err := traverse(cmd.Context(), ent.ID, depth)
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s, %s:%d)\n", ent.QualifiedName, ent.Kind, ent.File, ent.Span.StartLine)
		for _, node := range tree.Nodes[1:] {
			fmt.Printf("%s%s\n", strings.Repeat("  ", node.Depth), entityLabel(f, tree, node.ID))
		}
		return nil
	},
}

// resolveEntity maps a user-supplied name to one entity, preferring exact
// qualified-name matches. Extra matches are reported but not fatal.
func resolveEntity(f *query.Facade, name string) (graph.Entity, error) {
	matches, err := f.Find(name)
	if err != nil {
		return graph.Entity{}, err
	}
	if len(matches) == 0 {
		return graph.Entity{}, fmt.Errorf("no entity named %q", name)
	}
	if len(matches) > 1 {
		fmt.Fprintf(os.Stderr, "%q matches %d entities, using %s (%s)\n",
			name, len(matches), matches[0].QualifiedName, matches[0].File)
	}
	return matches[0], nil
}

// entityLabel renders a tree node. External targets have no entity behind
// them; their source-level name is recovered from the edge that reached them.
func entityLabel(f *query.Facade, tree *graph.Tree, id graph.EntityID) string {
	if ent, err := f.Entity(id); err == nil {
		return fmt.Sprintf("%s (%s)", ent.QualifiedName, ent.Kind)
	}
	for _, e := range tree.Edges {
		if e.Target == id && e.TargetName != "" {
			return fmt.Sprintf("%s (external)", e.TargetName)
		}
		if e.Source == id && e.TargetName != "" {
			return fmt.Sprintf("%s (external)", e.TargetName)
		}
	}
	return string(id)
}

func init() {
	rootCmd.AddCommand(depsCmd)
	depsCmd.Flags().BoolVarP(&depsReverse, "reverse", "r", false, "follow incoming edges (who depends on this)")
	depsCmd.Flags().IntVarP(&depsDepth, "depth", "d", 0, "traversal depth bound (default from config)")
}
