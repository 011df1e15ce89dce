package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weft-tools/loupe/internal/query"
)

var (
	pathsAll      bool
	pathsMaxDepth int
	pathsMaxPaths int
)

var pathsCmd = &cobra.Command{
	Use:   "paths <from> <to> [path]",
	Short: "Find dependency paths between two entities",
	Long: `Find how one entity reaches another through the graph. By default the
shortest path is printed; with --all every simple path is enumerated, up
to the configured depth and path budgets.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(pathArg(args, 2))
		if err != nil {
			return err
		}
		defer s.close()

		if _, err := s.refresh(cmd.Context()); err != nil {
			return err
		}
		f := s.facade()
		from, err := resolveEntity(f, args[0])
		if err != nil {
			return err
		}
		to, err := resolveEntity(f, args[1])
		if err != nil {
			return err
		}

		maxDepth := pathsMaxDepth
		if maxDepth <= 0 {
			maxDepth = s.cfg.Traversal.MaxDepth
		}
		maxPaths := pathsMaxPaths
		if maxPaths <= 0 {
			maxPaths = s.cfg.Traversal.MaxPaths
		}

		var res *query.PathResult
		if pathsAll {
			res, err = f.AllPaths(cmd.Context(), from.ID, to.ID, maxDepth, maxPaths)
		} else {
			res, err = f.ShortestPath(cmd.Context(), from.ID, to.ID, maxDepth)
		}
		if err != nil {
			return err
		}

		if len(res.Paths) == 0 {
			fmt.Printf("No path from %s to %s\n", from.QualifiedName, to.QualifiedName)
		}
		for _, p := range res.Paths {
			parts := make([]string, len(p.Nodes))
			for i, id := range p.Nodes {
				ent, err := f.Entity(id)
				if err != nil {
					parts[i] = string(id)
					continue
				}
				parts[i] = ent.QualifiedName
			}
			fmt.Println(strings.Join(parts, " -> "))
		}
		if res.Incomplete {
			for _, d := range res.Diagnostics {
				fmt.Fprintln(os.Stderr, d)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pathsCmd)
	pathsCmd.Flags().BoolVar(&pathsAll, "all", false, "enumerate every simple path, not just the shortest")
	pathsCmd.Flags().IntVar(&pathsMaxDepth, "max-depth", 0, "depth bound (default from config)")
	pathsCmd.Flags().IntVar(&pathsMaxPaths, "max-paths", 0, "path count bound for --all (default from config)")
}
