package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	indexFull    bool
	indexVerbose bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Scan a source tree and build the code graph",
	Long: `Scan a source tree, analyze its Go and Python files, and build the
code graph.

The index command:
- Walks the tree honoring .gitignore and configured excludes
- Analyzes each supported file into entities and references
- Resolves references into call, import, and inheritance edges
- Persists the snapshot so later runs only reanalyze changed files`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(pathArg(args, 0))
		if err != nil {
			return err
		}
		defer s.close()

		fmt.Printf("Indexing %s\n", s.root)

		refresh := s.refresh
		if indexFull {
			refresh = s.rebuild
		}
		result, err := refresh(cmd.Context())
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}

		snap := result.Snapshot
		fmt.Println()
		fmt.Printf("Index complete\n")
		fmt.Printf("  Files:    %d analyzed, %d total\n", result.FilesAnalyzed, len(snap.Records))
		fmt.Printf("  Entities: %d\n", snap.Graph.EntityCount())
		fmt.Printf("  Edges:    %d\n", snap.Graph.EdgeCount())
		fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
		if s.store != nil {
			fmt.Printf("  Database: %s\n", s.store.DBPath())
		}
		printDiagnostics(result.Diagnostics, indexVerbose)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexFull, "full", false, "ignore the cache and reanalyze every file")
	indexCmd.Flags().BoolVarP(&indexVerbose, "verbose", "v", false, "print every diagnostic instead of a summary")
}
