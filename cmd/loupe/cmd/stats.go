package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/weft-tools/loupe/internal/engine"
	"github.com/weft-tools/loupe/internal/graph"
)

var statsCmd = &cobra.Command{
	Use:   "stats [path]",
	Short: "Summarize the code graph",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(pathArg(args, 0))
		if err != nil {
			return err
		}
		defer s.close()

		result, err := s.refresh(cmd.Context())
		if err != nil {
			return err
		}
		snap := result.Snapshot

		byStatus := make(map[engine.FileStatus]int)
		for _, rec := range snap.Records {
			byStatus[rec.Status]++
		}
		byLanguage := make(map[string]int)
		byKind := make(map[graph.EntityKind]int)
		for _, ent := range snap.Graph.Entities() {
			if ent.Language != "" {
				byLanguage[ent.Language]++
			}
			byKind[ent.Kind]++
		}
		cycles, err := snap.Graph.FindCycles(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Graph for %s\n", s.root)
		fmt.Printf("  Files:    %d", len(snap.Records))
		for _, status := range []engine.FileStatus{engine.StatusParsed, engine.StatusPartial, engine.StatusUnsupported, engine.StatusCorrupted} {
			if n := byStatus[status]; n > 0 {
				fmt.Printf("  %s=%d", status, n)
			}
		}
		fmt.Println()
		fmt.Printf("  Entities: %d\n", snap.Graph.EntityCount())
		for _, kind := range sortedKinds(byKind) {
			fmt.Printf("    %-10s %d\n", kind, byKind[kind])
		}
		fmt.Printf("  Edges:    %d\n", snap.Graph.EdgeCount())
		fmt.Printf("  Cycles:   %d\n", len(cycles))
		languages := make([]string, 0, len(byLanguage))
		for l := range byLanguage {
			languages = append(languages, l)
		}
		sort.Strings(languages)
		for _, l := range languages {
			fmt.Printf("  %s entities: %d\n", l, byLanguage[l])
		}
		printDiagnostics(result.Diagnostics, false)
		return nil
	},
}

func sortedKinds(counts map[graph.EntityKind]int) []graph.EntityKind {
	kinds := make([]graph.EntityKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
