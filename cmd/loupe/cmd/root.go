package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "loupe",
	Short: "Loupe - Cross-language code graph explorer",
	Long: `Loupe scans a source tree, analyzes Go and Python files, and builds a
graph of entities (files, functions, classes, variables) and their
relationships (imports, calls, inheritance, references).

The graph answers questions like "what does this function depend on?",
"who calls this?", and "where are the dependency cycles?". Results are
cached per repository so repeat runs only reanalyze changed files.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <path>/loupe.yaml)")
}
