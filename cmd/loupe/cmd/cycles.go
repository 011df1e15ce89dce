package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cyclesCmd = &cobra.Command{
	Use:   "cycles [path]",
	Short: "List dependency cycles in the code graph",
	Long: `List the strongly connected components of the code graph that contain a
cycle, including self-referential entities (direct recursion).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(pathArg(args, 0))
		if err != nil {
			return err
		}
		defer s.close()

		if _, err := s.refresh(cmd.Context()); err != nil {
			return err
		}
		f := s.facade()
		cycles, err := f.Cycles(cmd.Context())
		if err != nil {
			return err
		}
		if len(cycles) == 0 {
			fmt.Println("No cycles found")
			return nil
		}

		fmt.Printf("%d cycle(s)\n", len(cycles))
		for i, c := range cycles {
			fmt.Printf("%d. %d member(s)\n", i+1, len(c.Members))
			for _, id := range c.Members {
				ent, err := f.Entity(id)
				if err != nil {
					return err
				}
				fmt.Printf("   %s (%s, %s:%d)\n", ent.QualifiedName, ent.Kind, ent.File, ent.Span.StartLine)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cyclesCmd)
}
