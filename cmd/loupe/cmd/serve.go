package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weft-tools/loupe/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve [path]",
	Short: "Serve the code graph over a local HTTP API",
	Long: `Build the code graph and expose it over HTTP for tools and editors.

Endpoints:
  GET /api/health
  GET /api/stats
  GET /api/search?query=name
  GET /api/entity/:id
  GET /api/graph/deps/:id        what :id depends on
  GET /api/graph/dependents/:id  what depends on :id
  GET /api/cycles
  GET /api/paths?from=:id&to=:id`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(pathArg(args, 0))
		if err != nil {
			return err
		}
		defer s.close()

		result, err := s.refresh(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Serving %s on http://localhost:%d (%d entities, %d edges)\n",
			s.root, servePort,
			result.Snapshot.Graph.EntityCount(),
			result.Snapshot.Graph.EdgeCount())

		srv := server.New(s.engine, server.Config{
			Port:     servePort,
			MaxDepth: s.cfg.Traversal.MaxDepth,
			MaxPaths: s.cfg.Traversal.MaxPaths,
		}, s.logger)
		return srv.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port to serve the API on")
}
