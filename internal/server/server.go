package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weft-tools/loupe/internal/engine"
	"github.com/weft-tools/loupe/internal/graph"
	"github.com/weft-tools/loupe/internal/query"
)

// SnapshotSource yields the latest published graph snapshot. An
// engine.Engine satisfies it, so the server always serves the current graph
// even while a watcher applies updates behind it.
type SnapshotSource interface {
	Snapshot() *engine.Snapshot
}

// Config holds server configuration.
type Config struct {
	Port     int
	MaxDepth int
	MaxPaths int
}

// Server exposes the code graph over a local HTTP API.
type Server struct {
	source     SnapshotSource
	logger     *zap.Logger
	httpServer *http.Server
	port       int
	maxDepth   int
	maxPaths   int
}

// New creates a server reading snapshots from source.
func New(source SnapshotSource, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		source:   source,
		logger:   logger,
		port:     cfg.Port,
		maxDepth: cfg.MaxDepth,
		maxPaths: cfg.MaxPaths,
	}
	if s.maxDepth <= 0 {
		s.maxDepth = query.DefaultMaxDepth
	}
	if s.maxPaths <= 0 {
		s.maxPaths = query.DefaultMaxPaths
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/api/stats", s.corsMiddleware(s.handleStats))
	mux.HandleFunc("/api/search", s.corsMiddleware(s.handleSearch))
	mux.HandleFunc("/api/entity/", s.corsMiddleware(s.handleEntity))
	mux.HandleFunc("/api/graph/", s.corsMiddleware(s.handleGraph))
	mux.HandleFunc("/api/cycles", s.corsMiddleware(s.handleCycles))
	mux.HandleFunc("/api/paths", s.corsMiddleware(s.handlePaths))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.Int("port", s.port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

func (s *Server) facade() *query.Facade {
	return query.New(s.source.Snapshot())
}

// corsMiddleware adds CORS headers for local development.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// queryErr maps facade errors onto HTTP statuses.
func queryErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrNoSnapshot):
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
	case errors.Is(err, graph.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, "entity not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats summarizes one snapshot.
type Stats struct {
	SnapshotID  string `json:"snapshot_id"`
	FileCount   int    `json:"file_count"`
	EntityCount int    `json:"entity_count"`
	EdgeCount   int    `json:"edge_count"`
	CycleCount  int    `json:"cycle_count"`
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	if snap == nil {
		queryErr(w, query.ErrNoSnapshot)
		return
	}
	cycles, err := snap.Graph.FindCycles(r.Context())
	if err != nil {
		queryErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, Stats{
		SnapshotID:  snap.ID,
		FileCount:   len(snap.Records),
		EntityCount: snap.Graph.EntityCount(),
		EdgeCount:   snap.Graph.EdgeCount(),
		CycleCount:  len(cycles),
	})
}

// handleSearch handles GET /api/search?query=xxx&limit=n with case-insensitive
// substring matching on simple and qualified names.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("query")
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter required")
		return
	}
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	snap := s.source.Snapshot()
	if snap == nil {
		queryErr(w, query.ErrNoSnapshot)
		return
	}
	needle := strings.ToLower(q)
	results := []graph.Entity{}
	for _, ent := range snap.Graph.Entities() {
		if !strings.Contains(strings.ToLower(ent.QualifiedName), needle) &&
			!strings.Contains(strings.ToLower(ent.Name), needle) {
			continue
		}
		results = append(results, ent)
		if len(results) >= limit {
			break
		}
	}
	s.writeJSON(w, http.StatusOK, results)
}

// EntityResponse is an entity with its incident edges.
type EntityResponse struct {
	Entity   graph.Entity `json:"entity"`
	Outgoing []graph.Edge `json:"outgoing"`
	Incoming []graph.Edge `json:"incoming"`
}

// handleEntity handles GET /api/entity/:id
func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	id := graph.EntityID(strings.TrimPrefix(r.URL.Path, "/api/entity/"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "entity ID required")
		return
	}

	f := s.facade()
	ent, err := f.Entity(id)
	if err != nil {
		queryErr(w, err)
		return
	}
	g := s.source.Snapshot().Graph
	s.writeJSON(w, http.StatusOK, EntityResponse{
		Entity:   ent,
		Outgoing: g.OutEdges(id),
		Incoming: g.InEdges(id),
	})
}

// handleGraph handles traversal endpoints:
// GET /api/graph/deps/:id?depth=n       - what :id depends on
// GET /api/graph/dependents/:id?depth=n - what depends on :id
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/graph/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		writeError(w, http.StatusBadRequest, "invalid graph endpoint")
		return
	}
	id := graph.EntityID(parts[1])

	depth := s.maxDepth
	if depthStr := r.URL.Query().Get("depth"); depthStr != "" {
		d, err := strconv.Atoi(depthStr)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid depth")
			return
		}
		depth = d
	}

	f := s.facade()
	var tree *graph.Tree
	var err error
	switch parts[0] {
	case "deps":
		tree, err = f.Dependencies(r.Context(), id, depth)
	case "dependents":
		tree, err = f.Dependents(r.Context(), id, depth)
	default:
		writeError(w, http.StatusBadRequest, "invalid graph action")
		return
	}
	if err != nil {
		queryErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tree)
}

// handleCycles handles GET /api/cycles
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := s.facade().Cycles(r.Context())
	if err != nil {
		queryErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cycles)
}

// handlePaths handles GET /api/paths?from=id&to=id&all=true
func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	from := graph.EntityID(r.URL.Query().Get("from"))
	to := graph.EntityID(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to parameters required")
		return
	}

	f := s.facade()
	var res *query.PathResult
	var err error
	if r.URL.Query().Get("all") == "true" {
		res, err = f.AllPaths(r.Context(), from, to, s.maxDepth, s.maxPaths)
	} else {
		res, err = f.ShortestPath(r.Context(), from, to, s.maxDepth)
	}
	if err != nil {
		queryErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
