package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitesmith/hunter/internal/business"
	"github.com/sitesmith/hunter/internal/conductor"
	"github.com/sitesmith/hunter/internal/grid"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read API and manual batch endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		provider, err := initProvider()
		if err != nil {
			return err
		}
		r := buildRouter(s.cells, s.leads, initConductor(s, provider))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the HTTP surface: health, read access for
// downstream systems, and the synchronous manual batch endpoint.
func buildRouter(cells grid.Store, leads business.Store, cond *conductor.Conductor) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/businesses", func(w http.ResponseWriter, req *http.Request) {
		opts := business.ListOpts{Limit: 100}
		if v := req.URL.Query().Get("min_score"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid min_score")
				return
			}
			opts.MinScore = n
		}
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = n
		}
		if v := req.URL.Query().Get("cell"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid cell")
				return
			}
			opts.CellID = &id
		}

		out, err := leads.List(req.Context(), opts)
		if err != nil {
			zap.L().Error("serve: list businesses", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list businesses")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"businesses": out, "count": len(out)})
	})

	r.Get("/grid/status", func(w http.ResponseWriter, req *http.Request) {
		status, err := cells.Status(req.Context())
		if err != nil {
			zap.L().Error("serve: grid status", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "grid status")
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	r.Post("/hunt/batch", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			N int `json:"n"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.N < 1 || body.N > conductor.MaxBatchSize {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("n must be between 1 and %d", conductor.MaxBatchSize))
			return
		}

		// Synchronous on purpose: the caller gets complete per-cell
		// summaries, not a job handle.
		out, err := cond.RunBatch(req.Context(), body.N)
		if err != nil {
			zap.L().Error("serve: run batch", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "run batch")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out, "count": len(out)})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
