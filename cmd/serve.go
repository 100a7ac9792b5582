package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dept-delivery/finsheet/internal/chat"
	"github.com/dept-delivery/finsheet/internal/model"
	"github.com/dept-delivery/finsheet/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		var advisor *chat.Advisor
		if cfg.Anthropic.Key != "" {
			advisor = newAdvisor(env)
		} else {
			zap.L().Warn("FINSHEET_ANTHROPIC_KEY not set, /query disabled")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env, advisor),
		}

		drained := make(chan struct{})
		go func() {
			drainOnCancel(ctx, srv, 15*time.Second)
			close(drained)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// ListenAndServe returns as soon as Shutdown is invoked; in-flight
		// requests are still draining.
		<-drained
		return nil
	},
}

// drainOnCancel blocks until ctx is cancelled, then shuts the server down on
// a fresh timeout context so in-flight requests drain instead of being cut
// off by the already-cancelled signal context.
func drainOnCancel(ctx context.Context, srv *http.Server, timeout time.Duration) {
	<-ctx.Done()
	zap.L().Info("shutting down server")

	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		zap.L().Error("server shutdown failed", zap.Error(err))
	}
}

func newRouter(env *appEnv, advisor *chat.Advisor) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/ingest", func(w http.ResponseWriter, req *http.Request) {
		var upload model.UploadRequest
		if err := json.NewDecoder(req.Body).Decode(&upload); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if upload.Path == "" {
			writeErr(w, http.StatusBadRequest, "path is required")
			return
		}

		res, err := env.Orchestrator.Ingest(req.Context(), upload)
		if err != nil {
			zap.L().Error("ingest failed", zap.String("path", upload.Path), zap.Error(err))
			writeErr(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/ingest/pending", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, env.Orchestrator.Pending())
	})

	r.Post("/ingest/pending/{id}/confirm", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			SheetType model.SheetType `json:"sheet_type"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := env.Orchestrator.Resume(req.Context(), chi.URLParam(req, "id"), body.SheetType)
		if err != nil {
			writeErr(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/ingest/log", func(w http.ResponseWriter, req *http.Request) {
		entries, err := env.Store.ListIngestionLog(req.Context(), req.URL.Query().Get("source_file"))
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	r.Get("/projects", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		projects, err := env.Store.ListProjects(req.Context(), store.ProjectFilter{
			ClientName: q.Get("client"),
			Search:     q.Get("q"),
			Limit:      atoiDefault(q.Get("limit"), 0),
			Offset:     atoiDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, projects)
	})

	r.Get("/projects/{id}", func(w http.ResponseWriter, req *http.Request) {
		detail, err := projectDetail(req, env, chi.URLParam(req, "id"))
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		if detail == nil {
			writeErr(w, http.StatusNotFound, "project not found")
			return
		}
		writeJSON(w, http.StatusOK, detail)
	})

	r.Post("/query", func(w http.ResponseWriter, req *http.Request) {
		if advisor == nil {
			writeErr(w, http.StatusServiceUnavailable, "chat advisor not configured")
			return
		}
		var ask chat.AskRequest
		if err := json.NewDecoder(req.Body).Decode(&ask); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}

		exchange, err := advisor.Ask(req.Context(), ask)
		if err != nil {
			writeErr(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, exchange)
	})

	r.Post("/search", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Query     string `json:"query"`
			ProjectID string `json:"project_id"`
			Limit     int    `json:"limit"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Query == "" {
			writeErr(w, http.StatusBadRequest, "query is required")
			return
		}
		if body.Limit <= 0 {
			body.Limit = 10
		}

		hits, err := env.Index.Search(req.Context(), body.Query, body.ProjectID, body.Limit)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, hits)
	})

	return r
}

// projectDetailResponse bundles a project with its dependent rows.
type projectDetailResponse struct {
	Project     model.Project         `json:"project"`
	Allocations []model.Allocation    `json:"allocations"`
	Actuals     []model.Actual        `json:"actuals"`
	Costs       []model.CostEntry     `json:"costs"`
	ScopeDocs   []model.ScopeDocument `json:"scope_docs"`
}

func projectDetail(req *http.Request, env *appEnv, id string) (*projectDetailResponse, error) {
	ctx := req.Context()

	p, err := env.Store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	detail := &projectDetailResponse{Project: *p}
	if detail.Allocations, err = env.Store.ListAllocations(ctx, id); err != nil {
		return nil, err
	}
	if detail.Actuals, err = env.Store.ListActuals(ctx, id); err != nil {
		return nil, err
	}
	if detail.Costs, err = env.Store.ListCosts(ctx, id); err != nil {
		return nil, err
	}
	if detail.ScopeDocs, err = env.Store.ListScopeDocuments(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
