package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vitalhub/topicsync/internal/store"
	"github.com/vitalhub/topicsync/internal/topic"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API and run background sync jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var wg sync.WaitGroup
		startJob(ctx, &wg, "ingest", cfg.Sync.IngestInterval(), func(jobCtx context.Context) error {
			_, err := env.ingestor.Run(jobCtx)
			return err
		})
		startJob(ctx, &wg, "refresh", cfg.Sync.RefreshInterval(), func(jobCtx context.Context) error {
			_, err := env.refresher.Run(jobCtx)
			return err
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		wg.Wait()
		return nil
	},
}

// startJob runs fn on a fixed cadence. A mutex guarantees single-flight: a
// tick that fires while the previous pass is still running is dropped.
func startJob(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, fn func(context.Context) error) {
	var mu sync.Mutex

	runOnce := func() {
		if !mu.TryLock() {
			zap.L().Warn("previous pass still running, skipping tick", zap.String("job", name))
			return
		}
		defer mu.Unlock()

		start := time.Now()
		if err := fn(ctx); err != nil {
			zap.L().Error("background pass failed", zap.String("job", name), zap.Error(err))
			return
		}
		zap.L().Info("background pass finished",
			zap.String("job", name), zap.Duration("took", time.Since(start)))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		runOnce()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}

func newRouter(env *env) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/topics", func(r chi.Router) {
		r.Get("/", listTopics(env))
		r.Get("/search", searchTopics(env))
		r.Get("/types", listTypes(env))
		r.Get("/{name}", getTopic(env))
	})

	return r
}

type topicPage struct {
	Topics   []*topic.Topic `json:"topics"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

func listTopics(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		params, page := pageParams(req)
		params.Type = req.URL.Query().Get("type")

		topics, err := env.catalog.List(req.Context(), params)
		if err != nil {
			serverError(w, "list topics", err)
			return
		}
		total, err := env.catalog.Count(req.Context(), params.Type)
		if err != nil {
			serverError(w, "count topics", err)
			return
		}

		writeJSON(w, http.StatusOK, topicPage{
			Topics: topics, Total: total, Page: page, PageSize: params.Limit,
		})
	}
}

func searchTopics(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		query := req.URL.Query().Get("q")
		if query == "" {
			http.Error(w, `{"error":"q is required"}`, http.StatusBadRequest)
			return
		}
		params, page := pageParams(req)

		topics, err := env.catalog.Search(req.Context(), query, params)
		if err != nil {
			serverError(w, "search topics", err)
			return
		}
		total, err := env.catalog.SearchCount(req.Context(), query)
		if err != nil {
			serverError(w, "count search results", err)
			return
		}

		writeJSON(w, http.StatusOK, topicPage{
			Topics: topics, Total: total, Page: page, PageSize: params.Limit,
		})
	}
}

func listTypes(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		types, err := env.catalog.Types(req.Context())
		if err != nil {
			serverError(w, "list types", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"types": types})
	}
}

func getTopic(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")

		t, err := env.catalog.GetByName(req.Context(), name)
		if err != nil {
			serverError(w, "get topic", err)
			return
		}
		if t == nil {
			http.Error(w, `{"error":"topic not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func pageParams(req *http.Request) (store.ListParams, int) {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return store.ListParams{Offset: (page - 1) * size, Limit: size}, page
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func serverError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
