package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/codecrow/branchanalyzer/internal/orchestrator"
	"github.com/codecrow/branchanalyzer/internal/progress"
)

// runServe starts the HTTP server that accepts analysis requests and
// streams their progress to any attached `watch` clients, following the
// teacher's runServe shape: signal.NotifyContext for graceful shutdown,
// build everything up front, then block on <-ctx.Done().
func runServe(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to .branchanalyzer/config.yaml")
	addrOverride := fs.String("addr", "", "listen address, overrides config.yaml's server.addr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(*configPath, logger)
	if err != nil {
		return err
	}
	defer app.DB.Close()

	addr := app.Config.Server.Addr
	if *addrOverride != "" {
		addr = *addrOverride
	}

	broadcaster := progress.NewBroadcaster(logger)
	pool := orchestrator.NewPool(app.Orch, app.Config.Server.MaxWorkers, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", handleAnalyze(app, pool, broadcaster, logger))
	mux.HandleFunc("/watch", broadcaster.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down server", "error", err)
		}
		pool.Wait()
		return nil
	case err := <-errCh:
		return err
	}
}

type analyzeRequest struct {
	Project   string `json:"project"`
	Branch    string `json:"branch"`
	Commit    string `json:"commit"`
	PrNumber  int64  `json:"prNumber"`
}

// handleAnalyze dispatches a POST body onto the worker pool and returns
// immediately with 202; the caller watches /watch for progress and the
// eventual result.
func handleAnalyze(app *App, pool *orchestrator.Pool, broadcaster *progress.Broadcaster, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
			return
		}
		if body.Project == "" || body.Branch == "" || body.Commit == "" {
			http.Error(w, "project, branch and commit are required", http.StatusBadRequest)
			return
		}

		project, err := app.DB.GetProjectByName(body.Project)
		if err != nil {
			http.Error(w, fmt.Sprintf("unknown project %q", body.Project), http.StatusNotFound)
			return
		}

		req := orchestratorRequest(project.ID, body.Branch, body.Commit, body.PrNumber)
		err = pool.Dispatch(context.WithoutCancel(r.Context()), req, broadcaster, func(result orchestrator.Result, procErr error) {
			if procErr != nil {
				logger.Error("dispatched analysis failed", "project", body.Project, "branch", body.Branch, "error", procErr)
				broadcaster.Emit(progress.Event{"type": "analysis_failed", "project": body.Project, "branch": body.Branch, "error": procErr.Error()})
				return
			}
			broadcaster.Emit(progress.Event{"type": "analysis_complete", "project": body.Project, "branch": body.Branch, "status": result.Status})
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}
