package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/model"
	"github.com/sells-group/knowledge-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server for ingest and resume requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildMux(env),
		}

		go drainOnSignal(ctx, srv, 15*time.Second)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// drainOnSignal shuts srv down once ctx ends. The signal context is already
// cancelled at that point, so draining in-flight requests gets a fresh
// deadline.
func drainOnSignal(ctx context.Context, srv *http.Server, timeout time.Duration) {
	<-ctx.Done()
	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("server shutdown", zap.Error(err))
	}
}

func buildMux(env *pipelineEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /webhook/ingest", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FilePath  string `json:"file_path"`
			DatasetID string `json:"dataset_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.FilePath == "" {
			http.Error(w, `{"error":"file_path is required"}`, http.StatusBadRequest)
			return
		}

		// Runs inline: the response carries the final or suspended state,
		// including the pending review question.
		state, err := env.Pipeline.Start(r.Context(), req.FilePath, req.DatasetID)
		if err != nil && state == nil {
			zap.L().Error("webhook ingest failed", zap.String("file", req.FilePath), zap.Error(err))
			http.Error(w, `{"error":"ingest failed"}`, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, sessionResponse(state))
	})

	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		state, err := env.Store.LoadSession(r.Context(), r.PathValue("id"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"load session failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, state)
	})

	mux.HandleFunc("POST /sessions/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Answer string `json:"answer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Answer == "" {
			http.Error(w, `{"error":"answer is required"}`, http.StatusBadRequest)
			return
		}

		state, err := env.Pipeline.Resume(r.Context(), r.PathValue("id"), req.Answer)
		if err != nil && state == nil {
			if eris.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"resume failed"}`, http.StatusConflict)
			return
		}

		writeJSON(w, http.StatusOK, sessionResponse(state))
	})

	return mux
}

func sessionResponse(state *model.PipelineState) map[string]any {
	resp := map[string]any{
		"session_id": state.SessionID,
		"status":     state.Status,
		"phase":      state.Phase,
	}
	if state.Status == model.SessionStatusSuspended {
		resp["pending_question"] = state.PendingQuestion
		resp["pending_review_type"] = state.PendingReviewType
	}
	if state.ErrorMessage != "" {
		resp["error_message"] = state.ErrorMessage
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
