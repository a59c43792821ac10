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

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/compintel/internal/ingest"
	"github.com/sells-group/compintel/internal/reconcile"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for ingest, reconciliation, and quality queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		limiter := rate.NewLimiter(rate.Limit(cfg.Server.IngestRPS), cfg.Server.IngestBurst)
		mux := buildMux(env, limiter)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			grace := time.Duration(cfg.Server.ShutdownGrace) * time.Second
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildMux wires the API routes. The limiter guards ingest endpoints so a
// runaway collector cannot flood the observation log.
func buildMux(env *appEnv, limiter *rate.Limiter) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /observations", func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil && !limiter.Allow() {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		var req ingest.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		obs, err := env.ingestor.Submit(r.Context(), req)
		if err != nil {
			http.Error(w, jsonError(err), http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusCreated, obs)
	})

	mux.HandleFunc("POST /reconcile", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EntityID    string `json:"entity_id"`
			FieldKey    string `json:"field_key"`
			All         bool   `json:"all"`
			Concurrency int    `json:"concurrency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		if req.All {
			concurrency := req.Concurrency
			if concurrency == 0 {
				concurrency = cfg.Reconcile.Concurrency
			}
			result, err := env.reconciler.Sweep(r.Context(), concurrency)
			if err != nil {
				http.Error(w, jsonError(err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}

		if req.EntityID == "" || req.FieldKey == "" {
			http.Error(w, `{"error":"entity_id and field_key are required"}`, http.StatusBadRequest)
			return
		}

		consensus, err := env.reconciler.Reconcile(r.Context(), req.EntityID, req.FieldKey)
		if err != nil {
			if eris.Is(err, reconcile.ErrNoObservations) {
				http.Error(w, `{"error":"no observations for key"}`, http.StatusNotFound)
				return
			}
			http.Error(w, jsonError(err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, consensus)
	})

	mux.HandleFunc("GET /consensus", func(w http.ResponseWriter, r *http.Request) {
		entity := r.URL.Query().Get("entity")
		field := r.URL.Query().Get("field")

		switch {
		case entity != "" && field != "":
			c, err := env.store.GetConsensus(r.Context(), entity, field)
			if err != nil {
				http.Error(w, jsonError(err), http.StatusInternalServerError)
				return
			}
			if c == nil {
				http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, c)

		case entity != "":
			list, err := env.store.ListConsensus(r.Context(), entity)
			if err != nil {
				http.Error(w, jsonError(err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, list)

		default:
			threshold := 40.0
			if raw := r.URL.Query().Get("below"); raw != "" {
				parsed, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					http.Error(w, `{"error":"invalid below parameter"}`, http.StatusBadRequest)
					return
				}
				threshold = parsed
			}
			limit := 50
			if raw := r.URL.Query().Get("limit"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil {
					http.Error(w, `{"error":"invalid limit parameter"}`, http.StatusBadRequest)
					return
				}
				limit = parsed
			}
			list, err := env.store.ListLowConfidence(r.Context(), threshold, limit)
			if err != nil {
				http.Error(w, jsonError(err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, list)
		}
	})

	mux.HandleFunc("GET /quality/{entity}", func(w http.ResponseWriter, r *http.Request) {
		snap, err := env.quality.Snapshot(r.Context(), r.PathValue("entity"))
		if err != nil {
			http.Error(w, jsonError(err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("GET /quality", func(w http.ResponseWriter, r *http.Request) {
		corpus, err := env.quality.Corpus(r.Context())
		if err != nil {
			http.Error(w, jsonError(err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, corpus)
	})

	mux.HandleFunc("POST /corrections", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EntityID  string `json:"entity_id"`
			FieldKey  string `json:"field_key"`
			Value     string `json:"value"`
			Reason    string `json:"reason"`
			EnteredBy string `json:"entered_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.EntityID == "" || req.FieldKey == "" || req.Value == "" {
			http.Error(w, `{"error":"entity_id, field_key, and value are required"}`, http.StatusBadRequest)
			return
		}

		consensus, err := env.reconciler.RecordCorrection(r.Context(), req.EntityID, req.FieldKey, req.Value, req.Reason, req.EnteredBy)
		if err != nil {
			http.Error(w, jsonError(err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, consensus)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func jsonError(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
