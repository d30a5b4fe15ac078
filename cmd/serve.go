package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/careops/triage-cli/internal/resilience"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for assessment runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.ValidateAPI(); err != nil {
			return err
		}
		p := newPipeline(cfg)

		// Set up routes
		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		mux.HandleFunc("POST /webhook/assess", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				DryRun bool `json:"dry_run"`
			}
			// An empty body means a default run.
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}

			// Run the assessment asynchronously
			go func() {
				result, err := p.Run(ctx, req.DryRun)
				if err != nil {
					zap.L().Error("webhook assessment failed",
						zap.Bool("transient", resilience.IsTransient(err)),
						zap.Error(err),
					)
					return
				}
				zap.L().Info("webhook assessment complete",
					zap.String("run_id", result.RunID.String()),
					zap.Int("high_risk", len(result.Results.HighRiskPatients)),
					zap.Int("fever", len(result.Results.FeverPatients)),
					zap.Int("data_quality", len(result.Results.DataQualityIssues)),
				)
			}()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "accepted",
			})
		})

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
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
