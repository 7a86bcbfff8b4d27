package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/atlas"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only JSON view of the match store",
	Long: "Exposes the store audit, the reduction ledger, and the atlas " +
		"summary over HTTP for dashboards and scripted checks. The server " +
		"never writes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		mux.HandleFunc("GET /tables", func(w http.ResponseWriter, r *http.Request) {
			status, err := auditStore(r.Context(), st)
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, status)
		})

		mux.HandleFunc("GET /ledger", func(w http.ResponseWriter, r *http.Request) {
			entries, err := st.MetaList(r.Context())
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})

		mux.HandleFunc("GET /atlas", func(w http.ResponseWriter, r *http.Request) {
			path := atlasPath()
			if _, err := os.Stat(path); err != nil {
				http.Error(w, `{"error":"no atlas"}`, http.StatusNotFound)
				return
			}
			a, err := atlas.Open(path)
			if err != nil {
				httpError(w, err)
				return
			}
			defer a.Close() //nolint:errcheck
			info, err := summarizeAtlas(r.Context(), a)
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, info)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
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

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func httpError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	msg, _ := json.Marshal(map[string]string{"error": err.Error()})
	http.Error(w, string(msg), http.StatusInternalServerError)
}
