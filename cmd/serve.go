package main

import (
	"context"
	"encoding/json"
	"errors"
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

	"github.com/sells-group/netprep/internal/model"
	"github.com/sells-group/netprep/internal/network"
	"github.com/sells-group/netprep/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run history and scenario banks over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("read"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// scenarioDetail is the JSON shape of a single scenario.
type scenarioDetail struct {
	Bank       string                   `json:"bank"`
	ID         int                      `json:"id"`
	Title      string                   `json:"title"`
	Stats      network.Stats            `json:"stats"`
	Attributes []network.ExtraAttribute `json:"attributes"`
}

// newRouter builds the HTTP API over st.
func newRouter(st store.Store, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			filter := store.RunFilter{
				Status: model.RunStatus(q.Get("status")),
				Bank:   q.Get("bank"),
				Limit:  50,
			}
			if raw := q.Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					writeError(w, http.StatusBadRequest, "limit must be a positive integer")
					return
				}
				filter.Limit = n
			}

			runs, err := st.ListRuns(req.Context(), filter)
			if err != nil {
				serverError(w, req, err)
				return
			}
			if runs == nil {
				runs = []model.Run{}
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/{runID}", func(w http.ResponseWriter, req *http.Request) {
			run, err := st.GetRun(req.Context(), chi.URLParam(req, "runID"))
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			if err != nil {
				serverError(w, req, err)
				return
			}
			phases, err := st.ListPhases(req.Context(), run.ID)
			if err != nil {
				serverError(w, req, err)
				return
			}
			writeJSON(w, http.StatusOK, runDetail{Run: run, PhaseLog: phases})
		})
	})

	r.Route("/banks/{bank}/scenarios", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			infos, err := st.ListScenarios(req.Context(), chi.URLParam(req, "bank"))
			if err != nil {
				serverError(w, req, err)
				return
			}
			if infos == nil {
				infos = []store.ScenarioInfo{}
			}
			writeJSON(w, http.StatusOK, infos)
		})

		r.Get("/{scenarioID}", func(w http.ResponseWriter, req *http.Request) {
			bank := chi.URLParam(req, "bank")
			id, err := strconv.Atoi(chi.URLParam(req, "scenarioID"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "scenario id must be an integer")
				return
			}

			sc, err := st.LoadScenario(req.Context(), bank, id)
			if err != nil {
				serverError(w, req, err)
				return
			}
			if sc == nil {
				writeError(w, http.StatusNotFound, "scenario not found")
				return
			}
			writeJSON(w, http.StatusOK, scenarioDetail{
				Bank:       bank,
				ID:         sc.ID,
				Title:      sc.Title,
				Stats:      sc.Stats(),
				Attributes: sc.ExtraAttributes(),
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func serverError(w http.ResponseWriter, req *http.Request, err error) {
	zap.L().Error("api request failed",
		zap.String("path", req.URL.Path),
		zap.String("request_id", middleware.GetReqID(req.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}
