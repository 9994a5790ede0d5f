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

	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/report"
	"github.com/sells-group/signal-outcomes/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only reporting API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "serve")
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
			Handler:           buildRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// buildRouter wires the read-only API over st.
func buildRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			zap.L().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/report", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		horizon, err := intParam(q.Get("horizon"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid horizon")
			return
		}
		minOutcomes, err := intParam(q.Get("min_outcomes"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_outcomes")
			return
		}
		opts, err := reportOptions(q.Get("since"), q.Get("until"), q.Get("symbol"), horizon, minOutcomes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rep, err := report.Generate(r.Context(), st, opts)
		if err != nil {
			internalError(w, "generate report", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	r.Get("/outcomes", func(w http.ResponseWriter, r *http.Request) {
		filter, err := outcomeFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		outcomes, err := st.ListOutcomes(r.Context(), filter)
		if err != nil {
			internalError(w, "list outcomes", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(outcomes))
	})

	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := intParam(q.Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		runs, err := st.ListRuns(r.Context(), store.RunFilter{
			Kind:   model.RunKind(q.Get("kind")),
			Status: model.RunStatus(q.Get("status")),
			Limit:  limit,
		})
		if err != nil {
			internalError(w, "list runs", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(runs))
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := st.GetRun(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			internalError(w, "get run", err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Get("/prices/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		symbol := model.NormalizeSymbol(chi.URLParam(r, "symbol"))
		q := r.URL.Query()

		if date := q.Get("date"); date != "" {
			d, err := model.ParseDate(date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid date")
				return
			}
			l, err := st.GetPrice(r.Context(), symbol, d, cfg.Prices.LookbackDays)
			if err != nil {
				internalError(w, "get price", err)
				return
			}
			writeJSON(w, http.StatusOK, l)
			return
		}

		start, err := model.ParseDate(q.Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "start and end are required (YYYY-MM-DD) unless date is set")
			return
		}
		end, err := model.ParseDate(q.Get("end"))
		if err != nil || end.Before(start) {
			writeError(w, http.StatusBadRequest, "end must be a date on or after start")
			return
		}
		bars, err := st.GetRange(r.Context(), symbol, start, end)
		if err != nil {
			internalError(w, "get range", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(bars))
	})

	r.Get("/coverage", func(w http.ResponseWriter, r *http.Request) {
		cov, err := st.ListCoverage(r.Context())
		if err != nil {
			internalError(w, "list coverage", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(cov))
	})

	r.Get("/failures", func(w http.ResponseWriter, r *http.Request) {
		failures, err := st.ListFailures(r.Context())
		if err != nil {
			internalError(w, "list failures", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(failures))
	})

	return r
}

func outcomeFilter(r *http.Request) (model.OutcomeFilter, error) {
	q := r.URL.Query()
	f := model.OutcomeFilter{Symbol: model.NormalizeSymbol(q.Get("symbol"))}

	var err error
	if v := q.Get("since"); v != "" {
		if f.Since, err = model.ParseDate(v); err != nil {
			return f, fmt.Errorf("invalid since")
		}
	}
	if v := q.Get("until"); v != "" {
		if f.Until, err = model.ParseDate(v); err != nil {
			return f, fmt.Errorf("invalid until")
		}
	}
	if v := q.Get("complete"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid complete")
		}
		f.Complete = model.Bool(b)
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, fmt.Errorf("invalid limit")
	}
	return f, nil
}

// intParam parses an optional non-negative integer query value.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// nonNil makes empty results encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
