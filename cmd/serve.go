package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

	"github.com/sells-group/docflow/internal/catalog"
	"github.com/sells-group/docflow/internal/events"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/notify"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		var publisher notify.Publisher = notify.Nop{}
		if cfg.Events.OutputDestination != "" {
			publisher = notify.NewWebhook(10 * time.Second)
		}
		processor := events.NewProcessor(env.Engine, env.Store, publisher, events.Options{
			Event:             cfg.Events.Event,
			OutputDestination: cfg.Events.OutputDestination,
			ResultPrefix:      cfg.Events.ResultPrefix,
			ResultBaseURI:     cfg.Events.ResultBaseURI,
			DLQPrefix:         cfg.Events.DLQPrefix,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      newRouter(env, processor),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
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

// newRouter builds the HTTP API.
func newRouter(env *appEnv, processor *events.Processor) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/extract", func(w http.ResponseWriter, req *http.Request) {
		var extReq model.ExtractionRequest
		if err := json.NewDecoder(req.Body).Decode(&extReq); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := env.Engine.Run(req.Context(), &extReq)
		if err != nil {
			status, msg := extractionStatus(err)
			zap.L().Warn("extract request failed",
				zap.String("profile", extReq.ProfilePath),
				zap.Int("status", status),
				zap.Error(err),
			)
			writeError(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/profiles", func(w http.ResponseWriter, req *http.Request) {
		prefix := req.URL.Query().Get("prefix")
		includeVersions := req.URL.Query().Get("versions") == "true"
		descs, err := env.Catalog.List(req.Context(), prefix, includeVersions)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "profile listing failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"profiles": descs})
	})

	r.Get("/profiles/*", func(w http.ResponseWriter, req *http.Request) {
		path := chi.URLParam(req, "*")
		profile, err := resolveProfile(req, env, path)
		if err != nil {
			if errors.Is(err, model.ErrProfileNotFound) {
				writeError(w, http.StatusNotFound, "profile not found: "+path)
				return
			}
			writeError(w, http.StatusInternalServerError, "profile resolution failed")
			return
		}
		writeJSON(w, http.StatusOK, profile)
	})

	r.Post("/events/{event}", func(w http.ResponseWriter, req *http.Request) {
		event := chi.URLParam(req, "event")
		body, err := readBody(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable request body")
			return
		}

		ack, err := processor.Handle(req.Context(), event, body)
		if err != nil {
			var vErr *model.ValidationError
			if errors.As(err, &vErr) {
				// Malformed deliveries are acked so the broker does
				// not redeliver them.
				writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": vErr.Error()})
				return
			}
			zap.L().Error("event processing failed",
				zap.String("event", event),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "event processing failed")
			return
		}
		writeJSON(w, http.StatusOK, ack)
	})

	r.Get("/dlq", func(w http.ResponseWriter, req *http.Request) {
		filter := resilience.DLQFilter{ErrorType: req.URL.Query().Get("error_type")}
		if limit := req.URL.Query().Get("limit"); limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = n
		}
		entries, err := processor.DeadLetters(req.Context(), filter)
		if err != nil {
			zap.L().Error("dlq listing failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "dlq listing failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	})

	r.Post("/dlq/{id}/replay", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		ack, err := processor.ReplayDeadLetter(req.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "dlq entry not found: "+id)
			case errors.Is(err, events.ErrReplayExhausted):
				writeError(w, http.StatusConflict, "dlq entry has exhausted its retry budget")
			default:
				zap.L().Error("dlq replay failed", zap.String("id", id), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "dlq replay failed")
			}
			return
		}
		writeJSON(w, http.StatusOK, ack)
	})

	return r
}

func resolveProfile(req *http.Request, env *appEnv, path string) (*model.Profile, error) {
	base, version := catalog.SplitVersion(path)
	return env.Catalog.Resolve(req.Context(), base, version)
}

func extractionStatus(err error) (int, string) {
	var vErr *model.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, vErr.Error()
	}
	var uErr *model.UnsupportedFileTypeError
	if errors.As(err, &uErr) {
		return http.StatusUnsupportedMediaType, uErr.Error()
	}
	if errors.Is(err, model.ErrProfileNotFound) {
		return http.StatusNotFound, err.Error()
	}
	return http.StatusInternalServerError, "extraction failed"
}

func readBody(req *http.Request) ([]byte, error) {
	defer req.Body.Close()
	return io.ReadAll(io.LimitReader(req.Body, 10<<20))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
