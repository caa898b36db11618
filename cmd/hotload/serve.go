package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/caffeineduck/hotload/executor"
	"github.com/caffeineduck/hotload/loader"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an HTTP server that loads scripts per request",
		Long: `Start an HTTP server that loads scripts on every request, so the
response always reflects the files as they are now.

Endpoints:
  POST   /load     Load a file under --root: {"path":"...","call":"...","args":[...]}
  POST   /run      Run source text: {"source":"...","path":"..."}
  GET    /health   Health check`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringP("addr", "a", ":8080", "Address to listen on")
	cmd.Flags().String("root", ".", "Directory /load paths are resolved under")
	return cmd
}

type loadRequest struct {
	Path string `json:"path"`
	Call string `json:"call,omitempty"`
	Args []any  `json:"args,omitempty"`
}

type runRequest struct {
	Source string `json:"source"`
	Path   string `json:"path,omitempty"`
}

type loadResponse struct {
	Exports    json.RawMessage `json:"exports,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := settings(cmd)
	if err != nil {
		return err
	}
	l, err := newLoader(cmd, cfg)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	root, _ := cmd.Flags().GetString("root")
	root, err = filepath.Abs(root)
	if err != nil {
		return err
	}

	logger := l.Executor().Logger()
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(l, root, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("listening", "addr", addr, "root", root)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newServer routes requests to l. Paths given to /load are confined to
// root.
func newServer(l *loader.Loader, root string, logger *log.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /load", func(w http.ResponseWriter, r *http.Request) {
		var req loadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Path == "" {
			http.Error(w, "path required", http.StatusBadRequest)
			return
		}

		start := time.Now()
		path := confine(root, req.Path)
		exports, err := l.Load(r.Context(), path)
		if err == nil && req.Call != "" {
			exports, err = exports.Get(req.Call).Call(req.Args...)
			if err != nil {
				err = fmt.Errorf("call %s: %w", req.Call, err)
			}
		}
		logger.Debug("load", "path", path, "err", err)
		writeResult(w, exports, err, time.Since(start))
	})

	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Source == "" {
			http.Error(w, "source required", http.StatusBadRequest)
			return
		}
		path := filepath.Join(root, "request.js")
		if req.Path != "" {
			path = confine(root, req.Path)
		}

		start := time.Now()
		exports, err := l.Run(r.Context(), path, req.Source)
		writeResult(w, exports, err, time.Since(start))
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return withRequestID(mux, logger)
}

// withRequestID tags every request with an ID, echoed in the X-Request-Id
// header and attached to the request's log lines.
func withRequestID(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

// confine maps p to a path under root. ".." cannot climb above root.
func confine(root, p string) string {
	clean := filepath.Clean("/" + strings.TrimPrefix(filepath.ToSlash(p), "/"))
	return filepath.Join(root, filepath.FromSlash(clean))
}

// writeResult always answers 200: a failing script is a result, not a
// transport error.
func writeResult(w http.ResponseWriter, exports executor.Exports, err error, d time.Duration) {
	resp := loadResponse{DurationMs: d.Milliseconds()}
	if err != nil {
		resp.Error = err.Error()
	} else if b, merr := json.Marshal(exports); merr != nil {
		resp.Error = merr.Error()
	} else {
		resp.Exports = b
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
