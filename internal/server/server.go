// Package server serves a catalog of sudo I/O log sessions over HTTP: an
// index page, cast downloads and websocket replay.
package server

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sudocast/internal/catalog"
	"sudocast/internal/convert"
	"sudocast/pkg/httperror"
)

//go:embed templates/*
var templatesFS embed.FS

type Options struct {
	// Convert is used for cast downloads. Its Compression also applies to
	// replay.
	Convert convert.Options
	// Speed and IdleLimit configure websocket replay.
	Speed     float64
	IdleLimit time.Duration
}

type Server struct {
	catalog *catalog.Catalog
	opts    Options
	tmpl    *template.Template
}

func New(cat *catalog.Catalog, opts Options) (*Server, error) {
	funcMap := template.FuncMap{
		"formatDuration": formatDuration,
	}
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{
		catalog: cat,
		opts:    opts,
		tmpl:    tmpl,
	}, nil
}

// formatDuration formats seconds to a human-readable string such as
// "1m 5s". Durations under one second are shown as "0s".
func formatDuration(seconds float64) string {
	total := int(seconds)
	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	minutes := total / 60
	remainingSeconds := total % 60
	if minutes < 60 {
		if remainingSeconds > 0 {
			return fmt.Sprintf("%dm %ds", minutes, remainingSeconds)
		}
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	remainingMinutes := minutes % 60
	if remainingMinutes > 0 {
		return fmt.Sprintf("%dh %dm", hours, remainingMinutes)
	}
	return fmt.Sprintf("%dh", hours)
}

// formatStart shows an epoch timestamp in UTC and anything else verbatim.
func formatStart(start string) string {
	secs, err := strconv.ParseFloat(start, 64)
	if err != nil {
		return start
	}
	return time.Unix(int64(secs), 0).UTC().Format(time.RFC3339)
}

// handlerFunc is the signature of handlers that render a full response.
type handlerFunc func(context.Context, *http.Request) ([]byte, error)

// wrapHandler adapts a handlerFunc to http.HandlerFunc.
func (s *Server) wrapHandler(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := h(r.Context(), r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(data)
	}
}

// writeError answers with the status carried by err, rendered as an HTML
// page. Internal errors are logged with their details but only the status
// text is shown.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httperror.StatusCode(err)
	message := http.StatusText(status)
	var he httperror.HTTPError
	if errors.As(err, &he) {
		message = he.Message
	}
	slog.Error("HTTP handler error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err.Error())

	var buf bytes.Buffer
	title := http.StatusText(status)
	if title == "" {
		title = "Error"
	}
	if tmplErr := s.tmpl.ExecuteTemplate(&buf, "error.html", map[string]any{
		"StatusCode": status,
		"Title":      title,
		"Message":    message,
		"BasePath":   s.getBasePath(r),
	}); tmplErr != nil {
		http.Error(w, message, status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// loggingMiddleware logs each HTTP request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"bytes", wrapped.written,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(p)
	rw.written += int64(n)
	return n, err
}

// Hijack implements http.Hijacker to support WebSocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}

// Flush implements http.Flusher to support streaming
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.wrapHandler(s.handleIndex))
	mux.HandleFunc("GET /sessions/{id...}", s.wrapHandler(s.handleSession))
	mux.HandleFunc("GET /cast/{id...}", s.handleCast)
	mux.HandleFunc("GET /output/{id...}", s.handleOutput)
	mux.HandleFunc("GET /ws/{id...}", s.handleWebSocketReplay)
	mux.HandleFunc("GET /", s.wrapHandler(func(ctx context.Context, r *http.Request) ([]byte, error) {
		return nil, httperror.NotFound("page not found")
	}))

	return s.loggingMiddleware(mux)
}

func (s *Server) getBasePath(r *http.Request) string {
	// Check for reverse proxy header (standard convention)
	if prefix := r.Header.Get("X-Forwarded-Prefix"); prefix != "" {
		return strings.TrimSuffix(prefix, "/")
	}
	return ""
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "url", "http://"+addr, "root", s.catalog.Root())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
