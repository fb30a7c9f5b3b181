package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/gorilla/websocket"

	"sudocast/internal/catalog"
	"sudocast/internal/convert"
	"sudocast/internal/replay"
	"sudocast/internal/sudolog"
	"sudocast/pkg/httperror"
	"sudocast/pkg/markdown"
)

func (s *Server) lookup(r *http.Request) (catalog.Entry, error) {
	e, err := s.catalog.Lookup(r.PathValue("id"))
	if errors.Is(err, catalog.ErrNotFound) {
		return e, httperror.Wrap(http.StatusNotFound, "session not found", err)
	}
	return e, err
}

func (s *Server) handleIndex(ctx context.Context, r *http.Request) ([]byte, error) {
	base := s.getBasePath(r)
	entries := s.catalog.List()

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := "ok"
		if e.Err != nil {
			status = "broken"
		}
		rows = append(rows, []string{
			markdown.Link(e.ID, base+"/sessions/"+e.ID),
			markdown.EscapeCell(formatStart(e.Metadata.Start)),
			markdown.EscapeCell(e.Metadata.User),
			markdown.EscapeCell(e.Metadata.Terminal),
			markdown.EscapeCell(e.Metadata.Command),
			formatDuration(e.Summary.Duration),
			string(e.OutputType),
			status,
		})
	}
	table := markdown.Table(
		[]string{"Session", "Start", "User", "Terminal", "Command", "Duration", "Output", "Status"},
		rows,
	)

	var buf bytes.Buffer
	err := s.tmpl.ExecuteTemplate(&buf, "index.html", map[string]any{
		"Root":     s.catalog.Root(),
		"Count":    len(entries),
		"Table":    template.HTML(markdown.RenderToHTML(table)),
		"BasePath": base,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleSession(ctx context.Context, r *http.Request) ([]byte, error) {
	e, err := s.lookup(r)
	if err != nil {
		return nil, err
	}
	base := s.getBasePath(r)

	rows := [][]string{
		{"Start", markdown.EscapeCell(formatStart(e.Metadata.Start))},
		{"User", markdown.EscapeCell(e.Metadata.User)},
		{"Group", markdown.EscapeCell(e.Metadata.Group)},
		{"Terminal", markdown.EscapeCell(e.Metadata.Terminal)},
		{"Home", markdown.EscapeCell(e.Metadata.Home)},
		{"Command", markdown.EscapeCell(e.Metadata.Command)},
		{"Records", strconv.Itoa(e.Summary.Records)},
		{"Output bytes", strconv.FormatInt(e.Summary.TotalBytes, 10)},
		{"Duration", formatDuration(e.Summary.Duration)},
		{"Output type", string(e.OutputType)},
	}
	if e.Err != nil {
		rows = append(rows, []string{"Error", markdown.EscapeCell(e.Err.Error())})
	}

	var buf bytes.Buffer
	err = s.tmpl.ExecuteTemplate(&buf, "session.html", map[string]any{
		"ID":       e.ID,
		"Details":  template.HTML(markdown.RenderToHTML(markdown.Table([]string{"Field", "Value"}, rows))),
		"Broken":   e.Err != nil,
		"BasePath": base,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// lazyWriter sets the response headers on the first write, so an error
// before any output can still be answered with an error page.
type lazyWriter struct {
	w           http.ResponseWriter
	contentType string
	filename    string
	started     bool
}

func (lw *lazyWriter) Write(p []byte) (int, error) {
	if !lw.started {
		lw.started = true
		lw.w.Header().Set("Content-Type", lw.contentType)
		if lw.filename != "" {
			lw.w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", lw.filename))
		}
		lw.w.WriteHeader(http.StatusOK)
	}
	return lw.w.Write(p)
}

func castFilename(id string) string {
	return path.Base(id) + ".cast"
}

// handleCast streams the session as an asciicast v1 document. Nothing is
// buffered beyond the cast writer's own buffer.
func (s *Server) handleCast(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookup(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	lw := &lazyWriter{w: w, contentType: "application/json", filename: castFilename(e.ID)}
	if _, err := convert.ToWriter(lw, e.Dir, s.opts.Convert); err != nil {
		if !lw.started {
			s.writeError(w, r, err)
			return
		}
		// The status line is gone; the client sees a truncated document.
		slog.Error("Cast stream failed", "id", e.ID, "error", err)
	}
}

// handleOutput streams the raw terminal output without timing.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookup(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := sudolog.Open(e.Dir, s.opts.Convert.Compression)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = sess.Close() }()

	out := replay.NewReader(sess).Output(r.Context())
	defer func() { _ = out.Close() }()

	lw := &lazyWriter{w: w, contentType: "application/octet-stream"}
	if _, err := io.Copy(lw, out); err != nil {
		if !lw.started {
			s.writeError(w, r, err)
			return
		}
		slog.Error("Output stream failed", "id", e.ID, "error", err)
	}
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		// The Origin must match the Host to prevent cross-site WebSocket
		// hijacking. Clients without Origin (not browsers) are allowed.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		if origin == "http://"+host || origin == "https://"+host {
			return true
		}
		slog.Warn("Rejected WebSocket connection from unauthorized origin", "origin", origin, "host", host)
		return false
	},
}

// wsWriter sends every write as one binary message. Terminal output need
// not be valid UTF-8, which text messages require.
type wsWriter struct {
	conn *websocket.Conn
}

func (ww wsWriter) Write(p []byte) (int, error) {
	if err := ww.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// handleWebSocketReplay plays the session to the client at the recorded
// pace. The replay stops when the client goes away.
func (s *Server) handleWebSocketReplay(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookup(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := sudolog.Open(e.Dir, s.opts.Convert.Compression)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = sess.Close() }()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer func() { _ = ws.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is needed to notice a close from the client.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := replay.NewReader(sess).Channel(ctx)
	player := &replay.Player{Speed: s.opts.Speed, IdleLimit: s.opts.IdleLimit}
	err = player.Play(ctx, events, wsWriter{conn: ws})
	cancel()
	replay.Drain(events)

	closeCode, reason := websocket.CloseNormalClosure, ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		slog.Debug("Replay stopped by client", "id", e.ID)
		return
	default:
		slog.Error("Replay failed", "id", e.ID, "error", err)
		closeCode, reason = websocket.CloseInternalServerErr, "replay failed"
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason))
}
