package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

func writeJSON(w http.ResponseWriter, v any) {
	raw, err := codec.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	raw, _ := codec.Marshal(map[string]string{"error": msg})
	_, _ = w.Write(raw)
}

const maxBody = 1 << 20

func readAll(r *http.Request) []byte {
	b, _ := io.ReadAll(io.LimitReader(r.Body, maxBody))
	return b
}

// fail maps err onto its status code.
func fail(w http.ResponseWriter, err error) {
	writeErr(w, errs.HTTPStatus(err), err.Error())
}

func pathID(r *http.Request, name string) (snowflake.ID, error) {
	return parseID(chi.URLParam(r, name), name)
}

func queryID(r *http.Request, name string) (snowflake.ID, error) {
	return parseID(r.URL.Query().Get(name), name)
}

func parseID(code, name string) (snowflake.ID, error) {
	if code == "" {
		return 0, errs.Invalid("api.parse", "%s is required", name)
	}
	id, err := snowflake.Decode(code)
	if err != nil {
		return 0, errs.Invalid("api.parse", "%s: %v", name, err)
	}
	return id, nil
}

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSE(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by %T", w)
	}
	// A stream outlives any server write deadline.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	return &sseWriter{w: w, flusher: f}, nil
}

func (s *sseWriter) open() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseWriter) event(name string, data any) error {
	raw, err := codec.Marshal(data)
	if err != nil {
		return err
	}
	s.open()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) comment(text string) error {
	s.open()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
