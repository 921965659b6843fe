package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	dailyLayout   = "20060102"
	instantLayout = "20060102150405"
)

// intervalRotatingWriter opens <dir>/<base>.log.<stamp> and moves to a new file once RotateInterval
// has passed. Intervals of a day or more use a date stamp, shorter ones a full timestamp.
type intervalRotatingWriter struct {
	mu   sync.Mutex
	dir  string
	base string
	rc   *RotateConfig

	file     *os.File
	openedAt time.Time
}

func newIntervalRotatingWriter(dir, base string, rc *RotateConfig) (*intervalRotatingWriter, error) {
	if rc == nil || rc.RotateInterval <= 0 {
		return nil, fmt.Errorf("invalid rotate interval: %v", rc)
	}
	w := &intervalRotatingWriter{dir: dir, base: base, rc: rc}
	if err := w.rotate(time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *intervalRotatingWriter) layout() string {
	if w.rc.RotateInterval >= 24*time.Hour {
		return dailyLayout
	}
	return instantLayout
}

func (w *intervalRotatingWriter) prefix() string { return w.base + ".log." }

func (w *intervalRotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if now := time.Now(); now.Sub(w.openedAt) >= w.rc.RotateInterval {
		if err := w.rotate(now); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *intervalRotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// rotate must be called with mu held (or before the writer is shared).
func (w *intervalRotatingWriter) rotate(now time.Time) error {
	if w.file != nil {
		_ = w.file.Sync()
		_ = w.file.Close()
	}
	path := filepath.Join(w.dir, w.prefix()+now.Format(w.layout()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("open rotated log file: %w", err)
	}
	w.file, w.openedAt = f, now
	if w.rc.CleanupEnabled && w.rc.MaxAge > 0 {
		w.removeOlderThan(now.Add(-w.rc.MaxAge))
	}
	return nil
}

func (w *intervalRotatingWriter) removeOlderThan(cutoff time.Time) {
	matches, err := filepath.Glob(filepath.Join(w.dir, w.prefix()+"*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		stamp := strings.TrimPrefix(filepath.Base(path), w.prefix())
		var layout string
		switch len(stamp) {
		case len(dailyLayout):
			layout = dailyLayout
		case len(instantLayout):
			layout = instantLayout
		default:
			continue
		}
		at, err := time.ParseInLocation(layout, stamp, time.Local)
		if err != nil {
			continue
		}
		if at.Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}
