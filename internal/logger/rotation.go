package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupTimeFormat sorts lexically in time order.
const backupTimeFormat = "20060102T150405.000000000"

// RotationConfig controls when a RotatingWriter starts a new file and how
// many old ones it keeps. Backups are named <stem>-<timestamp><ext>, e.g.
// crew-20261018T101500.000000000.log, with .gz appended when compressed.
type RotationConfig struct {
	Filename   string
	MaxBytes   int64         // rotate before a write would exceed this; <= 0 never rotates
	MaxAge     time.Duration // backups older than this are removed; 0 keeps all
	MaxBackups int           // newest backups kept; 0 keeps all
	Compress   bool
}

// RotatingWriter is an io.WriteCloser over a size-rotated log file. It is
// safe for concurrent use; task goroutines share one run logger.
type RotatingWriter struct {
	mu   sync.Mutex
	cfg  RotationConfig
	file *os.File
	size int64

	// compression and pruning of rotated files run in the background
	pending sync.WaitGroup
	now     func() time.Time
}

// NewRotatingWriter opens cfg.Filename for appending, creating its directory,
// and removes backups that are already past the retention limits.
func NewRotatingWriter(cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log file name is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{cfg: cfg, now: time.Now}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push a non-empty file past
// MaxBytes. A single record larger than MaxBytes still lands in one file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.cfg.MaxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.cfg.MaxBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Rotate moves the current file aside and starts an empty one.
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	return w.rotateLocked()
}

func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	backup := w.backupName()
	if err := os.Rename(w.cfg.Filename, backup); err != nil {
		if openErr := w.open(); openErr != nil {
			return openErr
		}
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		if w.cfg.Compress {
			_ = compressFile(backup)
		}
		w.prune()
	}()
	return nil
}

func (w *RotatingWriter) backupName() string {
	stem, ext := splitName(w.cfg.Filename)
	ts := w.now().UTC()
	for {
		name := stem + "-" + ts.Format(backupTimeFormat) + ext
		if !exists(name) && !exists(name+".gz") {
			return name
		}
		ts = ts.Add(time.Nanosecond)
	}
}

// Close closes the current file and waits for background compression.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.pending.Wait()
	return err
}

// Backups lists rotated files, oldest first.
func (w *RotatingWriter) Backups() []string {
	stem, ext := splitName(w.cfg.Filename)
	matches, err := filepath.Glob(stem + "-*" + ext + "*")
	if err != nil {
		return nil
	}

	prefix := filepath.Base(stem) + "-"
	backups := matches[:0]
	for _, m := range matches {
		rest := strings.TrimPrefix(filepath.Base(m), prefix)
		if rest == "" || rest[0] < '0' || rest[0] > '9' {
			continue
		}
		backups = append(backups, m)
	}
	sort.Strings(backups)
	return backups
}

// prune removes backups beyond MaxBackups or older than MaxAge.
func (w *RotatingWriter) prune() {
	backups := w.Backups()

	if w.cfg.MaxBackups > 0 && len(backups) > w.cfg.MaxBackups {
		for _, path := range backups[:len(backups)-w.cfg.MaxBackups] {
			os.Remove(path)
		}
		backups = backups[len(backups)-w.cfg.MaxBackups:]
	}

	if w.cfg.MaxAge <= 0 {
		return
	}
	cutoff := w.now().Add(-w.cfg.MaxAge)
	for _, path := range backups {
		info, err := os.Stat(path)
		if err == nil && info.ModTime().Before(cutoff) {
			os.Remove(path)
		}
	}
}

func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func splitName(filename string) (string, string) {
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext), ext
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
