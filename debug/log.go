package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

var (
	file    *os.File
	mu      sync.Mutex
	enabled bool
	logger  = charmlog.New(io.Discard)
)

const timeFormat = "15:04:05.000"

// Enable starts debug logging to ~/.config/go-maestro/debug.log
func Enable() error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dir := filepath.Join(homeDir, ".config", "go-maestro")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	file = f
	enableLocked(f, charmlog.DebugLevel)

	// Write directly (can't call Log - we hold the mutex)
	logger.With("category", "debug").Info("=== Debug logging started ===")
	return nil
}

// EnableWriter routes debug output to w (stderr for headless and bridge runs).
func EnableWriter(w io.Writer, level string) error {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	enableLocked(w, lvl)
	return nil
}

func enableLocked(w io.Writer, level charmlog.Level) {
	logger = charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
		Level:           level,
	})
	enabled = true
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}
	logger = charmlog.New(io.Discard)
	enabled = false
}

// Enabled reports whether any sink is attached.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Log writes a message to the debug log
func Log(category, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled {
		return
	}

	logger.With("category", category).Debug(fmt.Sprintf(format, args...))
	if file != nil {
		file.Sync() // flush immediately so we see logs even on crash
	}
}

// Logger returns a structured logger tagged with category. A logger taken
// before Enable keeps discarding.
func Logger(category string) *charmlog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger.With("category", category)
}

// LogEvery logs only every N calls (use for high-frequency events)
var counters = make(map[string]int)

func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if count%n == 0 || count == 1 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}
