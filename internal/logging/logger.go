package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultBufferSize = 1000

// Logger is the subset of *slog.Logger that helpers such as the process
// wrapper need.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config selects the global level, output format and per-module overrides.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mutex           sync.RWMutex
	globalConfig    Config
	isInitialized   bool
	globalLevelVar  = &slog.LevelVar{}
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	logBuffer       *RingBuffer
	logCallback     LogCallback
)

// Initialize applies config. Loggers handed out earlier keep their handlers
// and only move to their new levels.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true
	logBuffer = NewRingBuffer(defaultBufferSize)

	globalLevelVar.Set(globalLevelLocked())
	for module, levelVar := range moduleLevelVars {
		levelVar.Set(levelForLocked(module))
	}

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevelVar)))
}

// GetBuffer returns the ring buffer of recent entries.
func GetBuffer() *RingBuffer {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer
}

// SetLogCallback registers fn for every new entry; nil removes it.
func SetLogCallback(fn LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = fn
}

// GetLogger returns the logger for module, creating it on first use. Every
// record carries module=<name>.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := moduleLoggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(levelForLocked(module))

	format := "text"
	if isInitialized {
		format = globalConfig.Format
	}
	logger = slog.New(createHandler(format, levelVar)).With("module", module)

	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// SetModuleLevel changes a module's level at runtime. An empty level resets
// the module to the global level. The setting also applies to a module whose
// logger has not been created yet.
func SetModuleLevel(module, level string) error {
	if level != "" {
		if _, ok := parseLevel(level); !ok {
			return fmt.Errorf("unknown log level %q", level)
		}
	}

	mutex.Lock()
	defer mutex.Unlock()

	if level == "" {
		delete(globalConfig.Modules, module)
	} else {
		if globalConfig.Modules == nil {
			globalConfig.Modules = make(map[string]string)
		}
		globalConfig.Modules[module] = level
	}

	if levelVar, ok := moduleLevelVars[module]; ok {
		levelVar.Set(levelForLocked(module))
	}
	return nil
}

func globalLevelLocked() slog.Level {
	if level, ok := parseLevel(globalConfig.Level); ok {
		return level
	}
	return slog.LevelInfo
}

// levelForLocked resolves a module's level: its valid override, else the
// global level. Unknown override names fall back silently.
func levelForLocked(module string) slog.Level {
	if level, ok := parseLevel(globalConfig.Modules[module]); ok {
		return level
	}
	return globalLevelLocked()
}

// createHandler fans records out to stdout, the journal when reachable and
// the ring buffer. level is shared so runtime changes reach every output.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	journalOK := IsJournalAvailable()

	var handlers []slog.Handler
	if stdoutUsable() && !(journalOK && stdoutIsJournal()) {
		handlers = append(handlers, stdout)
	}
	if journalOK {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// stdoutUsable reports whether stdout goes somewhere readable: a terminal,
// pipe, socket or regular file.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}
