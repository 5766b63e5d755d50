// Package logger is the process-wide logger.
//
// The printf-style API is kept deliberately small (Debug, Info, Warn, Error)
// and is backed by zerolog, which provides levels, a human console format
// and a JSON format for log shippers.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// Config selects the level, format and destination of the logger.
type Config struct {
	// Level is DEBUG, INFO, WARN or ERROR.
	Level string

	// Format is "text" (console) or "json".
	Format string

	// Output is "stdout", "stderr" or a file path (opened in append mode).
	Output string
}

const timeFormat = "2006-01-02 15:04:05"

var (
	current atomic.Pointer[zerolog.Logger]
	level   atomic.Int32

	// mu serializes Configure so two callers cannot leak an output file.
	mu     sync.Mutex
	output io.Closer
)

func init() {
	level.Store(int32(LevelInfo))
	SetOutput(os.Stdout, "text")
}

// Configure applies cfg. A previously opened log file is closed.
func Configure(cfg Config) error {
	if cfg.Level != "" {
		lvl, err := ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		level.Store(int32(lvl))
	}

	var w io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}

	format := strings.ToLower(cfg.Format)
	if format != "" && format != "text" && format != "json" {
		if closer != nil {
			_ = closer.Close()
		}
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	mu.Lock()
	defer mu.Unlock()

	SetOutput(w, format)
	if output != nil {
		_ = output.Close()
	}
	output = closer

	return nil
}

// SetOutput redirects the logger to w using the given format ("text" or
// "json"). Tests use it to capture output.
func SetOutput(w io.Writer, format string) {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: timeFormat}
	}

	l := zerolog.New(w).With().Timestamp().Logger()
	current.Store(&l)
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	if lvl, err := ParseLevel(name); err == nil {
		level.Store(int32(lvl))
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(level.Load())
}

// IsDebugEnabled reports whether debug messages are emitted, so callers can
// skip building expensive arguments.
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func log(lvl Level, format string, v ...any) {
	if lvl < GetLevel() {
		return
	}

	current.Load().WithLevel(lvl.zerolog()).Msgf(format, v...)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
