package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	logger     zerolog.Logger
	loggerOnce sync.Once
)

// initLogger initializes the global logger to write human-readable lines
// to stderr.
func initLogger() {
	loggerOnce.Do(func() {
		logger = newLogger(os.Stderr)
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
}

func newLogger(w io.Writer) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano, NoColor: true}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetOutput redirects log lines to w.
func SetOutput(w io.Writer) {
	initLogger()
	logger = newLogger(w)
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case LevelError:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// ParseLevel maps a config value such as "debug" onto a Level. Unknown
// values map to LevelInfo.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelError:
		return LevelError
	}
	return LevelInfo
}

func Debug(msg string, kv ...any) {
	initLogger()
	write(logger.Debug(), msg, kv)
}

func Info(msg string, kv ...any) {
	initLogger()
	write(logger.Info(), msg, kv)
}

func Error(msg string, err error, kv ...any) {
	initLogger()
	write(logger.Error().Err(err), msg, kv)
}

// write attaches kv as key/value pairs. A trailing key without a value is
// ignored.
func write(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	if len(kv)%2 == 1 {
		kv = kv[:len(kv)-1]
	}
	if len(kv) > 0 {
		ev = ev.Fields(kv)
	}
	ev.Msg(msg)
}
