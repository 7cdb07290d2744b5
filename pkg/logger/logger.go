package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	errKey = "err"
)

var (
	DefaultLogLevel             = slog.LevelDebug
	DefaultWriter     io.Writer = os.Stdout
	DefaultAddSource            = true
	NoRepeatInterval            = 3600 * time.Hour // arbitrarily long time to denote one-time sampling
	DefaultTimeFormat           = "2006 Jan 02 15:04:05"
)

type noAllocErr struct{ error }

func Err(e error) slog.Attr {
	if e != nil {
		e = noAllocErr{e}
	}
	return slog.Any(errKey, e)
}

// ParseLevel accepts slog level names case-insensitively, with an optional offset ("debug", "WARN+2").
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return DefaultLogLevel, fmt.Errorf("invalid log level '%s' : %w", s, err)
	}
	return level, nil
}

func newOptions(opts ...LoggerOption) *LoggerOptions {
	o := &LoggerOptions{
		Level:      DefaultLogLevel,
		AddSource:  DefaultAddSource,
		Writer:     DefaultWriter,
		TimeFormat: DefaultTimeFormat,
	}
	o.apply(opts...)
	if o.Writer == nil {
		o.Writer = io.Discard
	}
	return o
}

func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func New(opts ...LoggerOption) *slog.Logger {
	return slog.New(colorHandlerWithOptions(newOptions(opts...)))
}
