package logger

import (
	"io"
	"log/slog"

	slogsampling "github.com/samber/slog-sampling"
)

type LoggerOptions struct {
	Level      slog.Level
	AddSource  bool
	Writer     io.Writer
	TimeFormat string
	Color      *bool
	Sampling   *slogsampling.ThresholdSamplingOption
	Handlers   []slog.Handler
}

type LoggerOption func(*LoggerOptions)

func (o *LoggerOptions) apply(opts ...LoggerOption) {
	for _, op := range opts {
		op(o)
	}
}

func WithLogLevel(l slog.Level) LoggerOption {
	return func(o *LoggerOptions) {
		o.Level = l
	}
}

func WithWriter(w io.Writer) LoggerOption {
	return func(o *LoggerOptions) {
		o.Writer = w
	}
}

func WithAddSource(addSource bool) LoggerOption {
	return func(o *LoggerOptions) {
		o.AddSource = addSource
	}
}

func WithTimeFormat(format string) LoggerOption {
	return func(o *LoggerOptions) {
		o.TimeFormat = format
	}
}

// WithColor forces colored output on or off instead of detecting terminal support.
func WithColor(enabled bool) LoggerOption {
	return func(o *LoggerOptions) {
		o.Color = &enabled
	}
}

// WithSampling drops repeated records past the threshold within each tick.
func WithSampling(cfg *slogsampling.ThresholdSamplingOption) LoggerOption {
	return func(o *LoggerOptions) {
		o.Sampling = cfg
	}
}

// WithOneTimeSampling logs each distinct record at most once.
func WithOneTimeSampling() LoggerOption {
	return WithSampling(&slogsampling.ThresholdSamplingOption{
		Tick:      NoRepeatInterval,
		Threshold: 1,
		Rate:      0,
	})
}

// WithHandlers fans records out to additional handlers.
func WithHandlers(handlers ...slog.Handler) LoggerOption {
	return func(o *LoggerOptions) {
		o.Handlers = append(o.Handlers, handlers...)
	}
}
