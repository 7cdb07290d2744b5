package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"time"

	supportscolor "github.com/jwalton/go-supportscolor"
	slogmulti "github.com/samber/slog-multi"
	"github.com/ttacon/chalk"
)

func levelColor(l slog.Level) chalk.Color {
	switch {
	case l >= slog.LevelError:
		return chalk.Red
	case l >= slog.LevelWarn:
		return chalk.Yellow
	case l >= slog.LevelInfo:
		return chalk.Green
	default:
		return chalk.Blue
	}
}

func colorEnabled(o *LoggerOptions) bool {
	if o.Color != nil {
		return *o.Color
	}
	if o.Writer != os.Stdout {
		return false
	}
	return supportscolor.Stdout().SupportsColor
}

var levels = []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}

// colorWriter paints the level token of each record. The text handler emits one record per Write.
type colorWriter struct {
	w io.Writer
}

func (c colorWriter) Write(p []byte) (int, error) {
	out := p
	for _, l := range levels {
		token := []byte(slog.LevelKey + "=" + l.String() + " ")
		if i := bytes.Index(p, token); i >= 0 {
			colored := slog.LevelKey + "=" + levelColor(l).Color(l.String()) + " "
			out = append(append(append([]byte{}, p[:i]...), colored...), p[i+len(token):]...)
			break
		}
	}
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func replaceTime(o *LoggerOptions) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey {
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.Format(o.TimeFormat))
			}
		}
		return a
	}
}

func colorHandlerWithOptions(o *LoggerOptions) slog.Handler {
	w := o.Writer
	if colorEnabled(o) {
		w = colorWriter{w: w}
	}
	var handler slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource:   o.AddSource,
		Level:       o.Level,
		ReplaceAttr: replaceTime(o),
	})
	if o.Sampling != nil {
		handler = slogmulti.Pipe(o.Sampling.NewMiddleware()).Handler(handler)
	}
	if len(o.Handlers) > 0 {
		handler = slogmulti.Fanout(append([]slog.Handler{handler}, o.Handlers...)...)
	}
	return handler
}
