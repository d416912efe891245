// Package logger is the structured logging facade used by the hub, the
// broker and the transports. Arguments after msg are key/value pairs.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/rs/zerolog"

	fslog "github.com/friflo/fliox.go/pkg/logger/slog"
)

const (
	permission = 0664
)

type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// New returns a Logger writing through a log/slog handler.
func New(h slog.Handler) Logger {
	return fslog.New(h)
}

// With returns l adding args to every record. Loggers of other packages are
// returned unchanged.
func With(l Logger, args ...any) Logger {
	switch l := l.(type) {
	case *fslog.Logger:
		return l.With(args...)
	case *Zerolog:
		return l.With(args...)
	}
	return l
}

// Named tags every record of l with the component writing it.
func Named(l Logger, component string) Logger {
	return With(l, "component", component)
}

// Discard drops every record.
func Discard() Logger {
	return New(slog.NewTextHandler(io.Discard, nil))
}

// Zerolog adapts a zerolog.Logger.
type Zerolog struct {
	Logger zerolog.Logger
	file   *os.File
}

// NewZerolog writes JSON lines to w.
func NewZerolog(w io.Writer) *Zerolog {
	return &Zerolog{Logger: zerolog.New(w).With().Timestamp().Logger()}
}

// NewZerologFile appends JSON lines to the file at path.
func NewZerologFile(path string) (*Zerolog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
	if err != nil {
		return nil, err
	}
	z := NewZerolog(zerolog.SyncWriter(f))
	z.file = f
	return z, nil
}

// Level filters records below level.
func (z *Zerolog) Level(level zerolog.Level) *Zerolog {
	z.Logger = z.Logger.Level(level)
	return z
}

// With returns a logger adding args to every record. Closing it does not
// close the file of z.
func (z *Zerolog) With(args ...any) *Zerolog {
	return &Zerolog{Logger: z.Logger.With().Fields(args).Logger()}
}

func (z *Zerolog) Close() error {
	if z.file == nil {
		return nil
	}
	return z.file.Close()
}

func (z *Zerolog) Error(msg string, args ...any) {
	z.Logger.Error().Fields(args).Msg(msg)
}

func (z *Zerolog) Warn(msg string, args ...any) {
	z.Logger.Warn().Fields(args).Msg(msg)
}

func (z *Zerolog) Info(msg string, args ...any) {
	z.Logger.Info().Fields(args).Msg(msg)
}

func (z *Zerolog) Debug(msg string, args ...any) {
	z.Logger.Debug().Fields(args).Msg(msg)
}
