// Package telemetry wires the runtime and dispatcher packages up to
// structured, leveled logging, using github.com/joeycumines/logiface over a
// github.com/sirupsen/logrus backend.
package telemetry

import (
	"io"
	"os"

	"github.com/joeycumines/ilogrus"
	"github.com/joeycumines/logiface"
	"github.com/sirupsen/logrus"
)

type (
	// Event is the concrete logiface event type used throughout this repo.
	Event = ilogrus.Event

	// Logger is a leveled, structured logger bound to Event.
	Logger = logiface.Logger[*Event]

	// Fields is a mechanism for attaching contextual fields to a sub-logger,
	// see With.
	Fields = logiface.Context[*Event]
)

// Config controls construction of the root Logger.
type Config struct {
	// Level is a logrus level name: trace, debug, info, warning (or warn),
	// error, fatal or panic. Any other value, including "", selects "info".
	Level string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds the process-wide root Logger.
func New(cfg Config) *Logger {
	lr := logrus.New()
	lr.SetLevel(parseLevel(cfg.Level))
	if cfg.Output != nil {
		lr.SetOutput(cfg.Output)
	} else {
		lr.SetOutput(os.Stderr)
	}
	lr.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return logiface.New[*Event](
		ilogrus.WithLogrus(lr),
		logiface.WithLevel[*Event](toLogifaceLevel(lr.GetLevel())),
	)
}

// With returns a child logger with the given fields bound to every
// subsequent log line, mirroring TCP_LOG(tid, cid, ...) from the original
// C implementation's per-call-site context.
func With(l *Logger, fields map[string]any) *Logger {
	c := l.Clone()
	if c == nil {
		return l
	}
	for k, v := range fields {
		c = c.Field(k, v)
	}
	sub := c.Logger()
	if sub == nil {
		return l
	}
	return sub
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func toLogifaceLevel(level logrus.Level) logiface.Level {
	switch level {
	case logrus.TraceLevel:
		return logiface.LevelTrace
	case logrus.DebugLevel:
		return logiface.LevelDebug
	case logrus.InfoLevel:
		return logiface.LevelInformational
	case logrus.WarnLevel:
		return logiface.LevelWarning
	case logrus.ErrorLevel:
		return logiface.LevelError
	case logrus.FatalLevel:
		return logiface.LevelAlert
	case logrus.PanicLevel:
		return logiface.LevelEmergency
	default:
		return logiface.LevelInformational
	}
}
