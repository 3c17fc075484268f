package utils

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the app-wide leveled logger handed to services and workers.
type Logger struct {
	l *charmlog.Logger
}

func NewLogger() *Logger {
	return &Logger{l: charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})}
}

func (lg *Logger) Debugf(format string, args ...any) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Debugf(format, args...)
}

func (lg *Logger) Infof(format string, args ...any) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Infof(format, args...)
}

func (lg *Logger) Warnf(format string, args ...any) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Warnf(format, args...)
}

func (lg *Logger) Errorf(format string, args ...any) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Errorf(format, args...)
}
