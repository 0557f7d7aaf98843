// Package plog is the logging facade shared by the precacher, writer, and
// loader facade. It mirrors the call shape of rclone's fs.Debugf/Infof/
// Errorf — an object-prefixed, printf-style, leveled logger — backed by
// zap's sugared logger.
package plog

import (
	"fmt"

	"go.uber.org/zap"
)

var sugar = newSugar()

func newSugar() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

// SetLogger replaces the underlying zap logger, e.g. to install a
// development logger with human-friendly console output in the CLI
// harness.
func SetLogger(l *zap.Logger) {
	sugar = l.Sugar()
}

func subject(o any) string {
	if s, ok := o.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", o)
}

// Debugf logs a debug-level line scoped to subject o.
func Debugf(o any, format string, args ...any) {
	sugar.Debugf("%s: "+format, append([]any{subject(o)}, args...)...)
}

// Infof logs an info-level line scoped to subject o.
func Infof(o any, format string, args ...any) {
	sugar.Infof("%s: "+format, append([]any{subject(o)}, args...)...)
}

// Errorf logs an error-level line scoped to subject o.
func Errorf(o any, format string, args ...any) {
	sugar.Errorf("%s: "+format, append([]any{subject(o)}, args...)...)
}
