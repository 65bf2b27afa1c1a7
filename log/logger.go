// Package log is the leveled logger behind every rpcxbench package.
// Output goes to stderr at info level unless RPCXBENCH_LOG_LEVEL says otherwise.
package log

import (
	"os"
	"sync/atomic"
)

// Logger receives formatted messages at four levels.
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

type holder struct{ Logger }

var active atomic.Pointer[holder]

func init() {
	SetLogger(New(os.Stderr, LvInfo))
}

func current() Logger { return active.Load().Logger }

// SetLogger replaces the package logger. It is safe to call while other
// goroutines are logging.
func SetLogger(l Logger) {
	active.Store(&holder{l})
}

// SetDummyLogger discards everything.
func SetDummyLogger() {
	SetLogger(discard{})
}

// SetLevel changes the level of the default logger.
// A logger installed with SetLogger keeps its own filtering.
func SetLevel(lv Level) {
	if l, ok := current().(*StdLogger); ok {
		l.SetLevel(lv)
	}
}

func Debugf(format string, v ...any) { current().Debugf(format, v...) }
func Infof(format string, v ...any)  { current().Infof(format, v...) }
func Warnf(format string, v ...any)  { current().Warnf(format, v...) }
func Errorf(format string, v ...any) { current().Errorf(format, v...) }

type discard struct{}

func (discard) Debugf(string, ...any) {}
func (discard) Infof(string, ...any)  {}
func (discard) Warnf(string, ...any)  {}
func (discard) Errorf(string, ...any) {}
