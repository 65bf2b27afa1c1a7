package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
)

// levelEnv overrides the level of loggers made by New:
//
//	export RPCXBENCH_LOG_LEVEL=debug
const levelEnv = "RPCXBENCH_LOG_LEVEL"

// Level orders messages by severity; a logger prints its level and below.
type Level int32

const (
	LvError Level = iota
	LvWarn
	LvInfo
	LvDebug
)

var levelNames = map[string]Level{
	"error":   LvError,
	"warn":    LvWarn,
	"warning": LvWarn,
	"info":    LvInfo,
	"debug":   LvDebug,
}

// ParseLevel accepts a level name or number. Numbers above debug mean debug.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if lv, ok := levelNames[s]; ok {
		return lv, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return LvInfo, fmt.Errorf("invalid log level %q, want debug, info, warn or error", s)
	}
	return min(Level(n), LvDebug), nil
}

// StdLogger prints through a standard library logger, prefixing every
// line with a colored level tag.
type StdLogger struct {
	out   *log.Logger
	level atomic.Int32
	tags  [LvDebug + 1]string
}

// New returns a StdLogger writing to w at level lv, or at the level named by
// RPCXBENCH_LOG_LEVEL when that is set and valid.
func New(w io.Writer, lv Level) *StdLogger {
	if env, ok := os.LookupEnv(levelEnv); ok {
		if parsed, err := ParseLevel(env); err == nil {
			lv = parsed
		}
	}

	l := &StdLogger{
		out: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		tags: [...]string{
			LvError: color.RedString("ERROR"),
			LvWarn:  color.YellowString("WARN "),
			LvInfo:  color.GreenString("INFO "),
			LvDebug: color.CyanString("DEBUG"),
		},
	}
	l.SetLevel(lv)
	return l
}

// SetLevel changes which messages are printed.
func (l *StdLogger) SetLevel(lv Level) { l.level.Store(int32(lv)) }

// Enabled reports whether messages at lv are printed.
func (l *StdLogger) Enabled(lv Level) bool { return lv <= Level(l.level.Load()) }

func (l *StdLogger) logf(lv Level, format string, v []any) {
	if !l.Enabled(lv) {
		return
	}
	l.out.Print(l.tags[lv], " ", fmt.Sprintf(format, v...))
}

func (l *StdLogger) Debugf(format string, v ...any) { l.logf(LvDebug, format, v) }
func (l *StdLogger) Infof(format string, v ...any)  { l.logf(LvInfo, format, v) }
func (l *StdLogger) Warnf(format string, v ...any)  { l.logf(LvWarn, format, v) }
func (l *StdLogger) Errorf(format string, v ...any) { l.logf(LvError, format, v) }
