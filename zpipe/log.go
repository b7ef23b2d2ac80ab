package zpipe

import (
	"fmt"
	"time"

	"github.com/twinj/uuid"
)

type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var (
	// Verbose is set when we want to be exceptionally verbose.
	Verbose bool

	mode ModeFlag = InfoMode
)

// Logger provides a way for the application to log messages at different severities.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf and records the text as a log
	// message at Debug level.
	Debugf(format string, args ...interface{})

	// Infof is like Debugf, but at Info level.
	Infof(format string, args ...interface{})

	// Warningf is like Debugf, but at Warning level.
	Warningf(format string, args ...interface{})

	// Errorf is like Debugf, but at Error level.
	Errorf(format string, args ...interface{})

	// Criticalf is like Debugf, but at Critical level.
	Criticalf(format string, args ...interface{})

	// Shutdown makes sure logs are closed.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed.
// For example, SetLogMode(zpipe.WarningMode) will log any calls using
// Warningf, Errorf, or Criticalf.  To turn off all logging, use SilentMode.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

// LogMode returns the current severity threshold.
func LogMode() ModeFlag {
	return mode
}

func Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if mode <= CriticalMode {
		logger.Criticalf(format, args...)
	}
}

// RequestLog tags every message with a request id and appends the elapsed time
// since the request began.
// Example:
//     rlog := NewRequestLog("read")
//     ...
//     rlog.Debugf("fetched %d chunks", n)  // "[read 3f2a...] fetched 12 chunks: 1.2ms"
type RequestLog struct {
	ID    string
	op    string
	start time.Time
}

// NewRequestLog starts a request log for the named operation.
func NewRequestLog(op string) RequestLog {
	return RequestLog{
		ID:    fmt.Sprintf("%x", uuid.NewV4().Bytes())[:8],
		op:    op,
		start: time.Now(),
	}
}

// Elapsed returns the time since the request log was created.
func (r RequestLog) Elapsed() time.Duration {
	return time.Since(r.start)
}

func (r RequestLog) prefix(format string) string {
	return "[" + r.op + " " + r.ID + "] " + format + ": %s\n"
}

func (r RequestLog) Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		logger.Debugf(r.prefix(format), append(args, r.Elapsed())...)
	}
}

func (r RequestLog) Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		logger.Infof(r.prefix(format), append(args, r.Elapsed())...)
	}
}

func (r RequestLog) Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		logger.Warningf(r.prefix(format), append(args, r.Elapsed())...)
	}
}

func (r RequestLog) Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		logger.Errorf(r.prefix(format), append(args, r.Elapsed())...)
	}
}
