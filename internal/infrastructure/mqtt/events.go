package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Level is the severity of an Event.
type Level int

// Event severities, lowest first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// slogLevel maps the event level onto log/slog.
func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Event is a structured diagnostic emitted by the Connector.
//
// Attrs holds alternating key/value pairs in the same form accepted by
// slog.Logger.Info and friends.
type Event struct {
	Time    time.Time
	Level   Level
	Message string
	Attrs   []any
}

// Attr returns the value stored under key, or nil.
func (e Event) Attr(key string) any {
	for i := 0; i+1 < len(e.Attrs); i += 2 {
		if k, ok := e.Attrs[i].(string); ok && k == key {
			return e.Attrs[i+1]
		}
	}
	return nil
}

// LogCallback receives every Event emitted by a Connector.
//
// It is called synchronously from whichever goroutine produced the event,
// so it must be safe for concurrent use and should return quickly.
type LogCallback func(Event)

// emitter delivers events to at most one registered callback.
// Registration and emission are lock-free; the latest registration wins.
type emitter struct {
	cb atomic.Pointer[LogCallback]

	// fallback receives the single diagnostic written when a callback panics.
	fallback func(format string, args ...any)
}

func newEmitter() *emitter {
	return &emitter{
		fallback: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		},
	}
}

// set replaces the callback. A nil callback disables emission.
func (e *emitter) set(cb LogCallback) {
	if cb == nil {
		e.cb.Store(nil)
		return
	}
	e.cb.Store(&cb)
}

func (e *emitter) emit(level Level, msg string, attrs ...any) {
	p := e.cb.Load()
	if p == nil {
		return
	}

	ev := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Attrs:   attrs,
	}
	defer func() {
		if r := recover(); r != nil {
			e.diagnose(msg, r)
		}
	}()
	(*p)(ev)
}

// diagnose reports a panicking callback once, outside the callback path.
// Anything raised by the fallback itself is swallowed.
func (e *emitter) diagnose(msg string, r any) {
	defer func() { _ = recover() }()
	if e.fallback != nil {
		e.fallback("mqtt: log callback panicked while handling %q: %v", msg, r)
	}
}

func (e *emitter) debug(msg string, attrs ...any) { e.emit(LevelDebug, msg, attrs...) }
func (e *emitter) info(msg string, attrs ...any)  { e.emit(LevelInfo, msg, attrs...) }
func (e *emitter) warn(msg string, attrs ...any)  { e.emit(LevelWarning, msg, attrs...) }
func (e *emitter) err(msg string, attrs ...any)   { e.emit(LevelError, msg, attrs...) }

// SlogCallback returns a LogCallback that writes events to logger.
//
// Example:
//
//	connector.SetLogCallback(mqtt.SlogCallback(logger.Logger))
func SlogCallback(logger *slog.Logger) LogCallback {
	return func(ev Event) {
		logger.Log(context.Background(), ev.Level.slogLevel(), ev.Message, ev.Attrs...)
	}
}
