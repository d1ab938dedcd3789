// logging.go wires the reactor package's structured logging into
// github.com/joeycumines/logiface, with github.com/joeycumines/izerolog
// (over github.com/rs/zerolog) as the default backend.
//
// Design: a package-level logger, swappable via SetLogger, lets every
// EventLoop, Connection, Server and WorkerPool emit structured events
// without threading a logger through every constructor.

package reactor

import (
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = newDefaultLogger()
)

func newDefaultLogger() *logiface.Logger[*izerolog.Event] {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](izerolog.L.WithZerolog(zl))
}

// SetLogger replaces the package-level logger used by every reactor
// component. Pass nil to restore the default console logger.
func SetLogger(l *logiface.Logger[*izerolog.Event]) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		logger = newDefaultLogger()
		return
	}
	logger = l
}

// Log returns the current package-level logger.
func Log() *logiface.Logger[*izerolog.Event] {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// logPanic reports a recovered panic from a task, timer or callback.
// Callbacks crossing into user code must never take down the loop
// goroutine, so this only logs; it never re-panics.
func logPanic(category string, loopID uint64, r any) {
	panicErr := &PanicError{Value: r, Stack: debug.Stack()}
	Log().Err().
		Str("category", category).
		Uint64("loop_id", loopID).
		Err(panicErr).
		Log("reactor: recovered panic in callback")
}
