package async

import "runtime/debug"

// PanicLogger is the minimal logging surface needed to report recovered
// panics. It is satisfied by internal/shared/logging.Logger.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Recover is meant to be deferred directly. It swallows a panic and logs it
// together with the stack when a logger is available.
func Recover(logger PanicLogger, name string) {
	r := recover()
	if r == nil {
		return
	}
	if logger == nil {
		return
	}
	logger.Error("goroutine panic [%s]: %v\n%s", name, r, debug.Stack())
}
