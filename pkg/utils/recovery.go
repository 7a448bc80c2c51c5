package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// ErrPanic marks an error produced from a recovered panic.
var ErrPanic = errors.New("panic recovered")

// RecoverFn is a function that handles a recovered panic
type RecoverFn func(r interface{}, stack []byte)

// SafeGo executes the given function in a goroutine with panic recovery
func SafeGo(fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if onPanic != nil {
					onPanic(r, stack)
					return
				}
				logPanic(logger.Log, "[panic] Recovered from panic in goroutine", r, stack)
			}
		}()
		fn()
	}()
}

// WrapWithContextRecovery turns a panic inside fn into an error wrapping
// ErrPanic. The panic is logged with the context logger, so run fields
// stay attached.
func WrapWithContextRecovery(fn func(ctx context.Context) error) func(ctx context.Context) (err error) {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(logger.FromContext(ctx), "[panic] Recovered from panic", r, debug.Stack())
				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		return fn(ctx)
	}
}

func logPanic(log *zap.Logger, msg string, r interface{}, stack []byte) {
	if log == nil {
		// Fallback to printing to stderr if logger isn't available
		fmt.Fprintf(os.Stderr, "[PANIC] %s: %v\n%s\n", msg, r, stack)
		return
	}
	log.Error(msg, zap.Any("panic", r), zap.ByteString("stack", stack))
}
