package safe

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"

	"collabgate/logger"
	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Used while wiring components in main.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts f in a goroutine that recovers and logs panics instead of
// crashing the process.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Run executes a long-lived task and turns a panic into an error so it can
// be returned to an errgroup.
func Run(ctx context.Context, name string, f func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("[safe] panic recovered",
				zap.String("task", name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()
	return f(ctx)
}

// Recover is meant to be deferred at the top of goroutines.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Log.Error("[safe] panic recovered",
			zap.String("task", name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
	}
}
