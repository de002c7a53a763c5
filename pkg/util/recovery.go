package util

import (
	"fmt"
	"runtime"
)

const maxStacksize = 8 * 1024

// PanicError carries a recovered panic value and the stack of the
// panicking goroutine.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func panicError(p interface{}) error {
	stack := make([]byte, maxStacksize)
	stack = stack[:runtime.Stack(stack, false)]
	return &PanicError{Value: p, Stack: stack}
}

// RecoverPanic is a helper function to recover from panic and return an error.
func RecoverPanic(f func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = panicError(p)
			}
		}()
		return f()
	}
}
