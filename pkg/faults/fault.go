package faults

import (
	"fmt"
)

// Fault is a violated invariant. It is raised with Raise and must not be
// treated as a recoverable result.
type Fault struct {
	Class   Class
	Message string
	Details map[string]interface{}
}

// Error implements the error interface so a recovered fault can be logged and
// matched with errors.As.
func (f *Fault) Error() string {
	return fmt.Sprintf("fault [%s]: %s", f.Class, f.Message)
}

// Raise panics with a *Fault of the given class.
func Raise(class Class, format string, args ...interface{}) {
	panic(&Fault{
		Class:   class,
		Message: fmt.Sprintf(format, args...),
	})
}

// RaiseWith panics with the given fault.
func RaiseWith(f *Fault) {
	panic(f)
}

// Recover runs fn and returns the *Fault it raised, or nil if fn returned
// normally. Panics that are not faults are propagated unchanged.
func Recover(fn func()) (fault *Fault) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		f, ok := r.(*Fault)
		if !ok {
			panic(r)
		}
		fault = f
	}()
	fn()
	return nil
}
