package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrExecution is wrapped by every fault raised while running a snippet
var ErrExecution = errors.New("execution fault")

// ExecutionError describes a fault raised by snippet code
type ExecutionError struct {
	Name    string // TypeError, SyntaxError, ...; empty for non-Error throws
	Message string
	Line    int // 1-based line in the snippet, 0 if unknown
	Column  int
	Async   bool // raised after the first await
}

func (e *ExecutionError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// Unwrap makes errors.Is(err, ErrExecution) hold
func (e *ExecutionError) Unwrap() error {
	return ErrExecution
}

// Location renders the snippet position as "line:col"
func (e *ExecutionError) Location() string {
	if e.Line <= 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", e.Line, e.Column)
}

// fromValue converts a thrown or rejected JS value
func fromValue(vm *goja.Runtime, v goja.Value) *ExecutionError {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return &ExecutionError{Message: "undefined"}
	}
	if obj, ok := v.(*goja.Object); ok {
		name, msg := obj.Get("name"), obj.Get("message")
		if msg != nil && !goja.IsUndefined(msg) {
			e := &ExecutionError{Message: msg.String()}
			if name != nil && !goja.IsUndefined(name) {
				e.Name = name.String()
			}
			return e
		}
	}
	return &ExecutionError{Message: v.String()}
}

// fromError converts an error returned by a goja call
func fromError(vm *goja.Runtime, err error) *ExecutionError {
	var (
		ex  *goja.Exception
		ie  *goja.InterruptedError
		out *ExecutionError
	)
	switch {
	case errors.As(err, &ie):
		return &ExecutionError{Name: "InterruptedError", Message: fmt.Sprint(ie.Value())}
	case errors.As(err, &ex):
		out = fromValue(vm, ex.Value())
		for _, frame := range ex.Stack() {
			pos := frame.Position()
			if pos.Filename == snippetFile && pos.Line > snippetLineOffset {
				out.Line = pos.Line - snippetLineOffset
				out.Column = pos.Column
				break
			}
		}
		return out
	case errors.As(err, &out):
		return out
	}
	return &ExecutionError{Name: "Error", Message: strings.TrimSpace(err.Error())}
}

// fromPanic converts a Go panic raised inside a host binding
func fromPanic(x any) *ExecutionError {
	return &ExecutionError{Name: "InternalError", Message: fmt.Sprint(x)}
}
