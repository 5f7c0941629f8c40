package ignition

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidModule    = errors.New("invalid deployment module")
	ErrForwardReference = errors.New("future referenced before declaration")
	ErrCycleFound       = errors.New("cycle detected")
)

// GraphError wraps module validation failures.
type GraphError struct {
	Kind   error
	Module string
	Msg    string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	prefix := e.Kind.Error()
	if e.Module != "" {
		prefix = fmt.Sprintf("%s %q", prefix, e.Module)
	}
	if e.Msg == "" {
		return prefix
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(module, format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidModule, Module: module, Msg: fmt.Sprintf(format, args...)}
}

func forwardRef(module, from, to string) error {
	return &GraphError{
		Kind:   ErrForwardReference,
		Module: module,
		Msg:    fmt.Sprintf("%s depends on %s which is not declared earlier in the module", from, to),
	}
}

func cycleError(module string, ids []string) error {
	return &GraphError{Kind: ErrCycleFound, Module: module, Msg: "unresolved: " + strings.Join(ids, ", ")}
}
