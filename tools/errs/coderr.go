package errs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// CodeError is the error shape user-visible failures travel in. Code is stable
// across releases; Detail carries free-form context and never reaches clients
// verbatim in production builds.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := []string{fmt.Sprintf("[%d] %s", e.Code, e.Msg)}
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

// WithDetail returns a copy carrying extra detail; the receiver is unchanged
// so predefined errors stay pristine.
func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return c
}

// WrapMsg attaches detail and a stack in one go.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	return errors.WithStack(e.WithDetail(toString(msg, kv)))
}

// Wrap attaches a stack trace.
func (e *CodeError) Wrap() error {
	return errors.WithStack(e)
}

// Is lets errors.Is match on code.
func (e *CodeError) Is(target error) bool {
	var ce *CodeError
	if !errors.As(target, &ce) {
		return false
	}
	return e.Code == ce.Code
}

// AsCodeError unwraps err down to a *CodeError, or wraps unknown errors
// under ServerInternalError.
func AsCodeError(err error) *CodeError {
	if err == nil {
		return nil
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrInternal.WithDetail(err.Error())
}

func toString(msg string, kv []any) string {
	b := strings.Builder{}
	b.WriteString(msg)
	for i := 0; i < len(kv)-1; i += 2 {
		b.WriteString(fmt.Sprintf(" %v=%v", kv[i], kv[i+1]))
	}
	return b.String()
}

// New builds an ad hoc error with a stack.
func New(msg string, kv ...any) error {
	return errors.New(toString(msg, kv))
}

// Wrap adds a stack to err if it does not carry one yet.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}
