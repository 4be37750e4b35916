// Package apperr is the error taxonomy shared by every layer of the service.
//
// Components build an *Error at the point of failure, labelled with the
// component or operation that produced it. Errors already in taxonomy form
// pass through higher layers unchanged; translation into a transport
// response happens once, at the boundary, via Render.
package apperr

import (
	"errors"
	"fmt"
	"runtime"
)

type Kind string

const (
	KindBadRequest          Kind = "BAD_REQUEST"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindUnprocessableEntity Kind = "UNPROCESSABLE_ENTITY"
	KindTooManyRequests     Kind = "TOO_MANY_REQUESTS"
	KindInternal            Kind = "INTERNAL_SERVER_ERROR"
	KindBadGateway          Kind = "BAD_GATEWAY"
	KindServiceUnavailable  Kind = "SERVICE_UNAVAILABLE"
)

// Payload type tags stored under Data["type"].
const (
	TypeValidation     = "validation_error"
	TypeDatabase       = "database_error"
	TypeAuthentication = "authentication_error"
	TypeAuthorization  = "authorization_error"
)

type Error struct {
	Kind    Kind
	Message string
	// Context names the component or operation that produced the error.
	Context string
	Data    map[string]any
	Headers map[string]string
	Cause   error

	stack []uintptr
}

type Option func(*Error)

func WithData(data map[string]any) Option {
	return func(e *Error) {
		if len(data) == 0 {
			return
		}
		if e.Data == nil {
			e.Data = make(map[string]any, len(data))
		}
		for k, v := range data {
			e.Data[k] = v
		}
	}
}

func WithHeader(key, value string) Option {
	return func(e *Error) {
		if e.Headers == nil {
			e.Headers = make(map[string]string)
		}
		e.Headers[key] = value
	}
}

func WithCause(cause error) Option {
	return func(e *Error) {
		e.Cause = cause
	}
}

func New(kind Kind, message, context string, opts ...Option) *Error {
	e := &Error{
		Kind:    kind,
		Message: message,
		Context: context,
	}
	for _, opt := range opts {
		opt(e)
	}

	var pcs [32]uintptr
	n := runtime.Callers(2, pcs[:])
	e.stack = pcs[:n]

	return e
}

func (e *Error) Error() string {
	if e.Context == "" {
		return e.Message
	}
	return fmt.Sprintf("[%s] %s", e.Context, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Type returns the payload type tag, or "" when none was set.
func (e *Error) Type() string {
	if e.Data == nil {
		return ""
	}
	t, _ := e.Data["type"].(string)
	return t
}

// Stack formats the call stack captured when the error was built.
func (e *Error) Stack() string {
	if len(e.stack) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(e.stack)
	var out []byte
	for {
		frame, more := frames.Next()
		out = fmt.Appendf(out, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return string(out)
}

func BadRequest(message, context string, opts ...Option) *Error {
	return New(KindBadRequest, message, context, opts...)
}

func Unauthorized(message, context string, opts ...Option) *Error {
	return New(KindUnauthorized, message, context, opts...)
}

func Forbidden(message, context string, opts ...Option) *Error {
	return New(KindForbidden, message, context, opts...)
}

func NotFound(message, context string, opts ...Option) *Error {
	return New(KindNotFound, message, context, opts...)
}

func Conflict(message, context string, opts ...Option) *Error {
	return New(KindConflict, message, context, opts...)
}

func UnprocessableEntity(message, context string, opts ...Option) *Error {
	return New(KindUnprocessableEntity, message, context, opts...)
}

func TooManyRequests(message, context string, opts ...Option) *Error {
	return New(KindTooManyRequests, message, context, opts...)
}

func Internal(message, context string, cause error, opts ...Option) *Error {
	return New(KindInternal, message, context, append(opts, WithCause(cause))...)
}

func BadGateway(message, context string, opts ...Option) *Error {
	return New(KindBadGateway, message, context, opts...)
}

func ServiceUnavailable(message, context string, opts ...Option) *Error {
	return New(KindServiceUnavailable, message, context, opts...)
}

// Validation reports bad input. It always maps to UnprocessableEntity and
// tags the payload with type validation_error.
func Validation(message, context string, details map[string]any) *Error {
	data := map[string]any{"type": TypeValidation}
	if len(details) > 0 {
		data["validationErrors"] = details
	}
	return New(KindUnprocessableEntity, message, context, WithData(data))
}

// Database wraps a storage failure. The cause is kept for logs and is never
// part of the rendered message.
func Database(message, context string, cause error) *Error {
	return New(KindInternal, message, context,
		WithCause(cause),
		WithData(map[string]any{"type": TypeDatabase}),
	)
}

func Authentication(message, context string) *Error {
	return New(KindUnauthorized, message, context, WithData(map[string]any{"type": TypeAuthentication}))
}

func Authorization(message, context string) *Error {
	return New(KindForbidden, message, context, WithData(map[string]any{"type": TypeAuthorization}))
}

// From extracts the taxonomy error from err's chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for anything outside the taxonomy.
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
