package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeConflict           = Code(codes.Aborted)
	CodeInternal           = Code(codes.Internal)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeFailedPrecondition: http.StatusPreconditionFailed,
	CodeConflict:           http.StatusConflict,
	CodeInternal:           http.StatusInternalServerError,
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %s, message: %s", codes.Code(e.Code), e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error carrying the same code, so callers can
// match on sentinels like ErrNotFound with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Sentinels for errors.Is matching. Never return these directly, wrap them with New.
var (
	ErrNotFound  = New(CodeNotFound)
	ErrForbidden = New(CodePermissionDenied)
	ErrBanned    = New(CodeFailedPrecondition)
)

// Is mirrors errors.Is so callers only need this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// NotFound is returned for unknown session ids.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, WithMessagef(format, args...))
}

// Forbidden is returned when a connection attempts an action its role does not allow.
// It is never surfaced to the caller.
func Forbidden(format string, args ...any) *Error {
	return New(CodePermissionDenied, WithMessagef(format, args...))
}

// Banned is returned when a banned player name attempts to join again.
func Banned(format string, args ...any) *Error {
	return New(CodeFailedPrecondition, WithMessagef(format, args...))
}

// Conflict is returned when an operation does not fit the current phase of the quiz,
// e.g. a second answer to the same question.
func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, WithMessagef(format, args...))
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithMessagef(format, args...))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
