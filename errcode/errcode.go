package errcode

import (
	"errors"

	"ade7880-go/drivers/ade7880"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	Busy           Code = "busy"
	NotReady       Code = "not_ready"
	InitFailed     Code = "init_failed"
	Transport      Code = "transport"
	ShortRead      Code = "short_read"
	VerifyMismatch Code = "verify_mismatch"
	InvalidParams  Code = "invalid_params"
	UnknownChannel Code = "unknown_channel"
	AlreadyRunning Code = "already_running"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to MapDriverErr.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return MapDriverErr(err)
}

// MapDriverErr maps ADE7880 driver errors to a Code. Start-up step failures
// map to InitFailed regardless of the transport cause.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	var se *ade7880.StepError
	switch {
	case errors.As(err, &se):
		return InitFailed
	case errors.Is(err, ade7880.ErrBusy):
		return Busy
	case errors.Is(err, ade7880.ErrRunning):
		return AlreadyRunning
	case errors.Is(err, ade7880.ErrNotRunning), errors.Is(err, ade7880.ErrNotArmed):
		return NotReady
	case errors.Is(err, ade7880.ErrShortRead):
		return ShortRead
	case errors.Is(err, ade7880.ErrTransport):
		return Transport
	case errors.Is(err, ade7880.ErrInvalidConfig), errors.Is(err, ade7880.ErrInvalidGain):
		return InvalidParams
	case errors.Is(err, ade7880.ErrUnknownChannel):
		return UnknownChannel
	}
	return Error
}
