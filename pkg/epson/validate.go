package epson

import (
	"context"
	"log/slog"

	"github.com/ivanvanderbyl/epson-projector/pkg/escvp"
)

type Status int

const (
	StatusConnected Status = iota
	StatusUnreachable
	StatusPoweredOff
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusUnreachable:
		return "unreachable"
	case StatusPoweredOff:
		return "powered off"
	}
	return "unknown"
}

// Result of validating a projector. Session is only set when Status is
// StatusConnected.
type Result struct {
	Session Session
	Status  Status
	Power   string
	Cause   error
}

func (r Result) OK() bool {
	return r.Status == StatusConnected
}

// Err maps the status to ErrCannotConnect or ErrPoweredOff, or nil when connected.
func (r Result) Err() error {
	switch r.Status {
	case StatusUnreachable:
		if r.Cause != nil {
			return &connectError{cause: r.Cause}
		}
		return ErrCannotConnect
	case StatusPoweredOff:
		return ErrPoweredOff
	}
	return nil
}

// connectError is ErrCannotConnect carrying the underlying failure, so both
// errors.Is(err, ErrCannotConnect) and errors.Is(err, cause) hold.
type connectError struct {
	cause error
}

func (e *connectError) Error() string {
	return ErrCannotConnect.Error() + ": " + e.cause.Error()
}

func (e *connectError) Is(target error) bool {
	return target == ErrCannotConnect
}

func (e *connectError) Unwrap() error {
	return e.cause
}

func (e *connectError) Cause() error {
	return e.cause
}

type Validator struct {
	Open Opener
}

func NewValidator(open Opener) *Validator {
	if open == nil {
		open = OpenTCP
	}
	return &Validator{Open: open}
}

// Validate opens a session to host. With checkPoweredOn it reads the power
// property once and classifies the projector as unreachable or powered off.
// Without it no I/O is attempted and any session that opens is returned.
func (v *Validator) Validate(ctx context.Context, host string, checkPoweredOn bool) Result {
	session, err := v.Open(host)
	if err != nil {
		return Result{Status: StatusUnreachable, Cause: err}
	}

	if !checkPoweredOn {
		return Result{Session: session, Status: StatusConnected}
	}

	power, err := session.GetProperty(ctx, escvp.PropertyPower)
	slog.DebugContext(ctx, "Power retrieved", "host", host, "power", power, "error", err)

	if err != nil || power == "" || power == escvp.StateUnavailable {
		session.Close()
		return Result{Status: StatusUnreachable, Power: power, Cause: err}
	}

	if power == PowerOffCode {
		slog.DebugContext(ctx, "Projector is off", "host", host)
		session.Close()
		return Result{Status: StatusPoweredOff, Power: power}
	}

	return Result{Session: session, Status: StatusConnected, Power: power}
}
