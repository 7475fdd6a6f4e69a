package fault

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an orchestration failure.
type Kind string

const (
	ReservationFailure    Kind = "ReservationFailure"
	ConsoleUnreachable    Kind = "ConsoleUnreachable"
	ConsoleTimeout        Kind = "ConsoleTimeout"
	IPAcquisitionFailed   Kind = "IPAcquisitionFailed"
	DeploymentStepFailure Kind = "DeploymentStepFailure"
	TestExecutionFailure  Kind = "TestExecutionFailure"
	ResultFetchFailure    Kind = "ResultFetchFailure"
	PowerFailure          Kind = "PowerFailure"
)

// Phase names the lifecycle step a failure happened in.
type Phase string

const (
	PhaseReserve Phase = "reserve"
	PhaseBoot    Phase = "boot"
	PhaseDeploy  Phase = "deploy"
	PhaseRun     Phase = "run"
	PhaseHarvest Phase = "harvest"
	PhaseReport  Phase = "report"
	PhaseRelease Phase = "release"
)

// Error attributes a failure to a board and a phase.
type Error struct {
	Kind  Kind
	Board string
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: board %s (%s)", e.Kind, e.Board, e.Phase)
	}
	return fmt.Sprintf("%s: board %s (%s): %v", e.Kind, e.Board, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an attributed error wrapping err.
func New(kind Kind, board string, phase Phase, err error) *Error {
	return &Error{Kind: kind, Board: board, Phase: phase, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, board string, phase Phase, format string, args ...any) *Error {
	return New(kind, board, phase, pkgerrors.Errorf(format, args...))
}

// Wrap annotates err with msg and attributes it. A nil err stays nil.
func Wrap(err error, kind Kind, board string, phase Phase, msg string) error {
	if err == nil {
		return nil
	}
	return New(kind, board, phase, pkgerrors.Wrap(err, msg))
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether any *Error in err's chain (including joined errors)
// has the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == kind {
		return true
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if Is(e, kind) {
				return true
			}
		}
	}
	if fe != nil && fe.Err != nil {
		return Is(fe.Err, kind)
	}
	return false
}
