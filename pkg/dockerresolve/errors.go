package dockerresolve

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies a resolution failure the way spec.md §7 enumerates:
// transport, protocol, parse, absent, range, cancelled. Adapted from the
// teacher's own ComplexError/FormatError pattern in
// pkg/commands/errors.go, generalized to carry one of these kinds
// instead of a single hardcoded error code.
type Kind int

const (
	KindTransport Kind = iota
	KindProtocol
	KindParse
	KindAbsent
	KindRange
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindParse:
		return "parse"
	case KindAbsent:
		return "absent"
	case KindRange:
		return "range"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ResolutionError carries a Kind so callers can classify a failed
// resolution without string-matching error messages.
type ResolutionError struct {
	Kind    Kind
	Message string
	frame   xerrors.Frame
}

func newResolutionError(kind Kind, message string) *ResolutionError {
	return &ResolutionError{Kind: kind, Message: message, frame: xerrors.Caller(1)}
}

func (e *ResolutionError) FormatError(p xerrors.Printer) error {
	p.Printf("%s: %s", e.Kind, e.Message)
	e.frame.Format(p)
	return nil
}

func (e *ResolutionError) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
