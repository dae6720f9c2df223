package dispatch

import (
	"errors"
	"fmt"
)

// Reason tags why a dispatch attempt failed.
type Reason string

const (
	ReasonTransport   Reason = "transport"
	ReasonDecode      Reason = "decode"
	ReasonCorrelation Reason = "correlation"
)

// Sentinels matched by Failure.Is, so callers can branch with errors.Is.
var (
	ErrTransport   = errors.New("dispatch: transport failure")
	ErrDecode      = errors.New("dispatch: response could not be decoded")
	ErrCorrelation = errors.New("dispatch: request id mismatch")
)

// Failure is the terminal outcome of one failed exchange. Nothing is retried
// inside the client; the scheduler decides what happens next.
type Failure struct {
	Reason    Reason
	RequestID string
	URL       string
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("dispatch request %s failed (%s): %v", f.RequestID, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool {
	switch target {
	case ErrTransport:
		return f.Reason == ReasonTransport
	case ErrDecode:
		return f.Reason == ReasonDecode
	case ErrCorrelation:
		return f.Reason == ReasonCorrelation
	}
	return false
}

// ReasonOf returns the failure reason carried by err, or "" if err is not a
// dispatch failure.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}
