// Package faults implements the typed error taxonomy of the fault
// handling design: every fallible operation across the core returns an
// error that carries a Kind, a stable numeric Code (in the style of the
// Noise engine's IPC error codes), and an optional evidence payload that
// a caller can use to act without inspecting error strings.
package faults

import "fmt"

// Kind groups faults into the categories the design recovers
// differently: protocol faults isolate the offending peer, resource
// faults apply backpressure, timing faults retry with widened bounds,
// transport faults mark peers unreachable, and fatal faults are
// surfaced with no auto-retry.
type Kind int

const (
	KindProtocol Kind = iota
	KindResource
	KindTiming
	KindTransport
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindResource:
		return "resource"
	case KindTiming:
		return "timing"
	case KindTransport:
		return "transport"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Code enumerates the specific faults named in §7, grouped by Kind.
type Code int64

const (
	_ Code = iota
	CodeEquivocation
	CodeInvalidSignature
	CodeReplayDetected
	CodeHandshakeFailure
	CodeQueueFull
	CodeBudgetExhausted
	CodeMemoryExhausted
	CodePhaseTimeout
	CodeSessionExpired
	CodeHandshakeTimeout
	CodeBluetoothOff
	CodeDisconnectDuringRound
	CodeUnsupportedPlatform
	CodeCorruptPersistedState
	CodeCryptoPrimitiveFailure
	CodeInvalidHandshakeStep
	CodeOutOfOrder
	CodeInsufficientQuorum
	CodeOperationTimeout
)

var kindOf = map[Code]Kind{
	CodeEquivocation:           KindProtocol,
	CodeInvalidSignature:       KindProtocol,
	CodeReplayDetected:         KindProtocol,
	CodeHandshakeFailure:       KindProtocol,
	CodeInvalidHandshakeStep:   KindProtocol,
	CodeOutOfOrder:             KindProtocol,
	CodeInsufficientQuorum:     KindProtocol,
	CodeQueueFull:              KindResource,
	CodeBudgetExhausted:        KindResource,
	CodeMemoryExhausted:        KindResource,
	CodePhaseTimeout:           KindTiming,
	CodeSessionExpired:         KindTiming,
	CodeHandshakeTimeout:       KindTiming,
	CodeOperationTimeout:       KindTiming,
	CodeBluetoothOff:           KindTransport,
	CodeDisconnectDuringRound:  KindTransport,
	CodeUnsupportedPlatform:    KindFatal,
	CodeCorruptPersistedState:  KindFatal,
	CodeCryptoPrimitiveFailure: KindFatal,
}

// Fault is the error type returned by every fallible core operation.
type Fault struct {
	Code     Code
	Err      error
	Evidence any // offending peer's own signed statements, when applicable
}

func New(code Code, msg string, args ...any) *Fault {
	return &Fault{Code: code, Err: fmt.Errorf(msg, args...)}
}

func Wrap(code Code, err error) *Fault {
	return &Fault{Code: code, Err: err}
}

func WithEvidence(code Code, evidence any, msg string, args ...any) *Fault {
	return &Fault{Code: code, Err: fmt.Errorf(msg, args...), Evidence: evidence}
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault %d: %v", f.Kind(), f.Code, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func (f *Fault) Kind() Kind { return kindOf[f.Code] }

// Retryable reports whether the policy in §7 allows the caller to retry
// the operation (with an incremented round_id / widened timeout) rather
// than surface it terminally.
func (f *Fault) Retryable() bool {
	return f.Kind() == KindTiming || f.Kind() == KindResource
}
