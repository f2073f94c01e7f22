// Package chainerrors classifies the error conditions enumerated in
// spec §7 so callers (RPC, the node's task supervisor) can tell them
// apart with errors.Is, without a third-party error-handling library —
// the pack's non-VM code nowhere reaches for one, so plain
// fmt.Errorf("%w", ...) wrapping is the idiom this follows.
package chainerrors

import "fmt"

// Kind classifies a chain-level error (spec §7).
type Kind int

const (
	// KindStateError covers per-transaction rejection: nonce mismatch
	// or insufficient balance. The offending transaction is dropped
	// from the mempool; it does not invalidate the block it was
	// proposed in.
	KindStateError Kind = iota
	// KindConsensusFault covers invalid proposals/votes: wrong height,
	// wrong round, bad signature, wrong proposer.
	KindConsensusFault
	// KindIntegrityError covers a computed state_root that does not
	// match the committed header; the block must not be applied.
	KindIntegrityError
)

func (k Kind) String() string {
	switch k {
	case KindStateError:
		return "state_error"
	case KindConsensusFault:
		return "consensus_fault"
	case KindIntegrityError:
		return "integrity_error"
	default:
		return "unknown"
	}
}

// kindError pairs a Kind with its wrapped cause, so errors.As can
// recover the Kind from an error chain while %w preserves the cause.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// Wrap annotates err with kind, producing an error chain where
// errors.As(err, &kindError{}) recovers kind and errors.Is preserves
// matches against the original err.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf extracts the Kind from err's chain, if any was attached via
// Wrap.
func KindOf(err error) (Kind, bool) {
	ke, ok := asKindError(err)
	if !ok {
		return 0, false
	}
	return ke.kind, true
}

func asKindError(err error) (*kindError, bool) {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			return ke, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
