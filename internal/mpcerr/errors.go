// Package mpcerr defines the error taxonomy shared by the round engines,
// the secure channel and the orchestrator.
package mpcerr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input, a missing or unexpected message,
	// or a state that failed its integrity checks.
	ErrValidation = errors.New("validation error")

	// ErrRoundMismatch indicates a state that is not exactly one round behind
	// the requested round.
	ErrRoundMismatch = errors.New("round mismatch")

	// ErrOutOfSequenceShare indicates an EdDSA signing step called out of order.
	ErrOutOfSequenceShare = errors.New("out of sequence share")

	// ErrAuthentication indicates a message whose signature or addressing
	// could not be verified against the pinned sender key.
	ErrAuthentication = errors.New("authentication failed")

	// ErrDecryption indicates an authenticated message that could not be decrypted.
	ErrDecryption = errors.New("decryption failed")

	// ErrEnvelopeCorrupt indicates a state envelope that failed authenticated decryption.
	ErrEnvelopeCorrupt = errors.New("envelope corrupt")

	// ErrKeychainMismatch indicates that the parties disagree on the common keychain.
	ErrKeychainMismatch = errors.New("common keychain mismatch")

	// ErrInvalidShareProof indicates a share or proof that failed verification.
	ErrInvalidShareProof = errors.New("invalid share proof")

	// ErrSignatureCombination indicates signature shares that did not combine
	// into a valid signature.
	ErrSignatureCombination = errors.New("signature combination failed")

	// ErrUpstreamKeyService indicates a failure reported by the key service.
	ErrUpstreamKeyService = errors.New("upstream key service error")

	// ErrPinningViolation indicates a peer key that differs from the one pinned
	// earlier in the ceremony. It is a validation error.
	ErrPinningViolation = fmt.Errorf("%w: peer key pinning violation", ErrValidation)
)

// RoundMismatchError reports the round a state was expected to be in.
type RoundMismatchError struct {
	Expected int
	Got      int
}

func (e *RoundMismatchError) Error() string {
	return fmt.Sprintf("round mismatch: expected state at round %d, got %d", e.Expected, e.Got)
}

func (e *RoundMismatchError) Unwrap() error {
	return ErrRoundMismatch
}

// PinningError reports the role whose key did not match the pinned key.
type PinningError struct {
	Role string
}

func (e *PinningError) Error() string {
	return fmt.Sprintf("peer key pinning violation for %s", e.Role)
}

func (e *PinningError) Unwrap() error {
	return ErrPinningViolation
}

// UpstreamError wraps a key service failure together with the operation that failed.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("key service %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamKeyService, e.Err}
}

// Upstream wraps err as an UpstreamError unless it already is one.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidProoff returns an error wrapping ErrInvalidShareProof.
func InvalidProoff(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidShareProof, fmt.Sprintf(format, args...))
}

// Combinationf returns an error wrapping ErrSignatureCombination.
func Combinationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSignatureCombination, fmt.Sprintf(format, args...))
}

// Retryable reports whether the caller may retry the same call unchanged.
// Only key service failures are retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamKeyService)
}

// Fatal reports whether err means the ceremony cannot continue and must be restarted.
func Fatal(err error) bool {
	switch {
	case errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrDecryption),
		errors.Is(err, ErrEnvelopeCorrupt),
		errors.Is(err, ErrKeychainMismatch),
		errors.Is(err, ErrInvalidShareProof),
		errors.Is(err, ErrSignatureCombination):
		return true
	}
	return false
}

// Category returns a short label for err, used for metrics and status mapping.
func Category(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUpstreamKeyService):
		return "upstream"
	case errors.Is(err, ErrPinningViolation):
		return "pinning"
	case errors.Is(err, ErrRoundMismatch):
		return "round_mismatch"
	case errors.Is(err, ErrOutOfSequenceShare):
		return "out_of_sequence"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrDecryption):
		return "decryption"
	case errors.Is(err, ErrEnvelopeCorrupt):
		return "envelope_corrupt"
	case errors.Is(err, ErrKeychainMismatch):
		return "keychain_mismatch"
	case errors.Is(err, ErrInvalidShareProof):
		return "invalid_share_proof"
	case errors.Is(err, ErrSignatureCombination):
		return "signature_combination"
	}
	return "internal"
}
