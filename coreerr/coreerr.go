// Package coreerr defines the sentinel error kinds shared by every
// component of the election core. Callers wrap a sentinel with
// fmt.Errorf("%w: ...", coreerr.ErrProofInvalid) and identify it later
// with errors.Is.
package coreerr

import "errors"

var (
	// ErrInvalidInput covers malformed ballot shapes, out-of-range
	// scalars, and non-prime moduli where one is required.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProofInvalid is returned when a DCP proof fails any of its
	// verifier checks. The vote carrying it must be rejected in full.
	ErrProofInvalid = errors.New("zero-knowledge proof invalid")

	// ErrSignatureInvalid is returned when a voter's eligibility
	// signature fails verification.
	ErrSignatureInvalid = errors.New("eligibility signature invalid")

	// ErrChainInvalid is returned when a structural or proof-of-work
	// check fails during chain validation or merge.
	ErrChainInvalid = errors.New("chain invalid")

	// ErrNotPrivate is returned when decryption is requested against a
	// key that carries no private component.
	ErrNotPrivate = errors.New("key has no private component")

	// ErrBadParams is returned for programmer errors such as a Shamir
	// threshold greater than the share count, or a decryption-table
	// miss.
	ErrBadParams = errors.New("bad parameters")

	// ErrNotFound is returned when an election id is unknown to the
	// registry.
	ErrNotFound = errors.New("not found")

	// ErrIO is returned on persistence or transport failure.
	ErrIO = errors.New("io error")
)
