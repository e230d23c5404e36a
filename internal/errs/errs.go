// Package errs classifies failures into the kinds callers act on: retry a
// conflict, surface an authorization failure, give up on corruption or I/O.
package errs

import "errors"

// Kinds. Test with errors.Is(err, errs.Conflict).
var (
	Authorization = errors.New("authorization")
	Conflict      = errors.New("conflict")
	Corruption    = errors.New("corruption")
	IO            = errors.New("io")
	NotFound      = errors.New("not found")
)

// kinded attaches a kind to an error without changing its message.
type kinded struct {
	kind error
	err  error
}

func (k *kinded) Error() string        { return k.err.Error() }
func (k *kinded) Unwrap() error        { return k.err }
func (k *kinded) Is(target error) bool { return target == k.kind }

// New returns a sentinel-style error of the given kind.
func New(kind error, msg string) error {
	return &kinded{kind: kind, err: errors.New(msg)}
}

// Mark tags err with kind. A nil err stays nil.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	return &kinded{kind: kind, err: err}
}

// IsRetryable reports whether retrying with fresh state may succeed.
func IsRetryable(err error) bool { return errors.Is(err, Conflict) }

// IsAuthorization reports whether err is a missing-capability failure.
func IsAuthorization(err error) bool { return errors.Is(err, Authorization) }

// IsNotFound reports whether err is an absent-key result.
func IsNotFound(err error) bool { return errors.Is(err, NotFound) }
