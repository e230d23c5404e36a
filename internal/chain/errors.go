package chain

import (
	"errors"

	"github.com/rzbill/trustchain/internal/errs"
)

var (
	ErrNotFound          = errs.New(errs.NotFound, "chain: key not found")
	ErrVersionConflict   = errs.New(errs.Conflict, "chain: version conflict")
	ErrObjectStillLocked = errs.New(errs.Conflict, "chain: object is locked by another transaction")
	ErrAlreadyDeleted    = errs.New(errs.Conflict, "chain: key already deleted")

	ErrClosed              = errors.New("chain: closed")
	ErrDuplicateKey        = errors.New("chain: key staged twice in one transaction")
	ErrHashRoutineMismatch = errors.New("chain: chain was created with a different hash routine")
	ErrEmptyTransaction    = errors.New("chain: transaction has no operations")
)
