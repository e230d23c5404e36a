package pipeline

import (
	"fmt"

	"github.com/rzbill/trustchain/internal/errs"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/pkg/id"
)

var (
	ErrNoAuthorizationOrphan  = errs.New(errs.Authorization, "pipeline: event has no primary key")
	ErrMissingReadKey         = errs.New(errs.Authorization, "pipeline: no session key matches the confidentiality hash")
	ErrUnspecifiedReadability = errs.New(errs.Corruption, "pipeline: iv present without confidentiality")
	ErrNoIvPresent            = errs.New(errs.Corruption, "pipeline: confidentiality present without iv")
	ErrInvalidSignature       = errs.New(errs.Corruption, "pipeline: signature does not verify")
)

// NoAuthorizationWrite is returned when the session holds none of the write
// keys the effective WriteOption names.
type NoAuthorizationWrite struct {
	Key   id.PrimaryKey
	Write meta.WriteOption
}

func (e *NoAuthorizationWrite) Error() string {
	return fmt.Sprintf("pipeline: no authorization to write %s (requires %s)", e.Key, e.Write)
}

func (e *NoAuthorizationWrite) Is(target error) bool { return target == errs.Authorization }

// NoAuthorizationRead is returned when the effective ReadOption names a key
// the session neither holds nor can derive.
type NoAuthorizationRead struct {
	Key  id.PrimaryKey
	Read meta.ReadOption
}

func (e *NoAuthorizationRead) Error() string {
	return fmt.Sprintf("pipeline: no authorization to read %s (requires %s)", e.Key, e.Read)
}

func (e *NoAuthorizationRead) Is(target error) bool { return target == errs.Authorization }
