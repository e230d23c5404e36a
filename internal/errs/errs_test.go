package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindsSurviveWrapping(t *testing.T) {
	base := New(Conflict, "version conflict")
	wrapped := fmt.Errorf("commit: %w", base)
	if !errors.Is(wrapped, Conflict) || !IsRetryable(wrapped) {
		t.Fatalf("expected conflict kind through wrap")
	}
	if errors.Is(wrapped, Authorization) {
		t.Fatalf("unexpected authorization kind")
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected identity match with sentinel")
	}
}

func TestMark(t *testing.T) {
	io := errors.New("disk gone")
	err := Mark(io, IO)
	if !errors.Is(err, IO) || !errors.Is(err, io) {
		t.Fatalf("mark lost kind or cause")
	}
	if err.Error() != "disk gone" {
		t.Fatalf("message changed: %q", err.Error())
	}
	if Mark(nil, IO) != nil {
		t.Fatalf("nil must stay nil")
	}
}
