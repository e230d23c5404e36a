package dio

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rzbill/trustchain/internal/chain"
	"github.com/rzbill/trustchain/internal/errs"
	"github.com/rzbill/trustchain/internal/session"
)

const txRetries = 8

func txBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, txRetries), ctx)
}

// RunTx runs fn in a fresh Dio and commits it. A commit lost to a concurrent
// writer (a retryable conflict) reruns fn from scratch with exponential
// backoff; any other error is returned as is.
func RunTx(ctx context.Context, c *chain.Chain, s *session.Session, fn func(*Dio) error) (*chain.Receipt, error) {
	var rcpt *chain.Receipt
	op := func() error {
		d := New(c, s)
		if err := fn(d); err != nil {
			d.Discard()
			return retryable(err)
		}
		r, err := d.Commit(ctx)
		if errors.Is(err, ErrNothingStaged) {
			return nil
		}
		if err != nil {
			return retryable(err)
		}
		rcpt = r
		return nil
	}
	if err := backoff.Retry(op, txBackOff(ctx)); err != nil {
		return nil, err
	}
	return rcpt, nil
}

func retryable(err error) error {
	if errs.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}
