package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type TxOptions struct {
	MaxWait time.Duration
	Timeout time.Duration
}

type txMarker struct{}

// InTransaction reports whether ctx belongs to a running transaction.
func InTransaction(ctx context.Context) bool {
	return ctx.Value(txMarker{}) != nil
}

// Transaction runs fn with all-or-nothing visibility. Every repository call
// inside fn must use the context fn receives. A call made inside a running
// transaction joins it.
//
// Transaction waits at most MaxWait for a free slot (ErrTransactionWait) and
// lets fn run for at most Timeout (ErrTransactionTimeout). Any error rolls
// the transaction back.
func (c *Client) Transaction(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOptions) error {
	if c.backend == nil {
		return ErrDBNotReady
	}
	if InTransaction(ctx) {
		return fn(ctx)
	}
	o := TxOptions{MaxWait: c.opts.TxMaxWait, Timeout: c.opts.TxTimeout}
	for _, opt := range opts {
		if opt.MaxWait > 0 {
			o.MaxWait = opt.MaxWait
		}
		if opt.Timeout > 0 {
			o.Timeout = opt.Timeout
		}
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, o.MaxWait)
	err := c.txSlots.Acquire(waitCtx, 1)
	cancelWait()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTransactionWait
	}
	defer c.txSlots.Release(1)

	runCtx, cancelRun := context.WithTimeoutCause(ctx, o.Timeout, ErrTransactionTimeout)
	defer cancelRun()
	runCtx = context.WithValue(runCtx, txMarker{}, true)

	err = c.backend.WithTransaction(runCtx, func(txCtx context.Context) error {
		if err := fn(txCtx); err != nil {
			return err
		}
		if txCtx.Err() != nil {
			return ErrTransactionTimeout
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrTransactionTimeout) && errors.Is(context.Cause(runCtx), ErrTransactionTimeout) {
		return fmt.Errorf("%w: %v", ErrTransactionTimeout, err)
	}
	return err
}

// Op is one step of a Batch.
type Op func(ctx context.Context) error

// Batch runs ops in order inside one transaction.
func (c *Client) Batch(ctx context.Context, ops ...Op) error {
	return c.Transaction(ctx, func(ctx context.Context) error {
		for i, op := range ops {
			if err := op(ctx); err != nil {
				return fmt.Errorf("batch step %d: %w", i, err)
			}
		}
		return nil
	})
}
