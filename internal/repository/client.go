// Package repository is the data-access engine: it validates requests against
// the schema, resolves relation filters, loads included relations, applies
// mutations and computes aggregates on top of a store.Backend.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shinyyama/messaging-backend/internal/reqctx"
	"github.com/shinyyama/messaging-backend/internal/schema"
	"github.com/shinyyama/messaging-backend/internal/store"
	"golang.org/x/sync/semaphore"
)

var (
	ErrDBNotReady         = errors.New("database not initialized")
	ErrRecordNotFound     = errors.New("record not found")
	ErrTransactionWait    = errors.New("timed out waiting to start a transaction")
	ErrTransactionTimeout = errors.New("transaction exceeded its timeout")
)

type Options struct {
	// TxMaxWait bounds how long Transaction waits for a free slot.
	TxMaxWait time.Duration
	// TxTimeout bounds how long a transaction body may run.
	TxTimeout time.Duration
	// MaxConcurrentTx caps transactions running at once.
	MaxConcurrentTx int64
	// Omit lists, per model name, fields left out of results unless a call
	// selects them explicitly.
	Omit map[string][]string
	// UpsertRetries bounds how often Upsert retries after losing a race.
	UpsertRetries int
	LogQueries    bool
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TxMaxWait <= 0 {
		o.TxMaxWait = 2 * time.Second
	}
	if o.TxTimeout <= 0 {
		o.TxTimeout = 5 * time.Second
	}
	if o.MaxConcurrentTx <= 0 {
		o.MaxConcurrentTx = 16
	}
	if o.UpsertRetries <= 0 {
		o.UpsertRetries = 5
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Client struct {
	backend  store.Backend
	registry *schema.Registry
	txSlots  *semaphore.Weighted
	opts     Options
}

func New(backend store.Backend, registry *schema.Registry, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		backend:  backend,
		registry: registry,
		txSlots:  semaphore.NewWeighted(opts.MaxConcurrentTx),
		opts:     opts,
	}
}

func (c *Client) Registry() *schema.Registry { return c.registry }

func (c *Client) Backend() store.Backend { return c.backend }

// EnsureIndexes creates every model's unique indexes.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	if c.backend == nil {
		return ErrDBNotReady
	}
	for _, m := range c.registry.Models() {
		if err := c.backend.EnsureIndexes(ctx, m.Collection, m.UniqueIndexes()); err != nil {
			return fmt.Errorf("ensure indexes for %s: %w", m.Name, err)
		}
	}
	return nil
}

// Model returns the delegate for a model by name.
func (c *Client) Model(name string) (*Delegate, error) {
	m, err := c.registry.Model(name)
	if err != nil {
		return nil, err
	}
	return &Delegate{c: c, m: m}, nil
}

// MustModel is Model for names known at compile time.
func (c *Client) MustModel(name string) *Delegate {
	d, err := c.Model(name)
	if err != nil {
		panic(err)
	}
	return d
}

func (c *Client) Close(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close(ctx)
}

func (c *Client) now() time.Time {
	return schema.NormalizeTime(c.opts.Now())
}

// logQuery reports an operation's duration when query logging is on.
func (c *Client) logQuery(ctx context.Context, model, op string, start time.Time, err error) {
	if !c.opts.LogQueries {
		return
	}
	rid := reqctx.RID(ctx)
	if err != nil {
		log.Printf("[query] rid=%s model=%s op=%s ms=%d err=%v", rid, model, op, time.Since(start).Milliseconds(), err)
		return
	}
	log.Printf("[query] rid=%s model=%s op=%s ms=%d", rid, model, op, time.Since(start).Milliseconds())
}
