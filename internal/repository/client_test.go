package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/store/memstore"
)

// clock hands out strictly increasing timestamps so orderings by createdAt
// are deterministic.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.Now == nil {
		c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		opts.Now = c.now
	}
	client := New(memstore.New(), model.Schema(), opts)
	if err := client.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	return client
}

func mustCreate(t *testing.T, d *Delegate, data Data) Record {
	t.Helper()
	rec, err := d.Create(context.Background(), CreateArgs{Data: data})
	if err != nil {
		t.Fatalf("create %s: %v", d.Model().Name, err)
	}
	return rec
}

func notification(uid, typ string) Data {
	return Data{"userId": uid, "type": typ, "title": "t", "message": "m"}
}

func TestTransactionRollsBack(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()
	notifs := c.MustModel(model.ModelNotification)
	boom := errors.New("boom")

	err := c.Transaction(ctx, func(ctx context.Context) error {
		if _, err := notifs.Create(ctx, CreateArgs{Data: notification("u1", "MESSAGE_RECEIVED")}); err != nil {
			return err
		}
		if !InTransaction(ctx) {
			t.Fatal("body context should be marked as a transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v", err)
	}
	n, err := notifs.Count(ctx, CountArgs{})
	if err != nil || n != 0 {
		t.Fatalf("count after rollback = %d, %v", n, err)
	}

	err = c.Batch(ctx,
		func(ctx context.Context) error {
			_, err := notifs.Create(ctx, CreateArgs{Data: notification("u1", "MESSAGE_RECEIVED")})
			return err
		},
		func(ctx context.Context) error {
			_, err := notifs.Create(ctx, CreateArgs{Data: Data{"userId": "u1"}})
			return err
		},
	)
	if err == nil {
		t.Fatal("batch with an invalid step should fail")
	}
	if n, _ := notifs.Count(ctx, CountArgs{}); n != 0 {
		t.Fatalf("failed batch left %d rows", n)
	}
}

func TestTransactionTimeout(t *testing.T) {
	c := newTestClient(t, Options{})
	err := c.Transaction(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, TxOptions{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, ErrTransactionTimeout) {
		t.Fatalf("error = %v, want ErrTransactionTimeout", err)
	}
}

func TestTransactionWait(t *testing.T) {
	c := newTestClient(t, Options{MaxConcurrentTx: 1})
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Transaction(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := c.Transaction(context.Background(), func(ctx context.Context) error { return nil }, TxOptions{MaxWait: 20 * time.Millisecond})
	if !errors.Is(err, ErrTransactionWait) {
		t.Fatalf("error = %v, want ErrTransactionWait", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first transaction: %v", err)
	}
}

func TestNestedTransactionJoins(t *testing.T) {
	c := newTestClient(t, Options{MaxConcurrentTx: 1})
	notifs := c.MustModel(model.ModelNotification)
	ctx := context.Background()
	err := c.Transaction(ctx, func(ctx context.Context) error {
		return c.Transaction(ctx, func(ctx context.Context) error {
			_, err := notifs.Create(ctx, CreateArgs{Data: notification("u1", "MESSAGE_RECEIVED")})
			return err
		})
	})
	if err != nil {
		t.Fatalf("nested transaction: %v", err)
	}
	if n, _ := notifs.Count(ctx, CountArgs{Where: query.Eq("userId", "u1")}); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestNilBackend(t *testing.T) {
	c := New(nil, model.Schema(), Options{})
	ctx := context.Background()
	if _, err := c.MustModel(model.ModelNotification).Create(ctx, CreateArgs{Data: notification("u1", "MESSAGE_RECEIVED")}); !errors.Is(err, ErrDBNotReady) {
		t.Fatalf("create error = %v", err)
	}
	if _, err := c.MustModel(model.ModelNotification).FindMany(ctx, FindArgs{}); !errors.Is(err, ErrDBNotReady) {
		t.Fatalf("findMany error = %v", err)
	}
	if err := c.Transaction(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrDBNotReady) {
		t.Fatalf("transaction error = %v", err)
	}
}

func TestModelLookup(t *testing.T) {
	c := newTestClient(t, Options{})
	if _, err := c.Model("message"); err != nil {
		t.Fatalf("lower-case model name: %v", err)
	}
	if _, err := c.Model("conversations"); err != nil {
		t.Fatalf("collection name: %v", err)
	}
	if _, err := c.Model("Item"); err == nil {
		t.Fatal("unknown model should fail")
	}
}
