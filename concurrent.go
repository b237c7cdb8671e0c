package tablon

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// concurrentTable is a reader-preferred wrapper: multiple readers proceed
// concurrently, writers exclude both readers and each other. It is layered
// on top of any Table that does not already provide its own coordination.
type concurrentTable struct {
	inner         Table
	readers       int32
	writeMu       sync.Mutex
	maxWaitMillis int
}

// wrapped marks a Table that already coordinates its own concurrent
// access, so wrapping it again with NewConcurrentTable is rejected.
type wrapped interface {
	alreadyWrapped() bool
}

func (c *concurrentTable) alreadyWrapped() bool { return true }

// SelfCoordinating is the exported counterpart of wrapped, for back-ends
// defined outside this package (e.g. a storage engine with its own native
// transaction isolation) that need to opt out of NewConcurrentTable's
// wrapping the same way concurrentTable itself does.
type SelfCoordinating interface {
	AlreadyCoordinated() bool
}

// ConcurrentTableOption configures NewConcurrentTable.
type ConcurrentTableOption func(*concurrentTable)

// WithMaxWait overrides the default 100ms bound on how long a writer
// spin-waits for readers to drain before switching to a tight yield loop.
func WithMaxWait(d time.Duration) ConcurrentTableOption {
	return func(c *concurrentTable) { c.maxWaitMillis = int(d.Milliseconds()) }
}

// NewConcurrentTable wraps inner with reader-preferred, bounded-writer-wait
// coordination. Wrapping a table that already provides its own coordination
// (another concurrentTable, or a back-end with native transaction
// isolation) fails with ErrInvalidArgument.
func NewConcurrentTable(inner Table, opts ...ConcurrentTableOption) (Table, error) {
	if w, ok := inner.(wrapped); ok && w.alreadyWrapped() {
		return nil, fmt.Errorf("%w: table is already concurrency-wrapped", ErrInvalidArgument)
	}
	if w, ok := inner.(SelfCoordinating); ok && w.AlreadyCoordinated() {
		return nil, fmt.Errorf("%w: table is already concurrency-wrapped", ErrInvalidArgument)
	}
	c := &concurrentTable{inner: inner, maxWaitMillis: 100}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *concurrentTable) enterRead() {
	atomic.AddInt32(&c.readers, 1)
}

func (c *concurrentTable) exitRead() {
	n := atomic.AddInt32(&c.readers, -1)
	if n < 0 {
		panic(fmt.Errorf("%w: reader count underflow", ErrInvariantViolated))
	}
}

// enterWrite acquires the write mutex, then waits for in-flight readers to
// drain: 1ms sleeps up to maxWaitMillis, then a tight 0ms yield loop. The
// caller must call exitWrite when done.
func (c *concurrentTable) enterWrite() {
	c.writeMu.Lock()
	deadline := time.Now().Add(time.Duration(c.maxWaitMillis) * time.Millisecond)
	for atomic.LoadInt32(&c.readers) > 0 {
		if c.maxWaitMillis > 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		} else {
			time.Sleep(0)
		}
	}
}

func (c *concurrentTable) exitWrite() {
	c.writeMu.Unlock()
}

func (c *concurrentTable) Layout() *Layout { return c.inner.Layout() }

func (c *concurrentTable) Clear() error {
	c.enterWrite()
	defer c.exitWrite()
	return c.inner.Clear()
}

func (c *concurrentTable) Count(search Search, opts ResultOption) (int, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.Count(search, opts)
}

func (c *concurrentTable) Exist(search Search) (bool, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.Exist(search)
}

func (c *concurrentTable) GetRow(search Search, opts ResultOption) (Row, bool, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.GetRow(search, opts)
}

func (c *concurrentTable) GetRowAt(index int) (Row, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.GetRowAt(index)
}

func (c *concurrentTable) GetRows(search Search, opts ResultOption) ([]Row, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.GetRows(search, opts)
}

func (c *concurrentTable) Distinct(field string, search Search) ([]any, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.Distinct(field, search)
}

func (c *concurrentTable) GetValues(field string, search Search, opts ResultOption) ([]any, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.GetValues(field, search, opts)
}

func (c *concurrentTable) Minimum(field string, search Search) (any, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.Minimum(field, search)
}

func (c *concurrentTable) Maximum(field string, search Search) (any, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.Maximum(field, search)
}

func (c *concurrentTable) Sum(field string, search Search) (any, error) {
	c.enterRead()
	defer c.exitRead()
	return c.inner.Sum(field, search)
}

func (c *concurrentTable) Insert(row Row) (Row, error) {
	c.enterWrite()
	defer c.exitWrite()
	return c.inner.Insert(row)
}

func (c *concurrentTable) Update(row Row) error {
	c.enterWrite()
	defer c.exitWrite()
	return c.inner.Update(row)
}

func (c *concurrentTable) Replace(row Row) error {
	c.enterWrite()
	defer c.exitWrite()
	return c.inner.Replace(row)
}

func (c *concurrentTable) Delete(row Row) error {
	c.enterWrite()
	defer c.exitWrite()
	return c.inner.Delete(row)
}

func (c *concurrentTable) TryDelete(search Search) (bool, error) {
	c.enterWrite()
	defer c.exitWrite()
	return c.inner.TryDelete(search)
}

func (c *concurrentTable) SetValue(field string, value any, search Search) (int, error) {
	c.enterWrite()
	defer c.exitWrite()
	return c.inner.SetValue(field, value, search)
}

func (c *concurrentTable) Commit(transactions []Transaction) (int, error) {
	c.enterWrite()
	defer c.exitWrite()
	return c.inner.Commit(transactions)
}

func (c *concurrentTable) UseLayout(layout *Layout) error {
	c.enterWrite()
	defer c.exitWrite()
	return c.inner.UseLayout(layout)
}

func (c *concurrentTable) SequenceNumber() int64 {
	c.enterRead()
	defer c.exitRead()
	return c.inner.SequenceNumber()
}
