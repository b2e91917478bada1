package objectstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/burnet/burnet/pkg/telemetry"
)

// errPoolClosed is returned by acquire after the pool has been closed.
var errPoolClosed = errors.New("connection pool is closed")

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	// Capacity is the maximum number of connections the pool may create.
	Capacity int `json:"capacity"`

	// Created is the number of distinct connections created so far.
	Created int `json:"created"`

	// InUse is the number of connections currently held by sessions.
	InUse int `json:"in_use"`

	// Idle is the number of created connections not held by any session.
	Idle int `json:"idle"`

	// Waits counts acquisitions that blocked because every slot was taken.
	Waits int64 `json:"waits"`
}

// pooledConn is a checked-out arena slot.
type pooledConn struct {
	index int
	conn  *sql.Conn
}

// connPool is a fixed arena of connection slots. A weighted semaphore bounds
// the number of concurrent holders; a free-list of slot indices picks which
// slot a holder gets. Slots are filled lazily, so at most capacity
// connections are ever created, and a created connection is only closed by
// close.
type connPool struct {
	db       *sql.DB
	capacity int
	sem      *semaphore.Weighted
	metrics  *telemetry.Metrics

	mu      sync.Mutex
	slots   []*sql.Conn
	free    []int
	created int
	waits   int64
	closed  bool
}

func newConnPool(db *sql.DB, capacity int, metrics *telemetry.Metrics) *connPool {
	free := make([]int, capacity)
	for i := range free {
		// Stack order: slot 0 is popped first
		free[i] = capacity - 1 - i
	}

	p := &connPool{
		db:       db,
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
		metrics:  metrics,
		slots:    make([]*sql.Conn, capacity),
		free:     free,
	}
	p.publishStats()
	return p
}

// acquire checks out a slot, creating its connection on first use. It blocks
// while every slot is held, until a slot is released or ctx is done.
func (p *connPool) acquire(ctx context.Context) (*pooledConn, error) {
	if !p.sem.TryAcquire(1) {
		p.mu.Lock()
		p.waits++
		p.mu.Unlock()
		p.metrics.RecordPoolWait()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, errPoolClosed
	}
	index := p.popFreeLocked()
	conn := p.slots[index]
	p.mu.Unlock()

	if conn == nil {
		c, err := p.db.Conn(ctx)
		if err != nil {
			p.putBack(index)
			return nil, fmt.Errorf("failed to open connection: %w", err)
		}

		p.mu.Lock()
		p.slots[index] = c
		p.created++
		p.mu.Unlock()
		conn = c
	}

	p.publishStats()
	return &pooledConn{index: index, conn: conn}, nil
}

// release returns a slot to the free-list. The connection stays open.
func (p *connPool) release(pc *pooledConn) {
	p.putBack(pc.index)
	p.publishStats()
}

func (p *connPool) putBack(index int) {
	p.mu.Lock()
	p.free = append(p.free, index)
	p.mu.Unlock()
	p.sem.Release(1)
}

// popFreeLocked takes the topmost free slot that already holds a
// connection, falling back to the top of the stack. The semaphore
// guarantees the free-list is non-empty. Callers hold p.mu.
func (p *connPool) popFreeLocked() int {
	pick := len(p.free) - 1
	for i := len(p.free) - 1; i >= 0; i-- {
		if p.slots[p.free[i]] != nil {
			pick = i
			break
		}
	}

	index := p.free[pick]
	p.free = append(p.free[:pick], p.free[pick+1:]...)
	return index
}

// stats returns a snapshot of the pool.
func (p *connPool) stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	inUse := p.capacity - len(p.free)
	return PoolStats{
		Capacity: p.capacity,
		Created:  p.created,
		InUse:    inUse,
		Idle:     p.created - inUse,
		Waits:    p.waits,
	}
}

func (p *connPool) publishStats() {
	st := p.stats()
	p.metrics.SetPoolStats(st.Capacity, st.Created, st.InUse)
}

// close waits for every slot to be released, then closes all connections.
// Later acquisitions fail with errPoolClosed.
func (p *connPool) close(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, int64(p.capacity)); err != nil {
		return fmt.Errorf("failed waiting for sessions to finish: %w", err)
	}
	defer p.sem.Release(int64(p.capacity))

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for i, conn := range p.slots {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection %d: %w", i, err))
		}
		p.slots[i] = nil
	}

	return errors.Join(errs...)
}
