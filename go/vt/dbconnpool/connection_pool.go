/*
Copyright 2019 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package dbconnpool exposes a MySQL connection pool with built-in statistics.
package dbconnpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hoststack/mysqlwire/go/mysql"
	"github.com/hoststack/mysqlwire/go/pools"
	"github.com/hoststack/mysqlwire/go/stats"
	"github.com/hoststack/mysqlwire/go/sync2"
)

var (
	// ErrConnPoolClosed is returned if the connection pool is closed.
	ErrConnPoolClosed = errors.New("connection pool is closed")

	// usedNames is for preventing expvar collisions.
	usedNames = make(map[string]bool)
)

// ConnectionPool re-exposes ResourcePool as a pool of
// PooledDBConnection objects.
type ConnectionPool struct {
	mu          sync.Mutex
	connections *pools.ResourcePool
	capacity    int
	idleTimeout time.Duration

	// info and mysqlStats are set at Open() time.
	info       *mysql.ConnParams
	mysqlStats *stats.Timings

	// usageTime accumulates how long connections were held
	// between Get and Recycle.
	usageTime sync2.AtomicDuration
}

// NewConnectionPool creates a new ConnectionPool. The name is used
// to publish stats only. The pool needs to be opened with Open()
// before it can be used.
func NewConnectionPool(name string, capacity int, idleTimeout time.Duration) *ConnectionPool {
	cp := &ConnectionPool{capacity: capacity, idleTimeout: idleTimeout}
	if name == "" || usedNames[name] {
		return cp
	}
	usedNames[name] = true
	stats.Publish(name+"Capacity", stats.IntFunc(cp.Capacity))
	stats.Publish(name+"Available", stats.IntFunc(cp.Available))
	stats.Publish(name+"Active", stats.IntFunc(cp.Active))
	stats.Publish(name+"InUse", stats.IntFunc(cp.InUse))
	stats.Publish(name+"MaxCap", stats.IntFunc(cp.MaxCap))
	stats.Publish(name+"WaitCount", stats.IntFunc(cp.WaitCount))
	stats.Publish(name+"WaitTime", stats.DurationFunc(cp.WaitTime))
	stats.Publish(name+"IdleTimeout", stats.DurationFunc(cp.IdleTimeout))
	stats.Publish(name+"IdleClosed", stats.IntFunc(cp.IdleClosed))
	stats.Publish(name+"Exhausted", stats.IntFunc(cp.Exhausted))
	stats.Publish(name+"GetCount", stats.IntFunc(cp.GetCount))
	stats.Publish(name+"PutCount", stats.IntFunc(cp.PutCount))
	stats.Publish(name+"Waiters", stats.IntFunc(cp.Waiters))
	stats.Publish(name+"UsageTime", stats.DurationFunc(cp.UsageTime))
	return cp
}

func (cp *ConnectionPool) pool() (p *pools.ResourcePool) {
	cp.mu.Lock()
	p = cp.connections
	cp.mu.Unlock()
	return p
}

// Open must be called before starting to use the pool.
func (cp *ConnectionPool) Open(info *mysql.ConnParams, mysqlStats *stats.Timings) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.info = info
	cp.mysqlStats = mysqlStats
	cp.connections = pools.NewResourcePool(cp.connect, cp.capacity, cp.capacity, cp.idleTimeout, nil, nil, 0)
}

// connect is used by the resource pool to create a new Resource.
func (cp *ConnectionPool) connect(ctx context.Context) (pools.Resource, error) {
	c, err := NewDBConnection(ctx, cp.info, cp.mysqlStats)
	if err != nil {
		return nil, err
	}
	return &PooledDBConnection{
		DBConnection: c,
		timeCreated:  time.Now(),
		pool:         cp,
	}, nil
}

// Close will close the pool and wait for connections to be returned
// before closing them. The pool is not reusable afterwards.
func (cp *ConnectionPool) Close() {
	p := cp.pool()
	if p == nil {
		return
	}
	p.Close()
	cp.mu.Lock()
	cp.connections = nil
	cp.mu.Unlock()
}

// Get returns a connection.
// You must call Recycle on the PooledDBConnection once done.
func (cp *ConnectionPool) Get(ctx context.Context) (*PooledDBConnection, error) {
	p := cp.pool()
	if p == nil {
		return nil, ErrConnPoolClosed
	}
	r, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	pc := r.(*PooledDBConnection)
	if pc.needsPing() {
		if err := pc.Ping(); err != nil {
			// The idle connection went bad. Replace it
			// silently instead of surfacing the error.
			if err := pc.Reconnect(ctx); err != nil {
				p.Put(nil)
				return nil, err
			}
		}
	}
	pc.timeAcquired = time.Now()
	return pc, nil
}

// Put puts a connection into the pool.
func (cp *ConnectionPool) Put(conn *PooledDBConnection) {
	p := cp.pool()
	if p == nil {
		panic(ErrConnPoolClosed)
	}
	if conn == nil {
		// conn has a type, if we just Put(conn), we end up
		// putting an interface with a nil value, that is not
		// equal to a nil value. So just call Put(nil).
		p.Put(nil)
		return
	}
	p.Put(conn)
}

// SetCapacity alters the size of the pool at runtime.
func (cp *ConnectionPool) SetCapacity(capacity int) (err error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.connections != nil {
		err = cp.connections.SetCapacity(capacity)
		if err != nil {
			return err
		}
	}
	cp.capacity = capacity
	return nil
}

// SetIdleTimeout sets the idleTimeout on the pool.
func (cp *ConnectionPool) SetIdleTimeout(idleTimeout time.Duration) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.connections != nil {
		cp.connections.SetIdleTimeout(idleTimeout)
	}
	cp.idleTimeout = idleTimeout
}

// StatsJSON returns the pool stats as a JSON object.
func (cp *ConnectionPool) StatsJSON() string {
	p := cp.pool()
	if p == nil {
		return "{}"
	}
	return p.StatsJSON()
}

// Capacity returns the pool capacity.
func (cp *ConnectionPool) Capacity() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.Capacity()
}

// Available returns the number of available connections in the pool.
func (cp *ConnectionPool) Available() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.Available()
}

// Active returns the number of active connections in the pool.
func (cp *ConnectionPool) Active() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.Active()
}

// InUse returns the number of in-use connections in the pool.
func (cp *ConnectionPool) InUse() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.InUse()
}

// MaxCap returns the maximum size of the pool.
func (cp *ConnectionPool) MaxCap() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.MaxCap()
}

// WaitCount returns how often callers had to wait for a connection.
func (cp *ConnectionPool) WaitCount() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.WaitCount()
}

// WaitTime returns the time wasted while waiting for a connection.
func (cp *ConnectionPool) WaitTime() time.Duration {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.WaitTime()
}

// IdleTimeout returns the idle timeout for the pool.
func (cp *ConnectionPool) IdleTimeout() time.Duration {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.IdleTimeout()
}

// IdleClosed returns the number of connections closed due to idle timeout.
func (cp *ConnectionPool) IdleClosed() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.IdleClosed()
}

// Exhausted returns the number of times the pool was fully used.
func (cp *ConnectionPool) Exhausted() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.Exhausted()
}

// GetCount returns the total number of connections handed out.
func (cp *ConnectionPool) GetCount() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.GetCount()
}

// PutCount returns the total number of connections returned.
func (cp *ConnectionPool) PutCount() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.PutCount()
}

// Waiters returns the number of callers currently blocked in Get.
func (cp *ConnectionPool) Waiters() int64 {
	p := cp.pool()
	if p == nil {
		return 0
	}
	return p.Waiters()
}

// UsageTime returns the cumulative time connections were held
// out of the pool.
func (cp *ConnectionPool) UsageTime() time.Duration {
	return cp.usageTime.Get()
}

func (cp *ConnectionPool) recordUsage(since time.Time) {
	if !since.IsZero() {
		cp.usageTime.Add(time.Since(since))
	}
}
