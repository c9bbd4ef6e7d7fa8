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

package dbconnpool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hoststack/mysqlwire/go/mysql"
	"github.com/hoststack/mysqlwire/go/sqltypes"
	"github.com/hoststack/mysqlwire/go/stats"
)

var poolTestResult = &sqltypes.Result{
	Fields: []*sqltypes.Field{
		{Name: "id", Type: sqltypes.Int64, Charset: mysql.CharacterSetBinary},
	},
	Rows: [][]sqltypes.Value{{
		sqltypes.MakeTrusted(sqltypes.Int64, []byte("1")),
	}},
}

// poolHandler is the server side for the pool tests. It keeps track
// of its connections so tests can kill one from under the pool.
type poolHandler struct {
	mu       sync.Mutex
	conns    []*mysql.Conn
	connects atomic.Int64
}

func (ph *poolHandler) NewConnection(c *mysql.Conn) {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	ph.conns = append(ph.conns, c)
	ph.connects.Add(1)
}

func (ph *poolHandler) ConnectionClosed(c *mysql.Conn) {
}

// CloseLastConnection closes the server side of the most recent
// connection, simulating a server-side timeout of an idle client.
func (ph *poolHandler) CloseLastConnection() {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	ph.conns[len(ph.conns)-1].Close()
}

func (ph *poolHandler) ComQuery(c *mysql.Conn, query string, callback func(*sqltypes.Result) error) error {
	return callback(poolTestResult)
}

func (ph *poolHandler) ComPrepare(c *mysql.Conn, query string) ([]*sqltypes.Field, error) {
	return nil, fmt.Errorf("prepare is not supported here")
}

func (ph *poolHandler) ComStmtExecute(c *mysql.Conn, prepare *mysql.PrepareData, callback func(*sqltypes.Result) error) error {
	return fmt.Errorf("execute is not supported here")
}

func (ph *poolHandler) WarningCount(c *mysql.Conn) uint16 {
	return 0
}

func newPoolListener(t *testing.T) (*mysql.Listener, *poolHandler, *mysql.ConnParams) {
	t.Helper()

	authServer := mysql.NewAuthServerStatic()
	authServer.Entries["user1"] = []*mysql.AuthServerStaticEntry{{
		Password: "password1",
	}}
	handler := &poolHandler{}
	l, err := mysql.NewListener("tcp", "127.0.0.1:0", authServer, handler)
	require.NoError(t, err)
	go l.Accept()

	addr := l.Addr().(*net.TCPAddr)
	params := &mysql.ConnParams{
		Host:  addr.IP.String(),
		Port:  addr.Port,
		Uname: "user1",
		Pass:  "password1",
	}
	return l, handler, params
}

// glog starts a background flusher on first use that never exits.
var goleakIgnores = []goleak.Option{
	goleak.IgnoreTopFunction("github.com/golang/glog.(*fileSink).flushDaemon"),
}

func TestConnectionPool(t *testing.T) {
	defer goleak.VerifyNone(t, goleakIgnores...)

	l, _, params := newPoolListener(t)
	defer l.Close()

	pool := NewConnectionPool("TestPool", 2, time.Minute)
	pool.Open(params, stats.NewTimings(""))
	defer pool.Close()

	assert.Equal(t, int64(2), pool.Capacity())
	assert.Equal(t, int64(2), pool.MaxCap())
	assert.Equal(t, int64(0), pool.InUse())
	assert.Equal(t, time.Minute, pool.IdleTimeout())

	conn, err := pool.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pool.InUse())
	assert.Equal(t, int64(1), pool.Active())

	result, err := conn.ExecuteFetch("select id from t", 10, true)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)

	conn.Recycle()
	assert.Equal(t, int64(0), pool.InUse())
	assert.Equal(t, int64(2), pool.Available())
	// The connection stays open in the pool.
	assert.Equal(t, int64(1), pool.Active())

	// The pool hands out its remaining empty slot first, then
	// reuses the recycled connection.
	conn2, err := pool.Get(context.Background())
	require.NoError(t, err)
	conn3, err := pool.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, conn.DBConnection, conn3.DBConnection)
	conn2.Recycle()
	conn3.Recycle()

	assert.Contains(t, pool.StatsJSON(), `"Capacity": 2`)
}

func TestConnectionPoolExhausted(t *testing.T) {
	defer goleak.VerifyNone(t, goleakIgnores...)

	l, _, params := newPoolListener(t)
	defer l.Close()

	pool := NewConnectionPool("TestPoolExhausted", 1, time.Minute)
	pool.Open(params, stats.NewTimings(""))
	defer pool.Close()

	conn, err := pool.Get(context.Background())
	require.NoError(t, err)

	// The pool is exhausted, a second Get times out with its
	// context.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = pool.Get(ctx)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// A Get that does obtain the connection after waiting is
	// counted.
	go func() {
		time.Sleep(50 * time.Millisecond)
		conn.Recycle()
	}()
	conn, err = pool.Get(context.Background())
	require.NoError(t, err)
	conn.Recycle()
	assert.Equal(t, int64(1), pool.WaitCount())
	assert.Greater(t, pool.WaitTime(), time.Duration(0))
}

func TestConnectionPoolConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t, goleakIgnores...)

	l, handler, params := newPoolListener(t)
	defer l.Close()

	pool := NewConnectionPool("TestPoolConcurrent", 2, time.Minute)
	pool.Open(params, stats.NewTimings(""))
	defer pool.Close()

	wg := sync.WaitGroup{}
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				conn, err := pool.Get(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				_, err = conn.ExecuteFetch("select id from t", 10, true)
				assert.NoError(t, err)
				conn.Recycle()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), pool.InUse())
	// The pool never opens more connections than its capacity.
	assert.LessOrEqual(t, handler.connects.Load(), int64(2))

	// Every acquisition has a matching release, and held time
	// accumulated for each of them.
	assert.Equal(t, int64(75), pool.GetCount())
	assert.Equal(t, int64(75), pool.PutCount())
	assert.Equal(t, int64(0), pool.Waiters())
	assert.Greater(t, pool.UsageTime(), time.Duration(0))

	pool.Close()
	assert.Equal(t, int64(0), pool.Active())
}

func TestConnectionPoolReplacesDeadConnection(t *testing.T) {
	defer goleak.VerifyNone(t, goleakIgnores...)

	savedThreshold := pingThreshold
	pingThreshold = time.Millisecond
	defer func() { pingThreshold = savedThreshold }()

	l, handler, params := newPoolListener(t)
	defer l.Close()

	pool := NewConnectionPool("TestPoolDeadConn", 1, time.Minute)
	pool.Open(params, stats.NewTimings(""))
	defer pool.Close()

	conn, err := pool.Get(context.Background())
	require.NoError(t, err)
	_, err = conn.ExecuteFetch("select id from t", 10, true)
	require.NoError(t, err)
	conn.Recycle()

	// Kill the server side of the idle connection, then wait long
	// enough for the next Get to probe it.
	handler.CloseLastConnection()
	time.Sleep(10 * time.Millisecond)

	conn, err = pool.Get(context.Background())
	require.NoError(t, err)
	result, err := conn.ExecuteFetch("select id from t", 10, true)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
	conn.Recycle()

	assert.Equal(t, int64(2), handler.connects.Load())
}

func TestConnectionPoolClosedErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleakIgnores...)

	pool := NewConnectionPool("TestPoolClosed", 1, time.Minute)
	_, err := pool.Get(context.Background())
	assert.Equal(t, ErrConnPoolClosed, err)
}

func TestConnectionPoolSetCapacity(t *testing.T) {
	defer goleak.VerifyNone(t, goleakIgnores...)

	l, _, params := newPoolListener(t)
	defer l.Close()

	pool := NewConnectionPool("TestPoolSetCapacity", 2, time.Minute)
	pool.Open(params, stats.NewTimings(""))
	defer pool.Close()

	err := pool.SetCapacity(-1)
	require.Error(t, err)

	require.NoError(t, pool.SetCapacity(1))
	assert.Equal(t, int64(1), pool.Capacity())

	conn, err := pool.Get(context.Background())
	require.NoError(t, err)
	conn.Recycle()
}

func TestDBConnectionStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleakIgnores...)

	l, _, params := newPoolListener(t)
	defer l.Close()

	conn, err := NewDBConnection(context.Background(), params, stats.NewTimings(""))
	require.NoError(t, err)
	defer conn.Close()

	var fields []*sqltypes.Field
	var rowCount int
	err = conn.ExecuteStreamFetch("select id from t", func(r *sqltypes.Result) error {
		if r.Fields != nil {
			fields = r.Fields
		}
		rowCount += len(r.Rows)
		return nil
	}, 16)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "id", fields[0].Name)
	assert.Equal(t, 1, rowCount)
}
