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

package mysql

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoststack/mysqlwire/go/sqltypes"
)

var rowsTestResult = &sqltypes.Result{
	Fields: []*sqltypes.Field{
		{Name: "id", Type: sqltypes.Int64, Charset: CharacterSetBinary},
		{Name: "count", Type: sqltypes.Uint64, Charset: CharacterSetBinary},
		{Name: "name", Type: sqltypes.VarChar, Charset: CharacterSetUtf8},
		{Name: "ratio", Type: sqltypes.Float64, Charset: CharacterSetBinary},
		{Name: "price", Type: sqltypes.Decimal, Charset: CharacterSetBinary},
		{Name: "created", Type: sqltypes.Datetime, Charset: CharacterSetBinary},
		{Name: "elapsed", Type: sqltypes.Time, Charset: CharacterSetBinary},
	},
	Rows: [][]sqltypes.Value{{
		sqltypes.MakeTrusted(sqltypes.Int64, []byte("-7")),
		sqltypes.MakeTrusted(sqltypes.Uint64, []byte("18446744073709551615")),
		sqltypes.MakeTrusted(sqltypes.VarChar, []byte("first")),
		sqltypes.MakeTrusted(sqltypes.Float64, []byte("0.25")),
		sqltypes.MakeTrusted(sqltypes.Decimal, []byte("1234.5600")),
		sqltypes.MakeTrusted(sqltypes.Datetime, []byte("2024-02-29 12:34:56")),
		sqltypes.MakeTrusted(sqltypes.Time, []byte("-101:22:33")),
	}, {
		sqltypes.MakeTrusted(sqltypes.Int64, []byte("8")),
		sqltypes.NULL,
		sqltypes.NULL,
		sqltypes.MakeTrusted(sqltypes.Float64, []byte("2.5")),
		sqltypes.NULL,
		sqltypes.NULL,
		sqltypes.MakeTrusted(sqltypes.Time, []byte("00:00:01")),
	}},
}

// serveRowsQuery answers one ComQuery on the server side of a socket
// pair with the given result.
func serveRowsQuery(t *testing.T, sConn *Conn, result *sqltypes.Result) *sync.WaitGroup {
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		readEchoedQuery(t, sConn)
		assert.NoError(t, writeResult(sConn, result))
	}()
	return wg
}

func TestRowsCursor(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	wg := serveRowsQuery(t, sConn, rowsTestResult)
	rows, err := cConn.Query("select * from t")
	require.NoError(t, err)
	require.Len(t, rows.Fields(), 7)

	// Before the first Next there is no current row.
	_, err = rows.Int64(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no current row")

	require.True(t, rows.Next())

	id, err := rows.Int64(0)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), id)

	count, err := rows.Uint64(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), count)

	nameIndex, err := rows.ColumnIndex("name")
	require.NoError(t, err)
	assert.Equal(t, 2, nameIndex)
	name, err := rows.String(nameIndex)
	require.NoError(t, err)
	assert.Equal(t, "first", name)

	b, err := rows.Bytes(nameIndex)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), b)

	ratio, err := rows.Float64(3)
	require.NoError(t, err)
	assert.Equal(t, 0.25, ratio)

	price, err := rows.Decimal(4)
	require.NoError(t, err)
	assert.Equal(t, "1234.5600", price)

	created, err := rows.Time(5)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 12, 34, 56, 0, time.UTC), created)

	elapsed, err := rows.Duration(6)
	require.NoError(t, err)
	assert.Equal(t, -(101*time.Hour + 22*time.Minute + 33*time.Second), elapsed)

	isNull, err := rows.IsNull(1)
	require.NoError(t, err)
	assert.False(t, isNull)

	// Second row carries NULLs, which the typed accessors reject.
	require.True(t, rows.Next())
	isNull, err = rows.IsNull(1)
	require.NoError(t, err)
	assert.True(t, isNull)
	_, err = rows.Uint64(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NULL")

	elapsed, err = rows.Duration(6)
	require.NoError(t, err)
	assert.Equal(t, time.Second, elapsed)

	// Index bounds.
	_, err = rows.String(7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
	_, err = rows.ColumnIndex("nope")
	require.Error(t, err)

	require.False(t, rows.Next())
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	wg.Wait()

	// The stream is fully drained, the connection can run another
	// query.
	wg = serveRowsQuery(t, sConn, &sqltypes.Result{RowsAffected: 3})
	rows, err = cConn.Query("delete from t")
	require.NoError(t, err)
	assert.Nil(t, rows.Fields())
	assert.False(t, rows.Next())
	require.NoError(t, rows.Close())
	wg.Wait()
}

func TestRowsCloseDrains(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	wg := serveRowsQuery(t, sConn, rowsTestResult)
	rows, err := cConn.Query("select * from t")
	require.NoError(t, err)

	// Only read the first row, Close must consume the rest.
	require.True(t, rows.Next())
	require.NoError(t, rows.Close())
	wg.Wait()

	wg = serveRowsQuery(t, sConn, &sqltypes.Result{})
	_, err = cConn.ExecuteFetch("select 1", 10, false)
	require.NoError(t, err)
	wg.Wait()
}

func TestRowsQueryError(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		readEchoedQuery(t, sConn)
		assert.NoError(t, sConn.writeErrorPacket(ERDupEntry, SSDupKey, "duplicate"))
	}()

	_, err := cConn.Query("insert into t values(1)")
	require.Error(t, err)
	sqlErr, ok := err.(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", err, err)
	assert.Equal(t, ERDupEntry, sqlErr.Number())
	assert.Equal(t, "insert into t values(1)", sqlErr.Query)
	wg.Wait()
}

func TestRowsMidStreamError(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		readEchoedQuery(t, sConn)
		assert.NoError(t, sConn.writeFields(rowsTestResult))
		assert.NoError(t, sConn.writeRow(rowsTestResult.Rows[0]))
		assert.NoError(t, sConn.writeErrorPacket(ERQueryInterrupted, SSUnknownSQLState, "interrupted"))
	}()

	rows, err := cConn.Query("select * from t")
	require.NoError(t, err)
	require.True(t, rows.Next())
	require.False(t, rows.Next())
	require.Error(t, rows.Err())
	sqlErr, ok := rows.Err().(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", rows.Err(), rows.Err())
	assert.Equal(t, ERQueryInterrupted, sqlErr.Number())
	assert.Error(t, rows.Close())
	wg.Wait()
}

func TestParseTemporal(t *testing.T) {
	got, err := parseTemporal("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTemporal("2024-02-29 12:34:56.250000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 12, 34, 56, 250000000, time.UTC), got)

	_, err = parseTemporal("not a date")
	require.Error(t, err)
}

func TestParseTimeOfDay(t *testing.T) {
	got, err := parseTimeOfDay("11:22:33")
	require.NoError(t, err)
	assert.Equal(t, 11*time.Hour+22*time.Minute+33*time.Second, got)

	got, err = parseTimeOfDay("800:00:00")
	require.NoError(t, err)
	assert.Equal(t, 800*time.Hour, got)

	got, err = parseTimeOfDay("-00:00:01.500000")
	require.NoError(t, err)
	assert.Equal(t, -(time.Second + 500*time.Millisecond), got)

	_, err = parseTimeOfDay("garbage")
	require.Error(t, err)
}
