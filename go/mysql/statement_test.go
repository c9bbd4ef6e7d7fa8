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
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoststack/mysqlwire/go/sqltypes"
)

func TestBinaryValueRoundTrip(t *testing.T) {
	testcases := []struct {
		typ sqltypes.Type
		in  string
		// out is the canonical decoded form; empty means
		// identical to in.
		out string
	}{
		{typ: sqltypes.Int8, in: "-20"},
		{typ: sqltypes.Uint8, in: "200"},
		{typ: sqltypes.Int16, in: "-300"},
		{typ: sqltypes.Uint16, in: "60000"},
		{typ: sqltypes.Year, in: "2024"},
		{typ: sqltypes.Int24, in: "-8000000"},
		{typ: sqltypes.Int32, in: "-2000000000"},
		{typ: sqltypes.Uint32, in: "4000000000"},
		{typ: sqltypes.Int64, in: "-9223372036854775808"},
		{typ: sqltypes.Uint64, in: "18446744073709551615"},
		{typ: sqltypes.Float32, in: "1.5"},
		{typ: sqltypes.Float64, in: "-2.75"},
		{typ: sqltypes.Date, in: "2024-02-29"},
		{typ: sqltypes.Datetime, in: "2024-02-29 12:34:56.123456"},
		{typ: sqltypes.Datetime, in: "2024-02-29 12:34:56", out: "2024-02-29 12:34:56.000000"},
		{typ: sqltypes.Timestamp, in: "2024-02-29 12:34:56.000001"},
		{typ: sqltypes.Time, in: "11:22:33", out: "11:22:33.000000"},
		{typ: sqltypes.Time, in: "-101:22:33.500000"},
		{typ: sqltypes.VarChar, in: "hello wire"},
		{typ: sqltypes.VarBinary, in: "\x00\x01\x02"},
		{typ: sqltypes.Decimal, in: "1234.5678"},
		{typ: sqltypes.Text, in: "some longer text value"},
	}

	for _, tc := range testcases {
		t.Run(tc.in, func(t *testing.T) {
			field := &sqltypes.Field{Name: "c", Type: tc.typ}
			val := sqltypes.MakeTrusted(tc.typ, []byte(tc.in))

			data := make([]byte, binValueSize(field, val))
			pos, err := binEncodeValue(data, 0, field, val)
			require.NoError(t, err)
			assert.Equal(t, len(data), pos, "encoded size mismatch")

			out := tc.out
			if out == "" {
				out = tc.in
			}
			decoded, pos, ok := binDecodeValue(data, 0, field)
			require.True(t, ok, "binDecodeValue failed for %v", tc.in)
			assert.Equal(t, len(data), pos)
			assert.Equal(t, sqltypes.MakeTrusted(tc.typ, []byte(out)), decoded)
		})
	}
}

func TestBinaryValueDecodeTruncated(t *testing.T) {
	field := &sqltypes.Field{Name: "c", Type: sqltypes.Int64}
	data := []byte{0x01, 0x02, 0x03}
	_, _, ok := binDecodeValue(data, 0, field)
	assert.False(t, ok, "decoding a truncated longlong must fail")
}

func TestBinaryRowRoundTrip(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	fields := []*sqltypes.Field{
		{Name: "id", Type: sqltypes.Int64},
		{Name: "name", Type: sqltypes.VarChar},
		{Name: "ratio", Type: sqltypes.Float64},
	}
	row := []sqltypes.Value{
		sqltypes.MakeTrusted(sqltypes.Int64, []byte("42")),
		sqltypes.NULL,
		sqltypes.MakeTrusted(sqltypes.Float64, []byte("0.5")),
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, sConn.writeBinaryRow(fields, row))
	}()

	data, err := cConn.ReadPacket()
	require.NoError(t, err)
	got, err := cConn.parseBinaryRow(data, fields)
	require.NoError(t, err)
	assert.Equal(t, row, got)
	wg.Wait()
}

// stmtHandler responds to the prepared statement commands: it echoes
// the bound parameters back as a result set.
type stmtHandler struct {
	testHandler

	mu      sync.Mutex
	prepare *PrepareData
}

func (sh *stmtHandler) LastPrepare() *PrepareData {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.prepare
}

func (sh *stmtHandler) ComPrepare(c *Conn, query string) ([]*sqltypes.Field, error) {
	if query == "error" {
		return nil, NewSQLError(ERUnknownComError, SSNetError, "forced prepare error")
	}
	return []*sqltypes.Field{
		{
			Name:    "value",
			Type:    sqltypes.VarChar,
			Charset: CharacterSetUtf8,
		},
	}, nil
}

func (sh *stmtHandler) ComStmtExecute(c *Conn, prepare *PrepareData, callback func(*sqltypes.Result) error) error {
	sh.mu.Lock()
	sh.prepare = prepare
	sh.mu.Unlock()

	result := &sqltypes.Result{
		Fields: []*sqltypes.Field{
			{
				Name:    "value",
				Type:    sqltypes.VarChar,
				Charset: CharacterSetUtf8,
			},
		},
	}
	for _, bv := range prepare.BindVars {
		var row []sqltypes.Value
		if bv.IsNull() {
			row = []sqltypes.Value{sqltypes.NULL}
		} else {
			row = []sqltypes.Value{sqltypes.NewVarChar(bv.ToString())}
		}
		result.Rows = append(result.Rows, row)
	}
	return callback(result)
}

func TestPrepareExecute(t *testing.T) {
	sh := &stmtHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), sh)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	stmt, err := c.Prepare("select * from t where id = ? and name = ? and ratio < ?")
	require.NoError(t, err)
	assert.Equal(t, 3, stmt.ParamCount())
	require.Len(t, stmt.ColumnFields(), 1)
	assert.Equal(t, "value", stmt.ColumnFields()[0].Name)

	result, err := stmt.Execute([]sqltypes.Value{
		sqltypes.NewInt64(-42),
		sqltypes.NewVarChar("brackets"),
		sqltypes.NewFloat64(0.5),
	}, 100)
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "-42", result.Rows[0][0].ToString())
	assert.Equal(t, "brackets", result.Rows[1][0].ToString())
	assert.Equal(t, "0.5", result.Rows[2][0].ToString())

	// The server decoded the parameters with their types.
	prepare := sh.LastPrepare()
	require.NotNil(t, prepare)
	require.Len(t, prepare.BindVars, 3)
	v, err := prepare.BindVars[0].ToInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), v)

	// Unsigned and NULL parameters.
	result, err = stmt.Execute([]sqltypes.Value{
		sqltypes.NewUint64(18446744073709551615),
		sqltypes.NULL,
		sqltypes.NewVarChar(""),
	}, 100)
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "18446744073709551615", result.Rows[0][0].ToString())
	assert.True(t, result.Rows[1][0].IsNull())
	assert.Equal(t, "", result.Rows[2][0].ToString())

	require.NoError(t, stmt.Close())
}

func TestPrepareError(t *testing.T) {
	sh := &stmtHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), sh)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Prepare("error")
	require.Error(t, err)
	sqlErr, ok := err.(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", err, err)
	assert.Equal(t, ERUnknownComError, sqlErr.Number())
	assert.Equal(t, "error", sqlErr.Query)
}

func TestExecuteParamCountMismatch(t *testing.T) {
	sh := &stmtHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), sh)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	stmt, err := c.Prepare("select * from t where id = ?")
	require.NoError(t, err)
	_, err = stmt.Execute(nil, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameter")
}

func TestSendLongData(t *testing.T) {
	sh := &stmtHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), sh)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	stmt, err := c.Prepare("insert into t(blob) values(?)")
	require.NoError(t, err)

	// Stream the value in chunks, then execute. The parameter
	// value comes from the accumulated chunks, not the execute
	// packet.
	require.NoError(t, stmt.SendLongData(0, []byte("hello ")))
	require.NoError(t, stmt.SendLongData(0, []byte("world")))

	result, err := stmt.Execute([]sqltypes.Value{sqltypes.NULL}, 100)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "hello world", result.Rows[0][0].ToString())

	// A reset clears the accumulated chunks.
	require.NoError(t, stmt.SendLongData(0, []byte("stale")))
	require.NoError(t, stmt.Reset())
	result, err = stmt.Execute([]sqltypes.Value{sqltypes.NULL}, 100)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.True(t, result.Rows[0][0].IsNull())
}

func TestExecuteStream(t *testing.T) {
	sh := &stmtHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), sh)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	stmt, err := c.Prepare("select * from t where id = ?")
	require.NoError(t, err)

	rows, err := stmt.ExecuteStream([]sqltypes.Value{sqltypes.NewInt64(1)})
	require.NoError(t, err)

	count := 0
	for rows.Next() {
		s, err := rows.String(0)
		require.NoError(t, err)
		assert.Equal(t, "1", s)
		count++
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, 1, count)
}
