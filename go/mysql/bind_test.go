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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoststack/mysqlwire/go/sqltypes"
)

func TestBindQuery(t *testing.T) {
	testcases := []struct {
		name   string
		query  string
		params []sqltypes.Value
		want   string
	}{{
		name:  "no placeholders",
		query: "select 1 from dual",
		want:  "select 1 from dual",
	}, {
		name:   "integer",
		query:  "select * from t where id = ?",
		params: []sqltypes.Value{sqltypes.NewInt64(42)},
		want:   "select * from t where id = 42",
	}, {
		name:  "string is quoted and escaped",
		query: "insert into t(name) values(?)",
		params: []sqltypes.Value{
			sqltypes.NewVarChar("it's"),
		},
		want: "insert into t(name) values('it\\'s')",
	}, {
		name:   "null literal",
		query:  "update t set name = ? where id = ?",
		params: []sqltypes.Value{sqltypes.NULL, sqltypes.NewInt64(1)},
		want:   "update t set name = null where id = 1",
	}, {
		name:   "float",
		query:  "select * from t where ratio < ?",
		params: []sqltypes.Value{sqltypes.NewFloat64(0.5)},
		want:   "select * from t where ratio < 0.5",
	}, {
		name:   "question mark inside single quotes",
		query:  "select '?' from t where id = ?",
		params: []sqltypes.Value{sqltypes.NewInt64(3)},
		want:   "select '?' from t where id = 3",
	}, {
		name:   "question mark inside double quotes",
		query:  `select "a ? \" b" from t where id = ?`,
		params: []sqltypes.Value{sqltypes.NewInt64(3)},
		want:   `select "a ? \" b" from t where id = 3`,
	}, {
		name:   "question mark inside backticks",
		query:  "select `a?b` from t where id = ?",
		params: []sqltypes.Value{sqltypes.NewInt64(3)},
		want:   "select `a?b` from t where id = 3",
	}, {
		name:   "backslash is not an escape inside backticks",
		query:  "select `a\\` from t where id = ?",
		params: []sqltypes.Value{sqltypes.NewInt64(3)},
		want:   "select `a\\` from t where id = 3",
	}, {
		name:   "escaped quote inside string",
		query:  `select 'a\'?' from t where id = ?`,
		params: []sqltypes.Value{sqltypes.NewInt64(3)},
		want:   `select 'a\'?' from t where id = 3`,
	}, {
		name:   "line comment",
		query:  "select ? -- and ? too\nfrom t",
		params: []sqltypes.Value{sqltypes.NewInt64(1)},
		want:   "select 1 -- and ? too\nfrom t",
	}, {
		name:  "line comment at end of query",
		query: "select 1 -- trailing ?",
		want:  "select 1 -- trailing ?",
	}, {
		name:   "block comment",
		query:  "select /* ? */ ? from t",
		params: []sqltypes.Value{sqltypes.NewInt64(7)},
		want:   "select /* ? */ 7 from t",
	}, {
		name:  "unterminated block comment",
		query: "select 1 /* open ?",
		want:  "select 1 /* open ?",
	}, {
		name:   "division is not a comment",
		query:  "select a / b from t where id = ?",
		params: []sqltypes.Value{sqltypes.NewInt64(9)},
		want:   "select a / b from t where id = 9",
	}, {
		name:   "minus is not a comment",
		query:  "select a - b from t where id = ?",
		params: []sqltypes.Value{sqltypes.NewInt64(9)},
		want:   "select a - b from t where id = 9",
	}}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BindQuery(tc.query, tc.params)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBindQueryParamMismatch(t *testing.T) {
	_, err := BindQuery("select * from t where id = ?", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough parameters")

	_, err = BindQuery("select 1", []sqltypes.Value{sqltypes.NewInt64(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many parameters")
}

func TestCountQueryPlaceholders(t *testing.T) {
	testcases := []struct {
		query string
		want  uint16
	}{
		{"select 1", 0},
		{"select * from t where id = ?", 1},
		{"select ?, ?, ?", 3},
		{"select '?' from t where id = ?", 1},
		{`select "?" from t`, 0},
		{"select `a?b`, ? from t", 1},
		{`select 'a\'?'`, 0},
		{"select ? -- and ?", 1},
		{"select /* ? */ ?", 1},
		{"select 1 /* open ?", 0},
		{"select a / b - c, ?", 1},
	}

	for _, tc := range testcases {
		t.Run(tc.query, func(t *testing.T) {
			assert.Equal(t, tc.want, countQueryPlaceholders(tc.query))
		})
	}
}

func TestExecuteFetchBound(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		query := readEchoedQuery(t, sConn)
		assert.Equal(t, "select * from t where id = 42 and name = 'it\\'s'", query)
		assert.NoError(t, writeResult(sConn, &sqltypes.Result{RowsAffected: 1}))
	}()

	result, err := cConn.ExecuteFetchBound(
		"select * from t where id = ? and name = ?",
		[]sqltypes.Value{sqltypes.NewInt64(42), sqltypes.NewVarChar("it's")},
		10, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.RowsAffected)
	wg.Wait()
}
