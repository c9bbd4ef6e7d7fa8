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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLError(t *testing.T) {
	err := NewSQLError(ERDupEntry, SSDupKey, "Duplicate entry '%v'", 12)
	assert.Equal(t, ERDupEntry, err.Number())
	assert.Equal(t, SSDupKey, err.SQLState())
	assert.Equal(t, "Duplicate entry '12' (errno 1062) (sqlstate 23000)", err.Error())

	// An empty SQLSTATE defaults to the general error state.
	err = NewSQLError(ERUnknownError, "", "it went wrong")
	assert.Equal(t, SSUnknownSQLState, err.SQLState())
}

func TestSQLErrorWithQuery(t *testing.T) {
	err := NewSQLError(ERDupEntry, SSDupKey, "Duplicate entry '12'")
	err.Query = "insert into t values(12)"
	assert.Equal(t,
		"Duplicate entry '12' (errno 1062) (sqlstate 23000) during query: insert into t values(12)",
		err.Error())
}

func TestNewSQLErrorFromError(t *testing.T) {
	assert.NoError(t, NewSQLErrorFromError(nil))

	// A *SQLError passes through untouched.
	orig := NewSQLError(ERDupEntry, SSDupKey, "dup")
	assert.Same(t, error(orig), NewSQLErrorFromError(orig))

	// Number and state are recovered from a stringified error.
	wrapped := fmt.Errorf("rpc failed: %v", orig.Error())
	err := NewSQLErrorFromError(wrapped)
	serr, ok := err.(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", err, err)
	assert.Equal(t, ERDupEntry, serr.Number())
	assert.Equal(t, SSDupKey, serr.SQLState())
	assert.Equal(t, wrapped.Error(), serr.Message)

	// Anything else becomes an unknown error.
	err = NewSQLErrorFromError(errors.New("plain failure"))
	serr, ok = err.(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", err, err)
	assert.Equal(t, ERUnknownError, serr.Number())
	assert.Equal(t, SSUnknownSQLState, serr.SQLState())
	assert.Equal(t, "plain failure", serr.Message)
}
