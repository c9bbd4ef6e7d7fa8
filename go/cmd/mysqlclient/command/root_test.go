/*
Copyright 2023 The Vitess Authors.

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

package command

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoststack/mysqlwire/go/sqltypes"
	"github.com/hoststack/mysqlwire/go/vt/vttls"
)

func TestConnParamsFromConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("host", "db.example.com")
	viper.Set("port", 3307)
	viper.Set("user", "app")
	viper.Set("password", "secret")
	viper.Set("database", "inventory")
	viper.Set("charset", "utf8mb4")
	viper.Set("ssl-mode", "verify_identity")
	viper.Set("ssl-ca", "/etc/ssl/ca.pem")
	viper.Set("server-name", "db.internal")
	viper.Set("connect-timeout", 5*time.Second)
	viper.Set("read-timeout", 2*time.Second)

	params, err := connParams()
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", params.Host)
	assert.Equal(t, 3307, params.Port)
	assert.Equal(t, "app", params.Uname)
	assert.Equal(t, "secret", params.Pass)
	assert.Equal(t, "inventory", params.DbName)
	assert.Equal(t, "utf8mb4", params.Charset)
	assert.Equal(t, vttls.VerifyIdentity, params.SslMode)
	assert.Equal(t, "/etc/ssl/ca.pem", params.SslCa)
	assert.Equal(t, "db.internal", params.ServerName)
	assert.Equal(t, uint64(5000), params.ConnectTimeoutMs)
	assert.Equal(t, uint64(2000), params.ReadTimeoutMs)
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range Root.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["query"])
	assert.True(t, names["execute"])
	assert.True(t, names["ping"])
}

func TestPrintResultTable(t *testing.T) {
	result := &sqltypes.Result{
		Fields: []*sqltypes.Field{
			{Name: "id", Type: sqltypes.Int64},
			{Name: "name", Type: sqltypes.VarChar},
		},
		Rows: [][]sqltypes.Value{{
			sqltypes.MakeTrusted(sqltypes.Int64, []byte("42")),
			sqltypes.NULL,
		}},
	}

	buf := &bytes.Buffer{}
	printResult(buf, result, time.Millisecond)
	out := buf.String()
	assert.Contains(t, out, "id")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, "1 rows in set")
}

func TestPrintResultOK(t *testing.T) {
	buf := &bytes.Buffer{}
	printResult(buf, &sqltypes.Result{RowsAffected: 5, InsertID: 99}, time.Millisecond)
	out := buf.String()
	assert.Contains(t, out, "Query OK, 5 rows affected")
	assert.Contains(t, out, "Last insert id: 99")
}

func TestRowStrings(t *testing.T) {
	row := []sqltypes.Value{
		sqltypes.NewInt64(1),
		sqltypes.NULL,
		sqltypes.NewVarChar("x"),
	}
	assert.Equal(t, []string{"1", "NULL", "x"}, rowStrings(row))
}
