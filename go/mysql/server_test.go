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
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoststack/mysqlwire/go/sqltypes"
	"github.com/hoststack/mysqlwire/go/vt/tlstest"
	"github.com/hoststack/mysqlwire/go/vt/vttls"
)

var selectRowsResult = &sqltypes.Result{
	Fields: []*sqltypes.Field{
		{
			Name:    "id",
			Type:    sqltypes.Int32,
			Charset: CharacterSetBinary,
		},
		{
			Name:    "name",
			Type:    sqltypes.VarChar,
			Charset: CharacterSetUtf8,
		},
	},
	Rows: [][]sqltypes.Value{
		{
			sqltypes.MakeTrusted(sqltypes.Int32, []byte("10")),
			sqltypes.NewVarChar("nice name"),
		},
		{
			sqltypes.MakeTrusted(sqltypes.Int32, []byte("20")),
			sqltypes.NewVarChar("nicer name"),
		},
	},
}

type testHandler struct {
	mu       sync.Mutex
	lastConn *Conn
	result   *sqltypes.Result
	err      error
	warnings uint16
}

func (th *testHandler) LastConn() *Conn {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.lastConn
}

func (th *testHandler) SetErr(err error) {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.err = err
}

func (th *testHandler) Err() error {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.err
}

func (th *testHandler) SetWarnings(count uint16) {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.warnings = count
}

func (th *testHandler) NewConnection(c *Conn) {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.lastConn = c
}

func (th *testHandler) ConnectionClosed(c *Conn) {
}

func (th *testHandler) ComQuery(c *Conn, query string, callback func(*sqltypes.Result) error) error {
	if err := th.Err(); err != nil {
		return err
	}

	switch query {
	case "error":
		return NewSQLError(ERUnknownComError, SSNetError, "forced query error")
	case "insert":
		return callback(&sqltypes.Result{
			RowsAffected: 123,
			InsertID:     123456789,
		})
	case "schema echo":
		return callback(&sqltypes.Result{
			Fields: []*sqltypes.Field{
				{
					Name:    "schema_name",
					Type:    sqltypes.VarChar,
					Charset: CharacterSetUtf8,
				},
			},
			Rows: [][]sqltypes.Value{
				{
					sqltypes.NewVarChar(c.schemaName),
				},
			},
		})
	case "ssl echo":
		value := "OFF"
		if c.Capabilities&CapabilityClientSSL > 0 {
			value = "ON"
		}
		return callback(&sqltypes.Result{
			Fields: []*sqltypes.Field{
				{
					Name:    "ssl_flag",
					Type:    sqltypes.VarChar,
					Charset: CharacterSetUtf8,
				},
			},
			Rows: [][]sqltypes.Value{
				{
					sqltypes.NewVarChar(value),
				},
			},
		})
	case "userData echo":
		return callback(&sqltypes.Result{
			Fields: []*sqltypes.Field{
				{
					Name:    "user",
					Type:    sqltypes.VarChar,
					Charset: CharacterSetUtf8,
				},
				{
					Name:    "user_data",
					Type:    sqltypes.VarChar,
					Charset: CharacterSetUtf8,
				},
			},
			Rows: [][]sqltypes.Value{
				{
					sqltypes.NewVarChar(c.User),
					sqltypes.NewVarChar(c.UserData.Get().Username),
				},
			},
		})
	default:
		return callback(selectRowsResult)
	}
}

func (th *testHandler) ComPrepare(c *Conn, query string) ([]*sqltypes.Field, error) {
	return nil, nil
}

func (th *testHandler) ComStmtExecute(c *Conn, prepare *PrepareData, callback func(*sqltypes.Result) error) error {
	return nil
}

func (th *testHandler) WarningCount(c *Conn) uint16 {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.warnings
}

func newTestAuthServerStatic() *AuthServerStatic {
	authServer := NewAuthServerStatic()
	authServer.Entries["user1"] = []*AuthServerStaticEntry{{
		Password: "password1",
		UserData: "userData1",
	}}
	return authServer
}

func newTestListener(t *testing.T, authServer AuthServer, handler Handler) (*Listener, *ConnParams) {
	t.Helper()
	l, err := NewListener("tcp", "127.0.0.1:0", authServer, handler)
	require.NoError(t, err)
	host, port := getHostPort(t, l.Addr())
	params := &ConnParams{
		Host:  host,
		Port:  port,
		Uname: "user1",
		Pass:  "password1",
	}
	go l.Accept()
	return l, params
}

func getHostPort(t *testing.T, a net.Addr) (string, int) {
	host := a.(*net.TCPAddr).IP.String()
	port := a.(*net.TCPAddr).Port
	t.Logf("listening on address '%v' port %v", host, port)
	return host, port
}

func TestConnectionFromListener(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err, "Should be able to connect to server")
	c.Close()
}

func TestConnectionUserData(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	result, err := c.ExecuteFetch("userData echo", 10, true)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "user1", result.Rows[0][0].ToString())
	assert.Equal(t, "userData1", result.Rows[0][1].ToString())
}

func TestConnectionBadPassword(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	params.Pass = "bad"
	_, err := Connect(context.Background(), params)
	require.Error(t, err)
	sqlErr, ok := err.(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", err, err)
	assert.Equal(t, ERAccessDeniedError, sqlErr.Number())
	assert.Equal(t, SSAccessDeniedError, sqlErr.SQLState())
}

func TestConnectionUnknownUser(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	params.Uname = "nobody"
	_, err := Connect(context.Background(), params)
	require.Error(t, err)
	sqlErr, ok := err.(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", err, err)
	assert.Equal(t, ERAccessDeniedError, sqlErr.Number())
}

func TestConnectionWithDb(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	params.DbName = "testdb"
	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	result, err := c.ExecuteFetch("schema echo", 10, true)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "testdb", result.Rows[0][0].ToString())
}

func TestQueries(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	// Rows result.
	result, err := c.ExecuteFetch("select rows", 10, true)
	require.NoError(t, err)
	expected := selectRowsResult.Copy()
	expected.RowsAffected = 2
	result.StatusFlags = 0
	assert.Equal(t, expected, result)

	// Rows without fields.
	result, err = c.ExecuteFetch("select rows", 10, false)
	require.NoError(t, err)
	assert.Nil(t, result.Fields)
	assert.Len(t, result.Rows, 2)

	// Fieldless result with affected rows and insert id.
	result, err = c.ExecuteFetch("insert", 10, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(123), result.RowsAffected)
	assert.Equal(t, uint64(123456789), result.InsertID)

	// Server-side error.
	_, err = c.ExecuteFetch("error", 10, true)
	require.Error(t, err)
	sqlErr, ok := err.(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", err, err)
	assert.Equal(t, ERUnknownComError, sqlErr.Number())
	assert.Equal(t, SSNetError, sqlErr.SQLState())
	assert.Contains(t, sqlErr.Error(), "forced query error")

	// Maxrows exceeded.
	_, err = c.ExecuteFetch("select rows", 1, true)
	require.Error(t, err)
	sqlErr, ok = err.(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", err, err)
	assert.Equal(t, ERDataTooLong, sqlErr.Number())

	// Exactly maxrows is fine.
	_, err = c.ExecuteFetch("select rows", 2, true)
	require.NoError(t, err)
}

func TestWarningCount(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	th.SetWarnings(13)
	_, warnings, err := c.ExecuteFetchWithWarningCount("select rows", 10, true)
	require.NoError(t, err)
	assert.Equal(t, uint16(13), warnings)
}

func TestComInitDB(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	err = c.writeComInitDB("newdb")
	require.NoError(t, err)
	data, err := c.readPacket()
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.EqualValues(t, OKPacket, data[0])

	result, err := c.ExecuteFetch("schema echo", 10, true)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "newdb", result.Rows[0][0].ToString())
}

func TestPing(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping())
}

func TestStreamQuery(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	err = c.ExecuteStreamFetch("select rows")
	require.NoError(t, err)

	fields, err := c.Fields()
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "id", fields[0].Name)

	count := 0
	for {
		row, err := c.FetchNext()
		require.NoError(t, err)
		if row == nil {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
	c.CloseResult()

	// The connection is reusable after the stream is drained.
	_, err = c.ExecuteFetch("select rows", 10, true)
	require.NoError(t, err)
}

// TestClearTextServer checks the cleartext auth method. It is
// refused over an insecure channel unless the listener explicitly
// allows it.
func TestClearTextServer(t *testing.T) {
	th := &testHandler{}
	authServer := newTestAuthServerStatic()
	authServer.Method = MysqlClearPassword
	l, params := newTestListener(t, authServer, th)
	defer l.Close()

	// Over plain TCP the server refuses to even ask for the password.
	_, err := Connect(context.Background(), params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot use clear text authentication over non-SSL connections")

	// Once allowed server-side, the client still refuses to send a
	// cleartext password over an insecure channel.
	l.AllowClearTextWithoutTLS = true
	_, err = Connect(context.Background(), params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a secure channel")
}

// TestClearTextUnixSocket checks that cleartext auth works over a
// unix socket, which counts as a confidential channel.
func TestClearTextUnixSocket(t *testing.T) {
	th := &testHandler{}
	authServer := newTestAuthServerStatic()
	authServer.Method = MysqlClearPassword

	socketFile := path.Join(t.TempDir(), "mysql.sock")
	l, err := NewListener("unix", socketFile, authServer, th)
	require.NoError(t, err)
	defer l.Close()
	l.AllowClearTextWithoutTLS = true
	go l.Accept()

	params := &ConnParams{
		UnixSocket: socketFile,
		Uname:      "user1",
		Pass:       "password1",
	}
	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ExecuteFetch("select rows", 10, true)
	require.NoError(t, err)

	// Wrong password gets an access denied.
	params.Pass = "bad"
	_, err = Connect(context.Background(), params)
	require.Error(t, err)
	sqlErr, ok := err.(*SQLError)
	require.True(t, ok, "expected SQLError, got %T: %v", err, err)
	assert.Equal(t, ERAccessDeniedError, sqlErr.Number())
}

func TestTLSServer(t *testing.T) {
	th := &testHandler{}
	authServer := newTestAuthServerStatic()

	// The host name must resolve for the certificate check.
	host, err := os.Hostname()
	require.NoError(t, err)

	l, err := NewListener("tcp", host+":0", authServer, th)
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	// Create the certs.
	root := t.TempDir()
	tlstest.CreateCA(root)
	tlstest.CreateSignedCert(root, tlstest.CA, "01", "server", host)
	tlstest.CreateSignedCert(root, tlstest.CA, "02", "client", "Client Cert")

	serverConfig, err := vttls.ServerConfig(
		path.Join(root, "server-cert.pem"),
		path.Join(root, "server-key.pem"),
		path.Join(root, "ca-cert.pem"),
		"",
		"",
		0)
	require.NoError(t, err)
	l.TLSConfig = serverConfig
	go l.Accept()

	params := &ConnParams{
		Host:    host,
		Port:    port,
		Uname:   "user1",
		Pass:    "password1",
		SslMode: vttls.VerifyIdentity,
		SslCa:   path.Join(root, "ca-cert.pem"),
		SslCert: path.Join(root, "client-cert.pem"),
		SslKey:  path.Join(root, "client-key.pem"),
	}

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	// The server side saw the connection as TLS.
	result, err := c.ExecuteFetch("ssl echo", 10, true)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "ON", result.Rows[0][0].ToString())

	// The client cert was presented.
	certs := th.LastConn().GetTLSClientCerts()
	require.NotEmpty(t, certs)
	assert.Equal(t, "Client Cert", certs[0].Subject.CommonName)
}

func TestTLSRequired(t *testing.T) {
	th := &testHandler{}
	authServer := newTestAuthServerStatic()

	// Listener without TLS configured.
	l, params := newTestListener(t, authServer, th)
	defer l.Close()

	// A required SslMode must fail if the server does not do TLS.
	params.SslMode = vttls.Required
	_, err := Connect(context.Background(), params)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "ssl")
}

func TestServerVersion(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	l.ServerVersion = "8.0.33-test"
	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "8.0.33-test", c.ServerVersion)
	ok, err := ServerVersionAtLeast(c.ServerVersion, 8, 0, 5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConnectWithExpiredContext(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Connect(ctx, params)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListenerShutdown(t *testing.T) {
	th := &testHandler{}
	l, params := newTestListener(t, newTestAuthServerStatic(), th)

	c, err := Connect(context.Background(), params)
	require.NoError(t, err)
	defer c.Close()

	l.Close()

	// Existing connections keep working, only the accept loop stops.
	_, err = c.ExecuteFetch("select rows", 10, true)
	require.NoError(t, err)

	// New connections are refused.
	_, err = Connect(context.Background(), &ConnParams{
		Host:  params.Host,
		Port:  params.Port,
		Uname: "user1",
		Pass:  "password1",
	})
	require.Error(t, err)

	// Close is idempotent.
	l.Close()
}
