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
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hoststack/mysqlwire/go/sqltypes"
	"github.com/hoststack/mysqlwire/go/stats"
	"github.com/hoststack/mysqlwire/go/vt/log"
)

const (
	// DefaultServerVersion is the default server version we're sending to the client.
	// Can be changed.
	DefaultServerVersion = "5.7.9-mysqlwire"

	// timing metric keys
	connectTimingKey = "Connect"
	queryTimingKey   = "Query"
)

var (
	// Metrics
	timings    = stats.NewTimings("MysqlServerTimings")
	connAccept = stats.NewCounter("MysqlServerConnAccepted", "connections accepted")
	connCount  = stats.NewGauge("MysqlServerConnCount", "connections currently open")
	connRefuse = stats.NewCounter("MysqlServerConnRefused", "connections refused")
)

// A Handler is an interface used by Listener to send queries.
// The implementation of this interface may store data in the ClientData
// field of the Connection for its own purposes.
//
// For a given Connection, all these methods are serialized. It means
// only one of these methods will be called concurrently for a given
// Connection. So access to the Connection ClientData does not need to
// be protected by a mutex.
//
// However, each connection is using one go routine, so multiple
// Connection objects can call these concurrently, for different
// Connections.
type Handler interface {
	// NewConnection is called when a connection is created.
	// It is not established yet. The handler can decide to
	// set StatusFlags that will be returned by the handshake methods.
	// In particular, ServerStatusAutocommit might be set.
	NewConnection(c *Conn)

	// ConnectionClosed is called when a connection is closed.
	ConnectionClosed(c *Conn)

	// ComQuery is called when a connection receives a query.
	// Note the contents of the query slice may change after
	// the first call to callback. So the Handler should not
	// hang on to the byte slice.
	ComQuery(c *Conn, query string, callback func(*sqltypes.Result) error) error

	// ComPrepare is called when a connection receives a
	// COM_STMT_PREPARE. It returns the fields of the result set the
	// statement will produce, or nil for a statement that returns
	// none.
	ComPrepare(c *Conn, query string) ([]*sqltypes.Field, error)

	// ComStmtExecute is called when a connection receives a
	// COM_STMT_EXECUTE. The bound parameter values are in
	// prepare.BindVars.
	ComStmtExecute(c *Conn, prepare *PrepareData, callback func(*sqltypes.Result) error) error

	// WarningCount is called at the end of each query to obtain
	// the value to be returned to the client in the EOF packet.
	// Note that this will be called either in the context of the
	// ComQuery callback if the result does not contain any fields,
	// or after the last ComQuery call completes.
	WarningCount(c *Conn) uint16
}

// PrepareData is a buffer used for store prepare statement meta data.
type PrepareData struct {
	StatementID uint32
	PrepareStmt string
	ParamsCount uint16
	ParamsType  []int32
	BindVars    []sqltypes.Value

	// longData accumulates COM_STMT_SEND_LONG_DATA chunks per
	// parameter until the next execute or reset.
	longData map[uint16][]byte
}

// Listener is the MySQL server protocol listener.
type Listener struct {
	// Construction parameters, set by NewListener.

	// authServer is the AuthServer object to use for authentication.
	authServer AuthServer

	// handler is the data handler.
	handler Handler

	// This is the main listener socket.
	listener net.Listener

	// The following parameters are read by multiple connection go
	// routines.  They are not protected by a mutex, so they
	// should be set after NewListener, and not changed while
	// Accept is running.

	// ServerVersion is the version we will advertise.
	ServerVersion string

	// TLSConfig is the server TLS config. If set, we will advertise
	// that we support SSL.
	TLSConfig *tls.Config

	// AllowClearTextWithoutTLS needs to be set for the
	// mysql_clear_password auth method to be accepted by the server
	// when TLS is not in use.
	AllowClearTextWithoutTLS bool

	// SlowConnectWarnThreshold if non-zero specifies an amount of time
	// beyond which a warning is logged to identify the slow connection
	SlowConnectWarnThreshold time.Duration

	// connectionID is the id for the next accepted connection.
	// Incremented by one for each new connection.
	connectionID uint32

	// shutdown is set when Close is called.
	shutdown atomic.Bool
}

// NewListener creates a new Listener.
func NewListener(protocol, address string, authServer AuthServer, handler Handler) (*Listener, error) {
	listener, err := net.Listen(protocol, address)
	if err != nil {
		return nil, err
	}
	return NewFromListener(listener, authServer, handler)
}

// NewFromListener creates a new mysql listener from an existing net.Listener.
func NewFromListener(l net.Listener, authServer AuthServer, handler Handler) (*Listener, error) {
	return &Listener{
		authServer:    authServer,
		handler:       handler,
		listener:      l,
		ServerVersion: DefaultServerVersion,
		connectionID:  1,
	}, nil
}

// Addr returns the listener address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept runs an accept loop until the listener is closed.
func (l *Listener) Accept() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			// Close() was probably called.
			return
		}

		acceptTime := time.Now()

		connectionID := l.connectionID
		l.connectionID++

		connAccept.Add(1)
		go l.handle(conn, connectionID, acceptTime)
	}
}

// Close stops the listener. It does not close existing client
// connections, but the accept loop exits.
func (l *Listener) Close() {
	if l.shutdown.CompareAndSwap(false, true) {
		l.listener.Close()
	}
}

// handle is called in a go routine for each client connection.
func (l *Listener) handle(conn net.Conn, connectionID uint32, acceptTime time.Time) {
	if l.SlowConnectWarnThreshold != 0 && time.Since(acceptTime) > l.SlowConnectWarnThreshold {
		log.Warningf("Slow connection from %s: %v", conn.RemoteAddr(), time.Since(acceptTime))
	}

	c := newConn(conn)
	c.ConnectionID = connectionID
	c.prepareData = make(map[uint32]*PrepareData)

	connCount.Add(1)
	// Catch panics, and close the connection in any case.
	defer func() {
		if x := recover(); x != nil {
			log.Errorf("mysql_server caught panic:\n%v", x)
		}
		conn.Close()
		connCount.Add(-1)
	}()

	// Tell the handler about the connection coming and going.
	l.handler.NewConnection(c)
	defer l.handler.ConnectionClosed(c)

	// First build and send the server handshake packet.
	salt, err := c.writeHandshakeV10(l.ServerVersion, l.authServer, l.TLSConfig != nil)
	if err != nil {
		if err != io.EOF {
			log.Errorf("Cannot send HandshakeV10 packet to %s: %v", c, err)
		}
		return
	}

	// Wait for the client response. This has to be a direct read,
	// so we don't buffer the TLS negotiation packets.
	response, err := c.readEphemeralPacketDirect()
	if err != nil {
		// Don't log EOF errors. They cause too much spam, same as
		// the main read loop.
		if err != io.EOF {
			log.Infof("Cannot read client handshake response from %s: %v, it may not be a valid MySQL client", c, err)
		}
		return
	}
	user, authMethod, authResponse, err := l.parseClientHandshakePacket(c, true, response)
	if err != nil {
		log.Errorf("Cannot parse client handshake response from %s: %v", c, err)
		return
	}
	c.recycleReadPacket()

	if c.Capabilities&CapabilityClientSSL > 0 {
		// SSL was enabled. We need to re-read the auth packet.
		if l.TLSConfig == nil {
			log.Errorf("Client requested SSL, but the server is not configured for it")
			return
		}
		tlsConn := tls.Server(conn, l.TLSConfig)
		c.conn = tlsConn
		c.bufferedReader.Reset(tlsConn)

		response, err = c.readEphemeralPacket()
		if err != nil {
			log.Errorf("Cannot read post-SSL client handshake response from %s: %v", c, err)
			return
		}
		user, authMethod, authResponse, err = l.parseClientHandshakePacket(c, false, response)
		if err != nil {
			log.Errorf("Cannot parse post-SSL client handshake response from %s: %v", c, err)
			return
		}
		c.recycleReadPacket()
	}

	// See what auth method the AuthServer wants to use for that user.
	authServerMethod, err := l.authServer.AuthMethod(user)
	if err != nil {
		connRefuse.Add(1)
		c.writeErrorPacketFromError(err)
		return
	}

	// Compare with what the client sent back.
	switch {
	case authServerMethod == MysqlNativePassword && authMethod == MysqlNativePassword:
		// Both server and client want to use MysqlNativePassword:
		// the negotiation can be completed right away, using the
		// ValidateHash() method.
		userData, err := l.authServer.ValidateHash(salt, user, authResponse, conn.RemoteAddr())
		if err != nil {
			log.Warningf("Error authenticating user %v using MySQL native password: %v", user, err)
			connRefuse.Add(1)
			c.writeErrorPacketFromError(err)
			return
		}
		c.User = user
		c.UserData = userData

	case authServerMethod == MysqlNativePassword:
		// The server wants to use MysqlNativePassword, but the client
		// answered for something else. Send an auth switch request
		// with a fresh salt, and validate the response against it.
		salt, err := l.authServer.Salt()
		if err != nil {
			return
		}
		// The binary protocol requires padding with a zero byte.
		data := append(salt, byte(0x00))
		if err := c.writeAuthSwitchRequest(string(MysqlNativePassword), data); err != nil {
			log.Errorf("Error writing auth switch packet for %s: %v", c, err)
			return
		}

		response, err := c.readEphemeralPacket()
		if err != nil {
			log.Errorf("Error reading auth switch response for %s: %v", c, err)
			return
		}
		authResponse := make([]byte, len(response))
		copy(authResponse, response)
		c.recycleReadPacket()

		userData, err := l.authServer.ValidateHash(salt, user, authResponse, conn.RemoteAddr())
		if err != nil {
			log.Warningf("Error authenticating user %v using MySQL native password: %v", user, err)
			connRefuse.Add(1)
			c.writeErrorPacketFromError(err)
			return
		}
		c.User = user
		c.UserData = userData

	default:
		// The server wants to use something else, re-negotiate.

		// The clear text method requires a confidential transport
		// unless explicitly allowed.
		if authServerMethod == MysqlClearPassword &&
			!l.AllowClearTextWithoutTLS && c.Capabilities&CapabilityClientSSL == 0 {
			connRefuse.Add(1)
			c.writeErrorPacket(CRServerHandshakeErr, SSHandshakeError, "Cannot use clear text authentication over non-SSL connections")
			return
		}

		// Switch our auth method to what the server wants.
		// Dialog plugin expects an AskPassword prompt.
		var data []byte
		if authServerMethod == MysqlDialog {
			data = DialogSwitchData()
		}
		if err := c.writeAuthSwitchRequest(string(authServerMethod), data); err != nil {
			log.Errorf("Error writing auth switch packet for %s: %v", c, err)
			return
		}

		// Then hand over the rest of the negotiation to the
		// auth server.
		userData, err := l.authServer.Negotiate(c, user, conn.RemoteAddr())
		if err != nil {
			connRefuse.Add(1)
			c.writeErrorPacketFromError(err)
			return
		}
		c.User = user
		c.UserData = userData
	}

	// Negotiation worked, send OK packet.
	if err := c.writeOKPacket(0, 0, c.StatusFlags, 0); err != nil {
		log.Errorf("Cannot write OK packet to %s: %v", c, err)
		return
	}

	// Record how long we took to establish the connection.
	timings.Record(connectTimingKey, acceptTime)

	for {
		err := c.handleNextCommand(l.handler)
		if err != nil {
			return
		}
	}
}

// writeHandshakeV10 writes the Initial Handshake Packet, server side.
// It returns the salt data.
func (c *Conn) writeHandshakeV10(serverVersion string, authServer AuthServer, enableTLS bool) ([]byte, error) {
	capabilities := CapabilityClientLongPassword |
		CapabilityClientLongFlag |
		CapabilityClientConnectWithDB |
		CapabilityClientProtocol41 |
		CapabilityClientTransactions |
		CapabilityClientSecureConnection |
		CapabilityClientMultiStatements |
		CapabilityClientMultiResults |
		CapabilityClientPluginAuth |
		CapabilityClientPluginAuthLenencClientData |
		CapabilityClientDeprecateEOF |
		CapabilityClientConnAttr
	if enableTLS {
		capabilities |= CapabilityClientSSL
	}

	length :=
		1 + // protocol version
			lenNullString(serverVersion) +
			4 + // connection ID
			8 + // first part of salt data
			1 + // filler byte
			2 + // capability flags (lower 2 bytes)
			1 + // character set
			2 + // status flag
			2 + // capability flags (upper 2 bytes)
			1 + // length of auth plugin data
			10 + // reserved (0)
			13 + // auth-plugin-data
			lenNullString(string(MysqlNativePassword)) // auth-plugin-name

	data := c.startEphemeralPacket(length)
	pos := 0

	// Protocol version.
	pos = writeByte(data, pos, protocolVersion)

	// Copy server version.
	pos = writeNullString(data, pos, serverVersion)

	// Add connectionID in.
	pos = writeUint32(data, pos, c.ConnectionID)

	// Generate the salt, put 8 bytes in.
	salt, err := authServer.Salt()
	if err != nil {
		return nil, err
	}

	pos += copy(data[pos:], salt[:8])

	// One filler byte, always 0.
	pos = writeByte(data, pos, 0)

	// Lower part of the capability flags.
	pos = writeUint16(data, pos, uint16(capabilities))

	// Character set.
	pos = writeByte(data, pos, CharacterSetUtf8)

	// Status flag.
	pos = writeUint16(data, pos, c.StatusFlags)

	// Upper part of the capability flags.
	pos = writeUint16(data, pos, uint16(capabilities>>16))

	// Length of auth plugin data.
	// Always 21 (8 + 13).
	pos = writeByte(data, pos, 21)

	// Reserved 10 bytes: all 0
	pos = writeZeroes(data, pos, 10)

	// Second part of auth plugin data.
	pos += copy(data[pos:], salt[8:])
	data[pos] = 0
	pos++

	// Copy authPluginName. We always start with mysql_native_password.
	pos = writeNullString(data, pos, string(MysqlNativePassword))

	// Sanity check.
	if pos != len(data) {
		return nil, fmt.Errorf("error building Handshake packet: got %v bytes expected %v", pos, len(data))
	}

	if err := c.writeEphemeralPacket(); err != nil {
		if strings.HasSuffix(err.Error(), "write: connection reset by peer") ||
			strings.HasSuffix(err.Error(), "write: broken pipe") {
			return nil, io.EOF
		}
		return nil, err
	}

	return salt, nil
}

// parseClientHandshakePacket parses the handshake sent by the client.
// Returns the username, auth method, auth data, error.
// The original data is not pointed at, and can be freed.
func (l *Listener) parseClientHandshakePacket(c *Conn, firstTime bool, data []byte) (string, AuthMethodDescription, []byte, error) {
	pos := 0

	// Client flags, 4 bytes.
	clientFlags, pos, ok := readUint32(data, pos)
	if !ok {
		return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read client flags")
	}
	if clientFlags&CapabilityClientProtocol41 == 0 {
		return "", "", nil, fmt.Errorf("parseClientHandshakePacket: only support protocol 4.1")
	}

	// Remember a subset of the capabilities, so we can use them
	// later in the protocol. If we re-received the handshake packet
	// after SSL negotiation, do not overwrite capabilities.
	if firstTime {
		c.Capabilities = clientFlags & (CapabilityClientDeprecateEOF |
			CapabilityClientFoundRows |
			CapabilityClientMultiStatements |
			CapabilityClientMultiResults)
		if clientFlags&CapabilityClientSSL > 0 {
			c.Capabilities |= CapabilityClientSSL
		}
	}

	// Max packet size. Don't do anything with this now.
	_, pos, ok = readUint32(data, pos)
	if !ok {
		return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read maxPacketSize")
	}

	// Character set.
	characterSet, pos, ok := readByte(data, pos)
	if !ok {
		return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read characterSet")
	}
	c.CharacterSet = characterSet

	// 23x reserved zero bytes.
	pos += 23

	// The SSLRequest form of the packet stops here: the client will
	// send the full payload again after the TLS negotiation.
	if firstTime && c.Capabilities&CapabilityClientSSL > 0 && pos >= len(data) {
		return "", "", nil, nil
	}

	// username
	username, pos, ok := readNullString(data, pos)
	if !ok {
		return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read username")
	}

	// auth-response can have three forms.
	var authResponse []byte
	if clientFlags&CapabilityClientPluginAuthLenencClientData != 0 {
		var l uint64
		l, pos, ok = readLenEncInt(data, pos)
		if !ok {
			return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read auth-response variable length")
		}
		authResponse, pos, ok = readBytesCopy(data, pos, int(l))
		if !ok {
			return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read auth-response")
		}
	} else if clientFlags&CapabilityClientSecureConnection != 0 {
		var l byte
		l, pos, ok = readByte(data, pos)
		if !ok {
			return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read auth-response length")
		}
		authResponse, pos, ok = readBytesCopy(data, pos, int(l))
		if !ok {
			return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read auth-response")
		}
	} else {
		a := ""
		a, pos, ok = readNullString(data, pos)
		if !ok {
			return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read auth-response")
		}
		authResponse = []byte(a)
	}

	// db name.
	if clientFlags&CapabilityClientConnectWithDB != 0 {
		dbname := ""
		dbname, pos, ok = readNullString(data, pos)
		if !ok {
			return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read dbname")
		}
		c.schemaName = dbname
	}

	// authMethod (with default)
	authMethod := string(MysqlNativePassword)
	if clientFlags&CapabilityClientPluginAuth != 0 {
		authMethod, pos, ok = readNullString(data, pos)
		if !ok {
			return "", "", nil, fmt.Errorf("parseClientHandshakePacket: can't read authMethod")
		}
	}

	// The JDBC driver sometimes sends an empty string as the auth
	// method when it wants to use mysql_native_password.
	if authMethod == "" {
		authMethod = string(MysqlNativePassword)
	}

	// Decode connection attributes sent by the client.
	if clientFlags&CapabilityClientConnAttr != 0 {
		if _, _, err := parseConnAttrs(data, pos); err != nil {
			log.Warningf("Decode connection attributes sent by the client: %v", err)
		}
	}

	return username, AuthMethodDescription(authMethod), authResponse, nil
}

func parseConnAttrs(data []byte, pos int) (map[string]string, int, error) {
	var attrLen uint64

	attrLen, pos, ok := readLenEncInt(data, pos)
	if !ok {
		return nil, 0, fmt.Errorf("parseClientHandshakePacket: can't read connection attributes variable length")
	}

	var attrLenRead uint64

	attrs := make(map[string]string)

	for attrLenRead < attrLen {
		var keyLen byte
		keyLen, pos, ok = readByte(data, pos)
		if !ok {
			return nil, 0, fmt.Errorf("parseClientHandshakePacket: can't read connection attribute key length")
		}
		attrLenRead += uint64(keyLen) + 1

		var connAttrKey []byte
		connAttrKey, pos, ok = readBytesCopy(data, pos, int(keyLen))
		if !ok {
			return nil, 0, fmt.Errorf("parseClientHandshakePacket: can't read connection attribute key")
		}

		var valLen byte
		valLen, pos, ok = readByte(data, pos)
		if !ok {
			return nil, 0, fmt.Errorf("parseClientHandshakePacket: can't read connection attribute value length")
		}
		attrLenRead += uint64(valLen) + 1

		var connAttrVal []byte
		connAttrVal, pos, ok = readBytesCopy(data, pos, int(valLen))
		if !ok {
			return nil, 0, fmt.Errorf("parseClientHandshakePacket: can't read connection attribute value")
		}

		attrs[string(connAttrKey)] = string(connAttrVal)
	}

	return attrs, pos, nil
}

// writeAuthSwitchRequest writes an auth switch request packet.
func (c *Conn) writeAuthSwitchRequest(pluginName string, pluginData []byte) error {
	length := 1 + // AuthSwitchRequestPacket
		len(pluginName) + 1 + // 0-terminated pluginName
		len(pluginData)

	data := c.startEphemeralPacket(length)
	pos := 0

	// Packet header.
	pos = writeByte(data, pos, AuthSwitchRequestPacket)

	// Copy plugin name.
	pos = writeNullString(data, pos, pluginName)

	// Copy auth data.
	pos += copy(data[pos:], pluginData)

	// Sanity check.
	if pos != len(data) {
		return fmt.Errorf("error building AuthSwitchRequestPacket packet: got %v bytes expected %v", pos, len(data))
	}
	return c.writeEphemeralPacket()
}

//
// Command dispatch.
//

func (c *Conn) parseComQuery(data []byte) string {
	return string(data[1:])
}

func (c *Conn) parseComInitDB(data []byte) string {
	return string(data[1:])
}

// handleNextCommand reads one command from the client and dispatches
// it to the handler. A non-nil error means the connection should be
// closed.
func (c *Conn) handleNextCommand(handler Handler) error {
	c.sequence = 0
	data, err := c.readEphemeralPacket()
	if err != nil {
		// Don't log EOF errors. They cause too much spam.
		// Note the EOF detection is not 100% guaranteed, in the case
		// where the client only sends part of the packet header.
		if err != io.EOF {
			log.Errorf("Error reading packet from %s: %v", c, err)
		}
		return err
	}
	if len(data) == 0 {
		c.recycleReadPacket()
		return fmt.Errorf("client %v sent an empty packet", c.ConnectionID)
	}

	switch data[0] {
	case ComQuit:
		c.recycleReadPacket()
		return io.EOF

	case ComInitDB:
		db := c.parseComInitDB(data)
		c.recycleReadPacket()
		c.schemaName = db
		if err := c.writeOKPacket(0, 0, c.StatusFlags, 0); err != nil {
			log.Errorf("Error writing ComInitDB result to %s: %v", c, err)
			return err
		}

	case ComPing:
		c.recycleReadPacket()
		if err := c.writeOKPacket(0, 0, c.StatusFlags, 0); err != nil {
			log.Errorf("Error writing ComPing result to %s: %v", c, err)
			return err
		}

	case ComQuery:
		queryStart := time.Now()
		query := c.parseComQuery(data)
		c.recycleReadPacket()
		if err := c.execQuery(query, handler); err != nil {
			return err
		}
		timings.Record(queryTimingKey, queryStart)

	case ComStmtPrepare:
		query := c.parseComQuery(data)
		c.recycleReadPacket()
		if err := c.handleComStmtPrepare(handler, query); err != nil {
			return err
		}

	case ComStmtExecute:
		// The packet is fully parsed, and the decoded values copied
		// out, before the buffer is recycled and responses written.
		prepare, parseErr := c.parseComStmtExecute(data)
		c.recycleReadPacket()
		if parseErr != nil {
			if prepare != nil {
				return c.writeErrorPacketFromError(parseErr)
			}
			return c.writeErrorPacket(ERUnknownStmtHandler, SSClientError, "%v", parseErr)
		}
		if err := c.execPrepared(handler, prepare); err != nil {
			return err
		}

	case ComStmtSendLongData:
		err := c.handleComStmtSendLongData(data)
		c.recycleReadPacket()
		if err != nil {
			return err
		}

	case ComStmtReset:
		stmtID, _, ok := readUint32(data, 1)
		c.recycleReadPacket()
		if !ok {
			return fmt.Errorf("client %v sent a malformed COM_STMT_RESET packet", c.ConnectionID)
		}
		if prepare, ok := c.prepareData[stmtID]; ok {
			prepare.longData = nil
			prepare.BindVars = nil
			if err := c.writeOKPacket(0, 0, c.StatusFlags, 0); err != nil {
				return err
			}
		} else {
			if err := c.writeErrorPacket(ERUnknownStmtHandler, SSClientError, "Unknown prepared statement handler (%v) given to COM_STMT_RESET", stmtID); err != nil {
				return err
			}
		}

	case ComStmtClose:
		stmtID, _, ok := readUint32(data, 1)
		c.recycleReadPacket()
		if ok {
			// No response is sent back to the client.
			delete(c.prepareData, stmtID)
		}

	case ComSetOption:
		operation, _, ok := readUint16(data, 1)
		c.recycleReadPacket()
		if !ok {
			return fmt.Errorf("client %v sent a malformed COM_SET_OPTION packet", c.ConnectionID)
		}
		switch operation {
		case 0:
			c.Capabilities |= CapabilityClientMultiStatements
		case 1:
			c.Capabilities &^= CapabilityClientMultiStatements
		default:
			log.Errorf("Got unhandled COM_SET_OPTION operation from client %v: %v", c.ConnectionID, operation)
			if err := c.writeErrorPacket(ERUnknownComError, SSUnknownComError, "error handling ComSetOption packet"); err != nil {
				return err
			}
			return nil
		}
		if err := c.writeEOFPacket(c.StatusFlags, 0); err != nil {
			return err
		}

	default:
		command := data[0]
		c.recycleReadPacket()
		log.Errorf("Got unhandled packet from client %v, returning error: %v", c.ConnectionID, command)
		if err := c.writeErrorPacket(ERUnknownComError, SSUnknownComError, "command handling not implemented yet: %v", command); err != nil {
			log.Errorf("Error writing error packet to %s: %s", c, err)
			return err
		}
	}

	return nil
}

// execQuery runs one COM_QUERY statement through the handler and
// streams its results back to the client.
func (c *Conn) execQuery(query string, handler Handler) error {
	c.startWriterBuffering()
	defer func() {
		if err := c.flush(); err != nil {
			log.Errorf("Conn %v: Flush() failed: %v", c.ID(), err)
		}
	}()

	fieldSent := false
	// sendFinished is set if writeEndResult (or the OK packet for a
	// fieldless result) was already sent.
	sendFinished := false
	err := handler.ComQuery(c, query, func(qr *sqltypes.Result) error {
		if sendFinished {
			// Failsafe: the handler is not supposed to call the
			// callback again after a fieldless result.
			return nil
		}

		if !fieldSent {
			fieldSent = true

			if len(qr.Fields) == 0 {
				sendFinished = true
				// A successful callback with no fields means that
				// this was a write-only operation.
				return c.writeOKPacket(qr.RowsAffected, qr.InsertID, c.StatusFlags, handler.WarningCount(c))
			}
			if err := c.writeFields(qr); err != nil {
				return err
			}
		}

		return c.writeRows(qr)
	})

	// If no field was sent, we expect an error.
	if err != nil {
		// This is just a failsafe. Should never happen.
		if !fieldSent {
			if werr := c.writeErrorPacketFromError(err); werr != nil {
				// If we can't even write the error, we're done.
				log.Errorf("Error writing query error to %s: %v", c, werr)
				return werr
			}
			return nil
		}
		// We can't send an error in the middle of a stream.
		// All we can do is abort the send, which will cause the
		// client to get a connection lost error.
		log.Errorf("Error in the middle of a stream to %s: %v", c, err)
		return err
	}

	if fieldSent && !sendFinished {
		// Send the end packet only sendFinished is false (results
		// were streamed).
		if err := c.writeEndResult(false, 0, 0, handler.WarningCount(c)); err != nil {
			log.Errorf("Error writing result to %s: %v", c, err)
			return err
		}
	}
	if !fieldSent && !sendFinished {
		// The handler never called the callback. Send an empty OK
		// packet so the client is not left hanging.
		if err := c.writeOKPacket(0, 0, c.StatusFlags, handler.WarningCount(c)); err != nil {
			log.Errorf("Error writing result to %s: %v", c, err)
			return err
		}
	}

	return nil
}

// handleComStmtPrepare registers a new prepared statement and sends
// the prepare response back.
func (c *Conn) handleComStmtPrepare(handler Handler, query string) error {
	c.startWriterBuffering()
	defer func() {
		if err := c.flush(); err != nil {
			log.Errorf("Conn %v: Flush() failed: %v", c.ID(), err)
		}
	}()

	columnFields, err := handler.ComPrepare(c, query)
	if err != nil {
		if werr := c.writeErrorPacketFromError(err); werr != nil {
			log.Errorf("Error writing prepare error to %s: %v", c, werr)
			return werr
		}
		return nil
	}

	c.statementID++
	paramsCount := countQueryPlaceholders(query)
	prepare := &PrepareData{
		StatementID: c.statementID,
		PrepareStmt: query,
		ParamsCount: paramsCount,
		ParamsType:  make([]int32, paramsCount),
	}
	c.prepareData[c.statementID] = prepare

	// Parameter definitions are synthesized: MySQL sends one ? column
	// per placeholder.
	paramFields := make([]*sqltypes.Field, paramsCount)
	for i := range paramFields {
		paramFields[i] = &sqltypes.Field{
			Name:    "?",
			Type:    sqltypes.VarBinary,
			Charset: CharacterSetBinary,
		}
	}

	return c.writePrepareResponse(prepare.StatementID, paramFields, columnFields)
}

// execPrepared runs a parsed COM_STMT_EXECUTE through the handler
// and streams the binary results.
func (c *Conn) execPrepared(handler Handler, prepare *PrepareData) error {
	c.startWriterBuffering()
	defer func() {
		if err := c.flush(); err != nil {
			log.Errorf("Conn %v: Flush() failed: %v", c.ID(), err)
		}
	}()

	fieldSent := false
	sendFinished := false
	err := handler.ComStmtExecute(c, prepare, func(qr *sqltypes.Result) error {
		if sendFinished {
			return nil
		}

		if !fieldSent {
			fieldSent = true

			if len(qr.Fields) == 0 {
				sendFinished = true
				return c.writeOKPacket(qr.RowsAffected, qr.InsertID, c.StatusFlags, handler.WarningCount(c))
			}
			if err := c.writeFields(qr); err != nil {
				return err
			}
		}

		return c.writeBinaryRows(qr)
	})

	if err != nil {
		if !fieldSent {
			if werr := c.writeErrorPacketFromError(err); werr != nil {
				log.Errorf("Error writing execute error to %s: %v", c, werr)
				return werr
			}
			return nil
		}
		log.Errorf("Error in the middle of a stream to %s: %v", c, err)
		return err
	}

	if fieldSent && !sendFinished {
		if err := c.writeEndResult(false, 0, 0, handler.WarningCount(c)); err != nil {
			log.Errorf("Error writing result to %s: %v", c, err)
			return err
		}
	}
	if !fieldSent && !sendFinished {
		if err := c.writeOKPacket(0, 0, c.StatusFlags, handler.WarningCount(c)); err != nil {
			log.Errorf("Error writing result to %s: %v", c, err)
			return err
		}
	}

	return nil
}

// parseComStmtExecute decodes the statement id, the NULL bitmap and
// the typed parameter values of a COM_STMT_EXECUTE packet into the
// statement's PrepareData.
func (c *Conn) parseComStmtExecute(data []byte) (*PrepareData, error) {
	pos := 1 // skip the command byte

	stmtID, pos, ok := readUint32(data, pos)
	if !ok {
		return nil, fmt.Errorf("reading statement ID failed")
	}
	prepare, ok := c.prepareData[stmtID]
	if !ok {
		return nil, fmt.Errorf("statement ID %v not found from cache", stmtID)
	}

	// cursor type flags, unused.
	_, pos, ok = readByte(data, pos)
	if !ok {
		return prepare, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "reading cursor type flags failed")
	}
	// iteration count, always 1.
	_, pos, ok = readUint32(data, pos)
	if !ok {
		return prepare, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "reading iteration count failed")
	}

	prepare.BindVars = make([]sqltypes.Value, prepare.ParamsCount)
	if prepare.ParamsCount == 0 {
		return prepare, nil
	}

	maskLen := (int(prepare.ParamsCount) + 7) / 8
	if pos+maskLen > len(data) {
		return prepare, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "reading NULL bitmap failed")
	}
	nullMask := data[pos : pos+maskLen]
	pos += maskLen

	newParamsBound, pos, ok := readByte(data, pos)
	if !ok {
		return prepare, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "reading new-params-bound flag failed")
	}
	if newParamsBound == 1 {
		for i := 0; i < int(prepare.ParamsCount); i++ {
			t, newPos, ok := readByte(data, pos)
			if !ok {
				return prepare, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "reading parameter type failed")
			}
			f, newPos, ok := readByte(data, newPos)
			if !ok {
				return prepare, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "reading parameter type flags failed")
			}
			pos = newPos
			prepare.ParamsType[i] = int32(t) | int32(f)<<8
		}
	}

	for i := 0; i < int(prepare.ParamsCount); i++ {
		// Long data sent ahead of the execute takes the place of
		// the inline value, whatever the execute packet says.
		if chunk, ok := prepare.longData[uint16(i)]; ok {
			prepare.BindVars[i] = sqltypes.MakeTrusted(sqltypes.VarBinary, chunk)
			continue
		}
		if nullMask[i/8]&(1<<(uint(i)&7)) != 0 {
			prepare.BindVars[i] = sqltypes.Value{}
			continue
		}

		wireType := byte(prepare.ParamsType[i])
		var mysqlFlags int64
		if prepare.ParamsType[i]>>8&0x80 != 0 {
			mysqlFlags = flagUnsigned
		}
		valType, err := sqltypes.MySQLToType(int64(wireType), mysqlFlags)
		if err != nil {
			return prepare, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "unsupported parameter type %v: %v", wireType, err)
		}
		v, newPos, ok := binDecodeValue(data, pos, &sqltypes.Field{Type: valType})
		if !ok {
			return prepare, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "decoding parameter %v failed", i)
		}
		prepare.BindVars[i] = v
		pos = newPos
	}

	// Long data is consumed by the execution.
	prepare.longData = nil

	return prepare, nil
}

// handleComStmtSendLongData accumulates a long data chunk for a
// parameter. The client gets no response, errors surface at execute.
func (c *Conn) handleComStmtSendLongData(data []byte) error {
	pos := 1
	stmtID, pos, ok := readUint32(data, pos)
	if !ok {
		return fmt.Errorf("client %v sent a malformed COM_STMT_SEND_LONG_DATA packet", c.ConnectionID)
	}
	paramID, pos, ok := readUint16(data, pos)
	if !ok {
		return fmt.Errorf("client %v sent a malformed COM_STMT_SEND_LONG_DATA packet", c.ConnectionID)
	}

	prepare, ok := c.prepareData[stmtID]
	if !ok {
		// The protocol says to silently ignore errors here.
		return nil
	}
	if prepare.longData == nil {
		prepare.longData = make(map[uint16][]byte)
	}
	chunk := make([]byte, len(data)-pos)
	copy(chunk, data[pos:])
	prepare.longData[paramID] = append(prepare.longData[paramID], chunk...)
	return nil
}
