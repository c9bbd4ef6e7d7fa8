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
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hoststack/mysqlwire/go/vt/vttls"
)

// connectResult is used by Connect.
type connectResult struct {
	c   *Conn
	err error
}

// Connect creates a connection to a server.
// It then handles the initial handshake.
//
// If context is canceled before the end of the process, this function
// terminates as soon as possible, and returns an error.
func Connect(ctx context.Context, params *ConnParams) (*Conn, error) {
	netProto := "tcp"
	addr := ""
	if params.UnixSocket != "" {
		netProto = "unix"
		addr = params.UnixSocket
	} else {
		addr = net.JoinHostPort(params.Host, strconv.Itoa(params.Port))
	}

	// Figure out the character set we want.
	characterSet, err := parseCharacterSet(params.Charset)
	if err != nil {
		return nil, err
	}

	// Start a background connection routine.  It first
	// establishes a network connection, returns it on the channel,
	// then starts the negotiation, and returns the result on the channel.
	// It can send on the channel, before closing it:
	// - a connectResult with an error and nothing else (when dial fails).
	// - a connectResult with a *Conn and no error (when everything works).
	// - a connectResult with a *Conn and an error (when handshake fails).
	status := make(chan connectResult)
	go func() {
		defer close(status)

		var conn net.Conn
		var err error
		if params.ConnectTimeoutMs != 0 {
			conn, err = net.DialTimeout(netProto, addr, time.Duration(params.ConnectTimeoutMs)*time.Millisecond)
		} else {
			conn, err = net.Dial(netProto, addr)
		}
		if err != nil {
			// If we get ECONNREFUSED or a unix socket
			// is not there, the message is different.
			if netProto == "tcp" {
				status <- connectResult{
					err: NewSQLError(CRConnHostError, SSUnknownSQLState, "net.Dial(%v) failed: %v", addr, err),
				}
			} else {
				status <- connectResult{
					err: NewSQLError(CRConnectionError, SSUnknownSQLState, "net.Dial(%v) to local server failed: %v", addr, err),
				}
			}
			return
		}

		// Send the connection back, so the other side can close it.
		c := newConn(conn)
		c.isClient = true
		c.readTimeout = time.Duration(params.ReadTimeoutMs) * time.Millisecond
		status <- connectResult{
			c: c,
		}

		// Negotiate the connection.
		err = c.clientHandshake(characterSet, params)
		if err != nil {
			// So we can close the connection.
			status <- connectResult{
				err: err,
			}
			return
		}

		// Handshake worked, send nil error.
		status <- connectResult{}
	}()

	// Wait on the context and the status, for the connection to be established.
	var c *Conn
	select {
	case <-ctx.Done():
		// The background routine may send us a few things,
		// wait for them and terminate them properly in the
		// background.
		go func() {
			dialCR := <-status // This one can take a while.
			if dialCR.err != nil {
				// Dial failed, nothing else to do.
				return
			}
			// Dial worked, close the connection, wait for the end.
			// We wait as not to leave a channel with an open sender.
			dialCR.c.Close()
			<-status
		}()
		return nil, ctx.Err()

	case cr := <-status:
		if cr.err != nil {
			// Dial failed, no connection was established.
			return nil, cr.err
		}
		c = cr.c
	}

	// Wait for the end of the handshake.
	select {
	case <-ctx.Done():
		// We are interrupted. Close the connection, wait for
		// the handshake to finish in the background.
		c.Close()
		go func() {
			// Since we closed the connection, this one should be fast.
			// It may return an error, but we don't care.
			<-status
		}()
		return nil, ctx.Err()

	case cr := <-status:
		if cr.err != nil {
			c.Close()
			return nil, cr.err
		}
	}

	return c, nil
}

// parseCharacterSet parses the provided character set.
// Returns SQLError(CRCantReadCharset) if it can't.
func parseCharacterSet(cs string) (uint8, error) {
	// Check if it's empty, return utf8. This is a reasonable default.
	if cs == "" {
		return CharacterSetUtf8, nil
	}

	// Check if it's in our map.
	characterSet, ok := CharacterSetMap[cs]
	if ok {
		return characterSet, nil
	}

	// As a fallback, try to readable int.
	i, err := strconv.ParseInt(cs, 10, 8)
	if err == nil {
		return uint8(i), nil
	}

	return 0, NewSQLError(CRCantReadCharset, SSUnknownSQLState, "failed to interpret character set '%v'. Try using an integer value if needed", cs)
}

// Ping implements mysql ping command.
func (c *Conn) Ping() error {
	// This is a new command, need to reset the sequence.
	c.sequence = 0

	data := c.startEphemeralPacket(1)
	data[0] = ComPing
	if err := c.writeEphemeralPacket(); err != nil {
		return NewSQLError(CRServerGone, SSUnknownSQLState, "%v", err)
	}
	data, err := c.readEphemeralPacket()
	if err != nil {
		return NewSQLError(CRServerLost, SSUnknownSQLState, "%v", err)
	}
	defer c.recycleReadPacket()
	if len(data) == 0 {
		return NewSQLError(CRMalformedPacket, SSUnknownSQLState, "empty ping response")
	}
	switch data[0] {
	case OKPacket:
		return nil
	case ErrPacket:
		return ParseErrorPacket(data)
	}
	return fmt.Errorf("unexpected packet type: %d", data[0])
}

// clientHandshake handles the client side of the handshake.
// Note the connection can be closed while this is running.
// Returns a SQLError.
func (c *Conn) clientHandshake(characterSet uint8, params *ConnParams) error {
	// Wait for the server initial handshake packet, and parse it.
	data, err := c.readPacket()
	if err != nil {
		return NewSQLError(CRServerLost, "", "initial packet read failed: %v", err)
	}
	capabilities, salt, err := c.parseInitialHandshakePacket(data)
	if err != nil {
		return err
	}
	plugin := AuthMethodDescription(c.authPluginName)

	// Sanity check.
	if capabilities&CapabilityClientProtocol41 == 0 {
		return NewSQLError(CRVersionError, SSUnknownSQLState, "cannot connect to servers earlier than 4.1")
	}

	// Remember a subset of the server capabilities, so we can use them
	// later in the protocol.
	c.Capabilities = 0
	c.Capabilities = capabilities & (CapabilityClientDeprecateEOF | CapabilityClientFoundRows)

	// Handle switch to SSL if necessary.
	if params.SslEnabled() {
		// If the server doesn't support SSL, fail.
		if capabilities&CapabilityClientSSL == 0 {
			if params.SslRequired() {
				return NewSQLError(CRSSLConnectionError, SSUnknownSQLState, "server doesn't support SSL but client asked for it")
			}
			// Preferred mode falls back to a plain connection.
		} else {
			// The ServerName to verify depends on what the hostname is.
			// We use the params's ServerName if specified. Otherwise:
			// - If using a socket, we use "localhost".
			// - If it is an IP address, we need to prefix it with 'IP:'.
			// - If not, we can just use it as is.
			serverName := "localhost"
			if params.ServerName != "" {
				serverName = params.ServerName
			} else if params.Host != "" {
				if net.ParseIP(params.Host) != nil {
					serverName = "IP:" + params.Host
				} else {
					serverName = params.Host
				}
			}

			tlsVersion, err := vttls.TLSVersionToNumber(params.TLSMinVersion)
			if err != nil {
				return NewSQLError(CRSSLConnectionError, SSUnknownSQLState, "error parsing minimal TLS version: %v", err)
			}

			// Build the TLS config.
			clientConfig, err := vttls.ClientConfig(params.EffectiveSslMode(), params.SslCert, params.SslKey, params.SslCa, params.SslCrl, serverName, tlsVersion)
			if err != nil {
				return NewSQLError(CRSSLConnectionError, SSUnknownSQLState, "error loading client cert and ca: %v", err)
			}

			// Send the SSLRequest packet.
			if err := c.writeSSLRequest(capabilities, characterSet, params); err != nil {
				return err
			}

			// Switch to SSL.
			conn := tls.Client(c.conn, clientConfig)
			c.conn = conn
			c.bufferedReader.Reset(conn)
			c.Capabilities |= CapabilityClientSSL
		}
	}

	// Look up the authentication method, and check it can be used
	// on this channel.
	method, ok := clientAuthMethods[plugin]
	if !ok {
		return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "unsupported authentication method: %v", plugin)
	}
	if method.requiresConfidentiality && !c.isConfidential() {
		return NewSQLError(CRSSLConnectionError, SSUnknownSQLState, "authentication method %v requires a secure channel", plugin)
	}

	// Password encryption.
	authResponse := method.scramble(salt, params.Pass)
	if method.name == Sha256Password && c.isConfidential() {
		// Over a confidential channel the cleartext password is
		// sent directly, zero terminated.
		authResponse = append([]byte(params.Pass), 0)
	}

	// Client Session Tracking Capability.
	if capabilities&CapabilityClientSessionTrack == CapabilityClientSessionTrack {
		// If the server also supports it, we will have enabled
		// it so we also track this in our capabilities.
		c.Capabilities |= CapabilityClientSessionTrack
	}

	// Build and send our handshake response 41.
	// Note this one will never have SSL flag on.
	if err := c.writeHandshakeResponse41(capabilities, authResponse, characterSet, params, method.name); err != nil {
		return err
	}

	// Read the server response.
	if err := c.handleAuthResponse(params, salt); err != nil {
		return err
	}

	// If the server didn't support DbName in its handshake, set
	// it now. This is what the 'mysql' client does.
	if capabilities&CapabilityClientConnectWithDB == 0 && params.DbName != "" {
		// Write the packet.
		if err := c.writeComInitDB(params.DbName); err != nil {
			return err
		}

		// Wait for response, should be OK.
		response, err := c.readPacket()
		if err != nil {
			return NewSQLError(CRServerLost, SSUnknownSQLState, "%v", err)
		}
		switch response[0] {
		case OKPacket:
			// OK packet, we are authenticated.
			return nil
		case ErrPacket:
			return ParseErrorPacket(response)
		default:
			return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "initial server response is asking for more information, not implemented yet: %v", response)
		}
	}

	return nil
}

// isConfidential returns true when the channel does not expose the
// transmitted bytes to the network in the clear.
func (c *Conn) isConfidential() bool {
	if _, ok := c.conn.(*tls.Conn); ok {
		return true
	}
	if _, ok := c.conn.(*net.UnixConn); ok {
		return true
	}
	return false
}

// parseInitialHandshakePacket parses the initial handshake from the server.
// It returns a SQLError with the right code.
func (c *Conn) parseInitialHandshakePacket(data []byte) (uint32, []byte, error) {
	pos := 0

	// Protocol version.
	pver, pos, ok := readByte(data, pos)
	if !ok {
		return 0, nil, NewSQLError(CRVersionError, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no protocol version")
	}

	// Server is allowed to immediately send ERR packet
	if pver == ErrPacket {
		errorCode, pos, _ := readUint16(data, pos)
		// Normally there would be a 1-byte sql_state_marker field and a 5-byte
		// sql_state field here, but docs say these will not be present in this case.
		errorMsg, _, _ := readEOFString(data, pos)
		return 0, nil, NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "immediate error from server errorCode=%v errorMsg=%v", errorCode, errorMsg)
	}

	if pver != protocolVersion {
		return 0, nil, NewSQLError(CRVersionError, SSUnknownSQLState, "bad protocol version: %v", pver)
	}

	// Read the server version.
	c.ServerVersion, pos, ok = readNullString(data, pos)
	if !ok {
		return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no server version")
	}

	// Read the connection id.
	c.ConnectionID, pos, ok = readUint32(data, pos)
	if !ok {
		return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no connection id")
	}

	// Read the first part of the auth-plugin-data
	authPluginData, pos, ok := readBytes(data, pos, 8)
	if !ok {
		return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no auth-plugin-data-part-1")
	}

	// One byte filler, 0. We don't really care about the value.
	_, pos, ok = readByte(data, pos)
	if !ok {
		return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no filler")
	}

	// Lower 2 bytes of the capability flags.
	capLower, pos, ok := readUint16(data, pos)
	if !ok {
		return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no capability flags (lower 2 bytes)")
	}
	var capabilities = uint32(capLower)

	// The packet can end here.
	if pos == len(data) {
		return capabilities, authPluginData, nil
	}

	// Character set.
	characterSet, pos, ok := readByte(data, pos)
	if !ok {
		return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no character set")
	}
	c.CharacterSet = characterSet

	// Status flags. Ignored.
	_, pos, ok = readUint16(data, pos)
	if !ok {
		return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no status flags")
	}

	// Upper 2 bytes of the capability flags.
	capUpper, pos, ok := readUint16(data, pos)
	if !ok {
		return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no capability flags (upper 2 bytes)")
	}
	capabilities += uint32(capUpper) << 16

	// Length of auth-plugin-data, or 0.
	// Only with CLIENT_PLUGIN_AUTH capability.
	var authPluginDataLength byte
	if capabilities&CapabilityClientPluginAuth != 0 {
		authPluginDataLength, pos, ok = readByte(data, pos)
		if !ok {
			return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no length of auth-plugin-data")
		}
	} else {
		// One byte filler, 0. We don't really care about the value.
		_, pos, ok = readByte(data, pos)
		if !ok {
			return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no length of auth-plugin-data filler")
		}
	}

	// 10 reserved 0 bytes.
	pos += 10

	if capabilities&CapabilityClientSecureConnection != 0 {
		// The next part of the auth-plugin-data.
		// The length is max(13, length of auth-plugin-data - 8).
		l := int(authPluginDataLength) - 8
		if l > 13 {
			l = 13
		}
		var authPluginDataPart2 []byte
		authPluginDataPart2, pos, ok = readBytes(data, pos, l)
		if !ok {
			return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: packet has no auth-plugin-data-part-2")
		}

		// The last byte has to be 0, and is not part of the data.
		if authPluginDataPart2[l-1] != 0 {
			return 0, nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "parseInitialHandshakePacket: auth-plugin-data-part-2 is not 0 terminated")
		}
		authPluginData = append(authPluginData, authPluginDataPart2[0:l-1]...)
	}

	// Auth-plugin name.
	if capabilities&CapabilityClientPluginAuth != 0 {
		authPluginName, _, ok := readNullString(data, pos)
		if !ok {
			// Fallback for versions prior to 5.5.10 and
			// 5.6.2 that don't have a null terminated string.
			authPluginName = string(data[pos : len(data)-1])
		}
		c.authPluginName = authPluginName
	} else {
		c.authPluginName = string(MysqlNativePassword)
	}

	return capabilities, authPluginData, nil
}

// writeSSLRequest writes the SSLRequest packet. It contains the
// capability flags, max packet size and character set only, no
// credentials: the TLS handshake runs before any of those are sent.
func (c *Conn) writeSSLRequest(capabilities uint32, characterSet uint8, params *ConnParams) error {
	// Build our flags, with CapabilityClientSSL.
	flags := c.clientFlags(capabilities, params) | CapabilityClientSSL

	length :=
		4 + // Client capability flags.
			4 + // Max-packet size.
			1 + // Character set.
			23 // Reserved.

	// Add the DB name if the server supports it.
	if params.DbName != "" && (capabilities&CapabilityClientConnectWithDB != 0) {
		flags |= CapabilityClientConnectWithDB
	}

	data := c.startEphemeralPacket(length)
	pos := 0

	// Client capability flags.
	pos = writeUint32(data, pos, flags)

	// Max-packet size, always 0. See doc.go.
	pos = writeZeroes(data, pos, 4)

	// Character set.
	pos = writeByte(data, pos, characterSet)

	// 23 reserved bytes, all 0.
	_ = writeZeroes(data, pos, 23)

	if err := c.writeEphemeralPacket(); err != nil {
		return NewSQLError(CRServerLost, SSUnknownSQLState, "cannot send SSLRequest: %v", err)
	}
	return nil
}

// clientFlags returns the capability flags the client wants to use,
// intersected with what the server supports where the feature is
// optional.
func (c *Conn) clientFlags(capabilities uint32, params *ConnParams) uint32 {
	var flags uint32 = CapabilityClientLongPassword |
		CapabilityClientLongFlag |
		CapabilityClientProtocol41 |
		CapabilityClientTransactions |
		CapabilityClientSecureConnection |
		CapabilityClientMultiStatements |
		CapabilityClientMultiResults |
		CapabilityClientPluginAuth |
		CapabilityClientPluginAuthLenencClientData |
		// If the server supported
		// CapabilityClientDeprecateEOF, we also support it.
		c.Capabilities&CapabilityClientDeprecateEOF |
		// Pass-through ClientFoundRows flag.
		CapabilityClientFoundRows&uint32(params.Flags)

	// If the server supports connection attributes, send an empty block.
	flags |= capabilities & CapabilityClientConnAttr

	return flags
}

// writeHandshakeResponse41 writes the handshake response.
// Returns a SQLError.
func (c *Conn) writeHandshakeResponse41(capabilities uint32, scrambledPassword []byte, characterSet uint8, params *ConnParams, plugin AuthMethodDescription) error {
	// Build our flags.
	flags := c.clientFlags(capabilities, params)

	length :=
		4 + // Client capability flags.
			4 + // Max-packet size.
			1 + // Character set.
			23 + // Reserved.
			lenNullString(params.Uname) +
			// length of scrambled password is handled below.
			len(scrambledPassword) +
			lenNullString(string(plugin))

	// Add the DB name if the server supports it.
	if params.DbName != "" && (capabilities&CapabilityClientConnectWithDB != 0) {
		flags |= CapabilityClientConnectWithDB
		length += lenNullString(params.DbName)
	}

	if capabilities&CapabilityClientPluginAuthLenencClientData != 0 {
		length += lenEncIntSize(uint64(len(scrambledPassword)))
	} else {
		length++
	}

	// Empty connection attributes block, if negotiated.
	if flags&CapabilityClientConnAttr != 0 {
		length += lenEncIntSize(0)
	}

	// The final set of capability flags we send is immutable for the
	// rest of the connection's lifetime.
	c.Capabilities |= flags & ^uint32(CapabilityClientSSL)

	data := c.startEphemeralPacket(length)
	pos := 0

	// Client capability flags.
	pos = writeUint32(data, pos, flags)

	// Max-packet size, always 0. See doc.go.
	pos = writeZeroes(data, pos, 4)

	// Character set.
	pos = writeByte(data, pos, characterSet)

	// 23 reserved bytes, all 0.
	pos = writeZeroes(data, pos, 23)

	// Username
	pos = writeNullString(data, pos, params.Uname)

	// Scrambled password.  The length is encoded as variable length if
	// CapabilityClientPluginAuthLenencClientData is set.
	if capabilities&CapabilityClientPluginAuthLenencClientData != 0 {
		pos = writeLenEncInt(data, pos, uint64(len(scrambledPassword)))
	} else {
		data[pos] = byte(len(scrambledPassword))
		pos++
	}
	pos += copy(data[pos:], scrambledPassword)

	// DbName, only if server supports it.
	if params.DbName != "" && (capabilities&CapabilityClientConnectWithDB != 0) {
		pos = writeNullString(data, pos, params.DbName)
		c.schemaName = params.DbName
	}

	// Assume native client during response
	pos = writeNullString(data, pos, string(plugin))

	// Empty connection attributes.
	if flags&CapabilityClientConnAttr != 0 {
		pos = writeLenEncInt(data, pos, 0)
	}

	// Sanity-check the length.
	if pos != len(data) {
		return NewSQLError(CRMalformedPacket, SSUnknownSQLState, "writeHandshakeResponse41: only packed %v bytes, out of %v allocated", pos, len(data))
	}

	if err := c.writeEphemeralPacket(); err != nil {
		return NewSQLError(CRServerLost, SSUnknownSQLState, "cannot send HandshakeResponse41: %v", err)
	}
	return nil
}

// handleAuthResponse parses server's response after client sends the
// handshake response (or any auth data packet) and handles
// auth-switch-request and auth-more-data exchanges until the server
// accepts or rejects the connection.
func (c *Conn) handleAuthResponse(params *ConnParams, salt []byte) error {
	for {
		response, err := c.readPacket()
		if err != nil {
			return NewSQLError(CRServerLost, SSUnknownSQLState, "%v", err)
		}
		if len(response) == 0 {
			return NewSQLError(CRMalformedPacket, SSUnknownSQLState, "empty auth response packet")
		}

		switch response[0] {
		case OKPacket:
			// We are authenticated.
			return nil

		case AuthSwitchRequestPacket:
			// Server is asking to use a different auth method.
			plugin, newSalt, err := parseAuthSwitchRequest(response)
			if err != nil {
				return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "cannot parse auth switch request: %v", err)
			}
			if len(newSalt) > 0 {
				salt = newSalt
			}
			c.authPluginName = string(plugin)
			if err := c.writeAuthSwitchResponse(params, plugin, salt); err != nil {
				return err
			}

		case AuthMoreDataPacket:
			// Server is requesting more data - maybe un-scrambled password
			if err := c.handleAuthMoreData(params, response, salt); err != nil {
				return err
			}

		case ErrPacket:
			return ParseErrorPacket(response)

		default:
			return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "initial server response cannot be parsed: %v", response)
		}
	}
}

// parseAuthSwitchRequest parses an auth switch request packet and
// returns the plugin name and the new salt.
func parseAuthSwitchRequest(data []byte) (AuthMethodDescription, []byte, error) {
	pos := 1
	pluginName, pos, ok := readNullString(data, pos)
	if !ok {
		return "", nil, fmt.Errorf("cannot get plugin name from auth switch request")
	}

	// If this was a request with a salt in it, max 20 bytes
	salt := data[pos:]
	if len(salt) > 20 {
		salt = salt[:20]
	}
	// Drop a trailing zero terminator if present.
	if len(salt) > 0 && salt[len(salt)-1] == 0 {
		salt = salt[:len(salt)-1]
	}
	return AuthMethodDescription(pluginName), salt, nil
}

// writeAuthSwitchResponse writes a response to an auth switch request,
// re-running the scramble with the newly requested method.
func (c *Conn) writeAuthSwitchResponse(params *ConnParams, plugin AuthMethodDescription, salt []byte) error {
	method, ok := clientAuthMethods[plugin]
	if !ok {
		return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "server asked for unsupported authentication method: %v", plugin)
	}
	if method.requiresConfidentiality && !c.isConfidential() {
		return NewSQLError(CRSSLConnectionError, SSUnknownSQLState, "authentication method %v requires a secure channel", plugin)
	}

	authResponse := method.scramble(salt, params.Pass)
	if method.name == Sha256Password && c.isConfidential() {
		authResponse = append([]byte(params.Pass), 0)
	}
	if method.name == MysqlClearPassword {
		// The cleartext response is zero terminated on this path.
		authResponse = append(authResponse, 0)
	}

	if err := c.writePacket(authResponse); err != nil {
		return NewSQLError(CRServerLost, SSUnknownSQLState, "cannot send auth switch response: %v", err)
	}
	return nil
}

// handleAuthMoreData handles a single auth-more-data packet: either a
// caching_sha2_password fast/full auth signal, or the server's RSA
// public key for the sha256_password exchange.
func (c *Conn) handleAuthMoreData(params *ConnParams, response []byte, salt []byte) error {
	switch AuthMethodDescription(c.authPluginName) {
	case CachingSha2Password:
		if len(response) < 2 {
			return NewSQLError(CRMalformedPacket, SSUnknownSQLState, "invalid auth more data packet: %v", response)
		}
		switch response[1] {
		case CachingSha2FastAuth:
			// Successful fast auth, the server sends a
			// regular OK packet next. Nothing to write.
			return nil
		case CachingSha2FullAuth:
			// The server does not have the credentials
			// cached, a full exchange is required.
			if c.isConfidential() {
				// The channel is already confidential,
				// send the cleartext password directly.
				if err := c.writePacket(append([]byte(params.Pass), 0)); err != nil {
					return NewSQLError(CRServerLost, SSUnknownSQLState, "cannot send cleartext password: %v", err)
				}
				return nil
			}

			// Plain channel: fetch the server's public key
			// and send the encrypted password.
			pub, err := c.requestPublicKey()
			if err != nil {
				return err
			}
			// Servers 8.0.5 and later expect PKCS1v15
			// padding from caching_sha2_password clients,
			// earlier ones expect OAEP.
			pkcs1, err := ServerVersionAtLeast(c.ServerVersion, 8, 0, 5)
			if err != nil {
				return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "%v", err)
			}
			enc, err := EncryptPasswordWithPublicKey(salt, []byte(params.Pass), pub, pkcs1)
			if err != nil {
				return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "error encrypting password with public key: %v", err)
			}
			if err := c.writePacket(enc); err != nil {
				return NewSQLError(CRServerLost, SSUnknownSQLState, "cannot send encrypted password: %v", err)
			}
			return nil
		default:
			return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "unexpected caching_sha2_password signal: %v", response[1])
		}

	case Sha256Password:
		// The packet contains the server's PEM encoded public key.
		pub, err := parseServerPublicKey(response[1:])
		if err != nil {
			return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "%v", err)
		}
		enc, err := EncryptPasswordWithPublicKey(salt, []byte(params.Pass), pub, false)
		if err != nil {
			return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "error encrypting password with public key: %v", err)
		}
		if err := c.writePacket(enc); err != nil {
			return NewSQLError(CRServerLost, SSUnknownSQLState, "cannot send encrypted password: %v", err)
		}
		return nil

	default:
		return NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "unexpected auth more data for method: %v", c.authPluginName)
	}
}

// requestPublicKey asks the server for its RSA public key, used for
// password encryption on plain channels.
func (c *Conn) requestPublicKey() (*rsa.PublicKey, error) {
	if err := c.writePacket([]byte{AuthRequestPublicKey}); err != nil {
		return nil, NewSQLError(CRServerLost, SSUnknownSQLState, "cannot send public key request: %v", err)
	}

	response, err := c.readPacket()
	if err != nil {
		return nil, NewSQLError(CRServerLost, SSUnknownSQLState, "%v", err)
	}
	if isErrorPacket(response) {
		return nil, ParseErrorPacket(response)
	}
	if len(response) < 2 || response[0] != AuthMoreDataPacket {
		return nil, NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "unexpected public key response: %v", response)
	}

	pub, err := parseServerPublicKey(response[1:])
	if err != nil {
		return nil, NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "%v", err)
	}
	return pub, nil
}
