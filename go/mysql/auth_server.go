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
	"bytes"
	"crypto/rand"
	"net"

	"github.com/hoststack/mysqlwire/go/vt/log"
)

// AuthServer is the interface that servers must implement to validate
// users and passwords. It needs to be able to return a list of auth
// methods, and then dispatch the actual validation to one of them.
type AuthServer interface {
	// AuthMethod returns the auth method the server wants to use
	// for the given user.
	AuthMethod(user string) (AuthMethodDescription, error)

	// Salt returns the salt to use for a connection.
	// It should be 20 bytes of data.
	Salt() ([]byte, error)

	// ValidateHash validates the data sent by the client matches
	// what the server computes. It also returns the user data.
	// Only called if AuthMethod returned MysqlNativePassword.
	ValidateHash(salt []byte, user string, authResponse []byte, remoteAddr net.Addr) (Getter, error)

	// Negotiate takes over the auth negotiation after an auth
	// switch request was sent for any method other than
	// MysqlNativePassword. It reads the response packets itself.
	Negotiate(c *Conn, user string, remoteAddr net.Addr) (Getter, error)
}

// CallerID describes an authenticated end user.
type CallerID struct {
	Username string
	Groups   []string
}

// Getter returns the identity of an authenticated user, for the
// handler to consume.
type Getter interface {
	Get() *CallerID
}

// authServers is a registry of AuthServer implementations.
var authServers = make(map[string]AuthServer)

// RegisterAuthServerImpl registers an implementation of AuthServer.
func RegisterAuthServerImpl(name string, authServer AuthServer) {
	if _, ok := authServers[name]; ok {
		log.Fatalf("AuthServer named %v already exists", name)
	}
	authServers[name] = authServer
}

// GetAuthServer returns an AuthServer by name, or log.Exitf.
func GetAuthServer(name string) AuthServer {
	authServer, ok := authServers[name]
	if !ok {
		log.Exitf("no AuthServer name %v registered", name)
	}
	return authServer
}

// NewSalt returns a 20 character salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 20)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	// Salt must be a legal UTF8 string.
	for i := 0; i < len(salt); i++ {
		salt[i] &= 0x7f
		if salt[i] == '\x00' || salt[i] == '$' {
			salt[i]++
		}
	}

	return salt, nil
}

// VerifyHashedMysqlNativePassword checks that the reply to a
// mysql_native_password challenge matches the given plaintext
// password for the given salt.
func VerifyHashedMysqlNativePassword(reply, salt []byte, password string) bool {
	computed := ScrambleMysqlNativePassword(salt, []byte(password))
	return bytes.Equal(reply, computed)
}

// DialogSwitchData is the auth switch data the dialog plugin sends to
// ask the client for a password.
func DialogSwitchData() []byte {
	result := make([]byte, len(mysqlDialogMessage)+2)
	result[0] = mysqlDialogAskPassword
	writeNullString(result, 1, mysqlDialogMessage)
	return result
}

const (
	// mysqlDialogMessage is the prompt the dialog plugin shows.
	mysqlDialogMessage = "Enter password: "

	// mysqlDialogAskPassword means the client should ask for a
	// password without echoing it.
	mysqlDialogAskPassword = 0x04
)

// AuthServerNegotiateClearOrDialog finishes an auth switch to the
// clear text or dialog method by reading the password the client
// sent back.
func AuthServerNegotiateClearOrDialog(c *Conn, method AuthMethodDescription) (string, error) {
	switch method {
	case MysqlClearPassword:
		// The password is the next packet in plain text.
		data, err := c.ReadPacket()
		if err != nil {
			return "", err
		}
		return parseClearTextResponse(data), nil

	case MysqlDialog:
		data, err := c.ReadPacket()
		if err != nil {
			return "", err
		}
		return parseClearTextResponse(data), nil

	default:
		return "", NewSQLError(CRServerHandshakeErr, SSHandshakeError, "unsupported auth method for negotiation: %v", method)
	}
}

// parseClearTextResponse drops the trailing NUL some clients append
// to a clear text password.
func parseClearTextResponse(data []byte) string {
	if len(data) > 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-1]
	}
	return string(data)
}
