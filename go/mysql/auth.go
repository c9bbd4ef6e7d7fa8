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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
)

// clientAuthMethod is one client-side authentication method. The set
// of supported methods is closed: the handshake looks up the method
// by the name the server advertises, and an unknown name is a fatal
// authentication error.
type clientAuthMethod struct {
	name AuthMethodDescription

	// requiresConfidentiality is set when the method transmits the
	// password in a recoverable form, so it may only run over a TLS
	// or unix socket channel.
	requiresConfidentiality bool

	// scramble produces the auth response for the given
	// server-provided salt and password.
	scramble func(salt []byte, password string) []byte
}

// clientAuthMethods maps the server-advertised plugin name to its
// implementation.
var clientAuthMethods = map[AuthMethodDescription]*clientAuthMethod{
	MysqlClearPassword: {
		name:                    MysqlClearPassword,
		requiresConfidentiality: true,
		scramble: func(salt []byte, password string) []byte {
			if password == "" {
				return nil
			}
			return []byte(password)
		},
	},
	MysqlNativePassword: {
		name: MysqlNativePassword,
		scramble: func(salt []byte, password string) []byte {
			return ScrambleMysqlNativePassword(salt, []byte(password))
		},
	},
	CachingSha2Password: {
		name: CachingSha2Password,
		scramble: func(salt []byte, password string) []byte {
			return ScrambleCachingSha2Password(salt, []byte(password))
		},
	},
	Sha256Password: {
		name: Sha256Password,
		// The initial response over a plain channel is a single
		// public-key request byte. The real password exchange
		// happens in the auth result loop.
		scramble: func(salt []byte, password string) []byte {
			return []byte{AuthRequestPublicKey}
		},
	},
}

// ScrambleMysqlNativePassword computes the hash of the password using
// the 4.1+ mysql_native_password method.
func ScrambleMysqlNativePassword(salt, password []byte) []byte {
	if len(password) == 0 {
		return nil
	}

	// stage1Hash = SHA1(password)
	crypt := sha1.New()
	crypt.Write(password)
	stage1 := crypt.Sum(nil)

	// scrambleHash = SHA1(salt + SHA1(stage1Hash))
	// inner Hash
	crypt.Reset()
	crypt.Write(stage1)
	hash := crypt.Sum(nil)
	// outer Hash
	crypt.Reset()
	crypt.Write(salt)
	crypt.Write(hash)
	scramble := crypt.Sum(nil)

	// token = scrambleHash XOR stage1Hash
	for i := range scramble {
		scramble[i] ^= stage1[i]
	}
	return scramble
}

// ScrambleCachingSha2Password computes the hash of the password using
// SHA256 as required by caching_sha2_password plugin for "fast"
// authentication.
func ScrambleCachingSha2Password(salt []byte, password []byte) []byte {
	if len(password) == 0 {
		return nil
	}

	// stage1Hash = SHA256(password)
	crypt := sha256.New()
	crypt.Write(password)
	stage1 := crypt.Sum(nil)

	// scrambleHash = SHA256(SHA256(stage1Hash) + salt)
	crypt.Reset()
	crypt.Write(stage1)
	innerHash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(innerHash)
	crypt.Write(salt)
	scramble := crypt.Sum(nil)

	// token = stage1Hash XOR scrambleHash
	for i := range stage1 {
		stage1[i] ^= scramble[i]
	}

	return stage1
}

// EncryptPasswordWithPublicKey obfuscates the password with the salt
// and encrypts it with the server's public key as required by the
// sha256_password and caching_sha2_password plugins for full
// authentication over a plain channel.
//
// The padding differs per plugin and server version: sha256_password
// always uses OAEP-SHA1; caching_sha2_password uses PKCS1v15 against
// servers 8.0.5 and later, OAEP-SHA1 below that.
func EncryptPasswordWithPublicKey(salt []byte, password []byte, pub *rsa.PublicKey, pkcs1 bool) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("salt cannot be empty")
	}

	// The password is zero terminated, then XORed against the
	// repeated salt before encryption.
	buffer := make([]byte, len(password)+1)
	copy(buffer, password)
	for i := range buffer {
		buffer[i] ^= salt[i%len(salt)]
	}

	if pkcs1 {
		return rsa.EncryptPKCS1v15(rand.Reader, pub, buffer)
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, buffer, nil)
}

// parseServerPublicKey decodes the PEM encoded RSA public key the
// server returns in response to a public key request.
func parseServerPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM data found in server response")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %v", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("server public key is not RSA")
	}
	return rsaKey, nil
}

// ServerVersionAtLeast returns true if the server version is at least
// the provided version parts, ignoring any trailing suffix like
// "-log" or "-MariaDB".
func ServerVersionAtLeast(version string, parts ...int) (bool, error) {
	versionPrefix := strings.Split(version, "-")[0]
	versionTokens := strings.Split(versionPrefix, ".")
	for i, part := range parts {
		if i >= len(versionTokens) {
			return false, nil
		}
		tokenValue, err := strconv.Atoi(versionTokens[i])
		if err != nil {
			return false, fmt.Errorf("cannot parse server version %q: %v", version, err)
		}
		if tokenValue > part {
			return true, nil
		}
		if tokenValue < part {
			return false, nil
		}
	}
	return true, nil
}
