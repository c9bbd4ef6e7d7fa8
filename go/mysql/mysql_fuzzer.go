//go:build gofuzz
// +build gofuzz

/*
Copyright 2021 The Vitess Authors.

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
	"fmt"
	"net"
	"sync"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"

	"github.com/hoststack/mysqlwire/go/sqltypes"
)

func createFuzzingSocketPair() (net.Listener, *Conn, *Conn) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, nil
	}
	addr := listener.Addr().String()
	listener.(*net.TCPListener).SetDeadline(time.Now().Add(10 * time.Second))

	// Dial a client, Accept a server.
	wg := sync.WaitGroup{}

	var clientConn net.Conn
	var clientErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		clientConn, clientErr = net.DialTimeout("tcp", addr, 10*time.Second)
	}()

	var serverConn net.Conn
	var serverErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverConn, serverErr = listener.Accept()
	}()

	wg.Wait()

	if clientErr != nil || serverErr != nil {
		listener.Close()
		return nil, nil, nil
	}

	// Create a Conn on both sides.
	cConn := newConn(clientConn)
	sConn := newConn(serverConn)

	return listener, sConn, cConn
}

type fuzztestHandler struct{}

func (t fuzztestHandler) NewConnection(c *Conn) {
}

func (t fuzztestHandler) ConnectionClosed(c *Conn) {
}

func (t fuzztestHandler) ComQuery(c *Conn, query string, callback func(*sqltypes.Result) error) error {
	return nil
}

func (t fuzztestHandler) ComPrepare(c *Conn, query string) ([]*sqltypes.Field, error) {
	return nil, nil
}

func (t fuzztestHandler) ComStmtExecute(c *Conn, prepare *PrepareData, callback func(*sqltypes.Result) error) error {
	return nil
}

func (t fuzztestHandler) WarningCount(c *Conn) uint16 {
	return 0
}

var _ Handler = (*fuzztestHandler)(nil)

type fuzztestConn struct {
	queryPacket []byte
}

func (t fuzztestConn) Read(b []byte) (n int, err error) {
	return copy(b, t.queryPacket), nil
}

func (t fuzztestConn) Write(b []byte) (n int, err error) {
	return 0, fmt.Errorf("error in writing to connection")
}

func (t fuzztestConn) Close() error {
	return nil
}

func (t fuzztestConn) LocalAddr() net.Addr {
	return fuzzmockAddress{s: "a"}
}

func (t fuzztestConn) RemoteAddr() net.Addr {
	return fuzzmockAddress{s: "a"}
}

func (t fuzztestConn) SetDeadline(t1 time.Time) error {
	return nil
}

func (t fuzztestConn) SetReadDeadline(t1 time.Time) error {
	return nil
}

func (t fuzztestConn) SetWriteDeadline(t1 time.Time) error {
	return nil
}

var _ net.Conn = (*fuzztestConn)(nil)

type fuzzmockAddress struct {
	s string
}

func (m fuzzmockAddress) Network() string {
	return m.s
}

func (m fuzzmockAddress) String() string {
	return m.s
}

var _ net.Addr = (*fuzzmockAddress)(nil)

// Fuzzers begin here:

// FuzzWritePacket checks the packet framer against arbitrary payloads,
// including payloads that need to be split at the 16MB boundary.
func FuzzWritePacket(data []byte) int {
	if len(data) < 10 {
		return -1
	}
	listener, sConn, cConn := createFuzzingSocketPair()
	if listener == nil {
		return -1
	}
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	err := cConn.writePacket(data)
	if err != nil {
		return 0
	}
	_, err = sConn.ReadPacket()
	if err != nil {
		return 0
	}
	return 1
}

// FuzzHandleNextCommand feeds arbitrary bytes to the server-side
// command dispatcher.
func FuzzHandleNextCommand(data []byte) int {
	if len(data) < 10 {
		return -1
	}
	sConn := newConn(fuzztestConn{
		queryPacket: data,
	})

	handler := &fuzztestHandler{}
	_ = sConn.handleNextCommand(handler)
	return 1
}

// FuzzLenEncDecoders checks that the length-encoded decoders never
// read out of bounds for arbitrary inputs.
func FuzzLenEncDecoders(data []byte) int {
	f := fuzz.NewConsumer(data)
	buf, err := f.GetBytes()
	if err != nil {
		return 0
	}
	pos, err := f.GetInt()
	if err != nil {
		return 0
	}
	if len(buf) == 0 {
		return 0
	}
	pos = pos % len(buf)
	_, _, _ = readLenEncInt(buf, pos)
	_, _, _ = readLenEncString(buf, pos)
	_, _, _ = readLenEncStringAsBytesCopy(buf, pos)
	_, _, _ = readUint16(buf, pos)
	_, _, _ = readUint32(buf, pos)
	_, _, _ = readUint64(buf, pos)
	_, _, _ = readNullString(buf, pos)
	_, _, _ = readEOFString(buf, pos)
	return 1
}

// FuzzInitialHandshakePacket runs the client-side greeting parser on
// arbitrary packet payloads.
func FuzzInitialHandshakePacket(data []byte) int {
	if len(data) < 5 {
		return -1
	}
	cConn := newConn(fuzztestConn{queryPacket: data})
	defer cConn.Close()
	_, _, _ = cConn.parseInitialHandshakePacket(data)
	return 1
}

// FuzzReadQueryResults pushes an arbitrary query through the
// server-side dispatcher and has the client parse whatever comes out.
func FuzzReadQueryResults(data []byte) int {
	listener, sConn, cConn := createFuzzingSocketPair()
	if listener == nil {
		return -1
	}
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()
	err := cConn.WriteComQuery(string(data))
	if err != nil {
		return 0
	}
	handler := &fuzztestHandler{}
	_ = sConn.handleNextCommand(handler)
	_, _, _, err = cConn.ReadQueryResult(100, true)
	if err != nil {
		return 0
	}
	return 1
}
