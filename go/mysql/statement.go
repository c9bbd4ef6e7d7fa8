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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hoststack/mysqlwire/go/sqltypes"
)

// This file contains the client side of the prepared statement
// protocol: COM_STMT_PREPARE, COM_STMT_EXECUTE and friends, with
// binary protocol parameters and result rows.

// PreparedStatement is a statement prepared on the server with
// COM_STMT_PREPARE. It is bound to the connection that prepared it
// and must only be used from one goroutine at a time, like the
// connection itself.
type PreparedStatement struct {
	conn  *Conn
	query string

	statementID uint32
	paramCount  uint16
	columnCount uint16
	warnings    uint16

	// paramFields and columnFields are the definitions sent back by
	// COM_STMT_PREPARE. columnFields may differ from the fields of an
	// actual execution, so executions read their own.
	paramFields  []*sqltypes.Field
	columnFields []*sqltypes.Field
}

// StatementID returns the server-assigned id for this statement.
func (stmt *PreparedStatement) StatementID() uint32 {
	return stmt.statementID
}

// ParamCount returns the number of parameter placeholders.
func (stmt *PreparedStatement) ParamCount() int {
	return int(stmt.paramCount)
}

// ColumnFields returns the column definitions from the prepare
// response, or nil for a statement that returns no result set.
func (stmt *PreparedStatement) ColumnFields() []*sqltypes.Field {
	return stmt.columnFields
}

// Prepare sends a COM_STMT_PREPARE and reads back the statement
// metadata. Returns a SQLError.
func (c *Conn) Prepare(query string) (stmt *PreparedStatement, err error) {
	defer func() {
		if err != nil {
			if sqlerr, ok := err.(*SQLError); ok {
				sqlerr.Query = query
			}
		}
	}()

	// This is a new command, need to reset the sequence.
	c.sequence = 0

	data := c.startEphemeralPacket(len(query) + 1)
	data[0] = ComStmtPrepare
	copy(data[1:], query)
	if err := c.writeEphemeralPacket(); err != nil {
		return nil, NewSQLError(CRServerGone, SSUnknownSQLState, err.Error())
	}

	stmt = &PreparedStatement{
		conn:  c,
		query: query,
	}
	if err := stmt.readPrepareResponse(); err != nil {
		return nil, err
	}
	return stmt, nil
}

// readPrepareResponse reads the COM_STMT_PREPARE response: the fixed
// header, then the parameter definitions, then the column
// definitions, each list followed by EOF unless deprecated.
func (stmt *PreparedStatement) readPrepareResponse() error {
	c := stmt.conn

	data, err := c.readEphemeralPacket()
	if err != nil {
		return NewSQLError(CRServerLost, SSUnknownSQLState, "%v", err)
	}
	if isErrorPacket(data) {
		defer c.recycleReadPacket()
		return ParseErrorPacket(data)
	}
	if len(data) < 12 || data[0] != OKPacket {
		c.recycleReadPacket()
		return NewSQLError(CRMalformedPacket, SSUnknownSQLState, "invalid COM_STMT_PREPARE response packet")
	}
	stmt.statementID = binary.LittleEndian.Uint32(data[1:5])
	stmt.columnCount = binary.LittleEndian.Uint16(data[5:7])
	stmt.paramCount = binary.LittleEndian.Uint16(data[7:9])
	// One filler byte, then the warning count.
	stmt.warnings = binary.LittleEndian.Uint16(data[10:12])
	c.recycleReadPacket()

	if stmt.paramCount > 0 {
		fields := make([]sqltypes.Field, stmt.paramCount)
		stmt.paramFields = make([]*sqltypes.Field, stmt.paramCount)
		for i := 0; i < int(stmt.paramCount); i++ {
			stmt.paramFields[i] = &fields[i]
			if err := c.readColumnDefinition(stmt.paramFields[i], i); err != nil {
				return err
			}
		}
		if err := c.readIntermediateEOF(); err != nil {
			return err
		}
	}

	if stmt.columnCount > 0 {
		fields := make([]sqltypes.Field, stmt.columnCount)
		stmt.columnFields = make([]*sqltypes.Field, stmt.columnCount)
		for i := 0; i < int(stmt.columnCount); i++ {
			stmt.columnFields[i] = &fields[i]
			if err := c.readColumnDefinition(stmt.columnFields[i], i); err != nil {
				return err
			}
		}
		if err := c.readIntermediateEOF(); err != nil {
			return err
		}
	}

	return nil
}

// readIntermediateEOF reads the EOF packet that terminates a list of
// column definitions. With CapabilityClientDeprecateEOF there is no
// such packet and this is a no-op.
func (c *Conn) readIntermediateEOF() error {
	if c.Capabilities&CapabilityClientDeprecateEOF != 0 {
		return nil
	}
	data, err := c.readEphemeralPacket()
	if err != nil {
		return NewSQLError(CRServerLost, SSUnknownSQLState, "%v", err)
	}
	defer c.recycleReadPacket()
	if isErrorPacket(data) {
		return ParseErrorPacket(data)
	}
	if !isEOFPacket(data) {
		return NewSQLError(CRMalformedPacket, SSUnknownSQLState, "expected EOF packet, got %v", data)
	}
	return nil
}

// Execute runs the prepared statement with the given ordinal
// parameters (1-based on the wire, 0-based in the slice) and reads
// back the whole result. Returns a SQLError.
func (stmt *PreparedStatement) Execute(params []sqltypes.Value, maxrows int) (result *sqltypes.Result, err error) {
	defer func() {
		if err != nil {
			if sqlerr, ok := err.(*SQLError); ok {
				sqlerr.Query = stmt.query
			}
		}
	}()

	if err := stmt.writeComStmtExecute(params); err != nil {
		return nil, err
	}
	return stmt.conn.readBinaryQueryResult(maxrows)
}

// ExecuteStream runs the prepared statement and returns a lazy
// cursor over the binary protocol rows.
func (stmt *PreparedStatement) ExecuteStream(params []sqltypes.Value) (rows *Rows, err error) {
	defer func() {
		if err != nil {
			if sqlerr, ok := err.(*SQLError); ok {
				sqlerr.Query = stmt.query
			}
		}
	}()

	if err := stmt.writeComStmtExecute(params); err != nil {
		return nil, err
	}
	return stmt.conn.readRowsHeader(true)
}

// writeComStmtExecute sends a COM_STMT_EXECUTE with the parameters
// encoded in the binary protocol: a NULL bitmap, the new-params-bound
// flag, one type code pair per parameter, then the non-NULL values.
func (stmt *PreparedStatement) writeComStmtExecute(params []sqltypes.Value) error {
	c := stmt.conn
	if len(params) != int(stmt.paramCount) {
		return fmt.Errorf("parameter count mismatch: statement has %v placeholders, got %v values", stmt.paramCount, len(params))
	}

	// This is a new command, need to reset the sequence.
	c.sequence = 0

	length := 1 + // command
		4 + // statement id
		1 + // cursor flags
		4 // iteration count
	if len(params) > 0 {
		length += (len(params)+7)/8 + // NULL bitmap
			1 + // new-params-bound flag
			2*len(params) // type codes
		for _, param := range params {
			if !param.IsNull() {
				length += stmtParamSize(param)
			}
		}
	}

	data := c.startEphemeralPacket(length)
	pos := writeByte(data, 0, ComStmtExecute)
	pos = writeUint32(data, pos, stmt.statementID)
	pos = writeByte(data, pos, 0x00) // CURSOR_TYPE_NO_CURSOR
	pos = writeUint32(data, pos, 1)  // iteration count, always 1

	if len(params) > 0 {
		maskLen := (len(params) + 7) / 8
		nullMask := data[pos : pos+maskLen]
		// The buffer comes from a pool and may be dirty.
		for i := range nullMask {
			nullMask[i] = 0
		}
		pos += maskLen
		pos = writeByte(data, pos, 1) // new-params-bound flag

		typePos := pos
		valuePos := pos + 2*len(params)
		for i, param := range params {
			typ, unsigned := stmtParamType(param)
			typePos = writeByte(data, typePos, typ)
			if unsigned {
				typePos = writeByte(data, typePos, 0x80)
			} else {
				typePos = writeByte(data, typePos, 0x00)
			}

			if param.IsNull() {
				nullMask[i/8] |= 1 << (uint(i) & 7)
				continue
			}
			valuePos = stmtParamEncode(data, valuePos, param)
		}
		pos = valuePos
	}

	if pos != length {
		c.recycleWritePacket()
		return fmt.Errorf("packing of COM_STMT_EXECUTE used %v bytes instead of %v", pos, length)
	}

	if err := c.writeEphemeralPacket(); err != nil {
		return NewSQLError(CRServerGone, SSUnknownSQLState, err.Error())
	}
	return nil
}

// stmtParamType maps a parameter value onto the small set of wire
// types the execute packet uses: NULL, LONGLONG (possibly unsigned),
// DOUBLE, or a length-encoded string for everything else.
func stmtParamType(v sqltypes.Value) (byte, bool) {
	switch {
	case v.IsNull():
		return binTypeNull, false
	case v.IsSigned():
		return binTypeLongLong, false
	case v.IsUnsigned():
		return binTypeLongLong, true
	case v.IsFloat():
		return binTypeDouble, false
	default:
		return binTypeVarString, false
	}
}

func stmtParamSize(v sqltypes.Value) int {
	switch {
	case v.IsSigned(), v.IsUnsigned(), v.IsFloat():
		return 8
	default:
		l := len(v.Raw())
		return lenEncIntSize(uint64(l)) + l
	}
}

func stmtParamEncode(data []byte, pos int, v sqltypes.Value) int {
	switch {
	case v.IsSigned():
		// Decoding errors cannot happen here, the value was built
		// from an int64.
		i, _ := v.ToInt64()
		return writeUint64(data, pos, uint64(i))
	case v.IsUnsigned():
		u, _ := v.ToUint64()
		return writeUint64(data, pos, u)
	case v.IsFloat():
		f, _ := v.ToFloat64()
		return writeUint64(data, pos, math.Float64bits(f))
	default:
		b := v.Raw()
		pos = writeLenEncInt(data, pos, uint64(len(b)))
		return pos + copy(data[pos:], b)
	}
}

// SendLongData sends one chunk of a parameter value ahead of
// execution with COM_STMT_SEND_LONG_DATA. The server sends no
// response. paramID is 0-based.
func (stmt *PreparedStatement) SendLongData(paramID uint16, chunk []byte) error {
	c := stmt.conn

	// This is a new command, need to reset the sequence.
	c.sequence = 0

	data := c.startEphemeralPacket(1 + 4 + 2 + len(chunk))
	pos := writeByte(data, 0, ComStmtSendLongData)
	pos = writeUint32(data, pos, stmt.statementID)
	pos = writeUint16(data, pos, paramID)
	copy(data[pos:], chunk)
	if err := c.writeEphemeralPacket(); err != nil {
		return NewSQLError(CRServerGone, SSUnknownSQLState, err.Error())
	}
	return nil
}

// Reset sends a COM_STMT_RESET, discarding any long data accumulated
// for the statement. Returns a SQLError.
func (stmt *PreparedStatement) Reset() error {
	c := stmt.conn

	// This is a new command, need to reset the sequence.
	c.sequence = 0

	data := c.startEphemeralPacket(1 + 4)
	pos := writeByte(data, 0, ComStmtReset)
	writeUint32(data, pos, stmt.statementID)
	if err := c.writeEphemeralPacket(); err != nil {
		return NewSQLError(CRServerGone, SSUnknownSQLState, err.Error())
	}

	response, err := c.readEphemeralPacket()
	if err != nil {
		return NewSQLError(CRServerLost, SSUnknownSQLState, "%v", err)
	}
	defer c.recycleReadPacket()
	if isErrorPacket(response) {
		return ParseErrorPacket(response)
	}
	return nil
}

// Close sends a COM_STMT_CLOSE, freeing the statement on the server.
// The server sends no response. The statement must not be used after
// this.
func (stmt *PreparedStatement) Close() error {
	c := stmt.conn

	// This is a new command, need to reset the sequence.
	c.sequence = 0

	data := c.startEphemeralPacket(1 + 4)
	pos := writeByte(data, 0, ComStmtClose)
	writeUint32(data, pos, stmt.statementID)
	if err := c.writeEphemeralPacket(); err != nil {
		return NewSQLError(CRServerGone, SSUnknownSQLState, err.Error())
	}
	return nil
}

// readBinaryQueryResult is the binary protocol equivalent of
// ReadQueryResult: same packet flow, but the rows are binary encoded.
func (c *Conn) readBinaryQueryResult(maxrows int) (*sqltypes.Result, error) {
	affectedRows, lastInsertID, colNumber, _, _, err := c.readComQueryResponse()
	if err != nil {
		return nil, err
	}

	if colNumber == 0 {
		// OK packet, means no results. Just use the numbers.
		return &sqltypes.Result{
			RowsAffected: affectedRows,
			InsertID:     lastInsertID,
		}, nil
	}

	fields := make([]sqltypes.Field, colNumber)
	result := &sqltypes.Result{
		Fields: make([]*sqltypes.Field, colNumber),
	}
	for i := 0; i < colNumber; i++ {
		result.Fields[i] = &fields[i]
		if err := c.readColumnDefinition(result.Fields[i], i); err != nil {
			return nil, err
		}
	}
	if err := c.readIntermediateEOF(); err != nil {
		return nil, err
	}

	for {
		data, err := c.readEphemeralPacket()
		if err != nil {
			return nil, NewSQLError(CRServerLost, SSUnknownSQLState, "%v", err)
		}

		if isEOFPacket(data) {
			result.RowsAffected = uint64(len(result.Rows))
			if c.Capabilities&CapabilityClientDeprecateEOF != 0 {
				_, _, statusFlags, _, err := parseOKPacket(data)
				if err != nil {
					c.recycleReadPacket()
					return nil, err
				}
				result.StatusFlags = statusFlags
			}
			c.recycleReadPacket()
			return result, nil
		} else if isErrorPacket(data) {
			defer c.recycleReadPacket()
			return nil, ParseErrorPacket(data)
		}

		if len(result.Rows) == maxrows {
			c.recycleReadPacket()
			if err := c.drainResults(); err != nil {
				return nil, err
			}
			return nil, NewSQLError(ERDataTooLong, SSDataTooLong, "Row count exceeded %d", maxrows)
		}

		row, err := c.parseBinaryRow(data, result.Fields)
		if err != nil {
			c.recycleReadPacket()
			return nil, err
		}
		result.Rows = append(result.Rows, row)
		c.recycleReadPacket()
	}
}

// parseBinaryRow parses one binary protocol row: a 0x00 header, a
// NULL bitmap with a 2 bit offset, then typed values for the
// non-NULL columns.
func (c *Conn) parseBinaryRow(data []byte, fields []*sqltypes.Field) ([]sqltypes.Value, error) {
	colNumber := len(fields)
	pos := 0
	if len(data) == 0 || data[pos] != OKPacket {
		return nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "invalid binary row header")
	}
	pos++

	maskLen := (colNumber + 7 + 2) / 8
	if pos+maskLen > len(data) {
		return nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "binary row too short for NULL bitmap")
	}
	nullMask := data[pos : pos+maskLen]
	pos += maskLen

	result := make([]sqltypes.Value, colNumber)
	for i := 0; i < colNumber; i++ {
		if nullMask[(i+2)/8]&(1<<(uint(i+2)&7)) != 0 {
			continue
		}
		v, newPos, ok := binDecodeValue(data, pos, fields[i])
		if !ok {
			return nil, NewSQLError(CRMalformedPacket, SSUnknownSQLState, "decoding binary value for column %v failed", i)
		}
		result[i] = v
		pos = newPos
	}
	return result, nil
}

//
// Server side methods.
//

// writeBinaryRow sends one row in the binary protocol encoding.
func (c *Conn) writeBinaryRow(fields []*sqltypes.Field, row []sqltypes.Value) error {
	maskLen := (len(row) + 7 + 2) / 8
	length := 1 + maskLen
	for i, val := range row {
		if val.IsNull() {
			continue
		}
		length += binValueSize(fields[i], val)
	}

	data := c.startEphemeralPacket(length)
	pos := writeByte(data, 0, OKPacket)
	nullMask := data[pos : pos+maskLen]
	for i := range nullMask {
		nullMask[i] = 0
	}
	pos += maskLen

	for i, val := range row {
		if val.IsNull() {
			nullMask[(i+2)/8] |= 1 << (uint(i+2) & 7)
			continue
		}
		var err error
		pos, err = binEncodeValue(data, pos, fields[i], val)
		if err != nil {
			c.recycleWritePacket()
			return err
		}
	}

	return c.writeEphemeralPacket()
}

// writeBinaryRows sends the rows of a Result in the binary encoding.
func (c *Conn) writeBinaryRows(result *sqltypes.Result) error {
	for _, row := range result.Rows {
		if err := c.writeBinaryRow(result.Fields, row); err != nil {
			return err
		}
	}
	return nil
}

// writePrepareResponse sends the COM_STMT_PREPARE response header
// plus the parameter and column definition lists.
func (c *Conn) writePrepareResponse(statementID uint32, paramFields, columnFields []*sqltypes.Field) error {
	data := c.startEphemeralPacket(12)
	pos := writeByte(data, 0, OKPacket)
	pos = writeUint32(data, pos, statementID)
	pos = writeUint16(data, pos, uint16(len(columnFields)))
	pos = writeUint16(data, pos, uint16(len(paramFields)))
	pos = writeByte(data, pos, 0x00) // filler
	writeUint16(data, pos, 0)        // warning count
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}

	if len(paramFields) > 0 {
		for _, field := range paramFields {
			if err := c.writeColumnDefinition(field); err != nil {
				return err
			}
		}
		if c.Capabilities&CapabilityClientDeprecateEOF == 0 {
			if err := c.writeEOFPacket(c.StatusFlags, 0); err != nil {
				return err
			}
		}
	}
	if len(columnFields) > 0 {
		for _, field := range columnFields {
			if err := c.writeColumnDefinition(field); err != nil {
				return err
			}
		}
		if c.Capabilities&CapabilityClientDeprecateEOF == 0 {
			if err := c.writeEOFPacket(c.StatusFlags, 0); err != nil {
				return err
			}
		}
	}
	return nil
}
