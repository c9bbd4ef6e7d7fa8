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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hoststack/mysqlwire/go/sqltypes"
)

// Rows is a forward-only cursor over the rows of one result set.
// Column metadata is read once up front, row packets are decoded one
// at a time as Next is called. The cursor owns the connection's read
// stream until it is exhausted or closed, so only one Rows can be
// open per connection.
type Rows struct {
	conn   *Conn
	fields []*sqltypes.Field
	// binary is set for prepared statement executions, whose rows
	// use the binary encoding.
	binary bool

	row  []sqltypes.Value
	done bool
	err  error
}

// Query runs a query over the text protocol and returns a lazy
// cursor over its rows. Returns a SQLError.
func (c *Conn) Query(query string) (rows *Rows, err error) {
	defer func() {
		if err != nil {
			if sqlerr, ok := err.(*SQLError); ok {
				sqlerr.Query = query
			}
		}
	}()

	if err := c.WriteComQuery(query); err != nil {
		return nil, err
	}
	return c.readRowsHeader(false)
}

// readRowsHeader reads the result set header and column definitions
// and builds a cursor positioned before the first row.
func (c *Conn) readRowsHeader(binary bool) (*Rows, error) {
	_, _, colNumber, _, _, err := c.readComQueryResponse()
	if err != nil {
		return nil, err
	}
	if colNumber == 0 {
		// OK packet, no rows to cursor over.
		return &Rows{conn: c, binary: binary, done: true}, nil
	}

	fields := make([]sqltypes.Field, colNumber)
	fieldsPointers := make([]*sqltypes.Field, colNumber)
	for i := 0; i < colNumber; i++ {
		fieldsPointers[i] = &fields[i]
		if err := c.readColumnDefinition(fieldsPointers[i], i); err != nil {
			return nil, err
		}
	}
	if err := c.readIntermediateEOF(); err != nil {
		return nil, err
	}

	return &Rows{conn: c, fields: fieldsPointers, binary: binary}, nil
}

// Fields returns the column definitions, or nil if the statement
// produced no result set.
func (r *Rows) Fields() []*sqltypes.Field {
	return r.fields
}

// Next advances the cursor to the next row. It returns false at the
// end of the result set or on error; check Err afterwards.
func (r *Rows) Next() bool {
	if r.done || r.err != nil {
		return false
	}

	data, err := r.conn.ReadPacket()
	if err != nil {
		r.err = err
		r.done = true
		return false
	}

	if isEOFPacket(data) {
		r.done = true
		return false
	}
	if isErrorPacket(data) {
		r.err = ParseErrorPacket(data)
		r.done = true
		return false
	}

	var row []sqltypes.Value
	if r.binary {
		row, err = r.conn.parseBinaryRow(data, r.fields)
	} else {
		row, err = r.conn.parseRow(data, r.fields)
	}
	if err != nil {
		r.err = err
		r.done = true
		return false
	}
	r.row = row
	return true
}

// Err returns the error that stopped the cursor, if any.
func (r *Rows) Err() error {
	return r.err
}

// Close drains any unread rows so the connection can be reused.
func (r *Rows) Close() error {
	for r.Next() {
	}
	return r.err
}

// Row returns the current row as raw values.
func (r *Rows) Row() []sqltypes.Value {
	return r.row
}

// ColumnIndex returns the 0-based index of the column with the given
// label, so the typed accessors can be used by name.
func (r *Rows) ColumnIndex(label string) (int, error) {
	for i, field := range r.fields {
		if field.Name == label {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown column %q", label)
}

// value checks the cursor position and index bounds and rejects NULL,
// which must be read through IsNull.
func (r *Rows) value(index int) (sqltypes.Value, error) {
	if r.row == nil {
		return sqltypes.Value{}, fmt.Errorf("no current row")
	}
	if index < 0 || index >= len(r.row) {
		return sqltypes.Value{}, fmt.Errorf("column index %v out of range, row has %v columns", index, len(r.row))
	}
	v := r.row[index]
	if v.IsNull() {
		return sqltypes.Value{}, fmt.Errorf("column %v is NULL", index)
	}
	return v, nil
}

// IsNull reports whether the column is NULL in the current row.
func (r *Rows) IsNull(index int) (bool, error) {
	if r.row == nil {
		return false, fmt.Errorf("no current row")
	}
	if index < 0 || index >= len(r.row) {
		return false, fmt.Errorf("column index %v out of range, row has %v columns", index, len(r.row))
	}
	return r.row[index].IsNull(), nil
}

// Int64 returns the column as a signed integer.
func (r *Rows) Int64(index int) (int64, error) {
	v, err := r.value(index)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v.ToString(), 10, 64)
}

// Uint64 returns the column as an unsigned integer.
func (r *Rows) Uint64(index int) (uint64, error) {
	v, err := r.value(index)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v.ToString(), 10, 64)
}

// Float64 returns the column as a float.
func (r *Rows) Float64(index int) (float64, error) {
	v, err := r.value(index)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(v.ToString(), 64)
}

// String returns the column as a string.
func (r *Rows) String(index int) (string, error) {
	v, err := r.value(index)
	if err != nil {
		return "", err
	}
	return v.ToString(), nil
}

// Bytes returns the column's raw bytes.
func (r *Rows) Bytes(index int) ([]byte, error) {
	v, err := r.value(index)
	if err != nil {
		return nil, err
	}
	return v.Raw(), nil
}

// Decimal returns the column as the exact decimal string MySQL sent.
func (r *Rows) Decimal(index int) (string, error) {
	return r.String(index)
}

// Time returns a DATE, DATETIME or TIMESTAMP column as a time.Time
// in UTC.
func (r *Rows) Time(index int) (time.Time, error) {
	v, err := r.value(index)
	if err != nil {
		return time.Time{}, err
	}
	return parseTemporal(v.ToString())
}

// Duration returns a TIME column as a duration.
func (r *Rows) Duration(index int) (time.Duration, error) {
	v, err := r.value(index)
	if err != nil {
		return 0, err
	}
	return parseTimeOfDay(v.ToString())
}

var temporalLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTemporal(val string) (time.Time, error) {
	for _, layout := range temporalLayouts {
		if t, err := time.ParseInLocation(layout, val, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse temporal value %q", val)
}

// parseTimeOfDay parses MySQL's TIME format, where the hour part may
// exceed 24 and the whole value may be negative.
func parseTimeOfDay(val string) (time.Duration, error) {
	negative := false
	if strings.HasPrefix(val, "-") {
		negative = true
		val = val[1:]
	}

	var hours, minutes, seconds int
	if _, err := fmt.Sscanf(val, "%d:%02d:%02d", &hours, &minutes, &seconds); err != nil {
		return 0, fmt.Errorf("cannot parse time value %q: %v", val, err)
	}
	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(parseMicroseconds(val))*time.Microsecond
	if negative {
		d = -d
	}
	return d, nil
}
