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
	"math"
	"strconv"

	"github.com/hoststack/mysqlwire/go/sqltypes"
)

// This file contains the value encoding and decoding for the binary
// protocol, used by the prepared statement COM_STMT_EXECUTE path.
// Values on the wire are typed per column; decoded values are kept in
// their canonical text representation so text and binary results look
// the same to callers.

// Binary protocol type codes, as sent in column definitions and in
// the COM_STMT_EXECUTE parameter type block.
const (
	binTypeDecimal    = 0x00
	binTypeTiny       = 0x01
	binTypeShort      = 0x02
	binTypeLong       = 0x03
	binTypeFloat      = 0x04
	binTypeDouble     = 0x05
	binTypeNull       = 0x06
	binTypeTimestamp  = 0x07
	binTypeLongLong   = 0x08
	binTypeInt24      = 0x09
	binTypeDate       = 0x0a
	binTypeTime       = 0x0b
	binTypeDatetime   = 0x0c
	binTypeYear       = 0x0d
	binTypeVarchar    = 0x0f
	binTypeBit        = 0x10
	binTypeJSON       = 0xf5
	binTypeNewDecimal = 0xf6
	binTypeEnum       = 0xf7
	binTypeSet        = 0xf8
	binTypeTinyBlob   = 0xf9
	binTypeMediumBlob = 0xfa
	binTypeLongBlob   = 0xfb
	binTypeBlob       = 0xfc
	binTypeVarString  = 0xfd
	binTypeString     = 0xfe
	binTypeGeometry   = 0xff
)

// flagUnsigned is the UNSIGNED column flag, as used in column
// definitions and in the high byte of execute packet type codes.
const flagUnsigned = 0x20

// binDecodeValue decodes one binary protocol value for the given
// column, returning it in text representation.
func binDecodeValue(data []byte, pos int, field *sqltypes.Field) (sqltypes.Value, int, bool) {
	typ, _ := sqltypes.TypeToMySQL(field.Type)
	unsigned := sqltypes.IsUnsigned(field.Type)

	switch typ {
	case binTypeTiny:
		v, pos, ok := readByte(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		if unsigned {
			return sqltypes.MakeTrusted(field.Type, strconv.AppendUint(nil, uint64(v), 10)), pos, true
		}
		return sqltypes.MakeTrusted(field.Type, strconv.AppendInt(nil, int64(int8(v)), 10)), pos, true

	case binTypeShort, binTypeYear:
		v, pos, ok := readUint16(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		if unsigned {
			return sqltypes.MakeTrusted(field.Type, strconv.AppendUint(nil, uint64(v), 10)), pos, true
		}
		return sqltypes.MakeTrusted(field.Type, strconv.AppendInt(nil, int64(int16(v)), 10)), pos, true

	case binTypeLong, binTypeInt24:
		v, pos, ok := readUint32(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		if unsigned {
			return sqltypes.MakeTrusted(field.Type, strconv.AppendUint(nil, uint64(v), 10)), pos, true
		}
		return sqltypes.MakeTrusted(field.Type, strconv.AppendInt(nil, int64(int32(v)), 10)), pos, true

	case binTypeLongLong:
		v, pos, ok := readUint64(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		if unsigned {
			return sqltypes.MakeTrusted(field.Type, strconv.AppendUint(nil, v, 10)), pos, true
		}
		return sqltypes.MakeTrusted(field.Type, strconv.AppendInt(nil, int64(v), 10)), pos, true

	case binTypeFloat:
		v, pos, ok := readUint32(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		f := float64(math.Float32frombits(v))
		return sqltypes.MakeTrusted(field.Type, strconv.AppendFloat(nil, f, 'g', -1, 32)), pos, true

	case binTypeDouble:
		v, pos, ok := readUint64(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		f := math.Float64frombits(v)
		return sqltypes.MakeTrusted(field.Type, strconv.AppendFloat(nil, f, 'g', -1, 64)), pos, true

	case binTypeDate:
		b, pos, ok := binDecodeDate(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		return sqltypes.MakeTrusted(field.Type, b), pos, true

	case binTypeTimestamp, binTypeDatetime:
		b, pos, ok := binDecodeDatetime(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		return sqltypes.MakeTrusted(field.Type, b), pos, true

	case binTypeTime:
		b, pos, ok := binDecodeTime(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		return sqltypes.MakeTrusted(field.Type, b), pos, true

	default:
		// Everything else travels as a length-encoded byte string:
		// decimals, bit, enum, set, json, geometry and all the
		// string and blob types.
		b, pos, ok := readLenEncStringAsBytesCopy(data, pos)
		if !ok {
			return sqltypes.Value{}, 0, false
		}
		return sqltypes.MakeTrusted(field.Type, b), pos, true
	}
}

// binDecodeDate decodes the 0 or 4 byte date format.
func binDecodeDate(data []byte, pos int) ([]byte, int, bool) {
	length, pos, ok := readByte(data, pos)
	if !ok {
		return nil, 0, false
	}
	switch length {
	case 0:
		return []byte("0000-00-00"), pos, true
	case 4:
		if pos+4 > len(data) {
			return nil, 0, false
		}
		year := uint16(data[pos]) | uint16(data[pos+1])<<8
		month := data[pos+2]
		day := data[pos+3]
		return []byte(fmt.Sprintf("%04d-%02d-%02d", year, month, day)), pos + 4, true
	}
	return nil, 0, false
}

// binDecodeDatetime decodes the 0, 4, 7 or 11 byte datetime format.
func binDecodeDatetime(data []byte, pos int) ([]byte, int, bool) {
	length, pos, ok := readByte(data, pos)
	if !ok {
		return nil, 0, false
	}
	if length == 0 {
		return []byte("0000-00-00 00:00:00"), pos, true
	}
	if int(length) != 4 && int(length) != 7 && int(length) != 11 {
		return nil, 0, false
	}
	if pos+int(length) > len(data) {
		return nil, 0, false
	}

	year := uint16(data[pos]) | uint16(data[pos+1])<<8
	month := data[pos+2]
	day := data[pos+3]
	var hour, minute, second byte
	var microSecond uint32
	if length >= 7 {
		hour = data[pos+4]
		minute = data[pos+5]
		second = data[pos+6]
	}
	if length == 11 {
		microSecond = uint32(data[pos+7]) | uint32(data[pos+8])<<8 | uint32(data[pos+9])<<16 | uint32(data[pos+10])<<24
	}
	pos += int(length)

	val := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", year, month, day, hour, minute, second)
	if length == 11 {
		val += fmt.Sprintf(".%06d", microSecond)
	}
	return []byte(val), pos, true
}

// binDecodeTime decodes the 0, 8 or 12 byte time format.
func binDecodeTime(data []byte, pos int) ([]byte, int, bool) {
	length, pos, ok := readByte(data, pos)
	if !ok {
		return nil, 0, false
	}
	if length == 0 {
		return []byte("00:00:00"), pos, true
	}
	if int(length) != 8 && int(length) != 12 {
		return nil, 0, false
	}
	if pos+int(length) > len(data) {
		return nil, 0, false
	}

	negative := data[pos] != 0
	days := uint32(data[pos+1]) | uint32(data[pos+2])<<8 | uint32(data[pos+3])<<16 | uint32(data[pos+4])<<24
	hour := data[pos+5]
	minute := data[pos+6]
	second := data[pos+7]
	var microSecond uint32
	if length == 12 {
		microSecond = uint32(data[pos+8]) | uint32(data[pos+9])<<8 | uint32(data[pos+10])<<16 | uint32(data[pos+11])<<24
	}
	pos += int(length)

	sign := ""
	if negative {
		sign = "-"
	}
	val := fmt.Sprintf("%s%02d:%02d:%02d", sign, uint32(hour)+days*24, minute, second)
	if length == 12 {
		val += fmt.Sprintf(".%06d", microSecond)
	}
	return []byte(val), pos, true
}

// binValueSize returns the wire size of a value for its column type.
func binValueSize(field *sqltypes.Field, val sqltypes.Value) int {
	typ, _ := sqltypes.TypeToMySQL(field.Type)
	switch typ {
	case binTypeTiny:
		return 1
	case binTypeShort, binTypeYear:
		return 2
	case binTypeLong, binTypeInt24:
		return 4
	case binTypeLongLong:
		return 8
	case binTypeFloat:
		return 4
	case binTypeDouble:
		return 8
	case binTypeDate:
		return 1 + 4
	case binTypeTimestamp, binTypeDatetime:
		return 1 + 11
	case binTypeTime:
		return 1 + 12
	default:
		l := len(val.Raw())
		return lenEncIntSize(uint64(l)) + l
	}
}

// binEncodeValue encodes one value for its column type, starting at
// pos in data. The buffer must have binValueSize bytes available.
func binEncodeValue(data []byte, pos int, field *sqltypes.Field, val sqltypes.Value) (int, error) {
	typ, _ := sqltypes.TypeToMySQL(field.Type)
	switch typ {
	case binTypeTiny, binTypeShort, binTypeYear, binTypeLong, binTypeInt24, binTypeLongLong:
		var v uint64
		if sqltypes.IsUnsigned(field.Type) {
			u, err := val.ToUint64()
			if err != nil {
				return 0, err
			}
			v = u
		} else {
			i, err := val.ToInt64()
			if err != nil {
				return 0, err
			}
			v = uint64(i)
		}
		switch typ {
		case binTypeTiny:
			return writeByte(data, pos, byte(v)), nil
		case binTypeShort, binTypeYear:
			return writeUint16(data, pos, uint16(v)), nil
		case binTypeLong, binTypeInt24:
			return writeUint32(data, pos, uint32(v)), nil
		default:
			return writeUint64(data, pos, v), nil
		}

	case binTypeFloat:
		f, err := val.ToFloat64()
		if err != nil {
			return 0, err
		}
		return writeUint32(data, pos, math.Float32bits(float32(f))), nil

	case binTypeDouble:
		f, err := val.ToFloat64()
		if err != nil {
			return 0, err
		}
		return writeUint64(data, pos, math.Float64bits(f)), nil

	case binTypeDate:
		return binEncodeDate(data, pos, val.ToString())

	case binTypeTimestamp, binTypeDatetime:
		return binEncodeDatetime(data, pos, val.ToString())

	case binTypeTime:
		return binEncodeTime(data, pos, val.ToString())

	default:
		b := val.Raw()
		pos = writeLenEncInt(data, pos, uint64(len(b)))
		return pos + copy(data[pos:], b), nil
	}
}

// binEncodeDate encodes a "YYYY-MM-DD" string as the 4 byte format.
func binEncodeDate(data []byte, pos int, val string) (int, error) {
	var year, month, day int
	if _, err := fmt.Sscanf(val, "%04d-%02d-%02d", &year, &month, &day); err != nil {
		return 0, fmt.Errorf("invalid date value %q: %v", val, err)
	}
	pos = writeByte(data, pos, 4)
	pos = writeUint16(data, pos, uint16(year))
	pos = writeByte(data, pos, byte(month))
	return writeByte(data, pos, byte(day)), nil
}

// binEncodeDatetime encodes a "YYYY-MM-DD hh:mm:ss[.ffffff]" string
// as the 11 byte format.
func binEncodeDatetime(data []byte, pos int, val string) (int, error) {
	var year, month, day, hour, minute, second int
	if _, err := fmt.Sscanf(val, "%04d-%02d-%02d %02d:%02d:%02d", &year, &month, &day, &hour, &minute, &second); err != nil {
		return 0, fmt.Errorf("invalid datetime value %q: %v", val, err)
	}
	microSecond := parseMicroseconds(val)
	pos = writeByte(data, pos, 11)
	pos = writeUint16(data, pos, uint16(year))
	pos = writeByte(data, pos, byte(month))
	pos = writeByte(data, pos, byte(day))
	pos = writeByte(data, pos, byte(hour))
	pos = writeByte(data, pos, byte(minute))
	pos = writeByte(data, pos, byte(second))
	return writeUint32(data, pos, microSecond), nil
}

// binEncodeTime encodes a "[-]hhh:mm:ss[.ffffff]" string as the
// 12 byte format.
func binEncodeTime(data []byte, pos int, val string) (int, error) {
	negative := byte(0)
	if len(val) > 0 && val[0] == '-' {
		negative = 1
		val = val[1:]
	}
	var hours, minute, second int
	if _, err := fmt.Sscanf(val, "%d:%02d:%02d", &hours, &minute, &second); err != nil {
		return 0, fmt.Errorf("invalid time value %q: %v", val, err)
	}
	microSecond := parseMicroseconds(val)
	days := hours / 24
	pos = writeByte(data, pos, 12)
	pos = writeByte(data, pos, negative)
	pos = writeUint32(data, pos, uint32(days))
	pos = writeByte(data, pos, byte(hours%24))
	pos = writeByte(data, pos, byte(minute))
	pos = writeByte(data, pos, byte(second))
	return writeUint32(data, pos, microSecond), nil
}

// parseMicroseconds returns the fractional second part of a temporal
// string, scaled to microseconds. No fraction parses as 0.
func parseMicroseconds(val string) uint32 {
	for i := 0; i < len(val); i++ {
		if val[i] != '.' {
			continue
		}
		frac := val[i+1:]
		if len(frac) > 6 {
			frac = frac[:6]
		}
		v, err := strconv.ParseUint(frac, 10, 32)
		if err != nil {
			return 0
		}
		for j := len(frac); j < 6; j++ {
			v *= 10
		}
		return uint32(v)
	}
	return 0
}
