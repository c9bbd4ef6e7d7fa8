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

package sqltypes

import (
	"fmt"
)

// Type defines the various supported data types in result rows.
// The type values are chosen so that the lower 8 bits hold a
// distinct id and the upper bits hold category flags. This lets
// the Is* functions below run as simple bit checks.
type Type int32

// Flags use the upper bits of Type.
const (
	flagIsIntegral = int(0x100)
	flagIsUnsigned = int(0x200)
	flagIsFloat    = int(0x400)
	flagIsQuoted   = int(0x800)
	flagIsText     = int(0x1000)
	flagIsBinary   = int(0x2000)
)

// These are all the types supported on the wire.
const (
	// Null specifies a NULL type.
	Null = Type(0)
	// Int8 specifies a TINYINT type.
	Int8 = Type(1 | flagIsIntegral)
	// Uint8 specifies a TINYINT UNSIGNED type.
	Uint8 = Type(2 | flagIsIntegral | flagIsUnsigned)
	// Int16 specifies a SMALLINT type.
	Int16 = Type(3 | flagIsIntegral)
	// Uint16 specifies a SMALLINT UNSIGNED type.
	Uint16 = Type(4 | flagIsIntegral | flagIsUnsigned)
	// Int24 specifies a MEDIUMINT type.
	Int24 = Type(5 | flagIsIntegral)
	// Uint24 specifies a MEDIUMINT UNSIGNED type.
	Uint24 = Type(6 | flagIsIntegral | flagIsUnsigned)
	// Int32 specifies a INTEGER type.
	Int32 = Type(7 | flagIsIntegral)
	// Uint32 specifies a INTEGER UNSIGNED type.
	Uint32 = Type(8 | flagIsIntegral | flagIsUnsigned)
	// Int64 specifies a BIGINT type.
	Int64 = Type(9 | flagIsIntegral)
	// Uint64 specifies a BIGINT UNSIGNED type.
	Uint64 = Type(10 | flagIsIntegral | flagIsUnsigned)
	// Float32 specifies a FLOAT type.
	Float32 = Type(11 | flagIsFloat)
	// Float64 specifies a DOUBLE or REAL type.
	Float64 = Type(12 | flagIsFloat)
	// Timestamp specifies a TIMESTAMP type.
	Timestamp = Type(13 | flagIsQuoted)
	// Date specifies a DATE type.
	Date = Type(14 | flagIsQuoted)
	// Time specifies a TIME type.
	Time = Type(15 | flagIsQuoted)
	// Datetime specifies a DATETIME type.
	Datetime = Type(16 | flagIsQuoted)
	// Year specifies a YEAR type.
	Year = Type(17 | flagIsIntegral | flagIsUnsigned)
	// Decimal specifies a DECIMAL or NUMERIC type.
	Decimal = Type(18)
	// Text specifies a TEXT type.
	Text = Type(19 | flagIsQuoted | flagIsText)
	// Blob specifies a BLOB type.
	Blob = Type(20 | flagIsQuoted | flagIsBinary)
	// VarChar specifies a VARCHAR type.
	VarChar = Type(21 | flagIsQuoted | flagIsText)
	// VarBinary specifies a VARBINARY type.
	VarBinary = Type(22 | flagIsQuoted | flagIsBinary)
	// Char specifies a CHAR type.
	Char = Type(23 | flagIsQuoted | flagIsText)
	// Binary specifies a BINARY type.
	Binary = Type(24 | flagIsQuoted | flagIsBinary)
	// Bit specifies a BIT type.
	Bit = Type(25 | flagIsQuoted)
	// Enum specifies an ENUM type.
	Enum = Type(26 | flagIsQuoted)
	// Set specifies a SET type.
	Set = Type(27 | flagIsQuoted)
	// Geometry specifies a GEOMETRY type.
	Geometry = Type(29 | flagIsQuoted)
	// TypeJSON specifies a JSON type.
	TypeJSON = Type(30 | flagIsQuoted)
)

var typeNames = map[Type]string{
	Null:      "NULL",
	Int8:      "INT8",
	Uint8:     "UINT8",
	Int16:     "INT16",
	Uint16:    "UINT16",
	Int24:     "INT24",
	Uint24:    "UINT24",
	Int32:     "INT32",
	Uint32:    "UINT32",
	Int64:     "INT64",
	Uint64:    "UINT64",
	Float32:   "FLOAT32",
	Float64:   "FLOAT64",
	Timestamp: "TIMESTAMP",
	Date:      "DATE",
	Time:      "TIME",
	Datetime:  "DATETIME",
	Year:      "YEAR",
	Decimal:   "DECIMAL",
	Text:      "TEXT",
	Blob:      "BLOB",
	VarChar:   "VARCHAR",
	VarBinary: "VARBINARY",
	Char:      "CHAR",
	Binary:    "BINARY",
	Bit:       "BIT",
	Enum:      "ENUM",
	Set:       "SET",
	Geometry:  "GEOMETRY",
	TypeJSON:  "JSON",
}

// String returns the symbolic name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(t))
}

// IsIntegral returns true if t is an integral type.
func IsIntegral(t Type) bool {
	return int(t)&flagIsIntegral == flagIsIntegral
}

// IsSigned returns true if t is a signed integral type.
func IsSigned(t Type) bool {
	return int(t)&(flagIsIntegral|flagIsUnsigned) == flagIsIntegral
}

// IsUnsigned returns true if t is an unsigned integral type.
// Caution: this is not the same as !IsSigned.
func IsUnsigned(t Type) bool {
	return int(t)&(flagIsIntegral|flagIsUnsigned) == flagIsIntegral|flagIsUnsigned
}

// IsFloat returns true if t is a floating point type.
func IsFloat(t Type) bool {
	return int(t)&flagIsFloat == flagIsFloat
}

// IsQuoted returns true if t's value must be quoted in SQL statements.
func IsQuoted(t Type) bool {
	return (int(t)&flagIsQuoted == flagIsQuoted) && t != Bit
}

// IsText returns true if t is a text type.
func IsText(t Type) bool {
	return int(t)&flagIsText == flagIsText
}

// IsBinary returns true if t is a binary type.
func IsBinary(t Type) bool {
	return int(t)&flagIsBinary == flagIsBinary
}

// IsNumber returns true if t is a numeric type.
func IsNumber(t Type) bool {
	return IsIntegral(t) || IsFloat(t) || t == Decimal
}

// IsTemporal returns true if t is a temporal (date/time) type.
func IsTemporal(t Type) bool {
	switch t {
	case Timestamp, Date, Time, Datetime:
		return true
	}
	return false
}

// IsNull returns true if t is NULL type.
func IsNull(t Type) bool {
	return t == Null
}

// MySQL column flag values. They are in the lower 16 bits of a
// column definition's flag field.
const (
	mysqlUnsigned = 32
	mysqlBinary   = 128
	mysqlEnum     = 256
	mysqlSet      = 2048
)

// typeToMySQL maps a Type to the equivalent wire type and flag.
var typeToMySQL = map[Type]struct {
	typ   int64
	flags int64
}{
	Int8:      {typ: 1},
	Uint8:     {typ: 1, flags: mysqlUnsigned},
	Int16:     {typ: 2},
	Uint16:    {typ: 2, flags: mysqlUnsigned},
	Int32:     {typ: 3},
	Uint32:    {typ: 3, flags: mysqlUnsigned},
	Float32:   {typ: 4},
	Float64:   {typ: 5},
	Null:      {typ: 6, flags: mysqlBinary},
	Timestamp: {typ: 7},
	Int64:     {typ: 8},
	Uint64:    {typ: 8, flags: mysqlUnsigned},
	Int24:     {typ: 9},
	Uint24:    {typ: 9, flags: mysqlUnsigned},
	Date:      {typ: 10, flags: mysqlBinary},
	Time:      {typ: 11, flags: mysqlBinary},
	Datetime:  {typ: 12, flags: mysqlBinary},
	Year:      {typ: 13, flags: mysqlUnsigned},
	Bit:       {typ: 16, flags: mysqlUnsigned},
	TypeJSON:  {typ: 245},
	Decimal:   {typ: 246},
	Text:      {typ: 252},
	Blob:      {typ: 252, flags: mysqlBinary},
	VarChar:   {typ: 253},
	VarBinary: {typ: 253, flags: mysqlBinary},
	Char:      {typ: 254},
	Binary:    {typ: 254, flags: mysqlBinary},
	Enum:      {typ: 254, flags: mysqlEnum},
	Set:       {typ: 254, flags: mysqlSet},
	Geometry:  {typ: 255},
}

// TypeToMySQL returns the equivalent mysql wire type and flag for a type.
func TypeToMySQL(typ Type) (mysqlType, flags int64) {
	val := typeToMySQL[typ]
	return val.typ, val.flags
}

// mysqlToType maps mysql wire types to the internal types.
var mysqlToType = map[int64]Type{
	0:   Decimal,
	1:   Int8,
	2:   Int16,
	3:   Int32,
	4:   Float32,
	5:   Float64,
	6:   Null,
	7:   Timestamp,
	8:   Int64,
	9:   Int24,
	10:  Date,
	11:  Time,
	12:  Datetime,
	13:  Year,
	15:  VarChar,
	16:  Bit,
	17:  Timestamp,
	18:  Datetime,
	19:  Time,
	245: TypeJSON,
	246: Decimal,
	247: Enum,
	248: Set,
	249: Text,
	250: Text,
	251: Text,
	252: Text,
	253: VarChar,
	254: Char,
	255: Geometry,
}

// modifyType modifies the column type based on the
// mysql flag. The function checks specific flags based
// on the type. This allows us to ignore stray flags
// that MySQL occasionally sets.
func modifyType(typ Type, flags int64) Type {
	switch typ {
	case Int8:
		if flags&mysqlUnsigned != 0 {
			return Uint8
		}
	case Int16:
		if flags&mysqlUnsigned != 0 {
			return Uint16
		}
	case Int32:
		if flags&mysqlUnsigned != 0 {
			return Uint32
		}
	case Int64:
		if flags&mysqlUnsigned != 0 {
			return Uint64
		}
	case Int24:
		if flags&mysqlUnsigned != 0 {
			return Uint24
		}
	case Text:
		if flags&mysqlBinary != 0 {
			return Blob
		}
	case VarChar:
		if flags&mysqlBinary != 0 {
			return VarBinary
		}
	case Char:
		if flags&mysqlBinary != 0 {
			return Binary
		}
		if flags&mysqlEnum != 0 {
			return Enum
		}
		if flags&mysqlSet != 0 {
			return Set
		}
	case Year:
		if flags&mysqlBinary != 0 {
			return VarBinary
		}
	}
	return typ
}

// MySQLToType computes the column type from the mysql wire type and flags.
func MySQLToType(mysqlType, flags int64) (typ Type, err error) {
	result, ok := mysqlToType[mysqlType]
	if !ok {
		return 0, fmt.Errorf("unsupported type: %d", mysqlType)
	}
	return modifyType(result, flags), nil
}
