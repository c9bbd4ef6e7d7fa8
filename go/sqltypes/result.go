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

// Field describes a single column returned by a query.
// The fields beyond Name and Type are only set when the
// full column definition was requested.
type Field struct {
	// Name is the column name as the client should display it.
	Name string
	// Type is the column type.
	Type Type

	// Table is the table alias, OrgTable the real table name.
	Table    string
	OrgTable string
	// Database is the schema the column comes from.
	Database string
	// OrgName is the real column name if aliased.
	OrgName string

	ColumnLength uint32
	Charset      uint32
	Decimals     uint32
	Flags        uint32
}

// Result represents a query result.
type Result struct {
	Fields       []*Field
	RowsAffected uint64
	InsertID     uint64
	Rows         [][]Value

	// SessionStateChanges is the streamed session tracking data,
	// if the server sent any.
	SessionStateChanges string
	// StatusFlags is the server status after the query.
	StatusFlags uint16
	// Info is the human readable string of the OK packet, if any.
	Info string
}

// Repair fixes the type info in the rows to conform to the
// supplied field types.
func (result *Result) Repair(fields []*Field) {
	// Usage of j is intentional.
	for j, f := range fields {
		for _, r := range result.Rows {
			if r[j].typ != Null {
				r[j].typ = f.Type
			}
		}
	}
}

// Copy creates a deep copy of Result.
func (result *Result) Copy() *Result {
	out := &Result{
		InsertID:            result.InsertID,
		RowsAffected:        result.RowsAffected,
		SessionStateChanges: result.SessionStateChanges,
		StatusFlags:         result.StatusFlags,
		Info:                result.Info,
	}
	if result.Fields != nil {
		out.Fields = make([]*Field, len(result.Fields))
		for i, f := range result.Fields {
			ff := *f
			out.Fields[i] = &ff
		}
	}
	if result.Rows != nil {
		out.Rows = make([][]Value, 0, len(result.Rows))
		for _, r := range result.Rows {
			out.Rows = append(out.Rows, append([]Value(nil), r...))
		}
	}
	return out
}

// IsMoreResultsExists returns true if the status flags indicate
// that another result set follows this one.
func (result *Result) IsMoreResultsExists() bool {
	return result.StatusFlags&serverMoreResultsExists != 0
}

// IsInTransaction returns true if the status flags indicate
// a transaction is open on the connection.
func (result *Result) IsInTransaction() bool {
	return result.StatusFlags&serverStatusInTrans != 0
}

// serverMoreResultsExists and serverStatusInTrans mirror the
// SERVER_MORE_RESULTS_EXISTS and SERVER_STATUS_IN_TRANS bits of the
// status flag field.
const (
	serverStatusInTrans     = 0x0001
	serverMoreResultsExists = 0x0008
)

// AppendResult will combine the Results Objects of one result
// to another result. Useful for batch results.
func (result *Result) AppendResult(src *Result) {
	if src.RowsAffected == 0 && len(src.Fields) == 0 {
		return
	}
	if result.Fields == nil {
		result.Fields = src.Fields
	}
	result.RowsAffected += src.RowsAffected
	if src.InsertID != 0 {
		result.InsertID = src.InsertID
	}
	result.Rows = append(result.Rows, src.Rows...)
}

// Named returns a NamedResult based on this result.
func (result *Result) Named() *NamedResult {
	return ToNamedResult(result)
}
