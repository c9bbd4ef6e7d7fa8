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
	"fmt"

	"github.com/hoststack/mysqlwire/go/sqltypes"
)

// BindQuery substitutes the ? placeholders of a query with escaped
// SQL literals, for running parameterized statements over the text
// protocol. Placeholders inside string literals, quoted identifiers
// and comments are left alone.
func BindQuery(query string, params []sqltypes.Value) (string, error) {
	buf := &bytes.Buffer{}
	buf.Grow(len(query) + 16*len(params))

	next := 0
	i := 0
	for i < len(query) {
		ch := query[i]
		switch ch {
		case '?':
			if next >= len(params) {
				return "", fmt.Errorf("not enough parameters: query has more than %v placeholders", len(params))
			}
			params[next].EncodeSQL(buf)
			next++
			i++

		case '\'', '"', '`':
			// Copy the quoted region verbatim, honoring backslash
			// escapes and doubled quotes.
			start := i
			i++
			for i < len(query) {
				if query[i] == '\\' && ch != '`' && i+1 < len(query) {
					i += 2
					continue
				}
				if query[i] == ch {
					i++
					break
				}
				i++
			}
			buf.WriteString(query[start:i])

		case '-':
			// A -- comment runs to the end of the line.
			if i+1 < len(query) && query[i+1] == '-' {
				start := i
				for i < len(query) && query[i] != '\n' {
					i++
				}
				buf.WriteString(query[start:i])
				continue
			}
			buf.WriteByte(ch)
			i++

		case '/':
			// A /* comment runs to the closing marker.
			if i+1 < len(query) && query[i+1] == '*' {
				start := i
				i += 2
				for i+1 < len(query) && !(query[i] == '*' && query[i+1] == '/') {
					i++
				}
				if i+1 < len(query) {
					i += 2
				} else {
					i = len(query)
				}
				buf.WriteString(query[start:i])
				continue
			}
			buf.WriteByte(ch)
			i++

		default:
			buf.WriteByte(ch)
			i++
		}
	}

	if next != len(params) {
		return "", fmt.Errorf("too many parameters: query has %v placeholders, got %v values", next, len(params))
	}
	return buf.String(), nil
}

// countQueryPlaceholders counts the ? placeholders of a query,
// skipping string literals, quoted identifiers and comments. It uses
// the same scanner rules as BindQuery.
func countQueryPlaceholders(query string) uint16 {
	var count uint16
	i := 0
	for i < len(query) {
		ch := query[i]
		switch ch {
		case '?':
			count++
			i++

		case '\'', '"', '`':
			i++
			for i < len(query) {
				if query[i] == '\\' && ch != '`' && i+1 < len(query) {
					i += 2
					continue
				}
				if query[i] == ch {
					i++
					break
				}
				i++
			}

		case '-':
			if i+1 < len(query) && query[i+1] == '-' {
				for i < len(query) && query[i] != '\n' {
					i++
				}
				continue
			}
			i++

		case '/':
			if i+1 < len(query) && query[i+1] == '*' {
				i += 2
				for i+1 < len(query) && !(query[i] == '*' && query[i+1] == '/') {
					i++
				}
				if i+1 < len(query) {
					i += 2
				} else {
					i = len(query)
				}
				continue
			}
			i++

		default:
			i++
		}
	}
	return count
}

// ExecuteFetchBound binds the parameters into the query as literals
// and runs it over the text protocol.
func (c *Conn) ExecuteFetchBound(query string, params []sqltypes.Value, maxrows int, wantfields bool) (*sqltypes.Result, error) {
	bound, err := BindQuery(query, params)
	if err != nil {
		return nil, err
	}
	return c.ExecuteFetch(bound, maxrows, wantfields)
}
