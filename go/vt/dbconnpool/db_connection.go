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

package dbconnpool

import (
	"context"
	"fmt"
	"time"

	"github.com/hoststack/mysqlwire/go/mysql"
	"github.com/hoststack/mysqlwire/go/sqltypes"
	"github.com/hoststack/mysqlwire/go/stats"
)

// DBConnection re-exposes mysql.Conn with some wrapping to implement
// the pools.Resource interface.
type DBConnection struct {
	*mysql.Conn
	info       *mysql.ConnParams
	mysqlStats *stats.Timings
}

// NewDBConnection returns a new DBConnection.
func NewDBConnection(ctx context.Context, info *mysql.ConnParams, mysqlStats *stats.Timings) (*DBConnection, error) {
	start := time.Now()
	c, err := mysql.Connect(ctx, info)
	if err != nil {
		mysqlStats.Record("ConnectError", start)
		return nil, err
	}
	mysqlStats.Record("Connect", start)
	return &DBConnection{Conn: c, info: info, mysqlStats: mysqlStats}, nil
}

func (dbc *DBConnection) handleError(err error) {
	if mysql.IsConnErr(err) {
		dbc.Close()
	}
}

// ExecuteFetch overwrites mysql.Conn.ExecuteFetch.
func (dbc *DBConnection) ExecuteFetch(query string, maxrows int, wantfields bool) (*sqltypes.Result, error) {
	defer dbc.mysqlStats.Record("Exec", time.Now())
	mqr, err := dbc.Conn.ExecuteFetch(query, maxrows, wantfields)
	if err != nil {
		dbc.handleError(err)
		return nil, err
	}
	return mqr, nil
}

// ExecuteStreamFetch overwrites mysql.Conn.ExecuteStreamFetch.
// The rows are returned to the callback in batches of up to
// streamBufferSize bytes.
func (dbc *DBConnection) ExecuteStreamFetch(query string, callback func(*sqltypes.Result) error, streamBufferSize int) error {
	defer dbc.mysqlStats.Record("ExecStream", time.Now())

	err := dbc.Conn.ExecuteStreamFetch(query)
	if err != nil {
		dbc.handleError(err)
		return err
	}
	defer dbc.CloseResult()

	// The first callback sends the fields only.
	flds, err := dbc.Fields()
	if err != nil {
		dbc.handleError(err)
		return err
	}
	err = callback(&sqltypes.Result{Fields: flds})
	if err != nil {
		return fmt.Errorf("stream send error: %v", err)
	}

	// Then we send rows as we accumulate a decent batch size.
	qr := &sqltypes.Result{Fields: flds}
	byteCount := 0
	for {
		row, err := dbc.FetchNext()
		if err != nil {
			dbc.handleError(err)
			return err
		}
		if row == nil {
			break
		}
		qr.Rows = append(qr.Rows, row)
		for _, s := range row {
			byteCount += s.Len()
		}

		if byteCount >= streamBufferSize {
			err = callback(qr)
			if err != nil {
				return fmt.Errorf("stream send error: %v", err)
			}
			qr = &sqltypes.Result{}
			byteCount = 0
		}
	}

	if len(qr.Rows) > 0 {
		err = callback(qr)
		if err != nil {
			return fmt.Errorf("stream send error: %v", err)
		}
	}

	return nil
}

// Reconnect replaces the existing connection with a new one.
// It is safe to call after Close, the underlying connection
// is thrown away either way.
func (dbc *DBConnection) Reconnect(ctx context.Context) error {
	dbc.Conn.Close()
	newConn, err := mysql.Connect(ctx, dbc.info)
	if err != nil {
		return err
	}
	dbc.Conn = newConn
	return nil
}
