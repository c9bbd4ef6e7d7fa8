/*
Copyright 2023 The Vitess Authors.

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

package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hoststack/mysqlwire/go/mysql"
	"github.com/hoststack/mysqlwire/go/sqltypes"
	"github.com/hoststack/mysqlwire/go/vt/utils"
)

var (
	maxRows     = 10000
	streaming   bool
	queryParams []string

	Query = &cobra.Command{
		Use:   "query <sql>",
		Short: "Runs a query and prints its result set.",
		Long: "Runs a query over the text protocol and renders the result as a table.\n" +
			"? placeholders in the query are bound to --param values, in order.",
		Args: cobra.ExactArgs(1),
		RunE: commandQuery,
	}
)

func init() {
	utils.SetFlagIntVar(Query.Flags(), &maxRows, "max-rows", maxRows, "Fail if the result has more rows than this.")
	utils.SetFlagBoolVar(Query.Flags(), &streaming, "streaming", streaming, "Stream the rows instead of reading the whole result first.")
	Query.Flags().StringArrayVar(&queryParams, "param", nil, "Value for the next ? placeholder. May be repeated.")

	Root.AddCommand(Query)
}

func commandQuery(cmd *cobra.Command, args []string) error {
	conn, err := connect(context.Background())
	if err != nil {
		return err
	}
	defer conn.Close()

	query := args[0]
	if len(queryParams) > 0 {
		values := make([]sqltypes.Value, len(queryParams))
		for i, p := range queryParams {
			values[i] = sqltypes.NewVarChar(p)
		}
		if query, err = mysql.BindQuery(query, values); err != nil {
			return err
		}
	}

	start := time.Now()
	if streaming {
		return streamQuery(conn, query, start)
	}

	result, err := conn.ExecuteFetch(query, maxRows, true)
	if err != nil {
		return err
	}
	printResult(os.Stdout, result, time.Since(start))
	return nil
}

// streamQuery renders rows as they arrive instead of buffering the
// whole result.
func streamQuery(conn *mysql.Conn, query string, start time.Time) error {
	rows, err := conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	if len(rows.Fields()) == 0 {
		// The statement produced no result set.
		fmt.Fprintf(os.Stdout, "Query OK (%v)\n", time.Since(start).Round(time.Millisecond))
		return rows.Close()
	}

	table := newResultTable(os.Stdout, rows.Fields())
	count := 0
	for rows.Next() {
		table.Append(rowStrings(rows.Row()))
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	table.Render()
	fmt.Fprintf(os.Stdout, "%v rows in set (%v)\n", count, time.Since(start).Round(time.Millisecond))
	return nil
}

func printResult(w io.Writer, result *sqltypes.Result, elapsed time.Duration) {
	if len(result.Fields) == 0 {
		fmt.Fprintf(w, "Query OK, %v rows affected (%v)\n", result.RowsAffected, elapsed.Round(time.Millisecond))
		if result.InsertID != 0 {
			fmt.Fprintf(w, "Last insert id: %v\n", result.InsertID)
		}
		return
	}

	table := newResultTable(w, result.Fields)
	for _, row := range result.Rows {
		table.Append(rowStrings(row))
	}
	table.Render()
	fmt.Fprintf(w, "%v rows in set (%v)\n", len(result.Rows), elapsed.Round(time.Millisecond))
}

func newResultTable(w io.Writer, fields []*sqltypes.Field) *tablewriter.Table {
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name
	}
	table := tablewriter.NewWriter(w)
	table.Header(names)
	return table
}

func rowStrings(row []sqltypes.Value) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v.IsNull() {
			out[i] = "NULL"
		} else {
			out[i] = v.ToString()
		}
	}
	return out
}
