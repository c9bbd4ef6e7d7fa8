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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoststack/mysqlwire/go/sqltypes"
	"github.com/hoststack/mysqlwire/go/vt/utils"
)

var (
	executeParams  []string
	executeNulls   bool
	executeMaxRows = 10000

	Execute = &cobra.Command{
		Use:   "execute <sql>",
		Short: "Runs a query as a server-side prepared statement.",
		Long: "Prepares the query on the server, binds the --param values to its\n" +
			"? placeholders over the binary protocol and prints the result.\n" +
			"With --null-params, a --param value of NULL binds SQL NULL.",
		Args: cobra.ExactArgs(1),
		RunE: commandExecute,
	}
)

func init() {
	Execute.Flags().StringArrayVar(&executeParams, "param", nil, "Value for the next ? placeholder. May be repeated.")
	utils.SetFlagBoolVar(Execute.Flags(), &executeNulls, "null-params", executeNulls, "Treat a --param value of NULL as SQL NULL.")
	utils.SetFlagIntVar(Execute.Flags(), &executeMaxRows, "max-rows", executeMaxRows, "Fail if the result has more rows than this.")

	Root.AddCommand(Execute)
}

func commandExecute(cmd *cobra.Command, args []string) error {
	conn, err := connect(context.Background())
	if err != nil {
		return err
	}
	defer conn.Close()

	stmt, err := conn.Prepare(args[0])
	if err != nil {
		return err
	}
	defer stmt.Close()

	if len(executeParams) != stmt.ParamCount() {
		return fmt.Errorf("statement needs %v parameters, got %v", stmt.ParamCount(), len(executeParams))
	}
	values := make([]sqltypes.Value, len(executeParams))
	for i, p := range executeParams {
		if executeNulls && p == "NULL" {
			values[i] = sqltypes.NULL
			continue
		}
		values[i] = sqltypes.NewVarChar(p)
	}

	start := time.Now()
	result, err := stmt.Execute(values, executeMaxRows)
	if err != nil {
		return err
	}
	printResult(os.Stdout, result, time.Since(start))
	return nil
}
