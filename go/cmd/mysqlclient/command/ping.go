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
)

var Ping = &cobra.Command{
	Use:   "ping",
	Short: "Connects to the server and measures a ping round trip.",
	Args:  cobra.NoArgs,
	RunE:  commandPing,
}

func init() {
	Root.AddCommand(Ping)
}

func commandPing(cmd *cobra.Command, args []string) error {
	conn, err := connect(context.Background())
	if err != nil {
		return err
	}
	defer conn.Close()

	start := time.Now()
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("ping failed: %v", err)
	}
	fmt.Fprintf(os.Stdout, "%v is alive, server version %v, round trip %v\n",
		conn.RemoteAddr(), conn.ServerVersion, time.Since(start).Round(time.Microsecond))
	return nil
}
