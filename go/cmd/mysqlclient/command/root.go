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
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/hoststack/mysqlwire/go/mysql"
	"github.com/hoststack/mysqlwire/go/vt/log"
	"github.com/hoststack/mysqlwire/go/vt/utils"
	"github.com/hoststack/mysqlwire/go/vt/vttls"
)

var (
	host           = "127.0.0.1"
	port           = 3306
	user           = "root"
	password       string
	askPassword    bool
	database       string
	unixSocket     string
	charset        = "utf8"
	sslMode        string
	sslCa          string
	sslCert        string
	sslKey         string
	serverName     string
	tlsMinVersion  string
	connectTimeout = 30 * time.Second
	readTimeout    time.Duration
	configPath     string

	Root = &cobra.Command{
		Use:   "mysqlclient",
		Short: "mysqlclient is a command-line MySQL client built on the mysqlwire connector.",
		Long: "`mysqlclient` connects to a MySQL-compatible server over TCP or a unix socket\n" +
			"and runs queries, prepared statements and health checks against it.\n" +
			"Connection parameters come from flags, MYSQLCLIENT_* environment variables\n" +
			"or a config file, in that order of precedence.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.Init(cmd.Flags()); err != nil {
				return err
			}
			return initViper(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Flush()
		},
	}
)

func init() {
	fs := Root.PersistentFlags()
	log.RegisterFlags(fs)
	utils.SetFlagStringVar(fs, &host, "host", host, "Server host to connect to.")
	utils.SetFlagIntVar(fs, &port, "port", port, "Server TCP port.")
	utils.SetFlagStringVar(fs, &user, "user", user, "User to authenticate as.")
	utils.SetFlagStringVar(fs, &password, "password", password, "Password to authenticate with.")
	utils.SetFlagBoolVar(fs, &askPassword, "ask-password", askPassword, "Prompt for the password instead of taking it from a flag or the environment.")
	utils.SetFlagStringVar(fs, &database, "database", database, "Database to use after connecting.")
	utils.SetFlagStringVar(fs, &unixSocket, "unix-socket", unixSocket, "Connect through this unix socket instead of TCP.")
	utils.SetFlagStringVar(fs, &charset, "charset", charset, "Connection character set.")
	utils.SetFlagStringVar(fs, &sslMode, "ssl-mode", sslMode, "SSL mode: disabled, preferred, required, verify_ca or verify_identity.")
	utils.SetFlagStringVar(fs, &sslCa, "ssl-ca", sslCa, "Path to the CA certificate to verify the server against.")
	utils.SetFlagStringVar(fs, &sslCert, "ssl-cert", sslCert, "Path to the client certificate.")
	utils.SetFlagStringVar(fs, &sslKey, "ssl-key", sslKey, "Path to the client private key.")
	utils.SetFlagStringVar(fs, &serverName, "server-name", serverName, "Server name to verify the certificate against, if different from --host.")
	utils.SetFlagStringVar(fs, &tlsMinVersion, "tls-min-version", tlsMinVersion, "Minimum TLS version: TLSv1.0 through TLSv1.3.")
	utils.SetFlagDurationVar(fs, &connectTimeout, "connect-timeout", connectTimeout, "How long to wait for the connection to be established.")
	utils.SetFlagDurationVar(fs, &readTimeout, "read-timeout", readTimeout, "How long to wait for each server response. Zero means no limit.")
	utils.SetFlagStringVar(fs, &configPath, "config-path", configPath, "Directory to look for a mysqlclient.yaml config file in.")
}

// initViper layers environment variables and an optional config file
// under the flag values.
func initViper(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %v", err)
	}
	viper.SetEnvPrefix("mysqlclient")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigName("mysqlclient")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configPath)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("failed to read config file: %v", err)
			}
			log.Infof("no config file found in %v, using flags and environment only", configPath)
		}
	}
	return nil
}

// connParams assembles the connection parameters from the resolved
// configuration, prompting for the password if asked to.
func connParams() (*mysql.ConnParams, error) {
	params := &mysql.ConnParams{
		Host:             viper.GetString("host"),
		Port:             viper.GetInt("port"),
		Uname:            viper.GetString("user"),
		Pass:             viper.GetString("password"),
		DbName:           viper.GetString("database"),
		UnixSocket:       viper.GetString("unix-socket"),
		Charset:          viper.GetString("charset"),
		SslMode:          vttls.SslMode(viper.GetString("ssl-mode")),
		SslCa:            viper.GetString("ssl-ca"),
		SslCert:          viper.GetString("ssl-cert"),
		SslKey:           viper.GetString("ssl-key"),
		ServerName:       viper.GetString("server-name"),
		TLSMinVersion:    viper.GetString("tls-min-version"),
		ConnectTimeoutMs: uint64(viper.GetDuration("connect-timeout").Milliseconds()),
		ReadTimeoutMs:    uint64(viper.GetDuration("read-timeout").Milliseconds()),
	}

	if viper.GetBool("ask-password") {
		fmt.Fprint(os.Stderr, "Enter password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %v", err)
		}
		params.Pass = string(pw)
	}
	return params, nil
}

// connect dials the server with the resolved connection parameters.
func connect(ctx context.Context) (*mysql.Conn, error) {
	params, err := connParams()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return mysql.Connect(ctx, params)
}
