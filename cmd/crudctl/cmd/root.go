/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cmd provides the crudctl commands for inspecting tables through
// crudman managers.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomoncle/crudman"
	"github.com/tomoncle/crudman/database"
	"github.com/tomoncle/crudman/utils"
)

// options holds the global flags of one command tree.
type options struct {
	cfgFile  string
	logLevel string
	output   string
	queryLog bool
	timeout  time.Duration
}

// Execute runs the crudctl command tree. It is called by main.main.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates a fresh crudctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "crudctl",
		Short: "Inspect and edit database tables through crudman managers",
		Long: `crudctl resolves table managers by type name (BookManager -> book) and
runs their CRUD operations or dispatch aliases (getBookById, addBook, ...)
against the database described by the config file and DB_* variables.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// stdout carries command output only
			utils.ConfigureLogOutput(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", utils.EnvDefaultString("CRUDCTL_CONFIG", ""), "YAML config file (connection and log sections)")
	cmd.PersistentFlags().BoolVar(&opts.queryLog, "query-log", utils.EnvDefaultBool("CRUDCTL_QUERY_LOG", false), "log every SQL statement")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", utils.EnvDefaultDuration("CRUDCTL_TIMEOUT", 30*time.Second), "deadline for the whole command")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "output format (json|plain)")

	cmd.AddCommand(newTablesCmd(opts))
	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newCallCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))

	return cmd
}

func (o *options) loadConfig() (*database.Config, error) {
	cfg := database.DefaultConfig()
	if o.cfgFile != "" {
		var err error
		if cfg, err = database.LoadConfig(o.cfgFile); err != nil {
			return nil, err
		}
	}
	// CLI runs are short lived
	cfg.ConnectionConfig.HealthCheckInterval = 0
	cfg.ConnectionConfig.EnableReconnect = false
	if o.logLevel != "" {
		cfg.LogConfig.Level = o.logLevel
	}
	if o.queryLog {
		cfg.ConnectionConfig.EnableQueryLog = true
	}
	return cfg, nil
}

// withRuntime connects, runs fn with a runtime over the connection and
// closes the connection again.
func (o *options) withRuntime(ctx context.Context, fn func(ctx context.Context, rt *crudman.Runtime) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	db, err := database.InitDBContext(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.CloseDB() }()
	return fn(ctx, crudman.NewRuntime(db))
}

func (o *options) print(cmd *cobra.Command, v interface{}) error {
	switch o.output {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "plain":
		_, err := fmt.Fprintln(cmd.OutOrStdout(), plain(v))
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", o.output)
	}
}
