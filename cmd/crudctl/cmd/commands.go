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

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomoncle/crudman"
	"github.com/tomoncle/crudman/crud"
	"github.com/tomoncle/crudman/types"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func newTablesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables managers can be built for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *crudman.Runtime) error {
				tables, err := rt.Tables(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd, tables)
			})
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "get <Manager> <id>",
		Short:   "Print one row by primary key",
		Args:    cobra.ExactArgs(2),
		Example: `  crudctl get BookManager 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArg(args[1])
			if err != nil {
				return err
			}
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *crudman.Runtime) error {
				m, err := rt.Manager(ctx, args[0])
				if err != nil {
					return err
				}
				row, err := m.GetByID(ctx, id)
				if err != nil {
					return err
				}
				if row == nil {
					return fmt.Errorf("no row with id %v in table '%s'", id, m.TableName())
				}
				return opts.print(cmd, row)
			})
		},
	}
}

func newCallCmd(opts *options) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "call <Manager> [method] [json-args...]",
		Short: "Call a manager method through alias dispatch",
		Long: `Call resolves method the way Manager.Call does: table aliases first
(get<Table>ById, getAll<Tables>, add<Table>, update<Table>, remove<Table>),
then registered operations such as upsert<Table>. Arguments are JSON values.`,
		Args: cobra.MinimumNArgs(1),
		Example: `  crudctl call BookManager addBook '{"title":"Dune"}'
  crudctl call BookManager updateBook 1 '{"year":1965}'
  crudctl call BookManager getAllBooks
  crudctl call BookManager --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list && len(args) < 2 {
				return fmt.Errorf("call needs a method name, use --list to see them")
			}
			var callArgs []interface{}
			if len(args) > 2 {
				callArgs = make([]interface{}, 0, len(args)-2)
				for _, raw := range args[2:] {
					v, err := parseArg(raw)
					if err != nil {
						return err
					}
					callArgs = append(callArgs, v)
				}
			}
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *crudman.Runtime) error {
				m, err := rt.Manager(ctx, args[0])
				if err != nil {
					return err
				}
				if list {
					return opts.print(cmd, append(m.Aliases(), m.Operations()...))
				}
				out, err := m.Call(ctx, args[1], callArgs...)
				if err != nil {
					return err
				}
				if sel, ok := out.(crud.Selection); ok {
					rows, err := sel.Fetch(ctx)
					if err != nil {
						return err
					}
					out = rows
				}
				return opts.print(cmd, out)
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list the callable method names")
	return cmd
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output == "plain" {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "crudctl %s (%s)\n", Version, GitCommit)
				return err
			}
			return opts.print(cmd, map[string]string{"version": Version, "git_commit": GitCommit})
		},
	}
}

// parseArg decodes a JSON argument. Bare words that are not JSON are taken
// as strings, and whole numbers become int64.
func parseArg(raw string) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	var v interface{}
	if err := decoder.Decode(&v); err != nil {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.ContainsAny(trimmed[:1], "{[\"") {
			return nil, fmt.Errorf("invalid JSON argument %q: %w", raw, err)
		}
		return raw, nil
	}
	if decoder.More() {
		return raw, nil
	}
	return normalize(v), nil
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		out := make(types.Record, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	case []interface{}:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	default:
		return v
	}
}

func plain(v interface{}) string {
	switch t := v.(type) {
	case []string:
		return strings.Join(t, "\n")
	case types.Record:
		lines := make([]string, 0, len(t))
		for _, k := range t.Keys() {
			lines = append(lines, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(lines, "\n")
	case []types.Record:
		rows := make([]string, len(t))
		for i, r := range t {
			rows[i] = strings.ReplaceAll(plain(r), "\n", " ")
		}
		return strings.Join(rows, "\n")
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, len(keys))
		for i, k := range keys {
			lines[i] = fmt.Sprintf("%s=%s", k, t[k])
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprint(v)
	}
}
