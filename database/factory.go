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

package database

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// BaseDatabaseFactory owns one database manager built from configuration.
// Connect hooks added to the factory before or after CreateFromConfig are
// attached to its manager.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	logger  Logger
	hooks   []ConnectHook
}

// NewDatabaseFactory returns a new database factory using the global logger.
func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{
		logger: GetLogger(),
	}
}

// SupportedTypes lists the accepted values of ConnectionConfig.Type.
func SupportedTypes() []string {
	return slices.Sorted(maps.Keys(openers))
}

// CreateFromConfig applies DB_* environment overrides to cfg and builds a
// manager for it. The connection is not opened until InitializeDatabase.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *ConnectionConfig) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}

	// environment first, so DB_TYPE can pick the dialect
	OverrideFromEnv(cfg)

	if _, ok := openers[strings.ToLower(cfg.Type)]; !ok {
		return nil, fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.Type, SupportedTypes())
	}

	manager := NewDatabaseManager(cfg)
	manager.SetLogger(f.logger)
	for _, hook := range f.hooks {
		manager.OnConnect(hook)
	}
	f.manager = manager
	return manager, nil
}

// OnConnect registers hook on the current manager and on any manager the
// factory creates later.
func (f *BaseDatabaseFactory) OnConnect(hook ConnectHook) {
	if hook == nil {
		return
	}
	f.hooks = append(f.hooks, hook)
	if f.manager != nil {
		f.manager.OnConnect(hook)
	}
}

type envOverride struct {
	key   string
	apply func(cfg *ConnectionConfig, value string) error
}

var envOverrides = []envOverride{
	{"DB_TYPE", func(c *ConnectionConfig, v string) error { c.Type = v; return nil }},
	{"DB_HOST", func(c *ConnectionConfig, v string) error { c.Host = v; return nil }},
	{"DB_PORT", envInt(func(c *ConnectionConfig, n int) { c.Port = n })},
	{"DB_USERNAME", func(c *ConnectionConfig, v string) error { c.Username = v; return nil }},
	{"DB_PASSWORD", func(c *ConnectionConfig, v string) error { c.Password = v; return nil }},
	{"DB_NAME", func(c *ConnectionConfig, v string) error { c.DBName = v; return nil }},
	{"DB_SSLMODE", func(c *ConnectionConfig, v string) error { c.SSLMode = v; return nil }},
	{"DB_MAX_IDLE_CONNS", envInt(func(c *ConnectionConfig, n int) { c.MaxIdleConns = n })},
	{"DB_MAX_OPEN_CONNS", envInt(func(c *ConnectionConfig, n int) { c.MaxOpenConns = n })},
	{"DB_CONN_MAX_LIFETIME", envInt(func(c *ConnectionConfig, n int) { c.ConnMaxLifetime = time.Duration(n) * time.Second })},
	{"DB_ENABLE_RECONNECT", func(c *ConnectionConfig, v string) error { c.EnableReconnect = v == "true"; return nil }},
	{"DB_RECONNECT_INTERVAL", envInt(func(c *ConnectionConfig, n int) { c.ReconnectInterval = time.Duration(n) * time.Second })},
	{"DB_ENABLE_QUERY_LOG", func(c *ConnectionConfig, v string) error { c.EnableQueryLog = v == "true"; return nil }},
}

func envInt(set func(*ConnectionConfig, int)) func(*ConnectionConfig, string) error {
	return func(c *ConnectionConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

// OverrideFromEnv overrides configuration values from DB_* environment
// variables. Numeric variables that do not parse are ignored with a warning.
func OverrideFromEnv(cfg *ConnectionConfig) {
	for _, o := range envOverrides {
		v := os.Getenv(o.key)
		if v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			GetLogger().Warn("Ignoring invalid database environment override", "key", o.key, "error", err)
		}
	}
}

// InitializeDatabase connects to the database.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	f.logger.Info("Database initialization completed!")
	return nil
}

// GetManager returns the underlying database manager.
func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager {
	return f.manager
}

// GetDB returns the live Bun handle, or nil if not connected.
func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

// Close disconnects the manager and stops its health watcher.
func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{
			LastError:     "Database manager not initialized",
			LastCheckTime: time.Now(),
		}
	}
	return f.manager.HealthCheck(ctx)
}

func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
