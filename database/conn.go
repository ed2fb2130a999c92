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
	"sync"

	"github.com/tomoncle/crudman/utils"
	"github.com/uptrace/bun"
)

var (
	globalMu      sync.RWMutex
	globalFactory *BaseDatabaseFactory
	DB            *bun.DB

	hooksMu     sync.Mutex
	globalHooks []ConnectHook
)

// OnConnect registers a hook run each time the global database gets a new
// handle: after InitDB and after every reconnect of the global manager.
func OnConnect(hook ConnectHook) {
	if hook == nil {
		return
	}
	hooksMu.Lock()
	globalHooks = append(globalHooks, hook)
	hooksMu.Unlock()
}

func fireGlobal(ctx context.Context, db *bun.DB) {
	hooksMu.Lock()
	hooks := append([]ConnectHook(nil), globalHooks...)
	hooksMu.Unlock()
	for _, hook := range hooks {
		hook(ctx, db)
	}
}

// GetDB returns the global Bun database instance.
func GetDB() *bun.DB {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory != nil {
		return globalFactory.GetDB()
	}
	return DB
}

// GetDatabaseManager returns the global database manager.
func GetDatabaseManager() AbstractDatabaseManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory != nil {
		return globalFactory.GetManager()
	}
	return nil
}

// InitDB connects the global database using the provided configuration.
func InitDB(cfg *Config) (*bun.DB, error) {
	return InitDBContext(context.Background(), cfg)
}

// InitDBContext is InitDB with a caller supplied context for the connect step.
// A previously initialized global database is closed once the new one is up;
// if the new one fails, the previous one stays in place.
func InitDBContext(ctx context.Context, cfg *Config) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	applyLogConfig(cfg.LogConfig)

	factory := NewDatabaseFactory()
	manager, err := factory.CreateFromConfig(&cfg.ConnectionConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	if err := factory.InitializeDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db := manager.GetDB()

	globalMu.Lock()
	previous := globalFactory
	globalFactory = factory
	DB = db
	globalMu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			GetLogger().Warn("Failed to close previous database", "error", err)
		}
	}

	// later reconnects of this manager keep DB and the global hooks current
	factory.OnConnect(func(ctx context.Context, db *bun.DB) {
		globalMu.Lock()
		current := globalFactory == factory
		if current {
			DB = db
		}
		globalMu.Unlock()
		if current {
			fireGlobal(ctx, db)
		}
	})
	fireGlobal(ctx, db)
	return db, nil
}

func applyLogConfig(cfg LogConfig) {
	if cfg.Format != "" {
		utils.ConfigureConsoleLogFormat(cfg.Format)
	}
	if cfg.Level != "" {
		utils.SetAllLoggersLevel(utils.ParseLogLevel(cfg.Level))
	}
}

// CloseDB closes the global database connection.
func CloseDB() error {
	globalMu.Lock()
	factory := globalFactory
	globalFactory = nil
	DB = nil
	globalMu.Unlock()
	if factory != nil {
		return factory.Close()
	}
	return nil
}

// GetHealthStatus returns the current database health status.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	globalMu.RLock()
	factory := globalFactory
	globalMu.RUnlock()
	if factory != nil {
		return factory.GetHealthStatus(ctx)
	}
	return &HealthStatus{LastError: "Database not initialized"}
}

// GetDatabaseStats returns global database statistics.
func GetDatabaseStats() *DBStats {
	globalMu.RLock()
	factory := globalFactory
	globalMu.RUnlock()
	if factory != nil {
		return factory.GetStats()
	}
	return &DBStats{}
}
