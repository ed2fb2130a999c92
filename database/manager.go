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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

const memoryDBName = ":memory:"

// ErrNotConnected is returned when a handle is needed but none is open.
var ErrNotConnected = errors.New("database not connected")

// opener turns a connection config into an unopened pool and its Bun dialect.
type opener func(cfg *ConnectionConfig) (*sql.DB, schema.Dialect, error)

var openers = map[string]opener{
	"mysql":      openMySQL,
	"postgres":   openPostgres,
	"postgresql": openPostgres,
	"sqlite":     openSQLite,
	"sqlite3":    openSQLite,
}

type defaultDatabaseManager struct {
	config *ConnectionConfig

	// mu guards the handle and the last health report. It is never held
	// while hooks run, since hooks usually call back into GetDB.
	mu         sync.RWMutex
	db         *bun.DB
	logger     Logger
	generation uint64
	lastError  error
	health     *HealthStatus

	hooksMu sync.Mutex
	hooks   []ConnectHook

	watchMu sync.Mutex
	stop    chan struct{}
	tries   atomic.Int32
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun.
// If config is nil, a sensible default configuration is used.
func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return &defaultDatabaseManager{
		config: config,
		logger: GetLogger(),
		health: &HealthStatus{},
	}
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	db, err := dm.open(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return nil
	}
	dm.log().Info("Database connected successfully",
		"type", dm.config.Type, "host", dm.config.Host, "dbname", dm.config.DBName)
	dm.watch()
	dm.fire(ctx, db)
	return nil
}

// open dials and pings under the lock. A nil handle with a nil error means
// the manager was already connected.
func (dm *defaultDatabaseManager) open(ctx context.Context) (*bun.DB, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.db != nil {
		return nil, nil
	}

	db, err := dm.dial()
	if err != nil {
		dm.lastError = err
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	timeout := dm.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		// the pool is unusable; do not leak it
		if cerr := db.Close(); cerr != nil {
			dm.logger.Warn("Failed to close unreachable database pool", "error", cerr)
		}
		dm.lastError = err
		return nil, fmt.Errorf("database connection test failed: %w", err)
	}

	dm.db = db
	dm.generation++
	dm.lastError = nil
	return db, nil
}

func (dm *defaultDatabaseManager) dial() (*bun.DB, error) {
	open, ok := openers[strings.ToLower(dm.config.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", dm.config.Type)
	}
	sqlDB, dialect, err := open(dm.config)
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)

	db := bun.NewDB(sqlDB, dialect)
	if dm.config.EnableQueryLog {
		db.AddQueryHook(NewQueryHook(WithQueryHookVerbose(true), WithQueryHookWriter(os.Stderr)))
	}
	if _, ok := os.LookupEnv("BUNDEBUG"); ok {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.FromEnv("BUNDEBUG")))
	}
	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(&slowQueryHook{slowTime: dm.config.SlowQueryTime, logger: dm.logger})
	}
	return db, nil
}

func openMySQL(cfg *ConnectionConfig) (*sql.DB, schema.Dialect, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%s&readTimeout=%s&writeTimeout=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
		cfg.ConnectTimeout, cfg.ReadTimeout, cfg.WriteTimeout)
	sqlDB, err := sql.Open("mysql", dsn)
	return sqlDB, mysqldialect.New(), err
}

func openPostgres(cfg *ConnectionConfig) (*sql.DB, schema.Dialect, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
		sslMode, int(cfg.ConnectTimeout.Seconds()))
	sqlDB, err := sql.Open("postgres", dsn)
	return sqlDB, pgdialect.New(), err
}

func openSQLite(cfg *ConnectionConfig) (*sql.DB, schema.Dialect, error) {
	dsn := cfg.DBName + ".db"
	if cfg.DBName == "" || cfg.DBName == memoryDBName {
		dsn = "file::memory:?cache=shared"
	}
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	return sqlDB, sqlitedialect.New(), err
}

func (dm *defaultDatabaseManager) OnConnect(hook ConnectHook) {
	if hook == nil {
		return
	}
	dm.hooksMu.Lock()
	dm.hooks = append(dm.hooks, hook)
	dm.hooksMu.Unlock()
}

func (dm *defaultDatabaseManager) fire(ctx context.Context, db *bun.DB) {
	dm.hooksMu.Lock()
	hooks := append([]ConnectHook(nil), dm.hooks...)
	dm.hooksMu.Unlock()

	if len(hooks) > 0 {
		dm.log().Debug("Running connect hooks", "count", len(hooks), "generation", dm.Generation())
	}
	for _, hook := range hooks {
		hook(ctx, db)
	}
}

func (dm *defaultDatabaseManager) Generation() uint64 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.generation
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.unwatch()
	return dm.release()
}

// release closes the current handle but leaves the health watcher running.
func (dm *defaultDatabaseManager) release() error {
	dm.mu.Lock()
	db := dm.db
	dm.db = nil
	logger := dm.logger
	dm.mu.Unlock()

	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		logger.Error("Failed to close database connection", "error", err)
		return err
	}
	logger.Info("Database connection closed")
	return nil
}

// Reconnect swaps the handle for a fresh one. Hooks registered with
// OnConnect see the new handle before Reconnect returns.
func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	dm.log().Info("Attempting to reconnect to the database")
	if err := dm.release(); err != nil {
		dm.log().Warn("Error disconnecting existing connection", "error", err)
	}
	return dm.Connect(ctx)
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return ErrNotConnected
	}
	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	if db := dm.GetDB(); db != nil {
		return db.DB
	}
	return nil
}

func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}

	db := dm.GetDB()
	if db == nil {
		status.LastError = "Database not initialized"
		dm.record(status, ErrNotConnected)
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := db.PingContext(pingCtx)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}

	stats := db.DB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections

	dm.record(status, err)
	return status
}

func (dm *defaultDatabaseManager) record(status *HealthStatus, err error) {
	dm.mu.Lock()
	dm.health = status
	dm.lastError = err
	dm.mu.Unlock()
}

// watch starts the health watcher once per Disconnect cycle.
func (dm *defaultDatabaseManager) watch() {
	interval := dm.config.HealthCheckInterval
	if interval <= 0 {
		return
	}
	dm.watchMu.Lock()
	defer dm.watchMu.Unlock()
	if dm.stop != nil {
		return
	}
	dm.stop = make(chan struct{})
	go dm.watchLoop(interval, dm.stop)
}

func (dm *defaultDatabaseManager) unwatch() {
	dm.watchMu.Lock()
	defer dm.watchMu.Unlock()
	if dm.stop != nil {
		close(dm.stop)
		dm.stop = nil
	}
}

func (dm *defaultDatabaseManager) watchLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		status := dm.HealthCheck(ctx)
		cancel()

		if status.Healthy {
			dm.tries.Store(0)
			continue
		}
		if dm.config.EnableReconnect {
			dm.retry(stop)
		}
	}
}

// retry makes one reconnect attempt, giving up once MaxReconnectTries
// consecutive attempts have failed.
func (dm *defaultDatabaseManager) retry(stop <-chan struct{}) {
	try := int(dm.tries.Add(1))
	if limit := dm.config.MaxReconnectTries; limit > 0 && try > limit {
		if try == limit+1 {
			dm.log().Error("Max reconnect attempts reached, stopping", "tries", limit)
		}
		return
	}

	dm.log().Info("Starting database reconnect", "try", try)
	select {
	case <-stop:
		return
	case <-time.After(dm.config.ReconnectInterval):
	}

	timeout := dm.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := dm.Reconnect(ctx); err != nil {
		dm.log().Error("Reconnect failed", "error", err, "try", try)
		return
	}
	dm.tries.Store(0)
	dm.log().Info("Reconnect succeeded", "generation", dm.Generation())
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	db := dm.GetDB()
	if db == nil {
		return &DBStats{}
	}

	stats := db.DB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}

func (dm *defaultDatabaseManager) log() Logger {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.logger
}

type slowQueryHook struct {
	slowTime time.Duration
	logger   Logger
}

func (h *slowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if event.Err != nil || h.logger == nil {
		return
	}
	if took := time.Since(event.StartTime); took > h.slowTime {
		h.logger.Warn("Database slow query detected",
			"duration", took,
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
	}
}
