// Package database provides connection management, configuration loading,
// schema introspection (table and primary key listing), SQL error
// classification, query hooks and logging built on top of Bun.
package database
