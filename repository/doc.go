// Package repository provides the bun backed table provider used by crud
// managers: map based row selection, inserts, updates, deletes, primary key
// discovery and dialect aware upserts.
package repository
