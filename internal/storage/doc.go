// Package storage keeps the run history of job stages.
//
// Drivers:
//   - "file": JSON Lines appended to a single file
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
//   - "none": history disabled
package storage
