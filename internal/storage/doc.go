// Package storage persists articles, subscriptions and the delivery ledger.
//
// The only backend is SQLite (modernc.org/sqlite, pure Go). Queries are built
// with squirrel. All timestamps are stored as integer epoch seconds; the
// *_date columns hold a human-readable copy rendered in a fixed display
// offset (Config.DisplayZone).
package storage
