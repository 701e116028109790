// Package stores indexes endstate run history in SQLite.
//
// The JSON run files written by package state stay authoritative; the index
// mirrors them so that reports can aggregate failures across many runs with
// a single query. The schema is managed with golang-migrate from embedded
// migrations and the database runs in WAL mode.
package stores
