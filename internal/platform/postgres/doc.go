// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store package.
//
// It owns the database connection setup, the embedded goose migrations, and
// TaskNodeStore, which keeps the latest snapshot of every task node so that
// trees stay inspectable after the process that ran them has exited.
package postgres
