// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the task engine, which only ever publishes snapshots of its nodes.
package store
