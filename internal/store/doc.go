// Package store defines the errors and database helpers shared by the task
// persistence layer. These abstractions keep the task queue's core logic
// independent of the embedded database driver that backs it.
package store
