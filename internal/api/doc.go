// Package api serves a read-only HTTP view of the task queue: health, per
// status counts, task listings and single task lookups. It never mutates
// the store, so the dispatcher's writer stays the only writer.
package api
