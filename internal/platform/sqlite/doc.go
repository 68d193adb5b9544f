// Package sqlite provides the SQLite implementation of the task.Store
// interface defined in the internal/task package. It handles opening the
// embedded database file, applying schema migrations, the cross-process claim
// lock, and mapping between task rows and driver errors.
package sqlite
