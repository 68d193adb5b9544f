// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON
// (or text) logging with configurable log levels, and carries loggers through
// context.Context so that store and worker code can log with request-scoped fields.
package logger
