// Package task manages the durable task queue: task rows and their status
// lifecycle (PENDING -> TAKEN -> PROCESSED | CANCELLED), the Store contract
// implemented by the embedded database layer, and the Dispatcher that hands
// claimed tasks to parallel executors while a single writer goroutine applies
// their results back to the store.
package task
