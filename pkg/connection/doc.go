// Package connection provides connection lifecycle management for
// PiConnect clients: exponential backoff with jitter for discovery and
// reconnect retries, and a reconnection manager that brings a client
// back after the board server restarts.
package connection
