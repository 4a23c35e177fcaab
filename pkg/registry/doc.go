// Package registry tracks the sensor devices attached to the board
// server. It owns the device availability state machine
// (Idle/Reserved/Busy/Offline) with per-device lock granularity, so
// sessions operating on disjoint device sets proceed concurrently.
// Re-scans mark absent devices Offline instead of deleting them,
// keeping job history references valid.
package registry
