// Package config holds the handful of compile-time constants shared
// across the storage engine.
package config

// DefaultPoolSize is the number of frames a buffer pool owns when no
// other size is specified.
const DefaultPoolSize = 32

// MaxDepth bounds how many low-order hash bits the directory may use.
// 2^MaxDepth directory slots must fit comfortably inside one PageSize
// page alongside the directory header.
const MaxDepth = 9

// LogSuffix is appended to an index's backing file path to name its
// sidecar append-only log.
const LogSuffix = ".log"
