// Package pkg provides shared utilities for the sdspi driver.
//
// This package contains common functionality used across the driver core
// and its HAL backends, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for the SD protocol error taxonomy
//   - Component identifiers for log filtering
//
// The package is designed to have zero external dependencies, relying
// only on the Go standard library.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with driver-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDriver, "card initialized", "type", "SDHC")
//
// # Errors
//
// Protocol errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrNoDevice) {
//	    // No card responded on the bus
//	}
package pkg
