// Package logger provides structured JSON logging with configurable log levels.
// It wraps the standard log/slog package and provides a simple interface for
// application-wide logging, with optional rotated file output.
package logger
