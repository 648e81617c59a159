// Package logging provides a small bracket-prefixed logger shared across
// the enforcement, quota, and audit services.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Logger wraps the standard library logger with leveled bracket prefixes
// and an optional tenant field, matching the [INFO]/[WARN]/[ERROR] style
// used throughout the rest of this codebase.
type Logger struct {
	std *log.Logger
}

// New creates a Logger writing to stderr with the given name as a prefix.
func New(name string) *Logger {
	return &Logger{std: log.New(os.Stderr, "["+name+"] ", log.LstdFlags)}
}

func (l *Logger) Info(format string, args ...any) {
	l.std.Printf("[INFO] "+format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.std.Printf("[WARN] "+format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.std.Printf("[ERROR] "+format, args...)
}

// WithTenant returns a format/args pair prefixed with the tenant id, meant
// to be passed straight into Info/Warn/Error:
//
//	l.Warn(logging.WithTenant(tenantID, "reload failed: %v"), err)
func WithTenant(tenantID, format string) string {
	return fmt.Sprintf("tenant=%s ", tenantID) + format
}
