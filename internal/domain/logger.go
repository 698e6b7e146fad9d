package domain

import (
	"context"
)

// Logger is the structured logger used across the service. Every call takes
// the request or connection context so request, connection and user ids
// stored there end up on the entry. fields are alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
	Fatal(ctx context.Context, msg string, fields ...any) // exits the process after logging

	// With creates a child logger carrying fields on every entry.
	With(fields ...any) Logger

	// Sync flushes buffered entries.
	Sync() error
}
