package ports

import "context"

// ErrorSink receives recoverable errors from the engine's cycle steps instead
// of terminating the process. Implementations must never block the caller.
type ErrorSink interface {
	ReportError(ctx context.Context, err error, origin string)
}
