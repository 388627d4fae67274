// Package errorsink provides the default ErrorSink: recovered errors are
// logged with their origin and kept in a bounded in-memory ring for
// inspection.
package errorsink

import (
	"context"
	"sync"
	"time"

	"cryptoStalkerBot/internal/ports"
)

const defaultCapacity = 100

// Report is one recorded error.
type Report struct {
	Err    error
	Origin string
	At     time.Time
}

// Sink implements ports.ErrorSink. Safe for concurrent use.
type Sink struct {
	logger ports.Logger

	mu      sync.Mutex
	reports []Report
	cap     int
}

// New creates a sink logging through the given logger. capacity bounds the
// retained reports; zero means 100.
func New(logger ports.Logger, capacity int) *Sink {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Sink{logger: logger, cap: capacity}
}

// ReportError records a recovered error with the component it came from.
func (s *Sink) ReportError(ctx context.Context, err error, origin string) {
	if err == nil {
		return
	}
	s.logger.Error(ctx, err, "Recovered error reported", map[string]interface{}{"origin": origin})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, Report{Err: err, Origin: origin, At: time.Now().UTC()})
	if len(s.reports) > s.cap {
		s.reports = append(s.reports[:0:0], s.reports[len(s.reports)-s.cap:]...)
	}
}

// Reports returns a copy of the retained reports, oldest first.
func (s *Sink) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Report(nil), s.reports...)
}
