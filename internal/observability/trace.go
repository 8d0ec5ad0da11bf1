package observability

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultTraceCapacity is the number of lines a Trace keeps when none is given.
const DefaultTraceCapacity = 200

// Trace is the operator-visible log: a bounded list of human-readable lines
// mirrored to the structured logger. It stands in for the on-screen log panel.
//
// All methods are safe for concurrent use.
type Trace struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	logger   *zap.Logger
}

// NewTrace creates a Trace keeping at most capacity lines.
//
// Precondition: logger may be nil (lines are then only kept in memory).
// Postcondition: Returns an empty Trace.
func NewTrace(capacity int, logger *zap.Logger) *Trace {
	if capacity <= 0 {
		capacity = DefaultTraceCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trace{capacity: capacity, logger: logger}
}

// Line appends a line and logs it at info level.
func (t *Trace) Line(line string, fields ...zap.Field) {
	t.logger.Info(line, fields...)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if over := len(t.lines) - t.capacity; over > 0 {
		t.lines = append(t.lines[:0:0], t.lines[over:]...)
	}
}

// Lines returns a copy of the retained lines, oldest first.
func (t *Trace) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// Last returns the most recent line, or "" when empty.
func (t *Trace) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return t.lines[len(t.lines)-1]
}
