package arena

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cory-johannsen/arena/internal/wire"
)

// DefaultOutboxSize is the outbox buffer used when none is configured.
const DefaultOutboxSize = 64

var (
	// ErrOutboxClosed is returned by Push after Close.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by the Push that overflowed the outbox.
	ErrOutboxFull = errors.New("outbox full")
)

type queued struct {
	frame wire.Frame
}

// Outbox queues frames for one connection. The zone pushes under its lock;
// the stream goroutine takes frames with Next and sends them.
//
// Unsolicited user_vars frames for a user still waiting in the queue are
// merged into the waiting frame, so a slow reader sees each user's latest
// variable set once. Any other frame that does not fit overflows the outbox:
// it closes, and the connection must be dropped rather than continue with a
// gap in its event stream.
type Outbox struct {
	owner string
	size  int

	mu         sync.Mutex
	queue      []*queued
	pending    map[int]*queued
	notify     chan struct{}
	closed     bool
	overflowed bool
}

// NewOutbox creates an Outbox for the connection named owner.
//
// Postcondition: Returns an open, empty Outbox holding at most bufferSize
// frames.
func NewOutbox(owner string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = DefaultOutboxSize
	}
	return &Outbox{
		owner:   owner,
		size:    bufferSize,
		pending: make(map[int]*queued),
		notify:  make(chan struct{}, 1),
	}
}

// Push enqueues msg as a reply to req, or as a push when req is empty.
// It never blocks.
//
// Postcondition: the frame is queued or merged into a waiting user_vars
// frame; otherwise ErrOutboxClosed or ErrOutboxFull is returned, and after
// ErrOutboxFull the outbox is closed.
func (o *Outbox) Push(req string, msg wire.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox %s: %w", o.owner, ErrOutboxClosed)
	}

	if vars, ok := msg.(wire.UserVars); ok && req == "" {
		if q, ok := o.pending[vars.User.ID]; ok {
			prev := q.frame.Msg.(wire.UserVars)
			q.frame.Msg = mergeUserVars(prev, vars)
			return nil
		}
	}

	if len(o.queue) >= o.size {
		o.overflowed = true
		o.closeLocked()
		return fmt.Errorf("outbox %s: %w", o.owner, ErrOutboxFull)
	}

	q := &queued{frame: wire.Frame{Req: req, Msg: msg}}
	o.queue = append(o.queue, q)
	switch m := msg.(type) {
	case wire.UserVars:
		if req == "" {
			o.pending[m.User.ID] = q
		}
	case wire.UserExit:
		// Later updates must not jump ahead of the exit.
		delete(o.pending, m.User.ID)
	}
	o.signal()
	return nil
}

// mergeUserVars folds next into a waiting update for the same user: next
// carries the newer full variable set, and Changed is the union of both.
func mergeUserVars(prev, next wire.UserVars) wire.UserVars {
	changed := append([]string(nil), prev.Changed...)
	for _, name := range next.Changed {
		if !slices.Contains(changed, name) {
			changed = append(changed, name)
		}
	}
	next.Changed = changed
	return next
}

// Next blocks until a frame is queued and returns it. Queued frames are
// returned even after ctx ends or the outbox is closed normally.
//
// Postcondition: ok is false once the queue is empty and ctx has ended or the
// outbox is closed, and immediately after an overflow.
func (o *Outbox) Next(ctx context.Context) (wire.Frame, bool) {
	for {
		o.mu.Lock()
		if o.overflowed {
			o.mu.Unlock()
			return wire.Frame{}, false
		}
		if len(o.queue) > 0 {
			q := o.queue[0]
			o.queue[0] = nil
			o.queue = o.queue[1:]
			if m, ok := q.frame.Msg.(wire.UserVars); ok && o.pending[m.User.ID] == q {
				delete(o.pending, m.User.ID)
			}
			o.mu.Unlock()
			return q.frame, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return wire.Frame{}, false
		}

		select {
		case <-ctx.Done():
			return wire.Frame{}, false
		case <-o.notify:
		}
	}
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Overflowed reports whether a push found the outbox full.
func (o *Outbox) Overflowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overflowed
}

// Close stops accepting frames. Frames already queued can still be taken.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
}

func (o *Outbox) closeLocked() {
	if o.closed {
		return
	}
	o.closed = true
	o.signal()
}

func (o *Outbox) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}
