package transport

import (
	"sync"
)

// Handlers is one listener set. Nil fields are ignored.
type Handlers struct {
	Connection           func(ConnectionResult)
	ConnectionLost       func(ConnectionLost)
	ConfigLoad           func(ConfigLoadResult)
	Login                func(LoginResult)
	RoomAdded            func(RoomAdded)
	RoomCreateError      func(RoomCreateError)
	RoomJoined           func(RoomJoined)
	RoomJoinError        func(RoomJoinError)
	UserEntered          func(UserEntered)
	UserExited           func(UserExited)
	UserVariablesUpdated func(UserVariablesUpdated)
	ProximityListUpdate  func(ProximityListUpdate)
	PublicMessage        func(PublicMessage)
	ObjectMessage        func(ObjectMessage)
}

// Registration is a listener set attached to a Dispatcher. It stays attached
// until Close or the dispatcher's RemoveAll.
type Registration struct {
	d        *Dispatcher
	name     string
	handlers Handlers
	closed   bool
}

// Name returns the label given at registration.
func (r *Registration) Name() string {
	return r.name
}

// Close detaches the listener set. Close is idempotent and safe on nil.
//
// Postcondition: no handler of this registration runs after Close returns,
// including for the remainder of an in-progress dispatch.
func (r *Registration) Close() {
	if r == nil {
		return
	}
	r.d.remove(r)
}

// Active reports whether the registration is still attached.
func (r *Registration) Active() bool {
	if r == nil {
		return false
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return !r.closed
}

// Dispatcher routes events to registrations in registration order.
//
// Register and Close are safe for concurrent use; Dispatch runs handlers on the
// calling goroutine with no lock held, so handlers may register or close.
type Dispatcher struct {
	mu   sync.Mutex
	regs []*Registration
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register attaches a listener set under a descriptive name.
//
// Postcondition: Returns an active Registration.
func (d *Dispatcher) Register(name string, h Handlers) *Registration {
	r := &Registration{d: d, name: name, handlers: h}
	d.mu.Lock()
	d.regs = append(d.regs, r)
	d.mu.Unlock()
	return r
}

// RemoveAll detaches every registration.
func (d *Dispatcher) RemoveAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.regs {
		r.closed = true
	}
	d.regs = nil
}

// Len returns the number of active registrations.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.regs)
}

func (d *Dispatcher) remove(r *Registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for i, x := range d.regs {
		if x == r {
			d.regs = append(d.regs[:i:i], d.regs[i+1:]...)
			break
		}
	}
}

// Dispatch delivers evt to every registration active when Dispatch began that
// is still active when its turn comes.
//
// Postcondition: Returns the number of handlers invoked.
func (d *Dispatcher) Dispatch(evt Event) int {
	d.mu.Lock()
	snapshot := make([]*Registration, len(d.regs))
	copy(snapshot, d.regs)
	d.mu.Unlock()

	n := 0
	for _, r := range snapshot {
		if !r.Active() {
			continue
		}
		if deliver(r.handlers, evt) {
			n++
		}
	}
	return n
}

func deliver(h Handlers, evt Event) bool {
	switch e := evt.(type) {
	case ConnectionResult:
		return call(h.Connection, e)
	case ConnectionLost:
		return call(h.ConnectionLost, e)
	case ConfigLoadResult:
		return call(h.ConfigLoad, e)
	case LoginResult:
		return call(h.Login, e)
	case RoomAdded:
		return call(h.RoomAdded, e)
	case RoomCreateError:
		return call(h.RoomCreateError, e)
	case RoomJoined:
		return call(h.RoomJoined, e)
	case RoomJoinError:
		return call(h.RoomJoinError, e)
	case UserEntered:
		return call(h.UserEntered, e)
	case UserExited:
		return call(h.UserExited, e)
	case UserVariablesUpdated:
		return call(h.UserVariablesUpdated, e)
	case ProximityListUpdate:
		return call(h.ProximityListUpdate, e)
	case PublicMessage:
		return call(h.PublicMessage, e)
	case ObjectMessage:
		return call(h.ObjectMessage, e)
	}
	return false
}

func call[E Event](fn func(E), e E) bool {
	if fn == nil {
		return false
	}
	fn(e)
	return true
}
