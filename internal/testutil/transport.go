// Package testutil provides test helpers shared across packages.
package testutil

import (
	"sync"

	"github.com/cory-johannsen/arena/internal/transport"
)

// Call is one recorded request on a FakeTransport.
type Call struct {
	Method string
	Args   []any
}

// FakeTransport is an in-memory session transport. Requests are recorded;
// events are queued with Emit and dispatched with Poll through a real
// transport.Dispatcher.
type FakeTransport struct {
	dispatcher *transport.Dispatcher

	mu        sync.Mutex
	pending   []transport.Event
	calls     []Call
	connected bool
	rooms     map[string]bool

	// SendErr, when set, is returned by every outbound request.
	SendErr error
}

// NewFakeTransport creates a disconnected FakeTransport with no rooms.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		dispatcher: transport.NewDispatcher(),
		rooms:      make(map[string]bool),
	}
}

func (f *FakeTransport) record(method string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
}

// Register attaches a listener set.
func (f *FakeTransport) Register(name string, h transport.Handlers) *transport.Registration {
	return f.dispatcher.Register(name, h)
}

// RemoveAllListeners detaches every listener set.
func (f *FakeTransport) RemoveAllListeners() {
	f.record("RemoveAllListeners")
	f.dispatcher.RemoveAll()
}

// Listeners returns the number of attached listener sets.
func (f *FakeTransport) Listeners() int {
	return f.dispatcher.Len()
}

// IsConnected reports the simulated connection status.
func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected overrides the simulated connection status.
func (f *FakeTransport) SetConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

// AddRoom makes RoomExists report true for name.
func (f *FakeTransport) AddRoom(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[name] = true
}

// LoadConfig records the request.
func (f *FakeTransport) LoadConfig(path string) { f.record("LoadConfig", path) }

// Connect records the request.
func (f *FakeTransport) Connect(host string, port int) { f.record("Connect", host, port) }

// Disconnect records the request and drops the simulated connection and any queued events.
func (f *FakeTransport) Disconnect() {
	f.record("Disconnect")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.pending = nil
}

// Login records the request.
func (f *FakeTransport) Login(username, password, zone string) error {
	f.record("Login", username, password, zone)
	return f.SendErr
}

// RoomExists reports whether AddRoom was called for name.
func (f *FakeTransport) RoomExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[name]
}

// CreateRoom records the request.
func (f *FakeTransport) CreateRoom(spec transport.RoomSpec, autoJoin bool) error {
	f.record("CreateRoom", spec, autoJoin)
	return f.SendErr
}

// JoinRoom records the request.
func (f *FakeTransport) JoinRoom(name string) error {
	f.record("JoinRoom", name)
	return f.SendErr
}

// SetVariables records the request.
func (f *FakeTransport) SetVariables(vars ...transport.Variable) error {
	f.record("SetVariables", append([]transport.Variable(nil), vars...))
	return f.SendErr
}

// SendPublicMessage records the request.
func (f *FakeTransport) SendPublicMessage(text string) error {
	f.record("SendPublicMessage", text)
	return f.SendErr
}

// SendObjectMessage records the request.
func (f *FakeTransport) SendObjectMessage(payload map[string]any) error {
	f.record("SendObjectMessage", payload)
	return f.SendErr
}

// Emit queues events for the next Poll.
func (f *FakeTransport) Emit(events ...transport.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, events...)
}

// Poll dispatches queued events in order and returns how many were dispatched.
// A successful ConnectionResult marks the fake connected; ConnectionLost marks it
// disconnected. Events queued by handlers wait for the next Poll.
func (f *FakeTransport) Poll() int {
	f.mu.Lock()
	events := f.pending
	f.pending = nil
	f.mu.Unlock()

	for _, e := range events {
		switch ev := e.(type) {
		case transport.ConnectionResult:
			f.SetConnected(ev.Success)
		case transport.ConnectionLost:
			f.SetConnected(false)
		}
		f.dispatcher.Dispatch(e)
	}
	return len(events)
}

// Deliver emits events and polls once.
func (f *FakeTransport) Deliver(events ...transport.Event) {
	f.Emit(events...)
	f.Poll()
}

// Calls returns the recorded calls to method, or every call when method is "".
func (f *FakeTransport) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns the number of recorded calls to method.
func (f *FakeTransport) CallCount(method string) int {
	return len(f.Calls(method))
}

// LastCall returns the most recent call to method.
func (f *FakeTransport) LastCall(method string) (Call, bool) {
	calls := f.Calls(method)
	if len(calls) == 0 {
		return Call{}, false
	}
	return calls[len(calls)-1], true
}

// PublishedVariables returns the argument of every SetVariables call in order.
func (f *FakeTransport) PublishedVariables() [][]transport.Variable {
	var out [][]transport.Variable
	for _, c := range f.Calls("SetVariables") {
		out = append(out, c.Args[0].([]transport.Variable))
	}
	return out
}

// ResetCalls forgets recorded calls.
func (f *FakeTransport) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
