// Package connection drives a client from disconnected to inside the arena
// room: connect, optional config load, login, then join or create the room.
package connection

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/session"
	"github.com/cory-johannsen/arena/internal/transport"
)

// State is a step of the connection sequence.
type State int

const (
	Idle State = iota
	Connecting
	ConfigLoaded
	Connected
	Authenticating
	AwaitingRoom
	RoomJoined
	Failed
)

var stateNames = [...]string{
	Idle:           "idle",
	Connecting:     "connecting",
	ConfigLoaded:   "config_loaded",
	Connected:      "connected",
	Authenticating: "authenticating",
	AwaitingRoom:   "awaiting_room",
	RoomJoined:     "room_joined",
	Failed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transport event moves the machine.
func (s State) Terminal() bool {
	return s == RoomJoined || s == Failed
}

// DefaultRoom is the well-known arena room name.
const DefaultRoom = "arena"

// DefaultRoomSpec returns the settings used when the arena room must be created.
func DefaultRoomSpec(name string) transport.RoomSpec {
	return transport.RoomSpec{
		Name:           name,
		MaxUsers:       10,
		AreaOfInterest: transport.Vec3{X: 200, Y: 100, Z: 1},
		Bounds: transport.MapBounds{
			Min: transport.Vec3{X: -225, Y: -125, Z: 1},
			Max: transport.Vec3{X: 225, Y: 125, Z: 1},
		},
		Extension: transport.Extension{ID: "Brawl", Class: "com.xplosion.BrawlExtension"},
	}
}

// Transport is the part of the session transport the machine drives.
type Transport interface {
	session.Conn
	LoadConfig(path string)
	Connect(host string, port int)
	Disconnect()
	Login(username, password, zone string) error
	RoomExists(name string) bool
	CreateRoom(spec transport.RoomSpec, autoJoin bool) error
	JoinRoom(name string) error
}

// Settings are the connect target and credentials.
type Settings struct {
	// ConfigFile, when non-empty, is loaded first and supplies host, port and zone.
	ConfigFile string
	Host       string
	Port       int
	Username   string
	Password   string
	Zone       string
	// Room is the room to join or create. Defaults to DefaultRoom.
	Room string
	// RoomSpec is used when Room does not exist. Defaults to DefaultRoomSpec(Room).
	RoomSpec *transport.RoomSpec
}

// Hooks observe the machine. All fields are optional and are called on the
// goroutine that polls the transport.
type Hooks struct {
	// OnTransition is called after every state change.
	OnTransition func(from, to State)
	// OnFailure is called on entry to Failed with the reason to show the operator.
	OnFailure func(f *Failure)
	// OnRoomJoined hands the established session and the room roster to the next phase.
	OnRoomJoined func(s *session.Session, users []transport.User)
}

// Machine is the connection state machine. Transport events drive it while
// its listener set is registered, from Start until RoomJoined or Failed.
type Machine struct {
	transport Transport
	registry  *session.Registry
	logger    *zap.Logger
	hooks     Hooks

	mu       sync.Mutex
	settings Settings
	state    State
	failure  *Failure
	zone     string
	reg      *transport.Registration
	attempt  int

	// hostEdited makes Settings.Host win over a config source's host.
	hostEdited bool
}

// NewMachine creates a Machine in Idle.
//
// Precondition: t and registry must be non-nil.
// Postcondition: Returns a Machine with no listeners registered.
func NewMachine(t Transport, registry *session.Registry, settings Settings, hooks Hooks, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Room == "" {
		settings.Room = DefaultRoom
	}
	return &Machine{
		transport: t,
		registry:  registry,
		logger:    logger,
		hooks:     hooks,
		settings:  settings,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Failure returns the reason for the last failure, or nil outside Failed.
func (m *Machine) Failure() *Failure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Settings returns a copy of the current settings.
func (m *Machine) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Attempt returns how many times Start has run.
func (m *Machine) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Start begins the connection sequence.
//
// Precondition: State() == Idle.
// Postcondition: State() == Connecting and this machine's listeners are registered.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.state != Idle {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrPrecondition, state)
	}
	m.attempt++
	m.failure = nil
	m.zone = m.settings.Zone
	s := m.settings
	m.mu.Unlock()

	m.reg = m.transport.Register("connection", transport.Handlers{
		ConfigLoad:      m.onConfigLoad,
		Connection:      m.onConnection,
		ConnectionLost:  m.onConnectionLost,
		Login:           m.onLogin,
		RoomAdded:       m.onRoomAdded,
		RoomCreateError: m.onRoomCreateError,
		RoomJoined:      m.onRoomJoined,
		RoomJoinError:   m.onRoomJoinError,
	})
	m.transition(Connecting)

	if s.ConfigFile != "" {
		m.logger.Info("loading config source",
			zap.String("path", s.ConfigFile),
			zap.Int("attempt", m.Attempt()),
		)
		m.transport.LoadConfig(s.ConfigFile)
		return nil
	}
	m.logger.Info("connecting",
		zap.String("host", s.Host),
		zap.Int("port", s.Port),
		zap.Int("attempt", m.Attempt()),
	)
	m.transport.Connect(s.Host, s.Port)
	return nil
}

// SetHost edits the target host used by the next Start. The edited host
// also replaces the host a config source supplies.
func (m *Machine) SetHost(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.Host = host
	m.hostEdited = true
}

// Retry reruns the full sequence with the same credentials. A non-empty host
// replaces the target host first.
//
// Precondition: State() == Failed.
// Postcondition: State() == Connecting.
func (m *Machine) Retry(host string) error {
	if st := m.State(); st != Failed {
		return fmt.Errorf("%w: retry from %s", ErrPrecondition, st)
	}
	if host != "" {
		m.SetHost(host)
	}
	m.Reset()
	return m.Start()
}

// Reset returns the machine to Idle from any state, detaching its listeners.
// It does not touch the transport connection or the registry.
func (m *Machine) Reset() {
	m.reg.Close()
	m.reg = nil
	m.mu.Lock()
	m.failure = nil
	m.mu.Unlock()
	m.transition(Idle)
}

func (m *Machine) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from == to {
		return
	}
	m.logger.Debug("connection state",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if m.hooks.OnTransition != nil {
		m.hooks.OnTransition(from, to)
	}
}

// in reports whether the machine is in one of states.
func (m *Machine) in(states ...State) bool {
	cur := m.State()
	for _, s := range states {
		if cur == s {
			return true
		}
	}
	return false
}

func (m *Machine) ignore(event string) {
	m.logger.Debug("ignoring event outside its state",
		zap.String("event", event),
		zap.Stringer("state", m.State()),
	)
}

func (m *Machine) onConfigLoad(e transport.ConfigLoadResult) {
	if !m.in(Connecting) {
		m.ignore("config_load")
		return
	}
	if !e.Success {
		f := newFailure(ErrConfigLoad, 0, "config load failed")
		f.Err = e.Err
		m.fail(f)
		return
	}

	m.mu.Lock()
	host, port := e.Config.Host, e.Config.Port
	if m.hostEdited && m.settings.Host != "" {
		host = m.settings.Host
	}
	if e.Config.Zone != "" {
		m.zone = e.Config.Zone
	}
	zone := m.zone
	m.mu.Unlock()

	m.logger.Info("config source loaded",
		zap.String("host", host),
		zap.Int("port", port),
		zap.String("zone", zone),
	)
	m.transition(ConfigLoaded)
	m.transport.Connect(host, port)
}

func (m *Machine) onConnection(e transport.ConnectionResult) {
	if !m.in(Connecting, ConfigLoaded) {
		m.ignore("connection")
		return
	}
	if !e.Success {
		f := newFailure(ErrConnect, 0, "failed to connect")
		f.Err = e.Err
		m.fail(f)
		return
	}
	m.transition(Connected)

	m.mu.Lock()
	user, pass, zone := m.settings.Username, m.settings.Password, m.zone
	m.mu.Unlock()

	m.logger.Info("connected, logging in",
		zap.String("username", user),
		zap.String("zone", zone),
	)
	if err := m.transport.Login(user, pass, zone); err != nil {
		f := newFailure(ErrLogin, 0, "login failed: %v", err)
		f.Err = err
		m.fail(f)
		return
	}
	m.transition(Authenticating)
}

func (m *Machine) onConnectionLost(e transport.ConnectionLost) {
	if m.in(Idle) || m.State().Terminal() {
		m.ignore("connection_lost")
		return
	}
	m.Lost(e.Reason)
}

// Lost fails the machine with ErrConnectionLost. The room phase calls it when
// the connection drops after RoomJoined and the operator must decide whether
// to retry.
//
// Postcondition: State() == Failed unless the machine had already failed.
func (m *Machine) Lost(reason string) {
	if m.State() == Failed {
		return
	}
	f := newFailure(ErrConnectionLost, 0, "connection lost")
	if reason != "" {
		f.Err = fmt.Errorf("%s", reason)
	}
	m.fail(f)
}

func (m *Machine) onLogin(e transport.LoginResult) {
	if !m.in(Authenticating) {
		m.ignore("login")
		return
	}
	if !e.Success {
		m.fail(newFailure(ErrLogin, e.ErrorCode, "login failed: code %d: %s", e.ErrorCode, e.ErrorMessage))
		return
	}

	m.mu.Lock()
	if e.Zone != "" {
		m.zone = e.Zone
	}
	zone := m.zone
	room := m.settings.Room
	spec := DefaultRoomSpec(room)
	if m.settings.RoomSpec != nil {
		spec = *m.settings.RoomSpec
	}
	m.mu.Unlock()

	sess := session.New(zone, e.User, m.transport)
	if err := m.registry.Publish(sess); err != nil {
		f := newFailure(ErrPrecondition, 0, "publishing session: %v", err)
		f.Err = err
		m.fail(f)
		return
	}
	m.logger.Info("logged in",
		zap.Stringer("user", e.User),
		zap.String("zone", zone),
		zap.String("session", sess.ID.String()),
	)
	m.transition(AwaitingRoom)

	if m.transport.RoomExists(room) {
		m.logger.Info("room exists, joining", zap.String("room", room))
		if err := m.transport.JoinRoom(room); err != nil {
			f := newFailure(ErrRoomJoin, 0, "join room %q failed: %v", room, err)
			f.Err = err
			m.fail(f)
		}
		return
	}
	m.logger.Info("room does not exist, creating",
		zap.String("room", spec.Name),
		zap.Int("max_users", spec.MaxUsers),
		zap.String("extension", spec.Extension.ID),
	)
	if err := m.transport.CreateRoom(spec, true); err != nil {
		f := newFailure(ErrRoomCreation, 0, "create room %q failed: %v", spec.Name, err)
		f.Err = err
		m.fail(f)
	}
}

func (m *Machine) onRoomAdded(e transport.RoomAdded) {
	m.logger.Info("room added", zap.String("room", e.Room))
}

func (m *Machine) onRoomJoined(e transport.RoomJoined) {
	if !m.in(AwaitingRoom) {
		m.ignore("room_joined")
		return
	}
	m.reg.Close()
	m.reg = nil
	m.transition(RoomJoined)
	m.logger.Info("joined room",
		zap.String("room", e.Room),
		zap.Int("users", len(e.Users)),
	)

	sess, err := m.registry.Get()
	if err != nil {
		m.logger.Error("room joined without a session", zap.Error(err))
		return
	}
	if m.hooks.OnRoomJoined != nil {
		m.hooks.OnRoomJoined(sess, e.Users)
	}
}

func (m *Machine) onRoomJoinError(e transport.RoomJoinError) {
	if !m.in(AwaitingRoom) {
		m.ignore("room_join_error")
		return
	}
	m.fail(newFailure(ErrRoomJoin, e.ErrorCode, "join room %q failed: code %d: %s", e.Room, e.ErrorCode, e.ErrorMessage))
}

func (m *Machine) onRoomCreateError(e transport.RoomCreateError) {
	if !m.in(AwaitingRoom) {
		m.ignore("room_create_error")
		return
	}
	m.fail(newFailure(ErrRoomCreation, e.ErrorCode, "create room %q failed: code %d: %s", e.Room, e.ErrorCode, e.ErrorMessage))
}

// fail enters Failed: listeners detached, registry cleared, transport closed.
func (m *Machine) fail(f *Failure) {
	m.reg.Close()
	m.reg = nil
	m.transport.RemoveAllListeners()
	if s := m.registry.Clear(); s != nil {
		m.logger.Debug("session cleared", zap.String("session", s.ID.String()))
	}
	m.transport.Disconnect()

	m.mu.Lock()
	m.failure = f
	m.mu.Unlock()

	m.logger.Warn("connection sequence failed",
		zap.String("reason", f.Message),
		zap.Int("code", f.Code),
		zap.Error(f.Err),
	)
	m.transition(Failed)
	if m.hooks.OnFailure != nil {
		m.hooks.OnFailure(f)
	}
}
