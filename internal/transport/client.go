package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/wire"
)

// ErrNotConnected is returned by requests issued without an open connection.
var ErrNotConnected = errors.New("not connected")

// DefaultDialTimeout bounds a connect attempt when Options.DialTimeout is zero.
const DefaultDialTimeout = 5 * time.Second

// Options configures a Client.
type Options struct {
	// Dialers maps transport names to dialers. Defaults to gRPC and WebSocket.
	Dialers map[string]Dialer
	// Transport selects the dialer for Connect until a config source overrides it.
	Transport string
	// Path is the WebSocket request path used until a config source overrides it.
	Path string
	// DialTimeout bounds each connect attempt.
	DialTimeout time.Duration
	Logger      *zap.Logger
}

type queued struct {
	gen uint64
	evt Event
	msg wire.Message
}

type userEntry struct {
	user User
	vars Variables
}

// Client is the session transport. Network goroutines decode frames and
// enqueue them; Poll dispatches them on the caller's goroutine in arrival order.
//
// Requests and Poll are meant to be called from a single host-loop goroutine.
// Internal state is mutex-guarded so accessors are also safe elsewhere.
type Client struct {
	opts       Options
	logger     *zap.Logger
	dispatcher *Dispatcher

	mu        sync.Mutex
	gen       uint64
	queue     []queued
	stream    Stream
	connected bool
	transport string
	path      string

	// bookkeeping applied during Poll
	self       *User
	zone       string
	rooms      map[string]wire.RoomInfo
	users      map[int]*userEntry
	joinedRoom string
}

// NewClient creates a disconnected Client.
//
// Postcondition: Returns a Client with no listeners and an empty queue.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Dialers == nil {
		opts.Dialers = map[string]Dialer{
			TransportGRPC:      GRPCDialer(),
			TransportWebSocket: WebSocketDialer(10 * time.Second),
		}
	}
	if opts.Transport == "" {
		opts.Transport = TransportGRPC
	}
	return &Client{
		opts:       opts,
		logger:     opts.Logger,
		dispatcher: NewDispatcher(),
		transport:  opts.Transport,
		path:       opts.Path,
		rooms:      make(map[string]wire.RoomInfo),
		users:      make(map[int]*userEntry),
	}
}

// Register attaches a listener set. See Dispatcher.Register.
func (c *Client) Register(name string, h Handlers) *Registration {
	return c.dispatcher.Register(name, h)
}

// RemoveAllListeners detaches every listener set.
func (c *Client) RemoveAllListeners() {
	c.dispatcher.RemoveAll()
}

// Listeners returns the number of attached listener sets.
func (c *Client) Listeners() int {
	return c.dispatcher.Len()
}

// LoadConfig reads the config source at path in the background and enqueues a
// ConfigLoadResult. On success, the source's transport and path apply to later Connect calls.
func (c *Client) LoadConfig(path string) {
	gen := c.currentGen()
	go func() {
		cfg, err := LoadSourceConfig(path)
		if err != nil {
			c.logger.Warn("config source load failed", zap.String("path", path), zap.Error(err))
			c.enqueue(queued{gen: gen, evt: ConfigLoadResult{Err: err}})
			return
		}
		c.enqueue(queued{gen: gen, evt: ConfigLoadResult{Success: true, Config: cfg}})
	}()
}

// Connect opens a new connection in the background, closing any previous one,
// and enqueues a ConnectionResult. Events of the previous connection that have
// not been polled yet are discarded.
func (c *Client) Connect(host string, port int) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.stream
	c.stream = nil
	c.connected = false
	c.resetLocked()
	name := c.transport
	target := Target{Host: host, Port: port, Path: c.path}
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	dialer, ok := c.opts.Dialers[name]
	if !ok {
		c.enqueue(queued{gen: gen, evt: ConnectionResult{Err: fmt.Errorf("unknown transport %q", name)}})
		return
	}

	c.logger.Info("connecting",
		zap.String("addr", target.Addr()),
		zap.String("transport", name),
	)

	go func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
		stream, err := dialer.Dial(ctx, target)
		cancel()

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			if stream != nil {
				_ = stream.Close()
			}
			return
		}
		if err != nil {
			c.queue = append(c.queue, queued{gen: gen, evt: ConnectionResult{Err: err}})
			c.mu.Unlock()
			c.logger.Warn("connect failed",
				zap.String("addr", target.Addr()),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		c.stream = stream
		c.connected = true
		c.queue = append(c.queue, queued{gen: gen, evt: ConnectionResult{Success: true}})
		c.mu.Unlock()

		c.logger.Info("connected",
			zap.String("addr", target.Addr()),
			zap.Duration("elapsed", time.Since(start)),
		)
		c.recvLoop(gen, stream)
	}()
}

// Disconnect closes the connection without producing a ConnectionLost event.
// Unpolled events are discarded.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	s := c.stream
	wasConnected := c.connected
	c.stream = nil
	c.connected = false
	c.queue = nil
	c.resetLocked()
	c.mu.Unlock()

	if s == nil {
		return
	}
	if wasConnected {
		if env, err := wire.Encode(c.requestID(), wire.Logout{}); err == nil {
			_ = s.Send(env)
		}
	}
	_ = s.Close()
	c.logger.Info("disconnected")
}

// IsConnected reports whether a connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Self returns the logged-in local user.
func (c *Client) Self() (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self == nil {
		return User{}, false
	}
	return *c.self, true
}

// Zone returns the zone of the current login.
func (c *Client) Zone() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zone
}

// JoinedRoom returns the room last joined, or "".
func (c *Client) JoinedRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinedRoom
}

// RoomExists reports whether the zone room list contains name.
func (c *Client) RoomExists(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[name]
	return ok
}

// Rooms returns the zone room names, sorted.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.rooms))
	for n := range c.rooms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// UserVariables returns a copy of the known variables of user id.
func (c *Client) UserVariables(id int) (Variables, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.users[id]
	if !ok {
		return nil, false
	}
	return e.vars.Clone(), true
}

// Login requests a zone login; the outcome arrives as a LoginResult.
func (c *Client) Login(username, password, zone string) error {
	return c.send(wire.Login{Username: username, Password: password, Zone: zone})
}

// CreateRoom requests a room; errors arrive as RoomCreateError, and with
// autoJoin success arrives as RoomJoined.
func (c *Client) CreateRoom(spec RoomSpec, autoJoin bool) error {
	return c.send(wire.CreateRoom{
		Settings: wire.RoomSettings{
			Name:           spec.Name,
			MaxUsers:       spec.MaxUsers,
			AreaOfInterest: wireVec(spec.AreaOfInterest),
			MapMin:         wireVec(spec.Bounds.Min),
			MapMax:         wireVec(spec.Bounds.Max),
			ExtensionID:    spec.Extension.ID,
			ExtensionClass: spec.Extension.Class,
		},
		AutoJoin: autoJoin,
	})
}

// JoinRoom requests entry to a room; the outcome arrives as RoomJoined or RoomJoinError.
func (c *Client) JoinRoom(name string) error {
	return c.send(wire.JoinRoom{Room: name})
}

// SetVariables publishes the local user's variables.
func (c *Client) SetVariables(vars ...Variable) error {
	if len(vars) == 0 {
		return nil
	}
	out := make([]wire.Var, 0, len(vars))
	for _, v := range vars {
		wv, err := wire.NewVar(v.Name, v.Value)
		if err != nil {
			return err
		}
		out = append(out, wv)
	}
	return c.send(wire.SetVars{Vars: out})
}

// SendPublicMessage sends a chat line to the joined room.
func (c *Client) SendPublicMessage(text string) error {
	return c.send(wire.PublicMsg{Text: text})
}

// SendObjectMessage sends a structured message to the joined room.
func (c *Client) SendObjectMessage(payload map[string]any) error {
	return c.send(wire.ObjectMsg{Payload: payload})
}

func (c *Client) send(msg wire.Message) error {
	c.mu.Lock()
	s := c.stream
	ok := c.connected
	c.mu.Unlock()
	if s == nil || !ok {
		return fmt.Errorf("sending %s: %w", msg.Kind(), ErrNotConnected)
	}
	env, err := wire.Encode(c.requestID(), msg)
	if err != nil {
		return err
	}
	if err := s.Send(env); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Kind(), err)
	}
	return nil
}

func (c *Client) requestID() string {
	return uuid.NewString()
}

func (c *Client) currentGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Client) enqueue(q queued) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q.gen != c.gen {
		return
	}
	c.queue = append(c.queue, q)
}

func (c *Client) resetLocked() {
	c.self = nil
	c.zone = ""
	c.joinedRoom = ""
	c.rooms = make(map[string]wire.RoomInfo)
	c.users = make(map[int]*userEntry)
}

func (c *Client) recvLoop(gen uint64, stream Stream) {
	for {
		env, err := stream.Recv()
		if err != nil {
			c.lost(gen, stream, err)
			return
		}
		frame, err := wire.Decode(env)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		c.enqueue(queued{gen: gen, msg: frame.Msg})
	}
}

func (c *Client) lost(gen uint64, stream Stream, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	reason := err.Error()
	if errors.Is(err, io.EOF) {
		reason = "server closed the connection"
	}
	c.connected = false
	c.stream = nil
	c.queue = append(c.queue, queued{gen: gen, evt: ConnectionLost{Reason: reason}})
	c.mu.Unlock()

	_ = stream.Close()
	c.logger.Warn("connection lost", zap.String("reason", reason))
}

// Poll dispatches every queued event in arrival order and returns the number
// dispatched. Events belonging to a connection superseded during this Poll
// (by a handler calling Connect or Disconnect) are dropped.
func (c *Client) Poll() int {
	c.mu.Lock()
	items := c.queue
	c.queue = nil
	c.mu.Unlock()

	n := 0
	for _, it := range items {
		if it.gen != c.currentGen() {
			continue
		}
		evt := it.evt
		if it.msg != nil {
			evt = c.apply(it.msg)
		} else {
			c.applyLocal(evt)
		}
		if evt == nil {
			continue
		}
		c.dispatcher.Dispatch(evt)
		n++
	}
	return n
}

func (c *Client) applyLocal(evt Event) {
	if e, ok := evt.(ConfigLoadResult); ok && e.Success {
		c.mu.Lock()
		c.transport = e.Config.Transport
		c.path = e.Config.Path
		c.mu.Unlock()
	}
}

// apply updates bookkeeping for a server message and converts it to an Event.
// Returns nil for messages that produce no event.
func (c *Client) apply(msg wire.Message) Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case wire.LoginOK:
		u := c.trackLocked(m.User)
		c.self = &u
		c.zone = m.Zone
		c.rooms = make(map[string]wire.RoomInfo, len(m.Rooms))
		for _, r := range m.Rooms {
			c.rooms[r.Name] = r
		}
		return LoginResult{Success: true, User: u, Zone: m.Zone}
	case wire.LoginError:
		return LoginResult{ErrorCode: m.Code, ErrorMessage: m.Message}
	case wire.RoomAdd:
		c.rooms[m.Room.Name] = m.Room
		return RoomAdded{Room: m.Room.Name}
	case wire.RoomRemove:
		delete(c.rooms, m.Room)
		return nil
	case wire.RoomCreateError:
		return RoomCreateError{Room: m.Room, ErrorCode: m.Code, ErrorMessage: m.Message}
	case wire.RoomJoin:
		c.joinedRoom = m.Room.Name
		c.rooms[m.Room.Name] = m.Room
		users := make([]User, 0, len(m.Users))
		for _, ui := range m.Users {
			users = append(users, c.trackLocked(ui))
		}
		return RoomJoined{Room: m.Room.Name, Users: users}
	case wire.RoomJoinError:
		return RoomJoinError{Room: m.Room, ErrorCode: m.Code, ErrorMessage: m.Message}
	case wire.UserEnter:
		return UserEntered{Room: m.Room, User: c.trackLocked(m.User)}
	case wire.UserExit:
		u := User{ID: m.User.ID, Name: m.User.Name}
		c.untrackLocked(u.ID)
		return UserExited{Room: m.Room, User: u}
	case wire.UserVars:
		u := c.trackLocked(wire.UserInfo{ID: m.User.ID, Name: m.User.Name})
		c.syncVarsLocked(u.ID, m.User.Vars)
		return UserVariablesUpdated{
			User:      u,
			Changed:   append([]string(nil), m.Changed...),
			Variables: c.users[u.ID].vars.Clone(),
		}
	case wire.Proximity:
		evt := ProximityListUpdate{Room: m.Room}
		for _, ui := range m.Added {
			evt.Added = append(evt.Added, c.trackLocked(ui))
		}
		for _, ui := range m.Removed {
			evt.Removed = append(evt.Removed, User{ID: ui.ID, Name: ui.Name})
		}
		return evt
	case wire.PublicMsg:
		return PublicMessage{Room: m.Room, Sender: User{ID: m.Sender.ID, Name: m.Sender.Name}, Text: m.Text}
	case wire.ObjectMsg:
		return ObjectMessage{Room: m.Room, Sender: User{ID: m.Sender.ID, Name: m.Sender.Name}, Payload: m.Payload}
	default:
		c.logger.Debug("ignoring unexpected message", zap.String("kind", msg.Kind()))
		return nil
	}
}

// trackLocked records ui and, when ui carries variables, syncs the stored set.
func (c *Client) trackLocked(ui wire.UserInfo) User {
	u := User{ID: ui.ID, Name: ui.Name}
	if _, ok := c.users[u.ID]; !ok {
		c.users[u.ID] = &userEntry{user: u, vars: Variables{}}
	}
	if ui.Vars != nil {
		c.syncVarsLocked(u.ID, ui.Vars)
	}
	return u
}

// syncVarsLocked makes the stored set for a tracked user equal to vars, the
// user's full variable set. Stored names missing from vars are deleted, so
// an empty or absent set clears every variable.
func (c *Client) syncVarsLocked(id int, vars []wire.Var) {
	e := c.users[id]
	next := c.decodeVars(vars)
	updates := next.List()
	for name := range e.vars {
		if !next.Has(name) {
			updates = append(updates, Variable{Name: name})
		}
	}
	if changed := e.vars.Merge(updates); len(changed) > 0 {
		c.logger.Debug("user variables synced", zap.Int("user", id), zap.Strings("changed", changed))
	}
}

func (c *Client) untrackLocked(id int) {
	if c.self != nil && c.self.ID == id {
		return
	}
	delete(c.users, id)
}

func (c *Client) decodeVars(vars []wire.Var) Variables {
	out := make(Variables, len(vars))
	for _, wv := range vars {
		v, err := wv.Typed()
		if err != nil {
			c.logger.Debug("dropping malformed variable", zap.Error(err))
			continue
		}
		if v == nil {
			continue
		}
		out[wv.Name] = v
	}
	return out
}

func wireVec(v Vec3) wire.Vec3 {
	return wire.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}
