// Package roomsync keeps the local view of remote players in the joined room
// consistent with the server's user-variable updates.
package roomsync

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/session"
	"github.com/cory-johannsen/arena/internal/transport"
)

// ErrPrecondition is returned by Activate without an initialized, connected session.
var ErrPrecondition = errors.New("no initialized session")

// ErrInactive is returned by requests made while the engine is not active.
var ErrInactive = errors.New("room sync inactive")

// Variable names published by every player.
const (
	VarPosX = "px"
	VarPosY = "py"
	VarVelX = "vx"
	VarVelY = "vy"
	// VarVelYAlias is accepted as a velocity change signal alongside VarVelX.
	VarVelYAlias = "vely"
)

// Facing is the horizontal direction an entity faces.
type Facing int

const (
	FacingRight Facing = 1
	FacingLeft  Facing = -1
)

// Sign returns the horizontal mirror factor, 1 or -1.
func (f Facing) Sign() float64 {
	if f == FacingLeft {
		return -1
	}
	return 1
}

func (f Facing) String() string {
	if f == FacingLeft {
		return "left"
	}
	return "right"
}

// Entity is the presentation handle of one remote player.
type Entity interface {
	SetPosition(x, y, z float64)
	SetVelocity(x, y float64)
	Velocity() (x, y float64)
	SetRunning(running bool)
	// SetFacing mirrors the entity root and its name label.
	SetFacing(f Facing)
}

// Presenter creates and destroys presentation handles.
type Presenter interface {
	Spawn(u transport.User) Entity
	Destroy(e Entity)
}

// LocalPlayer reports the local player's position for catch-up broadcasts.
type LocalPlayer interface {
	Position() (x, y float64)
}

// LocalState is the local player state published as user variables.
type LocalState struct {
	X, Y   float64
	VX, VY float64
}

type remote struct {
	user   transport.User
	entity Entity
	facing Facing
}

// Options configures an Engine.
type Options struct {
	Registry  *session.Registry
	Presenter Presenter
	Local     LocalPlayer
	Logger    *zap.Logger
	// Trace receives chat and object-message lines. Optional.
	Trace *observability.Trace
	// OnConnectionLost returns control to the connection phase after teardown.
	// reason is the transport's description of the loss.
	OnConnectionLost func(reason string)
}

// Engine reconciles room events into presentation state. Its handlers run on
// the goroutine polling the transport; the Engine is not safe for concurrent use.
type Engine struct {
	opts   Options
	logger *zap.Logger

	sess      *session.Session
	reg       *transport.Registration
	tracked   map[int]*remote
	published *LocalState
}

// NewEngine creates an inactive Engine.
//
// Precondition: opts.Registry, opts.Presenter and opts.Local must be non-nil.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Trace == nil {
		opts.Trace = observability.NewTrace(0, opts.Logger)
	}
	return &Engine{
		opts:    opts,
		logger:  opts.Logger,
		tracked: make(map[int]*remote),
	}
}

// Active reports whether the engine's listeners are registered.
func (e *Engine) Active() bool {
	return e.reg.Active()
}

// Activate picks up the published session and starts listening for room events.
// Users in roster other than the local user are tracked immediately.
//
// Precondition: the registry holds a session whose transport is connected.
// Postcondition: the engine is active, or ErrPrecondition is returned and nothing is registered.
func (e *Engine) Activate(roster ...transport.User) error {
	if e.Active() {
		return nil
	}
	sess, err := e.opts.Registry.Get()
	if err != nil {
		e.logger.Error("room sync started without a session", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	if !sess.Connected() {
		e.logger.Error("room sync started on a closed session", zap.Stringer("session", sess))
		return fmt.Errorf("%w: session %s is not connected", ErrPrecondition, sess)
	}

	e.sess = sess
	e.published = nil
	e.reg = sess.Conn.Register("roomsync", transport.Handlers{
		UserEntered:          e.onUserEntered,
		UserExited:           e.onUserExited,
		UserVariablesUpdated: e.onVariablesUpdated,
		ProximityListUpdate:  e.onProximity,
		PublicMessage:        e.onPublicMessage,
		ObjectMessage:        e.onObjectMessage,
		ConnectionLost:       e.onConnectionLost,
	})
	for _, u := range roster {
		if !sess.IsSelf(u) {
			e.track(u)
		}
	}
	e.logger.Info("room sync active",
		zap.Stringer("session", sess),
		zap.Int("tracked", len(e.tracked)),
	)
	return nil
}

// Deactivate detaches the engine's listeners and destroys every tracked handle.
func (e *Engine) Deactivate() {
	e.reg.Close()
	e.reg = nil
	for id, r := range e.tracked {
		e.opts.Presenter.Destroy(r.entity)
		delete(e.tracked, id)
	}
	e.sess = nil
	e.published = nil
}

// Tracked returns the tracked remote users ordered by ID.
func (e *Engine) Tracked() []transport.User {
	out := make([]transport.User, 0, len(e.tracked))
	for _, r := range e.tracked {
		out = append(out, r.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Entity returns the presentation handle tracked for user id.
func (e *Engine) Entity(id int) (Entity, bool) {
	r, ok := e.tracked[id]
	if !ok {
		return nil, false
	}
	return r.entity, true
}

// Facing returns the facing tracked for user id.
func (e *Engine) Facing(id int) (Facing, bool) {
	r, ok := e.tracked[id]
	if !ok {
		return 0, false
	}
	return r.facing, true
}

// PublishLocal sends the parts of st that changed since the last publish.
// The first publish after activation sends everything. A velocity change
// always sends both components.
func (e *Engine) PublishLocal(st LocalState) error {
	if !e.Active() {
		return ErrInactive
	}
	prev := e.published
	var vars []transport.Variable
	if prev == nil || prev.X != st.X || prev.Y != st.Y {
		vars = append(vars, transport.Double(VarPosX, st.X), transport.Double(VarPosY, st.Y))
	}
	if prev == nil || prev.VX != st.VX || prev.VY != st.VY {
		vars = append(vars, transport.Double(VarVelX, st.VX), transport.Double(VarVelY, st.VY))
	}
	if len(vars) == 0 {
		return nil
	}
	if err := e.sess.Conn.SetVariables(vars...); err != nil {
		return fmt.Errorf("publishing local state: %w", err)
	}
	e.published = &st
	return nil
}

// SendPublicMessage sends a chat line to the room.
func (e *Engine) SendPublicMessage(text string) error {
	if !e.Active() {
		return ErrInactive
	}
	return e.sess.Conn.SendPublicMessage(text)
}

func (e *Engine) track(u transport.User) *remote {
	if r, ok := e.tracked[u.ID]; ok {
		return r
	}
	r := &remote{user: u, entity: e.opts.Presenter.Spawn(u), facing: FacingRight}
	e.tracked[u.ID] = r
	return r
}

func (e *Engine) untrack(u transport.User) {
	r, ok := e.tracked[u.ID]
	if !ok {
		e.logger.Debug("untrack of unknown user", zap.Stringer("user", u))
		return
	}
	e.opts.Presenter.Destroy(r.entity)
	delete(e.tracked, u.ID)
}

func (e *Engine) onUserEntered(ev transport.UserEntered) {
	if e.sess.IsSelf(ev.User) {
		return
	}
	e.opts.Trace.Line(fmt.Sprintf("(%s) entered the room", ev.User.Name))
	e.track(ev.User)

	x, y := e.opts.Local.Position()
	if err := e.sess.Conn.SetVariables(transport.Double(VarPosX, x), transport.Double(VarPosY, y)); err != nil {
		e.logger.Warn("catch-up broadcast failed", zap.Error(err))
	}
}

func (e *Engine) onUserExited(ev transport.UserExited) {
	if e.sess.IsSelf(ev.User) {
		return
	}
	e.opts.Trace.Line(fmt.Sprintf("(%s) exited the room", ev.User.Name))
	e.untrack(ev.User)
}

func (e *Engine) onVariablesUpdated(ev transport.UserVariablesUpdated) {
	if e.sess.IsSelf(ev.User) {
		return
	}
	r, ok := e.tracked[ev.User.ID]
	if !ok {
		e.logger.Debug("variables for untracked user, spawning", zap.Stringer("user", ev.User))
		r = e.track(ev.User)
	}
	reconcile(r, ev)
}

// reconcile applies position, then velocity and the running flag, then facing.
func reconcile(r *remote, ev transport.UserVariablesUpdated) {
	vars := ev.Variables
	if ev.ChangedAny(VarPosX, VarPosY) {
		r.entity.SetPosition(vars.Float(VarPosX), vars.Float(VarPosY), 0)
	}
	if ev.ChangedAny(VarVelX, VarVelYAlias) {
		vy := vars.Float(VarVelY)
		if !vars.Has(VarVelY) {
			vy = vars.Float(VarVelYAlias)
		}
		r.entity.SetVelocity(vars.Float(VarVelX), vy)
	}
	vx, vy := r.entity.Velocity()
	r.entity.SetRunning(vx != 0 || vy != 0)

	switch v := vars.Float(VarVelX); {
	case v > 0:
		r.facing = FacingRight
	case v < 0:
		r.facing = FacingLeft
	}
	r.entity.SetFacing(r.facing)
}

func (e *Engine) onProximity(ev transport.ProximityListUpdate) {
	for _, u := range ev.Added {
		if !e.sess.IsSelf(u) {
			e.track(u)
		}
	}
	for _, u := range ev.Removed {
		if !e.sess.IsSelf(u) {
			e.untrack(u)
		}
	}
}

func (e *Engine) onPublicMessage(ev transport.PublicMessage) {
	e.opts.Trace.Line(fmt.Sprintf("[%s] %s: %s", ev.Room, ev.Sender.Name, ev.Text))
}

func (e *Engine) onObjectMessage(ev transport.ObjectMessage) {
	e.opts.Trace.Line("object message", zap.Stringer("sender", ev.Sender), zap.Any("payload", ev.Payload))
}

// onConnectionLost tears everything down and hands control back to the
// connection phase for a full restart.
func (e *Engine) onConnectionLost(ev transport.ConnectionLost) {
	e.opts.Trace.Line("lost connection", zap.String("reason", ev.Reason))
	conn := e.sess.Conn
	e.Deactivate()
	conn.RemoveAllListeners()
	if s := e.opts.Registry.Clear(); s != nil {
		e.logger.Info("session cleared", zap.Stringer("session", s))
	}
	if e.opts.OnConnectionLost != nil {
		e.opts.OnConnectionLost(ev.Reason)
	}
}
