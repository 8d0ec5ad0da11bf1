// Package arena is a development server for the arena session protocol: one
// zone of non-persistent rooms with user variables, area-of-interest
// proximity lists and Lua room extensions.
package arena

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/scripting"
	"github.com/cory-johannsen/arena/internal/wire"
)

// Position variable names used for proximity.
const (
	varPosX = "px"
	varPosY = "py"
)

// Peer is one client connection. It is owned by the Zone once handed to
// Handle; only the zone reads or writes its login.
type Peer struct {
	ID     uuid.UUID
	outbox *Outbox
	user   *user
	gone   bool
}

// NewPeer creates a Peer with an outbox of outboxSize frames.
func NewPeer(outboxSize int) *Peer {
	id := uuid.New()
	return &Peer{ID: id, outbox: NewOutbox(id.String(), outboxSize)}
}

// Outbox returns the peer's outbox.
func (p *Peer) Outbox() *Outbox { return p.outbox }

type user struct {
	id   int
	name string
	peer *Peer
	vars map[string]wire.Var
	room *room
	// near holds the room members inside this user's area of interest.
	near map[int]*user
}

func (u *user) info(withVars bool) wire.UserInfo {
	ui := wire.UserInfo{ID: u.id, Name: u.name}
	if withVars {
		ui.Vars = make([]wire.Var, 0, len(u.vars))
		for _, v := range u.vars {
			ui.Vars = append(ui.Vars, v)
		}
		sort.Slice(ui.Vars, func(i, j int) bool { return ui.Vars[i].Name < ui.Vars[j].Name })
	}
	return ui
}

func (u *user) position() (x, y float64, ok bool) {
	x, okx := numberVar(u.vars[varPosX])
	y, oky := numberVar(u.vars[varPosY])
	return x, y, okx && oky
}

func numberVar(v wire.Var) (float64, bool) {
	typed, err := v.Typed()
	if err != nil {
		return 0, false
	}
	switch n := typed.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

type room struct {
	settings wire.RoomSettings
	members  map[int]*user
	ext      *scripting.Extension
}

func (r *room) info() wire.RoomInfo {
	return wire.RoomInfo{Name: r.settings.Name, Users: len(r.members), MaxUsers: r.settings.MaxUsers}
}

func (r *room) sortedMembers() []*user {
	out := make([]*user, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ZoneOptions configures a Zone.
type ZoneOptions struct {
	Name     string
	Accounts *Accounts
	// Extensions resolves room extension ids. Nil or disabled accepts rooms
	// without running any extension.
	Extensions *scripting.Manager
	Logger     *zap.Logger
}

// Zone holds every logged-in user and every room. All state is guarded by
// one mutex; outbound frames are pushed to outboxes without blocking.
type Zone struct {
	name     string
	accounts *Accounts
	exts     *scripting.Manager
	logger   *zap.Logger

	mu     sync.Mutex
	nextID int
	users  map[int]*user
	byName map[string]*user
	rooms  map[string]*room
}

// NewZone creates an empty Zone.
//
// Precondition: opts.Name must be non-empty and opts.Accounts non-nil.
func NewZone(opts ZoneOptions) *Zone {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Zone{
		name:     opts.Name,
		accounts: opts.Accounts,
		exts:     opts.Extensions,
		logger:   opts.Logger,
		users:    make(map[int]*user),
		byName:   make(map[string]*user),
		rooms:    make(map[string]*room),
	}
}

// Name returns the zone name.
func (z *Zone) Name() string { return z.name }

// Rooms returns the room list ordered by name.
func (z *Zone) Rooms() []wire.RoomInfo {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.roomListLocked()
}

// UserCount returns the number of logged-in users.
func (z *Zone) UserCount() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return len(z.users)
}

// Handle applies one client frame from p.
func (z *Zone) Handle(p *Peer, f wire.Frame) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if p.gone {
		return
	}
	switch m := f.Msg.(type) {
	case wire.Login:
		z.loginLocked(p, f.Req, m)
	case wire.CreateRoom:
		z.createRoomLocked(p, f.Req, m)
	case wire.JoinRoom:
		z.joinRoomLocked(p, f.Req, m)
	case wire.SetVars:
		z.setVarsLocked(p, f.Req, m)
	case wire.PublicMsg:
		z.publicMsgLocked(p, m)
	case wire.ObjectMsg:
		z.objectMsgLocked(p, m)
	case wire.Logout:
		if p.user != nil {
			z.removeUserLocked(p.user)
		}
	default:
		z.logger.Debug("ignoring client message", zap.String("kind", f.Msg.Kind()), zap.Stringer("peer", p.ID))
	}
}

// Disconnect logs p out if it is logged in. Frames from p handled after
// Disconnect are ignored. It is safe to call more than once.
func (z *Zone) Disconnect(p *Peer) {
	z.mu.Lock()
	defer z.mu.Unlock()
	p.gone = true
	if p.user != nil {
		z.removeUserLocked(p.user)
	}
}

func (z *Zone) push(p *Peer, req string, msg wire.Message) {
	err := p.outbox.Push(req, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrOutboxClosed):
		z.logger.Debug("peer closing, frame not sent", zap.Stringer("peer", p.ID), zap.String("kind", msg.Kind()))
	default:
		z.logger.Warn("outbox overflow, dropping connection",
			zap.Stringer("peer", p.ID),
			zap.String("kind", msg.Kind()),
			zap.Error(err),
		)
	}
}

func (z *Zone) broadcastZoneLocked(msg wire.Message) {
	for _, u := range z.users {
		z.push(u.peer, "", msg)
	}
}

func (z *Zone) roomListLocked() []wire.RoomInfo {
	out := make([]wire.RoomInfo, 0, len(z.rooms))
	for _, r := range z.rooms {
		out = append(out, r.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (z *Zone) loginLocked(p *Peer, req string, m wire.Login) {
	reject := func(code int, msg string) {
		z.logger.Info("login rejected",
			zap.String("username", m.Username),
			zap.Int("code", code),
			zap.String("reason", msg),
		)
		z.push(p, req, wire.LoginError{Code: code, Message: msg})
	}

	if p.user != nil {
		reject(wire.CodeAlreadyLoggedIn, fmt.Sprintf("already logged in as %s", p.user.name))
		return
	}
	if m.Zone != z.name {
		reject(wire.CodeUnknownZone, fmt.Sprintf("unknown zone %q", m.Zone))
		return
	}
	if err := z.accounts.Authenticate(m.Username, m.Password); err != nil {
		reject(wire.CodeBadCredentials, "bad credentials")
		return
	}
	if _, taken := z.byName[m.Username]; taken {
		reject(wire.CodeAlreadyLoggedIn, fmt.Sprintf("%s is already logged in", m.Username))
		return
	}

	z.nextID++
	u := &user{
		id:   z.nextID,
		name: m.Username,
		peer: p,
		vars: make(map[string]wire.Var),
		near: make(map[int]*user),
	}
	z.users[u.id] = u
	z.byName[u.name] = u
	p.user = u
	z.logger.Info("user logged in", zap.String("username", u.name), zap.Int("id", u.id))
	z.push(p, req, wire.LoginOK{User: u.info(false), Zone: z.name, Rooms: z.roomListLocked()})
}

func (z *Zone) removeUserLocked(u *user) {
	z.leaveRoomLocked(u)
	delete(z.users, u.id)
	delete(z.byName, u.name)
	u.peer.user = nil
	z.logger.Info("user logged out", zap.String("username", u.name), zap.Int("id", u.id))
}

// validateSettings checks a create-room request.
func validateSettings(s wire.RoomSettings) error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if s.MaxUsers < 1 {
		errs = append(errs, fmt.Errorf("max_users must be >= 1, got %d", s.MaxUsers))
	}
	if s.AreaOfInterest.X <= 0 || s.AreaOfInterest.Y <= 0 {
		errs = append(errs, errors.New("aoi must be positive"))
	}
	if s.MapMin.X > s.MapMax.X || s.MapMin.Y > s.MapMax.Y || s.MapMin.Z > s.MapMax.Z {
		errs = append(errs, errors.New("map_min must not exceed map_max"))
	}
	return errors.Join(errs...)
}

func (z *Zone) createRoomLocked(p *Peer, req string, m wire.CreateRoom) {
	s := m.Settings
	reject := func(code int, msg string) {
		z.push(p, req, wire.RoomCreateError{Room: s.Name, Code: code, Message: msg})
	}

	u := p.user
	if u == nil {
		reject(wire.CodeNotLoggedIn, "not logged in")
		return
	}
	if err := validateSettings(s); err != nil {
		reject(wire.CodeBadRoomSettings, err.Error())
		return
	}
	if _, exists := z.rooms[s.Name]; exists {
		reject(wire.CodeRoomExists, fmt.Sprintf("room %q already exists", s.Name))
		return
	}

	r := &room{settings: s, members: make(map[int]*user)}
	if s.ExtensionID != "" && z.exts.Enabled() {
		ext, err := z.exts.Get(s.ExtensionID)
		if err != nil {
			z.logger.Warn("room extension unavailable",
				zap.String("room", s.Name),
				zap.String("extension", s.ExtensionID),
				zap.Error(err),
			)
			reject(wire.CodeNoExtension, fmt.Sprintf("extension %q unavailable", s.ExtensionID))
			return
		}
		r.ext = ext
	}

	z.rooms[s.Name] = r
	z.logger.Info("room created",
		zap.String("room", s.Name),
		zap.String("creator", u.name),
		zap.Int("max_users", s.MaxUsers),
		zap.Bool("extension", r.ext != nil),
	)
	z.broadcastZoneLocked(wire.RoomAdd{Room: r.info()})

	if m.AutoJoin {
		z.joinLocked(u, req, r)
	}
}

func (z *Zone) joinRoomLocked(p *Peer, req string, m wire.JoinRoom) {
	if p.user == nil {
		z.push(p, req, wire.RoomJoinError{Room: m.Room, Code: wire.CodeNotLoggedIn, Message: "not logged in"})
		return
	}
	r, ok := z.rooms[m.Room]
	if !ok {
		z.push(p, req, wire.RoomJoinError{Room: m.Room, Code: wire.CodeRoomNotFound, Message: fmt.Sprintf("room %q not found", m.Room)})
		return
	}
	z.joinLocked(p.user, req, r)
}

func (z *Zone) joinLocked(u *user, req string, r *room) {
	name := r.settings.Name
	if u.room == r {
		z.push(u.peer, req, wire.RoomJoinError{Room: name, Code: wire.CodeAlreadyJoined, Message: "already in room"})
		return
	}
	if len(r.members) >= r.settings.MaxUsers {
		z.push(u.peer, req, wire.RoomJoinError{Room: name, Code: wire.CodeRoomFull, Message: fmt.Sprintf("room %q is full", name)})
		return
	}
	z.leaveRoomLocked(u)

	r.members[u.id] = u
	u.room = r

	members := r.sortedMembers()
	users := make([]wire.UserInfo, 0, len(members))
	for _, m := range members {
		users = append(users, m.info(true))
	}
	z.push(u.peer, req, wire.RoomJoin{Room: r.info(), Users: users})
	enter := wire.UserEnter{Room: name, User: u.info(true)}
	for _, m := range members {
		if m != u {
			z.push(m.peer, "", enter)
		}
	}
	z.logger.Info("user joined room", zap.String("room", name), zap.String("username", u.name))

	z.updateProximityLocked(u)
	if r.ext != nil {
		z.extensionSayLocked(r, r.ext.OnUserJoin(name, scripting.User{ID: u.id, Name: u.name}))
	}
}

func (z *Zone) leaveRoomLocked(u *user) {
	r := u.room
	if r == nil {
		return
	}
	name := r.settings.Name

	for _, n := range sortedUsers(u.near) {
		delete(n.near, u.id)
		z.push(n.peer, "", wire.Proximity{Room: name, Removed: []wire.UserInfo{u.info(false)}})
	}
	clear(u.near)

	delete(r.members, u.id)
	u.room = nil
	exit := wire.UserExit{Room: name, User: u.info(false)}
	for _, m := range r.sortedMembers() {
		z.push(m.peer, "", exit)
	}
	z.logger.Info("user left room", zap.String("room", name), zap.String("username", u.name))

	if len(r.members) == 0 {
		delete(z.rooms, name)
		z.logger.Info("room removed", zap.String("room", name))
		z.broadcastZoneLocked(wire.RoomRemove{Room: name})
	}
}

func (z *Zone) setVarsLocked(p *Peer, req string, m wire.SetVars) {
	u := p.user
	if u == nil {
		z.logger.Debug("set_vars before login", zap.Stringer("peer", p.ID))
		return
	}

	var changed []string
	moved := false
	for _, v := range m.Vars {
		if v.Name == "" {
			continue
		}
		if v.Type == "" {
			if _, ok := u.vars[v.Name]; !ok {
				continue
			}
			delete(u.vars, v.Name)
		} else {
			if _, err := v.Typed(); err != nil {
				z.logger.Debug("dropping malformed variable", zap.String("username", u.name), zap.Error(err))
				continue
			}
			u.vars[v.Name] = v
		}
		changed = append(changed, v.Name)
		if v.Name == varPosX || v.Name == varPosY {
			moved = true
		}
	}
	if len(changed) == 0 {
		return
	}

	msg := wire.UserVars{User: u.info(true), Changed: changed}
	if u.room == nil {
		z.push(p, req, msg)
		return
	}
	for _, member := range u.room.sortedMembers() {
		r := ""
		if member == u {
			r = req
		}
		z.push(member.peer, r, msg)
	}
	if moved {
		z.updateProximityLocked(u)
	}
}

// inArea reports whether an offset lies within an area of interest.
func inArea(aoi wire.Vec3, dx, dy float64) bool {
	return math.Abs(dx) <= aoi.X && math.Abs(dy) <= aoi.Y
}

// updateProximityLocked recomputes u's area of interest and pushes the
// differences to u and to every user that entered or left it. Only users
// with both position variables take part.
func (z *Zone) updateProximityLocked(u *user) {
	r := u.room
	if r == nil {
		return
	}
	want := make(map[int]*user)
	if x, y, ok := u.position(); ok {
		for id, v := range r.members {
			if v == u {
				continue
			}
			if vx, vy, ok := v.position(); ok && inArea(r.settings.AreaOfInterest, x-vx, y-vy) {
				want[id] = v
			}
		}
	}

	name := r.settings.Name
	var added, removed []*user
	for id, v := range want {
		if _, ok := u.near[id]; !ok {
			added = append(added, v)
		}
	}
	for id, v := range u.near {
		if _, ok := want[id]; !ok {
			removed = append(removed, v)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	sortByID(added)
	sortByID(removed)

	update := wire.Proximity{Room: name}
	for _, v := range added {
		u.near[v.id] = v
		v.near[u.id] = u
		update.Added = append(update.Added, v.info(true))
		z.push(v.peer, "", wire.Proximity{Room: name, Added: []wire.UserInfo{u.info(true)}})
	}
	for _, v := range removed {
		delete(u.near, v.id)
		delete(v.near, u.id)
		update.Removed = append(update.Removed, v.info(false))
		z.push(v.peer, "", wire.Proximity{Room: name, Removed: []wire.UserInfo{u.info(false)}})
	}
	z.push(u.peer, "", update)
}

func (z *Zone) publicMsgLocked(p *Peer, m wire.PublicMsg) {
	u := p.user
	if u == nil || u.room == nil {
		z.logger.Debug("public message outside a room", zap.Stringer("peer", p.ID))
		return
	}
	msg := wire.PublicMsg{Room: u.room.settings.Name, Sender: u.info(false), Text: m.Text}
	for _, member := range u.room.sortedMembers() {
		z.push(member.peer, "", msg)
	}
}

func (z *Zone) objectMsgLocked(p *Peer, m wire.ObjectMsg) {
	u := p.user
	if u == nil || u.room == nil {
		z.logger.Debug("object message outside a room", zap.Stringer("peer", p.ID))
		return
	}
	r := u.room
	msg := wire.ObjectMsg{Room: r.settings.Name, Sender: u.info(false), Payload: m.Payload}
	for _, member := range r.sortedMembers() {
		if member != u {
			z.push(member.peer, "", msg)
		}
	}
	if r.ext != nil {
		z.extensionSayLocked(r, r.ext.OnObjectMessage(r.settings.Name, scripting.User{ID: u.id, Name: u.name}, m.Payload))
	}
}

// extensionSayLocked relays extension broadcast lines as public messages
// from a sender with ID 0 named after the extension.
func (z *Zone) extensionSayLocked(r *room, lines []string) {
	if len(lines) == 0 {
		return
	}
	sender := wire.UserInfo{ID: 0, Name: r.ext.ID()}
	members := r.sortedMembers()
	for _, line := range lines {
		msg := wire.PublicMsg{Room: r.settings.Name, Sender: sender, Text: line}
		for _, m := range members {
			z.push(m.peer, "", msg)
		}
	}
}

func sortedUsers(set map[int]*user) []*user {
	out := make([]*user, 0, len(set))
	for _, u := range set {
		out = append(out, u)
	}
	sortByID(out)
	return out
}

func sortByID(us []*user) {
	sort.Slice(us, func(i, j int) bool { return us[i].id < us[j].id })
}
