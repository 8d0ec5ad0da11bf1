// Package presentation is a headless stand-in for the rendering engine. It
// keeps the state a renderer would draw for each remote player.
package presentation

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/roomsync"
	"github.com/cory-johannsen/arena/internal/transport"
)

// Vec3 is a position or scale.
type Vec3 struct {
	X, Y, Z float64
}

// Entity is one remote player's presentation: a root with a name-label child.
type Entity struct {
	mu         sync.Mutex
	user       transport.User
	position   Vec3
	vx, vy     float64
	running    bool
	rootScale  Vec3
	labelScale Vec3
	destroyed  bool
	logger     *zap.Logger
}

var _ roomsync.Entity = (*Entity)(nil)

// User returns the player this entity presents.
func (e *Entity) User() transport.User { return e.user }

// SetPosition moves the root.
func (e *Entity) SetPosition(x, y, z float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = Vec3{x, y, z}
	e.logger.Debug("position", zap.Float64("x", x), zap.Float64("y", y))
}

// Position returns the root position.
func (e *Entity) Position() Vec3 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// SetVelocity sets the body velocity.
func (e *Entity) SetVelocity(x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vx, e.vy = x, y
}

// Velocity returns the body velocity.
func (e *Entity) Velocity() (float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vx, e.vy
}

// SetRunning sets the running animation flag.
func (e *Entity) SetRunning(running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running != running {
		e.logger.Debug("running", zap.Bool("running", running))
	}
	e.running = running
}

// Running reports the running animation flag.
func (e *Entity) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SetFacing mirrors the root and the name label horizontally.
func (e *Entity) SetFacing(f roomsync.Facing) {
	e.mu.Lock()
	defer e.mu.Unlock()
	scale := Vec3{f.Sign(), 1, 1}
	e.rootScale = scale
	e.labelScale = scale
}

// RootScale returns the root's local scale.
func (e *Entity) RootScale() Vec3 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rootScale
}

// LabelScale returns the name label's local scale.
func (e *Entity) LabelScale() Vec3 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.labelScale
}

// Destroyed reports whether the scene has destroyed this entity.
func (e *Entity) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// Scene owns the live entities.
// All methods are safe for concurrent use.
type Scene struct {
	mu       sync.Mutex
	logger   *zap.Logger
	entities map[*Entity]struct{}
	spawned  int
}

// NewScene creates an empty Scene.
func NewScene(logger *zap.Logger) *Scene {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scene{logger: logger, entities: make(map[*Entity]struct{})}
}

// Spawn creates a live entity for u facing right.
//
// Postcondition: Live() grows by one.
func (s *Scene) Spawn(u transport.User) roomsync.Entity {
	e := &Entity{
		user:       u,
		rootScale:  Vec3{1, 1, 1},
		labelScale: Vec3{1, 1, 1},
		logger:     s.logger.With(zap.Int("user_id", u.ID), zap.String("user", u.Name)),
	}
	s.mu.Lock()
	s.entities[e] = struct{}{}
	s.spawned++
	s.mu.Unlock()
	s.logger.Debug("spawned remote player", zap.Int("user_id", u.ID), zap.String("user", u.Name))
	return e
}

// Destroy removes e from the scene. Destroying an unknown or already destroyed
// entity is a no-op.
func (s *Scene) Destroy(re roomsync.Entity) {
	e, ok := re.(*Entity)
	if !ok {
		return
	}
	s.mu.Lock()
	_, live := s.entities[e]
	delete(s.entities, e)
	s.mu.Unlock()
	if !live {
		return
	}
	e.mu.Lock()
	e.destroyed = true
	e.mu.Unlock()
	s.logger.Debug("destroyed remote player", zap.Int("user_id", e.user.ID))
}

// Live returns the number of live entities.
func (s *Scene) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// Spawned returns how many entities were ever spawned.
func (s *Scene) Spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned
}

// Entities returns the live entities ordered by user ID.
func (s *Scene) Entities() []*Entity {
	s.mu.Lock()
	out := make([]*Entity, 0, len(s.entities))
	for e := range s.entities {
		out = append(out, e)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].user.ID < out[j].user.ID })
	return out
}

// Find returns the live entity for user id.
func (s *Scene) Find(id int) (*Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := range s.entities {
		if e.user.ID == id {
			return e, true
		}
	}
	return nil, false
}
