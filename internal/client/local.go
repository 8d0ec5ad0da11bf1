package client

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cory-johannsen/arena/internal/roomsync"
	"github.com/cory-johannsen/arena/internal/transport"
)

// WanderSpeed is the wandering local player's speed in map units per second.
const WanderSpeed = 60.0

// LocalPlayer is a headless local player. When wandering it walks in a
// straight line, picks a new direction at random intervals, and bounces off
// the map bounds.
type LocalPlayer struct {
	mu        sync.Mutex
	x, y      float64
	vx, vy    float64
	bounds    transport.MapBounds
	wander    bool
	rng       *rand.Rand
	untilTurn time.Duration
}

var _ roomsync.LocalPlayer = (*LocalPlayer)(nil)

// NewLocalPlayer creates a local player at the origin.
func NewLocalPlayer(bounds transport.MapBounds, wander bool, seed uint64) *LocalPlayer {
	return &LocalPlayer{
		bounds: bounds,
		wander: wander,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Position returns the current position.
func (p *LocalPlayer) Position() (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x, p.y
}

// SetPosition teleports the player, clamped to the bounds.
func (p *LocalPlayer) SetPosition(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.x, p.y = p.clamp(x, y)
}

// SetVelocity sets the velocity directly.
func (p *LocalPlayer) SetVelocity(vx, vy float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vx, p.vy = vx, vy
}

// State returns the state to publish.
func (p *LocalPlayer) State() roomsync.LocalState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return roomsync.LocalState{X: p.x, Y: p.y, VX: p.vx, VY: p.vy}
}

// Step advances the player by dt.
func (p *LocalPlayer) Step(dt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.wander {
		p.untilTurn -= dt
		if p.untilTurn <= 0 {
			p.turn()
		}
	}
	secs := dt.Seconds()
	x, y := p.x+p.vx*secs, p.y+p.vy*secs
	if x < p.bounds.Min.X || x > p.bounds.Max.X {
		p.vx = -p.vx
	}
	if y < p.bounds.Min.Y || y > p.bounds.Max.Y {
		p.vy = -p.vy
	}
	p.x, p.y = p.clamp(x, y)
}

// turn picks one of eight directions or standing still.
func (p *LocalPlayer) turn() {
	p.untilTurn = time.Duration(500+p.rng.IntN(2500)) * time.Millisecond
	dirs := [...][2]float64{{0, 0}, {1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {-1, 1}, {1, -1}, {-1, -1}}
	d := dirs[p.rng.IntN(len(dirs))]
	p.vx, p.vy = d[0]*WanderSpeed, d[1]*WanderSpeed
}

func (p *LocalPlayer) clamp(x, y float64) (float64, float64) {
	return min(max(x, p.bounds.Min.X), p.bounds.Max.X), min(max(y, p.bounds.Min.Y), p.bounds.Max.Y)
}
