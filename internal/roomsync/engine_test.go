package roomsync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/presentation"
	"github.com/cory-johannsen/arena/internal/roomsync"
	"github.com/cory-johannsen/arena/internal/session"
	"github.com/cory-johannsen/arena/internal/testutil"
	"github.com/cory-johannsen/arena/internal/transport"
)

var self = transport.User{ID: 1, Name: "bss"}

type fixedLocal struct{ x, y float64 }

func (l fixedLocal) Position() (float64, float64) { return l.x, l.y }

type fixture struct {
	fake     *testutil.FakeTransport
	registry *session.Registry
	scene    *presentation.Scene
	trace    *observability.Trace
	engine   *roomsync.Engine
	lost     int
}

func newFixture(t require.TestingT) *fixture {
	f := &fixture{
		fake:     testutil.NewFakeTransport(),
		registry: session.NewRegistry(),
		scene:    presentation.NewScene(nil),
		trace:    observability.NewTrace(0, nil),
	}
	f.fake.SetConnected(true)
	require.NoError(t, f.registry.Publish(session.New("brawl", self, f.fake)))
	f.engine = roomsync.NewEngine(roomsync.Options{
		Registry:         f.registry,
		Presenter:        f.scene,
		Local:            fixedLocal{x: 12, y: -4},
		Trace:            f.trace,
		OnConnectionLost: func(string) { f.lost++ },
	})
	require.NoError(t, f.engine.Activate())
	return f
}

func user(id int) transport.User {
	return transport.User{ID: id, Name: "p" + string(rune('a'+id%26))}
}

func posUpdate(u transport.User, px, py float64) transport.UserVariablesUpdated {
	return transport.UserVariablesUpdated{
		User:      u,
		Changed:   []string{"px", "py"},
		Variables: transport.Variables{"px": px, "py": py},
	}
}

func velUpdate(u transport.User, name string, vx, vy float64) transport.UserVariablesUpdated {
	return transport.UserVariablesUpdated{
		User:      u,
		Changed:   []string{name},
		Variables: transport.Variables{"vx": vx, "vy": vy},
	}
}

func entity(t *testing.T, f *fixture, id int) *presentation.Entity {
	t.Helper()
	e, ok := f.scene.Find(id)
	require.True(t, ok, "user %d not presented", id)
	return e
}

func TestEngine_ActivateRequiresSession(t *testing.T) {
	e := roomsync.NewEngine(roomsync.Options{
		Registry:  session.NewRegistry(),
		Presenter: presentation.NewScene(nil),
		Local:     fixedLocal{},
		Logger:    zaptest.NewLogger(t),
	})
	assert.ErrorIs(t, e.Activate(), roomsync.ErrPrecondition)
	assert.False(t, e.Active())
}

func TestEngine_ActivateRequiresConnectedSession(t *testing.T) {
	fake := testutil.NewFakeTransport()
	reg := session.NewRegistry()
	require.NoError(t, reg.Publish(session.New("brawl", self, fake)))
	e := roomsync.NewEngine(roomsync.Options{Registry: reg, Presenter: presentation.NewScene(nil), Local: fixedLocal{}})
	assert.ErrorIs(t, e.Activate(), roomsync.ErrPrecondition)
	assert.Equal(t, 0, fake.Listeners())
}

func TestEngine_ActivateTracksRoster(t *testing.T) {
	f := newFixture(t)
	f.engine.Deactivate()
	require.NoError(t, f.engine.Activate(self, user(2), user(3)))
	assert.Equal(t, []transport.User{user(2), user(3)}, f.engine.Tracked())
	assert.Equal(t, 2, f.scene.Live())
}

func TestEngine_EnterSpawnsAndBroadcastsPosition(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(transport.UserEntered{Room: "arena", User: user(2)})

	assert.Equal(t, []transport.User{user(2)}, f.engine.Tracked())
	assert.Equal(t, 1, f.scene.Live())
	assert.Equal(t, [][]transport.Variable{{transport.Double("px", 12), transport.Double("py", -4)}}, f.fake.PublishedVariables())
	assert.Contains(t, f.trace.Last(), "entered the room")
}

func TestEngine_ExitDestroysAndIgnoresUnknown(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(transport.UserEntered{User: user(2)})
	f.fake.Deliver(transport.UserExited{User: user(2)})
	f.fake.Deliver(transport.UserExited{User: user(2)})
	f.fake.Deliver(transport.UserExited{User: user(9)})

	assert.Empty(t, f.engine.Tracked())
	assert.Equal(t, 0, f.scene.Live())
}

func TestEngine_SelfEventsIgnored(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(
		transport.UserEntered{User: self},
		posUpdate(self, 5, 3),
		transport.ProximityListUpdate{Added: []transport.User{self}},
		transport.UserExited{User: self},
	)
	assert.Empty(t, f.engine.Tracked())
	assert.Equal(t, 0, f.scene.Spawned())
	assert.Empty(t, f.fake.PublishedVariables())
}

func TestEngine_PositionUpdateIdempotent(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(transport.UserEntered{User: user(2)})
	f.fake.Deliver(posUpdate(user(2), 5, 3))
	f.fake.Deliver(posUpdate(user(2), 5, 3))

	assert.Equal(t, presentation.Vec3{X: 5, Y: 3, Z: 0}, entity(t, f, 2).Position())
	assert.Equal(t, 1, f.scene.Live())
	assert.Equal(t, 1, f.scene.Spawned())
}

func TestEngine_UpdateWithoutEnterSpawnsDefensively(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(posUpdate(user(4), -7, 8))

	assert.Equal(t, []transport.User{user(4)}, f.engine.Tracked())
	assert.Equal(t, presentation.Vec3{X: -7, Y: 8}, entity(t, f, 4).Position())
	assert.Empty(t, f.fake.PublishedVariables(), "defensive spawn sends no catch-up")
}

func TestEngine_VelocityAliases(t *testing.T) {
	for _, name := range []string{"vx", "vely"} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.fake.Deliver(velUpdate(user(2), name, 0, 4))
			e := entity(t, f, 2)
			vx, vy := e.Velocity()
			assert.Equal(t, 0.0, vx)
			assert.Equal(t, 4.0, vy)
			assert.True(t, e.Running())
		})
	}
}

func TestEngine_VyChangeAloneKeepsVelocity(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(velUpdate(user(2), "vx", 3, 0))
	f.fake.Deliver(velUpdate(user(2), "vy", 0, 9))
	vx, vy := entity(t, f, 2).Velocity()
	assert.Equal(t, 3.0, vx)
	assert.Equal(t, 0.0, vy)
}

func TestEngine_OrderWithinOneEvent(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(transport.UserVariablesUpdated{
		User:      user(2),
		Changed:   []string{"vx", "px", "py"},
		Variables: transport.Variables{"px": 1.0, "py": 2.0, "vx": -5.0, "vy": 0.0},
	})
	e := entity(t, f, 2)
	assert.Equal(t, presentation.Vec3{X: 1, Y: 2}, e.Position())
	assert.True(t, e.Running())
	assert.Equal(t, presentation.Vec3{X: -1, Y: 1, Z: 1}, e.RootScale())
	assert.Equal(t, presentation.Vec3{X: -1, Y: 1, Z: 1}, e.LabelScale())
}

func TestEngine_FacingRetention(t *testing.T) {
	f := newFixture(t)
	var got []roomsync.Facing
	for _, vx := range []float64{5, 0, -3} {
		f.fake.Deliver(velUpdate(user(2), "vx", vx, 0))
		facing, ok := f.engine.Facing(2)
		require.True(t, ok)
		got = append(got, facing)
	}
	assert.Equal(t, []roomsync.Facing{roomsync.FacingRight, roomsync.FacingRight, roomsync.FacingLeft}, got)
}

func TestEngine_ProximityConverges(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(transport.UserEntered{User: user(2)})
	f.fake.Deliver(transport.ProximityListUpdate{
		Added:   []transport.User{user(2), user(3)},
		Removed: []transport.User{user(7)},
	})
	assert.Equal(t, []transport.User{user(2), user(3)}, f.engine.Tracked())
	assert.Equal(t, 2, f.scene.Live())

	f.fake.Deliver(transport.ProximityListUpdate{Removed: []transport.User{user(2)}})
	f.fake.Deliver(transport.UserExited{User: user(3)})
	assert.Empty(t, f.engine.Tracked())
	assert.Equal(t, 0, f.scene.Live())
}

func TestEngine_MessagesGoToTrace(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(transport.PublicMessage{Room: "arena", Sender: user(2), Text: "hello"})
	assert.Equal(t, "[arena] pc: hello", f.trace.Last())

	f.fake.Deliver(transport.ObjectMessage{Sender: user(2), Payload: map[string]any{"hit": 1}})
	assert.Equal(t, "object message", f.trace.Last())
	assert.Empty(t, f.engine.Tracked(), "messages never mutate tracking")
}

func TestEngine_ConnectionLostTearsDown(t *testing.T) {
	f := newFixture(t)
	f.fake.Deliver(transport.UserEntered{User: user(2)}, transport.UserEntered{User: user(3)})
	f.fake.Deliver(transport.ConnectionLost{Reason: "reset"})

	assert.Equal(t, 1, f.lost)
	assert.False(t, f.engine.Active())
	assert.Equal(t, 0, f.fake.Listeners())
	assert.False(t, f.registry.IsInitialized())
	assert.Equal(t, 0, f.scene.Live())
	assert.ErrorIs(t, f.engine.PublishLocal(roomsync.LocalState{}), roomsync.ErrInactive)

	f.fake.Deliver(transport.UserEntered{User: user(4)})
	assert.Empty(t, f.engine.Tracked(), "no handler after teardown")
}

func TestEngine_PublishLocalSendsChanges(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.PublishLocal(roomsync.LocalState{X: 1, Y: 2}))
	require.NoError(t, f.engine.PublishLocal(roomsync.LocalState{X: 1, Y: 2}))
	require.NoError(t, f.engine.PublishLocal(roomsync.LocalState{X: 1, Y: 2, VX: 3}))
	require.NoError(t, f.engine.PublishLocal(roomsync.LocalState{X: 4, Y: 2, VX: 3}))

	assert.Equal(t, [][]transport.Variable{
		{transport.Double("px", 1), transport.Double("py", 2), transport.Double("vx", 0), transport.Double("vy", 0)},
		{transport.Double("vx", 3), transport.Double("vy", 0)},
		{transport.Double("px", 4), transport.Double("py", 2)},
	}, f.fake.PublishedVariables())
}

func TestEngine_SendPublicMessage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SendPublicMessage("gg"))
	call, ok := f.fake.LastCall("SendPublicMessage")
	require.True(t, ok)
	assert.Equal(t, []any{"gg"}, call.Args)
}

func TestPropertyEngine_TrackedMatchesMembership(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		present := map[int]bool{}
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := rapid.IntRange(1, 6).Draw(rt, "id")
			u := user(id)
			switch rapid.IntRange(0, 4).Draw(rt, "kind") {
			case 0:
				f.fake.Deliver(transport.UserEntered{User: u})
				present[id] = true
			case 1:
				f.fake.Deliver(transport.UserExited{User: u})
				delete(present, id)
			case 2:
				f.fake.Deliver(transport.ProximityListUpdate{Added: []transport.User{u}})
				present[id] = true
			case 3:
				f.fake.Deliver(transport.ProximityListUpdate{Removed: []transport.User{u}})
				delete(present, id)
			case 4:
				f.fake.Deliver(posUpdate(u, 1, 1))
				present[id] = true
			}
			delete(present, self.ID)

			tracked := f.engine.Tracked()
			if len(tracked) != len(present) || f.scene.Live() != len(present) {
				rt.Fatalf("tracked=%d live=%d want %d", len(tracked), f.scene.Live(), len(present))
			}
			for _, tu := range tracked {
				if !present[tu.ID] {
					rt.Fatalf("orphan %d tracked", tu.ID)
				}
			}
		}
	})
}

func TestPropertyEngine_RunningAndFacing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		u := user(2)
		want := roomsync.FacingRight
		comp := rapid.SampledFrom([]float64{-4, -1, 0, 0, 1, 2.5})
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		for i := 0; i < n; i++ {
			vx := comp.Draw(rt, "vx")
			vy := comp.Draw(rt, "vy")
			f.fake.Deliver(velUpdate(u, "vx", vx, vy))
			if vx > 0 {
				want = roomsync.FacingRight
			} else if vx < 0 {
				want = roomsync.FacingLeft
			}

			e, _ := f.scene.Find(2)
			if e.Running() != (vx != 0 || vy != 0) {
				rt.Fatalf("running=%v for velocity (%v,%v)", e.Running(), vx, vy)
			}
			if got, _ := f.engine.Facing(2); got != want {
				rt.Fatalf("facing=%v want %v after vx=%v", got, want, vx)
			}
			if e.RootScale().X != want.Sign() {
				rt.Fatalf("root scale %v does not match facing %v", e.RootScale(), want)
			}
		}
	})
}
