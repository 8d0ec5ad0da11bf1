package connection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/session"
	"github.com/cory-johannsen/arena/internal/testutil"
	"github.com/cory-johannsen/arena/internal/transport"
)

type harness struct {
	fake     *testutil.FakeTransport
	registry *session.Registry
	machine  *Machine
	failures []*Failure
	joined   []*session.Session
	path     []State
}

func newHarness(t *testing.T, settings Settings) *harness {
	h := &harness{
		fake:     testutil.NewFakeTransport(),
		registry: session.NewRegistry(),
	}
	h.machine = NewMachine(h.fake, h.registry, settings, Hooks{
		OnTransition: func(_, to State) { h.path = append(h.path, to) },
		OnFailure:    func(f *Failure) { h.failures = append(h.failures, f) },
		OnRoomJoined: func(s *session.Session, _ []transport.User) { h.joined = append(h.joined, s) },
	}, zaptest.NewLogger(t))
	return h
}

func directSettings() Settings {
	return Settings{Host: "127.0.0.1", Port: 9933, Username: "bss", Zone: "brawl"}
}

var self = transport.User{ID: 1, Name: "bss"}

func (h *harness) loginOK() {
	h.fake.Deliver(transport.LoginResult{Success: true, User: self, Zone: "brawl"})
}

func TestMachine_ConnectFailsTwiceThenSucceeds(t *testing.T) {
	h := newHarness(t, directSettings())
	require.NoError(t, h.machine.Start())

	for i := 0; i < 2; i++ {
		require.Equal(t, Connecting, h.machine.State())
		h.fake.Deliver(transport.ConnectionResult{Err: errors.New("refused")})
		require.Equal(t, Failed, h.machine.State())
		assert.Equal(t, 0, h.fake.Listeners(), "failure detaches every listener")
		require.NoError(t, h.machine.Retry(""))
	}

	h.fake.Deliver(transport.ConnectionResult{Success: true})
	assert.Equal(t, Authenticating, h.machine.State())

	require.Len(t, h.failures, 2)
	for _, f := range h.failures {
		assert.ErrorIs(t, f, ErrConnect)
		assert.Equal(t, "failed to connect", f.Message)
	}

	connects := h.fake.Calls("Connect")
	require.Len(t, connects, 3)
	for _, c := range connects {
		assert.Equal(t, []any{"127.0.0.1", 9933}, c.Args)
	}
	login, ok := h.fake.LastCall("Login")
	require.True(t, ok)
	assert.Equal(t, []any{"bss", "", "brawl"}, login.Args)
	assert.Equal(t, 3, h.machine.Attempt())
}

func TestMachine_CreatesRoomWhenMissing(t *testing.T) {
	h := newHarness(t, directSettings())
	require.NoError(t, h.machine.Start())
	h.fake.Deliver(transport.ConnectionResult{Success: true})
	h.loginOK()

	require.Equal(t, AwaitingRoom, h.machine.State())
	assert.True(t, h.registry.IsInitialized(), "session published before the room step")
	assert.Equal(t, 0, h.fake.CallCount("JoinRoom"))

	create, ok := h.fake.LastCall("CreateRoom")
	require.True(t, ok)
	spec := create.Args[0].(transport.RoomSpec)
	assert.Equal(t, "arena", spec.Name)
	assert.Equal(t, 10, spec.MaxUsers)
	assert.Equal(t, transport.Vec3{X: 200, Y: 100, Z: 1}, spec.AreaOfInterest)
	assert.Equal(t, transport.MapBounds{
		Min: transport.Vec3{X: -225, Y: -125, Z: 1},
		Max: transport.Vec3{X: 225, Y: 125, Z: 1},
	}, spec.Bounds)
	assert.Equal(t, "Brawl", spec.Extension.ID)
	assert.Equal(t, true, create.Args[1], "auto-join on creation")

	h.fake.Deliver(transport.RoomAdded{Room: "arena"})
	assert.Equal(t, AwaitingRoom, h.machine.State(), "room added is informational")

	h.fake.Deliver(transport.RoomJoined{Room: "arena"})
	assert.Equal(t, RoomJoined, h.machine.State())
	assert.Equal(t, 0, h.fake.Listeners(), "setup listeners detached at hand-off")
	require.Len(t, h.joined, 1)
	assert.Equal(t, self, h.joined[0].Self)
	assert.Equal(t, "brawl", h.joined[0].Zone)
	assert.Empty(t, h.failures)
}

func TestMachine_JoinsExistingRoom(t *testing.T) {
	h := newHarness(t, directSettings())
	h.fake.AddRoom("arena")
	require.NoError(t, h.machine.Start())
	h.fake.Deliver(transport.ConnectionResult{Success: true})
	h.loginOK()

	join, ok := h.fake.LastCall("JoinRoom")
	require.True(t, ok)
	assert.Equal(t, []any{"arena"}, join.Args)
	assert.Equal(t, 0, h.fake.CallCount("CreateRoom"))
}

func TestMachine_ConfigSourceFlow(t *testing.T) {
	s := directSettings()
	s.ConfigFile = "configs/connection.yaml"
	s.Zone = "default"
	h := newHarness(t, s)
	require.NoError(t, h.machine.Start())

	load, ok := h.fake.LastCall("LoadConfig")
	require.True(t, ok)
	assert.Equal(t, []any{"configs/connection.yaml"}, load.Args)
	assert.Equal(t, 0, h.fake.CallCount("Connect"))

	h.fake.Deliver(transport.ConfigLoadResult{Success: true, Config: transport.SourceConfig{
		Host: "10.1.1.1", Port: 8080, Zone: "brawl",
	}})
	assert.Equal(t, ConfigLoaded, h.machine.State())
	conn, _ := h.fake.LastCall("Connect")
	assert.Equal(t, []any{"10.1.1.1", 8080}, conn.Args)

	h.fake.Deliver(transport.ConnectionResult{Success: true})
	login, _ := h.fake.LastCall("Login")
	assert.Equal(t, []any{"bss", "", "brawl"}, login.Args, "zone comes from the config source")
	assert.Equal(t, []State{Connecting, ConfigLoaded, Connected, Authenticating}, h.path)
}

func TestMachine_EditedHostOverridesConfigSource(t *testing.T) {
	s := directSettings()
	s.ConfigFile = "connection.yaml"
	h := newHarness(t, s)
	require.NoError(t, h.machine.Start())
	h.fake.Deliver(transport.ConfigLoadResult{Err: errors.New("missing")})
	require.Equal(t, Failed, h.machine.State())

	require.NoError(t, h.machine.Retry("192.168.0.9"))
	h.fake.Deliver(transport.ConfigLoadResult{Success: true, Config: transport.SourceConfig{Host: "10.1.1.1", Port: 9933, Zone: "brawl"}})
	conn, _ := h.fake.LastCall("Connect")
	assert.Equal(t, []any{"192.168.0.9", 9933}, conn.Args)
}

func TestMachine_ConfigLoadFailure(t *testing.T) {
	s := directSettings()
	s.ConfigFile = "connection.yaml"
	h := newHarness(t, s)
	require.NoError(t, h.machine.Start())
	cause := errors.New("no such file")
	h.fake.Deliver(transport.ConfigLoadResult{Err: cause})

	f := h.machine.Failure()
	require.NotNil(t, f)
	assert.ErrorIs(t, f, ErrConfigLoad)
	assert.ErrorIs(t, f, cause)
	assert.Equal(t, "config load failed", f.Error())
}

func TestMachine_LoginFailureCarriesCode(t *testing.T) {
	h := newHarness(t, directSettings())
	require.NoError(t, h.machine.Start())
	h.fake.Deliver(transport.ConnectionResult{Success: true})
	h.fake.Deliver(transport.LoginResult{ErrorCode: 2, ErrorMessage: "bad credentials"})

	f := h.machine.Failure()
	require.NotNil(t, f)
	assert.ErrorIs(t, f, ErrLogin)
	assert.Equal(t, 2, f.Code)
	assert.Equal(t, "login failed: code 2: bad credentials", f.Message)
	assert.False(t, h.registry.IsInitialized())
	assert.Equal(t, 1, h.fake.CallCount("Disconnect"))
}

func TestMachine_RoomErrors(t *testing.T) {
	cases := []struct {
		name  string
		exist bool
		evt   transport.Event
		kind  error
	}{
		{"join", true, transport.RoomJoinError{Room: "arena", ErrorCode: 20, ErrorMessage: "room full"}, ErrRoomJoin},
		{"create", false, transport.RoomCreateError{Room: "arena", ErrorCode: 10, ErrorMessage: "exists"}, ErrRoomCreation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, directSettings())
			if tc.exist {
				h.fake.AddRoom("arena")
			}
			require.NoError(t, h.machine.Start())
			h.fake.Deliver(transport.ConnectionResult{Success: true})
			h.loginOK()
			require.True(t, h.registry.IsInitialized())

			h.fake.Deliver(tc.evt)
			assert.Equal(t, Failed, h.machine.State())
			assert.ErrorIs(t, h.machine.Failure(), tc.kind)
			assert.False(t, h.registry.IsInitialized(), "failure clears the registry")
			assert.Equal(t, 0, h.fake.Listeners())
		})
	}
}

func TestMachine_ConnectionLostDuringSetup(t *testing.T) {
	h := newHarness(t, directSettings())
	require.NoError(t, h.machine.Start())
	h.fake.Deliver(transport.ConnectionResult{Success: true})
	h.loginOK()
	h.fake.Deliver(transport.ConnectionLost{Reason: "reset by peer"})

	assert.Equal(t, Failed, h.machine.State())
	assert.ErrorIs(t, h.machine.Failure(), ErrConnectionLost)
	assert.Equal(t, "connection lost", h.machine.Failure().Message)
	assert.False(t, h.registry.IsInitialized())
}

func TestMachine_LostAfterRoomJoined(t *testing.T) {
	h := newHarness(t, directSettings())
	h.fake.AddRoom("arena")
	require.NoError(t, h.machine.Start())
	h.fake.Deliver(transport.ConnectionResult{Success: true})
	h.loginOK()
	h.fake.Deliver(transport.RoomJoined{Room: "arena"})
	require.Equal(t, RoomJoined, h.machine.State())

	h.machine.Lost("reset by peer")
	assert.Equal(t, Failed, h.machine.State())
	assert.ErrorIs(t, h.machine.Failure(), ErrConnectionLost)
	assert.ErrorContains(t, h.machine.Failure().Err, "reset by peer")
	assert.False(t, h.registry.IsInitialized())
	assert.False(t, h.fake.IsConnected())
	require.Len(t, h.failures, 1)

	h.machine.Lost("again")
	assert.Len(t, h.failures, 1, "already failed")
	require.NoError(t, h.machine.Retry(""))
	assert.Equal(t, Connecting, h.machine.State())
}

func TestMachine_SendErrorFails(t *testing.T) {
	h := newHarness(t, directSettings())
	h.fake.SendErr = transport.ErrNotConnected
	require.NoError(t, h.machine.Start())
	h.fake.Deliver(transport.ConnectionResult{Success: true})

	assert.Equal(t, Failed, h.machine.State())
	assert.ErrorIs(t, h.machine.Failure(), ErrLogin)
	assert.ErrorIs(t, h.machine.Failure(), transport.ErrNotConnected)
}

func TestMachine_EventsOutsideTheirStateAreIgnored(t *testing.T) {
	h := newHarness(t, directSettings())
	require.NoError(t, h.machine.Start())

	h.fake.Deliver(
		transport.LoginResult{Success: true, User: self},
		transport.RoomJoined{Room: "arena"},
		transport.RoomJoinError{Room: "arena"},
		transport.ConfigLoadResult{Success: true},
	)
	assert.Equal(t, Connecting, h.machine.State())
	assert.False(t, h.registry.IsInitialized())
	assert.Equal(t, 0, h.fake.CallCount("Login"))
}

func TestMachine_Preconditions(t *testing.T) {
	h := newHarness(t, directSettings())
	assert.ErrorIs(t, h.machine.Retry(""), ErrPrecondition)
	require.NoError(t, h.machine.Start())
	assert.ErrorIs(t, h.machine.Start(), ErrPrecondition)
}

func TestMachine_ResetDetachesListeners(t *testing.T) {
	h := newHarness(t, directSettings())
	require.NoError(t, h.machine.Start())
	require.Equal(t, 1, h.fake.Listeners())

	h.machine.Reset()
	assert.Equal(t, Idle, h.machine.State())
	assert.Equal(t, 0, h.fake.Listeners())

	h.fake.Deliver(transport.ConnectionResult{Success: true})
	assert.Equal(t, Idle, h.machine.State(), "stale event after reset has no listener")
	assert.NoError(t, h.machine.Start())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_room", AwaitingRoom.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Authenticating.Terminal())
}

func TestPropertyMachine_FailedAlwaysDetached(t *testing.T) {
	events := []transport.Event{
		transport.ConnectionResult{Success: true},
		transport.ConnectionResult{Err: errors.New("x")},
		transport.ConnectionLost{},
		transport.ConfigLoadResult{Success: true, Config: transport.SourceConfig{Host: "h", Port: 1, Zone: "z"}},
		transport.ConfigLoadResult{},
		transport.LoginResult{Success: true, User: self},
		transport.LoginResult{ErrorCode: 2},
		transport.RoomAdded{Room: "arena"},
		transport.RoomJoined{Room: "arena"},
		transport.RoomJoinError{},
		transport.RoomCreateError{},
	}
	rapid.Check(t, func(rt *rapid.T) {
		fake := testutil.NewFakeTransport()
		registry := session.NewRegistry()
		m := NewMachine(fake, registry, directSettings(), Hooks{}, nil)
		require.NoError(rt, m.Start())

		seq := rapid.SliceOfN(rapid.IntRange(0, len(events)-1), 1, 25).Draw(rt, "events")
		for _, i := range seq {
			fake.Deliver(events[i])
			switch m.State() {
			case Failed:
				if fake.Listeners() != 0 || registry.IsInitialized() || m.Failure() == nil {
					rt.Fatalf("failed state leaked: listeners=%d session=%v", fake.Listeners(), registry.IsInitialized())
				}
				if rapid.Bool().Draw(rt, "retry") {
					require.NoError(rt, m.Retry(""))
				}
			case RoomJoined:
				if fake.Listeners() != 0 || !registry.IsInitialized() {
					rt.Fatalf("room joined without hand-off state")
				}
			case AwaitingRoom:
				if !registry.IsInitialized() {
					rt.Fatal("awaiting room without a published session")
				}
			}
		}
	})
}
