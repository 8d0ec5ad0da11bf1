package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDispatcher_RoutesByKind(t *testing.T) {
	d := NewDispatcher()
	var entered []User
	var lost int
	d.Register("test", Handlers{
		UserEntered:    func(e UserEntered) { entered = append(entered, e.User) },
		ConnectionLost: func(ConnectionLost) { lost++ },
	})

	assert.Equal(t, 1, d.Dispatch(UserEntered{User: User{ID: 1, Name: "a"}}))
	assert.Equal(t, 0, d.Dispatch(UserExited{User: User{ID: 1}}), "no handler for exits")
	assert.Equal(t, 1, d.Dispatch(ConnectionLost{}))

	assert.Equal(t, []User{{ID: 1, Name: "a"}}, entered)
	assert.Equal(t, 1, lost)
}

func TestDispatcher_RegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.Register("first", Handlers{RoomAdded: func(RoomAdded) { order = append(order, "first") }})
	d.Register("second", Handlers{RoomAdded: func(RoomAdded) { order = append(order, "second") }})

	d.Dispatch(RoomAdded{Room: "arena"})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRegistration_CloseIdempotent(t *testing.T) {
	d := NewDispatcher()
	r := d.Register("x", Handlers{})
	require.True(t, r.Active())
	r.Close()
	r.Close()
	assert.False(t, r.Active())
	assert.Equal(t, 0, d.Len())

	var nilReg *Registration
	nilReg.Close()
	assert.False(t, nilReg.Active())
}

func TestDispatcher_CloseDuringDispatchSkipsLaterHandler(t *testing.T) {
	d := NewDispatcher()
	var second *Registration
	calls := 0
	d.Register("closer", Handlers{RoomJoined: func(RoomJoined) { second.Close() }})
	second = d.Register("closed", Handlers{RoomJoined: func(RoomJoined) { calls++ }})

	d.Dispatch(RoomJoined{Room: "arena"})
	assert.Equal(t, 0, calls)
}

func TestDispatcher_RegisterDuringDispatchWaitsForNextEvent(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	d.Register("handoff", Handlers{RoomJoined: func(RoomJoined) {
		d.Register("next", Handlers{RoomJoined: func(RoomJoined) { calls++ }})
	}})

	d.Dispatch(RoomJoined{})
	assert.Equal(t, 0, calls, "new registration must not see the event that created it")
	d.Dispatch(RoomJoined{})
	assert.Equal(t, 1, calls)
}

func TestDispatcher_RemoveAll(t *testing.T) {
	d := NewDispatcher()
	a := d.Register("a", Handlers{})
	b := d.Register("b", Handlers{})
	d.RemoveAll()
	assert.False(t, a.Active())
	assert.False(t, b.Active())
	assert.Equal(t, 0, d.Len())
	a.Close()
}

func TestPropertyDispatcher_LenTracksOpenRegistrations(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := NewDispatcher()
		var regs []*Registration
		open := 0
		steps := rapid.IntRange(0, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if len(regs) == 0 || rapid.Bool().Draw(rt, "register") {
				regs = append(regs, d.Register("r", Handlers{}))
				open++
				continue
			}
			idx := rapid.IntRange(0, len(regs)-1).Draw(rt, "close")
			if regs[idx].Active() {
				open--
			}
			regs[idx].Close()
		}
		if d.Len() != open {
			rt.Fatalf("Len()=%d, want %d", d.Len(), open)
		}
	})
}

func TestVariables_Accessors(t *testing.T) {
	v := Variables{"px": 1.5, "hp": 3, "dead": true, "tag": "red"}
	assert.Equal(t, 1.5, v.Float("px"))
	assert.Equal(t, 3.0, v.Float("hp"))
	assert.Equal(t, 0.0, v.Float("missing"))
	assert.Equal(t, 1, v.Int("px"))
	assert.True(t, v.Bool("dead"))
	assert.Equal(t, "red", v.String("tag"))
	assert.True(t, v.Has("tag"))
	assert.False(t, v.Has("vy"))
}

func TestVariables_Merge(t *testing.T) {
	v := Variables{"px": 1.0, "py": 2.0}
	changed := v.Merge([]Variable{Double("py", 2.0), Double("px", 4.0), Double("vx", 0), {Name: "py"}})
	assert.Equal(t, []string{"px", "py", "vx"}, changed)
	assert.Equal(t, Variables{"px": 4.0, "vx": 0.0}, v)
}

func TestUserVariablesUpdated_ChangedAny(t *testing.T) {
	e := UserVariablesUpdated{Changed: []string{"vely"}}
	assert.True(t, e.ChangedAny("vx", "vely"))
	assert.False(t, e.ChangedAny("px", "py"))
}
