package presentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/arena/internal/roomsync"
	"github.com/cory-johannsen/arena/internal/transport"
)

func TestScene_SpawnDestroy(t *testing.T) {
	s := NewScene(nil)
	a := s.Spawn(transport.User{ID: 2, Name: "a"})
	s.Spawn(transport.User{ID: 1, Name: "b"})
	assert.Equal(t, 2, s.Live())

	s.Destroy(a)
	s.Destroy(a)
	assert.Equal(t, 1, s.Live())
	assert.Equal(t, 2, s.Spawned())
	assert.True(t, a.(*Entity).Destroyed())

	_, ok := s.Find(2)
	assert.False(t, ok)
	e, ok := s.Find(1)
	require.True(t, ok)
	assert.Equal(t, "b", e.User().Name)
}

func TestScene_EntitiesOrdered(t *testing.T) {
	s := NewScene(nil)
	for _, id := range []int{5, 3, 9} {
		s.Spawn(transport.User{ID: id})
	}
	var ids []int
	for _, e := range s.Entities() {
		ids = append(ids, e.User().ID)
	}
	assert.Equal(t, []int{3, 5, 9}, ids)
}

func TestEntity_State(t *testing.T) {
	s := NewScene(nil)
	e := s.Spawn(transport.User{ID: 1}).(*Entity)
	assert.Equal(t, Vec3{1, 1, 1}, e.RootScale())

	e.SetPosition(3, 4, 0)
	e.SetVelocity(-2, 0)
	e.SetRunning(true)
	e.SetFacing(roomsync.FacingLeft)

	assert.Equal(t, Vec3{3, 4, 0}, e.Position())
	vx, vy := e.Velocity()
	assert.Equal(t, -2.0, vx)
	assert.Equal(t, 0.0, vy)
	assert.True(t, e.Running())
	assert.Equal(t, Vec3{-1, 1, 1}, e.RootScale())
	assert.Equal(t, e.RootScale(), e.LabelScale(), "label mirrors with the root")
}
