package scripting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/scripting"
)

func TestNewSandboxedState_UnsafeGlobalsRemoved(t *testing.T) {
	L := scripting.NewSandboxedState(0)
	require.NotNil(t, L)
	defer L.Close()
	for _, name := range []string{"os", "io", "debug", "dofile", "loadfile", "load", "collectgarbage", "require"} {
		assert.Equal(t, lua.LNil, L.GetGlobal(name), "expected %s to be nil", name)
	}
}

func TestNewSandboxedState_SafeLibsAvailable(t *testing.T) {
	L := scripting.NewSandboxedState(0)
	require.NotNil(t, L)
	defer L.Close()
	err := L.DoString(`
		assert(math.abs(-3) == 3, "math.abs failed")
		assert(string.format("%s!", "go") == "go!", "string.format failed")
		local t = {}
		table.insert(t, 1)
		assert(#t == 1, "table.insert failed")
	`)
	assert.NoError(t, err)
}

func TestNewSandboxedState_InstructionLimitStopsLoop(t *testing.T) {
	L := scripting.NewSandboxedState(10)
	require.NotNil(t, L)
	defer L.Close()
	assert.Error(t, L.DoString(`while true do end`))
}

func TestProperty_InstructionLimitAlwaysErrors(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 50).Draw(t, "limit")
		L := scripting.NewSandboxedState(limit)
		defer L.Close()
		if err := L.DoString(`while true do end`); err == nil {
			t.Fatalf("expected error with limit=%d but got nil", limit)
		}
	})
}
