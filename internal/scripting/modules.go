package scripting

import (
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// registerModules defines the arena global.
//
// Precondition: L must be from NewSandboxedState.
func (e *Extension) registerModules(L *lua.LState) {
	arena := L.NewTable()
	L.SetField(arena, "log", L.NewFunction(e.luaLog))
	L.SetField(arena, "extension", lua.LString(e.id))
	L.SetGlobal("arena", arena)
}

func (e *Extension) luaLog(L *lua.LState) int {
	e.logger.Info("extension log", zap.String("message", L.CheckString(1)))
	return 0
}

// luaBroadcast backs room.broadcast. It accepts both room.broadcast(text) and
// room:broadcast(text).
func (e *Extension) luaBroadcast(L *lua.LState) int {
	idx := 1
	if L.Get(1).Type() == lua.LTTable {
		idx = 2
	}
	e.out = append(e.out, L.CheckString(idx))
	return 0
}

func (e *Extension) roomTable(L *lua.LState, room string) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("name", lua.LString(room))
	L.SetField(t, "broadcast", L.NewFunction(e.luaBroadcast))
	return t
}

func userTable(L *lua.LState, u User) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LNumber(u.ID))
	t.RawSetString("name", lua.LString(u.Name))
	return t
}

// toLua converts a decoded JSON-like value into a Lua value. Unsupported
// types become nil.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case float64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case []any:
		t := L.NewTable()
		for _, item := range x {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := L.NewTable()
		for _, k := range keys {
			t.RawSetString(k, toLua(L, x[k]))
		}
		return t
	default:
		return lua.LNil
	}
}
