package scripting

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Hook names an extension may define as globals.
const (
	HookUserJoin      = "on_user_join"
	HookObjectMessage = "on_object_message"
)

// User is the player a hook is about.
type User struct {
	ID   int
	Name string
}

// Extension is one loaded room extension script. Hook calls are serialized.
type Extension struct {
	id     string
	limit  int
	logger *zap.Logger

	mu sync.Mutex
	L  *lua.LState
	// out collects room.broadcast lines during one hook call.
	out []string
}

// LoadExtension creates a sandboxed state for id and executes path in it.
//
// Precondition: path must name a readable Lua file.
// Postcondition: returns a ready Extension, or an error and no open state.
func LoadExtension(id, path string, instLimit int, logger *zap.Logger) (*Extension, error) {
	e := &Extension{id: id, limit: instLimit, logger: logger}
	L := NewSandboxedState(instLimit)
	e.registerModules(L)
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("scripting: loading extension %q from %q: %w", id, path, err)
	}
	e.L = L
	return e, nil
}

// ID returns the extension id.
func (e *Extension) ID() string { return e.id }

// OnUserJoin calls on_user_join(room, user) and returns the broadcast lines.
func (e *Extension) OnUserJoin(room string, u User) []string {
	return e.call(HookUserJoin, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{e.roomTable(L, room), userTable(L, u)}
	})
}

// OnObjectMessage calls on_object_message(room, user, payload) and returns
// the broadcast lines.
func (e *Extension) OnObjectMessage(room string, u User, payload map[string]any) []string {
	return e.call(HookObjectMessage, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{e.roomTable(L, room), userTable(L, u), toLua(L, payload)}
	})
}

// call runs hook with a fresh opcode budget. A missing hook is a no-op.
// Runtime errors are logged; lines broadcast before the error are kept.
func (e *Extension) call(hook string, args func(L *lua.LState) []lua.LValue) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.L == nil {
		return nil
	}

	fn := e.L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return nil
	}

	cancel := renewBudget(e.L, e.limit)
	defer cancel()

	e.out = nil
	err := e.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args(e.L)...)
	if err != nil {
		e.logger.Warn("extension hook failed",
			zap.String("extension", e.id),
			zap.String("hook", hook),
			zap.Error(err),
		)
	}
	out := e.out
	e.out = nil
	return out
}

// Close releases the Lua state. Further hook calls are no-ops.
func (e *Extension) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.L != nil {
		e.L.Close()
		e.L = nil
	}
}
