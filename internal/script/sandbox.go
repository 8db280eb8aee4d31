package script

import (
	"strings"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// NewSandboxedState creates an LState with only the base, table, string and
// math libraries. os, io, debug and package are never opened, and the
// file/chunk loaders are removed from the base library.
func NewSandboxedState(name string, logger zerolog.Logger) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, g := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(g, lua.LNil)
	}

	scriptLogger := logger.With().Str("script", name).Logger()
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.Get(i).String()
		}
		scriptLogger.Info().Msg(strings.Join(parts, "\t"))
		return 0
	}))

	return L
}
