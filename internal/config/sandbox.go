package config

import (
	lua "github.com/yuin/gopher-lua"
)

// safeLibs are the only standard libraries opened in the config VM. The os,
// io, package and debug libraries are never loaded.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// unsafeBase are base library functions that load code or reach the
// filesystem.
var unsafeBase = []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage"}

// newSandboxedVM creates a Lua VM for evaluating configuration files.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       256,
		IncludeGoStackTrace: false,
	})

	for _, lib := range safeLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range unsafeBase {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
