package script

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/G3UKB/SDRLibE/internal/stream"
)

// GoToLua converts a decoded JSON value or packet field to an LValue.
func GoToLua(L *lua.LState, val any) lua.LValue {
	switch v := val.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(v)
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(float64(v))
	case int:
		return lua.LNumber(float64(v))
	case int64:
		return lua.LNumber(float64(v))
	case uint64:
		return lua.LNumber(float64(v))
	case map[string]any:
		return MapToTable(L, v)
	case []any:
		tbl := L.NewTable()
		for _, item := range v {
			tbl.Append(GoToLua(L, item))
		}
		return tbl
	case []float32:
		tbl := L.CreateTable(len(v), 0)
		for _, f := range v {
			tbl.Append(lua.LNumber(float64(f)))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// LuaToGo converts an LValue back to a Go value. Numbers become float64,
// except integral values which become int so they encode as JSON integers.
func LuaToGo(val lua.LValue) any {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int(f)) {
			return int(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		return TableToGo(v)
	default:
		return nil
	}
}

// MapToTable converts a map[string]any to an LTable.
func MapToTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		L.SetField(tbl, k, GoToLua(L, v))
	}
	return tbl
}

// TableToGo converts an LTable to []any when its keys are exactly 1..n, and
// to map[string]any otherwise (non-string keys are dropped). An empty table
// becomes an empty map.
func TableToGo(tbl *lua.LTable) any {
	maxN := tbl.MaxN()
	if maxN > 0 {
		count := 0
		tbl.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if count == maxN {
			arr := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				arr = append(arr, LuaToGo(tbl.RawGetInt(i)))
			}
			return arr
		}
	}

	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			m[string(ks)] = LuaToGo(v)
		}
	})
	return m
}

// PacketToLua builds the table passed to sdr.on_packet handlers. data holds
// the raw bytes as a Lua string; meter and bins are present when decode is
// set and the packet is a well-formed display frame.
func PacketToLua(L *lua.LState, p stream.Packet, decode bool) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "seq", lua.LNumber(float64(p.Seq)))
	L.SetField(tbl, "port", lua.LNumber(float64(p.Port)))
	L.SetField(tbl, "size", lua.LNumber(float64(p.Size)))
	L.SetField(tbl, "data", lua.LString(p.Data))
	L.SetField(tbl, "received_at", lua.LString(p.ReceivedAt.Format(time.RFC3339Nano)))
	if p.From != nil {
		L.SetField(tbl, "from", lua.LString(p.From.String()))
	}
	if decode {
		if f, err := stream.DecodeDisplayFrame(p.Data); err == nil {
			L.SetField(tbl, "meter", lua.LNumber(float64(f.Meter)))
			L.SetField(tbl, "bins", GoToLua(L, f.Bins))
		}
	}
	return tbl
}

func frameToLua(L *lua.LState, data []byte) (*lua.LTable, error) {
	f, err := stream.DecodeDisplayFrame(data)
	if err != nil {
		return nil, err
	}
	tbl := L.NewTable()
	L.SetField(tbl, "meter", lua.LNumber(float64(f.Meter)))
	L.SetField(tbl, "bins", GoToLua(L, f.Bins))
	return tbl, nil
}
