package script

import (
	"net"
	"reflect"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/G3UKB/SDRLibE/internal/stream"
)

func TestResponseRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	in := map[string]any{
		"resp": "ACK",
		"outputs": []any{
			map[string]any{"api": "ALSA", "name": "default", "index": 1.5},
		},
		"flag": true,
	}
	got := TableToGo(MapToTable(L, in))
	if !reflect.DeepEqual(got, in) {
		t.Errorf("round trip = %#v, want %#v", got, in)
	}
}

func TestLuaToGo_Integers(t *testing.T) {
	if v := LuaToGo(lua.LNumber(20)); v != 20 {
		t.Errorf("LuaToGo(20) = %#v, want int 20", v)
	}
	if v := LuaToGo(lua.LNumber(7.25)); v != 7.25 {
		t.Errorf("LuaToGo(7.25) = %#v, want 7.25", v)
	}
	if v := LuaToGo(lua.LNil); v != nil {
		t.Errorf("LuaToGo(nil) = %#v, want nil", v)
	}
}

func TestTableToGo_EmptyAndMixed(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(`empty = {}; mixed = {1, 2, x = 3}`); err != nil {
		t.Fatal(err)
	}
	if got := TableToGo(L.GetGlobal("empty").(*lua.LTable)); !reflect.DeepEqual(got, map[string]any{}) {
		t.Errorf("empty = %#v", got)
	}
	if got := TableToGo(L.GetGlobal("mixed").(*lua.LTable)); !reflect.DeepEqual(got, map[string]any{"x": 3}) {
		t.Errorf("mixed = %#v", got)
	}
}

func TestPacketToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	data := stream.EncodeDisplayFrame(stream.DisplayFrame{Meter: -42, Bins: []float32{-90, -95}})
	p := stream.Packet{
		Seq:        3,
		Port:       10011,
		Size:       len(data),
		Data:       data,
		From:       &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 10010},
		ReceivedAt: time.Now(),
	}
	L.SetGlobal("pkt", PacketToLua(L, p, true))

	code := `
assert(pkt.seq == 3)
assert(pkt.port == 10011)
assert(pkt.size == 12)
assert(#pkt.data == 12)
assert(pkt.from == "10.0.0.2:10010")
assert(pkt.meter == -42)
assert(#pkt.bins == 2 and pkt.bins[2] == -95)
`
	if err := L.DoString(code); err != nil {
		t.Fatalf("packet table: %v", err)
	}

	L.SetGlobal("raw", PacketToLua(L, p, false))
	if err := L.DoString(`assert(raw.meter == nil and raw.bins == nil)`); err != nil {
		t.Errorf("undecoded packet: %v", err)
	}
}

func TestDecodeFrameFromLua(t *testing.T) {
	L := NewSandboxedState("test", testLogger())
	defer L.Close()
	registerModule(L, &module{name: "test", logger: testLogger()})

	L.SetGlobal("frame", lua.LString(stream.EncodeDisplayFrame(stream.DisplayFrame{Meter: 1.5, Bins: []float32{2}})))
	code := `
local f, err = sdr.decode_frame(frame)
assert(err == nil, err)
assert(f.meter == 1.5 and f.bins[1] == 2)
local bad, err2 = sdr.decode_frame("ab")
assert(bad == nil and err2 ~= nil)
`
	if err := L.DoString(code); err != nil {
		t.Fatal(err)
	}
}
