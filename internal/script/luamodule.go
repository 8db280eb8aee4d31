package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// handlerEntry binds a stream port (0 = any) to a Lua callback.
type handlerEntry struct {
	port int
	fn   *lua.LFunction
}

// module holds the state shared between the sdr Lua table and the engine.
// handlers is only appended to while the script file is being loaded.
type module struct {
	name           string
	nc             *nats.Conn
	cmd            Commander
	allowCommands  bool
	commandTimeout time.Duration
	logger         zerolog.Logger
	handlers       []handlerEntry
	sealed         bool
}

// registerModule creates the global "sdr" table.
func registerModule(L *lua.LState, m *module) {
	mod := L.NewTable()

	L.SetField(mod, "name", lua.LString(m.name))
	L.SetField(mod, "on_packet", L.NewFunction(m.luaOnPacket))
	L.SetField(mod, "publish", L.NewFunction(m.luaPublish))
	L.SetField(mod, "command", L.NewFunction(m.luaCommand))
	L.SetField(mod, "log", L.NewFunction(m.luaLog))
	L.SetField(mod, "decode_frame", L.NewFunction(luaDecodeFrame))

	L.SetGlobal("sdr", mod)
}

func (m *module) wants(port int) bool {
	for _, h := range m.handlers {
		if h.port == 0 || h.port == port {
			return true
		}
	}
	return false
}

// luaOnPacket registers a packet handler: sdr.on_packet(fn) or sdr.on_packet(port, fn).
func (m *module) luaOnPacket(L *lua.LState) int {
	if m.sealed {
		L.RaiseError("sdr.on_packet may only be called while the script loads")
		return 0
	}
	var h handlerEntry
	if L.GetTop() >= 2 {
		h.port = L.CheckInt(1)
		h.fn = L.CheckFunction(2)
	} else {
		h.fn = L.CheckFunction(1)
	}
	m.handlers = append(m.handlers, h)

	m.logger.Debug().Int("port", h.port).Msg("registered packet handler")
	return 0
}

// luaPublish publishes an event: sdr.publish(subject, event_type, payload)
func (m *module) luaPublish(L *lua.LState) int {
	subject := L.CheckString(1)
	eventType := L.CheckString(2)
	payloadTbl := L.CheckTable(3)

	if m.nc == nil {
		L.RaiseError("sdr.publish: event bus not available")
		return 0
	}

	payload, ok := TableToGo(payloadTbl).(map[string]any)
	if !ok {
		L.ArgError(3, "expected a table with string keys")
		return 0
	}

	ev := protocol.NewEvent(eventType, "script:"+m.name, payload)
	data, err := json.Marshal(ev)
	if err != nil {
		L.RaiseError("marshal event: %s", err)
		return 0
	}
	if err := m.nc.Publish(subject, data); err != nil {
		L.RaiseError("publish event: %s", err)
		return 0
	}

	m.logger.Debug().Str("subject", subject).Str("event_type", eventType).Msg("published event")
	return 0
}

// luaCommand sends a device command: sdr.command(name [, params]) -> reply, err
func (m *module) luaCommand(L *lua.LState) int {
	name := L.CheckString(1)
	var params []any
	if L.GetTop() >= 2 {
		switch v := TableToGo(L.CheckTable(2)).(type) {
		case []any:
			params = v
		case map[string]any:
			if len(v) != 0 {
				L.ArgError(2, "params must be a list")
				return 0
			}
		}
	}

	if !m.allowCommands {
		L.Push(lua.LNil)
		L.Push(lua.LString("sdr.command is disabled"))
		return 2
	}
	if m.cmd == nil {
		L.Push(lua.LNil)
		L.Push(lua.LString("device not available"))
		return 2
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.commandTimeout)
	defer cancel()

	resp, err := m.cmd.Exchange(ctx, protocol.NewCommand(name, params...))
	if err != nil {
		m.logger.Warn().Err(err).Str("cmd", name).Msg("sdr.command failed")
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	m.logger.Debug().Str("cmd", name).Str("resp", resp.Status()).Msg("sent command")
	L.Push(MapToTable(L, resp))
	L.Push(lua.LNil)
	return 2
}

// luaLog logs a message: sdr.log(level, message)
func (m *module) luaLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch strings.ToLower(level) {
	case "debug":
		m.logger.Debug().Msg(message)
	case "warn":
		m.logger.Warn().Msg(message)
	case "error":
		m.logger.Error().Msg(message)
	default:
		m.logger.Info().Msg(message)
	}
	return 0
}

// luaDecodeFrame decodes raw packet bytes: sdr.decode_frame(data) -> {meter, bins}, err
func luaDecodeFrame(L *lua.LState) int {
	data := L.CheckString(1)
	tbl, err := frameToLua(L, []byte(data))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprint(err)))
		return 2
	}
	L.Push(tbl)
	L.Push(lua.LNil)
	return 2
}
