// Package script runs user Lua hooks against stream packets. Each script
// gets its own sandboxed Lua state and goroutine; the Engine is a
// stream.Sink that fans packets out to every script that registered a
// matching sdr.on_packet handler.
package script

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/G3UKB/SDRLibE/internal/stream"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// packetQueueSize bounds the per-script backlog before packets are dropped.
const packetQueueSize = 1024

// Commander sends a command to the device. *exchange.Client implements it.
type Commander interface {
	Exchange(ctx context.Context, cmd protocol.Command) (protocol.Response, error)
}

// Info describes a loaded script for the API.
type Info struct {
	Name     string    `json:"name"`
	FilePath string    `json:"file_path"`
	Handlers int       `json:"handlers"`
	Ports    []int     `json:"ports"`
	LoadedAt time.Time `json:"loaded_at"`
	Packets  int64     `json:"packets"`
	Errors   int64     `json:"errors"`
}

// Config holds engine settings.
type Config struct {
	Dir             string
	HandlerTimeout  time.Duration // 0 = no limit
	CommandTimeout  time.Duration // bound on sdr.command exchanges
	AllowCommands   bool          // packet handlers may use the control channel
	DecodeDisplay   bool
	VerifyIntegrity bool
}

// scriptState tracks a loaded script and its isolated Lua VM.
type scriptState struct {
	name           string
	filePath       string
	L              *lua.LState
	mod            *module
	loadedAt       time.Time
	packets        atomic.Int64
	errors         atomic.Int64
	handlerTimeout time.Duration
	decode         bool

	packetCh chan stream.Packet
	done     chan struct{}
}

// Engine manages packet hook scripts.
type Engine struct {
	mu      sync.RWMutex
	scripts map[string]*scriptState
	cfg     Config
	nc      *nats.Conn
	cmd     Commander
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// New creates a script engine. nc and cmd may be nil, in which case
// sdr.publish and sdr.command report an error to the script.
func New(cfg Config, nc *nats.Conn, cmd Commander, logger zerolog.Logger) *Engine {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	return &Engine{
		scripts: make(map[string]*scriptState),
		cfg:     cfg,
		nc:      nc,
		cmd:     cmd,
		logger:  logger.With().Str("component", "script").Logger(),
	}
}

// Stop stops the watcher and every script goroutine, and closes all LStates.
func (e *Engine) Stop() {
	e.mu.Lock()
	w := e.watcher
	e.watcher = nil
	old := e.scripts
	e.scripts = make(map[string]*scriptState)
	e.mu.Unlock()

	if w != nil {
		w.Close()
	}
	for _, ss := range old {
		stopScript(ss)
	}
	e.logger.Info().Msg("script engine stopped")
}

// Scripts returns a snapshot of all loaded scripts.
func (e *Engine) Scripts() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]Info, 0, len(e.scripts))
	for _, ss := range e.scripts {
		ports := make([]int, len(ss.mod.handlers))
		for i, h := range ss.mod.handlers {
			ports[i] = h.port
		}
		infos = append(infos, Info{
			Name:     ss.name,
			FilePath: ss.filePath,
			Handlers: len(ss.mod.handlers),
			Ports:    ports,
			LoadedAt: ss.loadedAt,
			Packets:  ss.packets.Load(),
			Errors:   ss.errors.Load(),
		})
	}
	return infos
}

// Count returns the number of loaded scripts.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.scripts)
}

// LoadScript loads a single Lua file, replacing any script of the same name.
func (e *Engine) LoadScript(name, filePath string) error {
	logger := e.logger.With().Str("script", name).Logger()

	if e.cfg.VerifyIntegrity {
		if err := verifyAgainstManifest(e.cfg.Dir, filePath); err != nil {
			return err
		}
		logger.Debug().Msg("integrity check passed")
	}

	L := NewSandboxedState(name, logger)
	mod := &module{
		name:           name,
		nc:             e.nc,
		cmd:            e.cmd,
		allowCommands:  e.cfg.AllowCommands,
		commandTimeout: e.cfg.CommandTimeout,
		logger:         logger,
	}
	registerModule(L, mod)

	if err := L.DoFile(filePath); err != nil {
		L.Close()
		return err
	}
	mod.sealed = true

	ss := &scriptState{
		name:           name,
		filePath:       filePath,
		L:              L,
		mod:            mod,
		loadedAt:       time.Now(),
		handlerTimeout: e.cfg.HandlerTimeout,
		decode:         e.cfg.DecodeDisplay,
		packetCh:       make(chan stream.Packet, packetQueueSize),
		done:           make(chan struct{}),
	}
	go ss.run()

	e.mu.Lock()
	old := e.scripts[name]
	e.scripts[name] = ss
	e.mu.Unlock()

	if old != nil {
		stopScript(old)
	}

	logger.Info().Int("handlers", len(mod.handlers)).Msg("loaded script")
	return nil
}

// UnloadScript stops and removes a script by name.
func (e *Engine) UnloadScript(name string) {
	e.mu.Lock()
	ss, ok := e.scripts[name]
	if ok {
		delete(e.scripts, name)
	}
	e.mu.Unlock()

	if ok {
		stopScript(ss)
		e.logger.Info().Str("script", name).Msg("unloaded script")
	}
}

// Handle routes p to every script with a handler for its port. It never
// blocks: a script whose backlog is full loses the packet.
func (e *Engine) Handle(_ context.Context, p stream.Packet) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ss := range e.scripts {
		if !ss.mod.wants(p.Port) {
			continue
		}
		select {
		case ss.packetCh <- p:
		default:
			ss.errors.Add(1)
			e.logger.Warn().
				Str("script", ss.name).
				Uint64("seq", p.Seq).
				Msg("script backlog full, dropping packet")
		}
	}
	return nil
}

// run processes packets sequentially on the script's own goroutine.
func (ss *scriptState) run() {
	defer close(ss.done)

	for p := range ss.packetCh {
		tbl := PacketToLua(ss.L, p, ss.decode)
		for _, h := range ss.mod.handlers {
			if h.port != 0 && h.port != p.Port {
				continue
			}
			ss.callHandler(h, p.Seq, tbl)
		}
		ss.packets.Add(1)
	}
}

// callHandler invokes one handler with an optional execution timeout.
func (ss *scriptState) callHandler(h handlerEntry, seq uint64, tbl *lua.LTable) {
	var cancel context.CancelFunc
	if ss.handlerTimeout > 0 {
		var ctx context.Context
		ctx, cancel = context.WithTimeout(context.Background(), ss.handlerTimeout)
		ss.L.SetContext(ctx)
	}

	err := ss.L.CallByParam(lua.P{
		Fn:      h.fn,
		NRet:    0,
		Protect: true,
	}, tbl)

	if cancel != nil {
		timedOut := ss.L.Context() != nil && ss.L.Context().Err() != nil
		cancel()
		ss.L.RemoveContext()
		if err != nil && timedOut {
			ss.errors.Add(1)
			ss.mod.logger.Error().
				Dur("timeout", ss.handlerTimeout).
				Uint64("seq", seq).
				Msg("handler timed out")
			return
		}
	}

	if err != nil {
		ss.errors.Add(1)
		ss.mod.logger.Error().Err(err).Uint64("seq", seq).Msg("handler error")
	}
}

// stopScript closes the packet channel, waits for the goroutine, then closes the LState.
func stopScript(ss *scriptState) {
	close(ss.packetCh)
	<-ss.done
	ss.L.Close()
}
