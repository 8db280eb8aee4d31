// Package simulator is a UDP stand-in for the SDRLibE connector. It answers
// the control protocol with ACK/NAK and enumeration replies and pushes
// periodic display frames to the client's stream ports.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/G3UKB/SDRLibE/internal/stream"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// Connector defaults.
const (
	DefaultPort          = 10010
	DefaultDisplayPeriod = 200 * time.Millisecond
	DefaultDisplayWidth  = 300
	MaxDisplayWidth      = 1920
	maxCommandSize       = 1024
	tick                 = 25 * time.Millisecond
)

// DefaultDisplayPorts are the client ports of displays 1 to 3.
var DefaultDisplayPorts = [3]int{10011, 10012, 10013}

// knownCommands is the connector's dispatch table. Anything else gets no reply.
var knownCommands = map[string]bool{}

func init() {
	for _, c := range []string{
		"poll", "set_rx1_freq", "set_rx2_freq", "set_rx3_freq", "set_tx_freq",
		"set_rx1_mode", "set_rx2_mode", "set_rx3_mode", "set_tx_mode",
		"set_rx1_filter", "set_rx2_filter", "set_rx3_filter", "set_tx_filter",
		"set_rx1_agc", "set_rx2_agc", "set_rx3_agc",
		"set_rx1_gain", "set_rx2_gain", "set_rx3_gain",
		"set_in_rate", "set_out_rate", "set_iq_blk_sz", "set_mic_blk_sz", "set_duplex",
		"set_fft_size", "set_window_type", "set_av_mode", "set_display_width",
		"set_audio_route", "server_start", "terminate", "radio_discover", "radio_start", "radio_stop",
		"wisdom", "enum_inputs", "enum_outputs", "change_outputs", "revert_outputs",
		"local_audio_run", "clear_audio_routes", "restart_audio_routes",
		"set_disp_period", "set_disp_state", "set_disp_status", "set_num_rx",
		"set_hf_pre", "set_attn", "set_alex_auto", "set_hf_bypass",
		"set_lpf_30_20", "set_lpf_60_40", "set_lpf_80", "set_lpf_160", "set_lpf_6",
		"set_lpf_12_10", "set_lpf_17_15",
		"set_hpf_13", "set_hpf_20", "set_hpf_9_5", "set_hpf_6_5", "set_hpf_1_5",
	} {
		knownCommands[c] = true
	}
}

// Config configures a Simulator.
type Config struct {
	Host         string // listen host, default 127.0.0.1
	Port         int    // control port, 0 = ephemeral
	ClientHost   string // where display frames go, default 127.0.0.1
	DisplayPorts [3]int
	Period       time.Duration
	Width        int
	Outputs      []protocol.OutputDescriptor
	Inputs       []protocol.OutputDescriptor
	Reject       []string // commands answered with NAK
	Silent       []string // commands that get no reply
}

// DefaultOutputs is the enumeration returned when Config.Outputs is empty.
func DefaultOutputs() []protocol.OutputDescriptor {
	return []protocol.OutputDescriptor{
		{API: "MME", Name: "Microsoft Sound Mapper - Output", Index: 0, Direction: 1, Channels: 2},
		{API: "MME", Name: "Speakers (Realtek High Definition Audio)", Index: 1, Direction: 1, Channels: 2},
		{API: "Windows DirectSound", Name: "Primary Sound Driver", Index: 2, Direction: 1, Channels: 2},
	}
}

// DefaultInputs is the enumeration returned when Config.Inputs is empty.
func DefaultInputs() []protocol.OutputDescriptor {
	return []protocol.OutputDescriptor{
		{API: "MME", Name: "Microsoft Sound Mapper - Input", Index: 0, Direction: 0, Channels: 2},
		{API: "MME", Name: "Microphone (Realtek High Definition Audio)", Index: 1, Direction: 0, Channels: 2},
	}
}

// Simulator is a running fake connector.
type Simulator struct {
	cfg    Config
	conn   *net.UDPConn
	reject map[string]bool
	silent map[string]bool
	logger zerolog.Logger

	mu       sync.Mutex
	received []protocol.Command
	running  [3]bool
	period   time.Duration
	width    int
	frames   [3]int64
	started  bool
}

// New binds the control socket.
func New(cfg Config, logger zerolog.Logger) (*Simulator, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ClientHost == "" {
		cfg.ClientHost = "127.0.0.1"
	}
	if cfg.DisplayPorts == [3]int{} {
		cfg.DisplayPorts = DefaultDisplayPorts
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultDisplayPeriod
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultDisplayWidth
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = DefaultOutputs()
	}
	if len(cfg.Inputs) == 0 {
		cfg.Inputs = DefaultInputs()
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Host, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Simulator{
		cfg:    cfg,
		conn:   conn,
		reject: toSet(cfg.Reject),
		silent: toSet(cfg.Silent),
		period: cfg.Period,
		width:  min(cfg.Width, MaxDisplayWidth),
		logger: logger.With().Str("component", "simulator").Logger(),
	}
	return s, nil
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, s := range list {
		m[s] = true
	}
	return m
}

// Addr returns the bound control address.
func (s *Simulator) Addr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }

// Port returns the bound control port.
func (s *Simulator) Port() int { return s.Addr().Port }

// Received returns a copy of every command received so far.
func (s *Simulator) Received() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Command(nil), s.received...)
}

// Commands returns the names of the received commands in order.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.received))
	for i, c := range s.received {
		names[i] = c.Cmd
	}
	return names
}

// Displays reports which display streams are running.
func (s *Simulator) Displays() [3]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FramesSent returns the number of frames sent per display.
func (s *Simulator) FramesSent() [3]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Started reports whether server_start has been received.
func (s *Simulator) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Run serves commands and pushes display frames until ctx is cancelled.
// The socket is closed on return.
func (s *Simulator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.conn.Close()
	}()
	go func() {
		defer wg.Done()
		s.displayLoop(ctx)
	}()
	defer wg.Wait()

	s.logger.Info().Str("addr", s.Addr().String()).Msg("simulator listening")

	buf := make([]byte, maxCommandSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		reply := s.handle(buf[:n])
		if reply == nil {
			continue
		}
		if _, err := s.conn.WriteToUDP(reply, from); err != nil {
			s.logger.Warn().Err(err).Msg("write reply failed")
		}
	}
}

// handle dispatches one command datagram and returns the reply, or nil
// when the connector would stay silent.
func (s *Simulator) handle(data []byte) []byte {
	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Cmd == "" {
		s.logger.Warn().Int("size", len(data)).Msg("unparseable command dropped")
		return nil
	}

	s.mu.Lock()
	s.received = append(s.received, cmd)
	s.mu.Unlock()

	log := s.logger.Debug().Str("cmd", cmd.Cmd).Interface("params", cmd.Params)
	switch {
	case !knownCommands[cmd.Cmd]:
		log.Msg("unknown command ignored")
		return nil
	case s.silent[cmd.Cmd]:
		log.Msg("command not answered")
		return nil
	case s.reject[cmd.Cmd]:
		log.Msg("command rejected")
		return encode(protocol.Response{"resp": protocol.StatusNak})
	}
	log.Msg("command")

	switch cmd.Cmd {
	case protocol.CmdEnumOutputs:
		return encode(protocol.Response{"outputs": descriptors(s.cfg.Outputs)})
	case protocol.CmdEnumInputs:
		return encode(protocol.Response{"inputs": descriptors(s.cfg.Inputs)})
	case protocol.CmdServerStart:
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
	case protocol.CmdSetDispStatus, protocol.CmdSetDispState:
		s.setDisplays(cmd.Params)
	case protocol.CmdSetDispPeriod:
		if ms, ok := intParam(cmd.Params, 0); ok && ms > 0 {
			s.mu.Lock()
			s.period = time.Duration(ms) * time.Millisecond
			s.mu.Unlock()
		} else {
			return encode(protocol.Response{"resp": protocol.StatusNak})
		}
	case protocol.CmdSetDispWidth:
		if w, ok := intParam(cmd.Params, 0); ok && w > 0 {
			s.mu.Lock()
			s.width = min(w, MaxDisplayWidth)
			s.mu.Unlock()
		} else {
			return encode(protocol.Response{"resp": protocol.StatusNak})
		}
	case protocol.CmdTerminate, protocol.CmdRadioStop:
		s.mu.Lock()
		s.running = [3]bool{}
		s.mu.Unlock()
	}
	return encode(protocol.Response{"resp": protocol.StatusAck})
}

func (s *Simulator) setDisplays(params []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.running {
		if i < len(params) {
			b, _ := params[i].(bool)
			s.running[i] = b
		}
	}
}

func intParam(params []any, i int) (int, bool) {
	if i >= len(params) {
		return 0, false
	}
	f, ok := params[i].(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func descriptors(list []protocol.OutputDescriptor) []any {
	out := make([]any, len(list))
	for i, d := range list {
		out[i] = map[string]any{
			"api":       d.API,
			"name":      d.Name,
			"index":     d.Index,
			"direction": d.Direction,
			"channels":  d.Channels,
		}
	}
	return out
}

func encode(r protocol.Response) []byte {
	data, _ := json.Marshal(r)
	return data
}

// displayLoop wakes every tick and sends a frame to each running display
// once per period.
func (s *Simulator) displayLoop(ctx context.Context) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var last time.Time
	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			running, period, width := s.running, s.period, s.width
			s.mu.Unlock()
			if running == [3]bool{} || now.Sub(last) < period {
				continue
			}
			last = now
			n++
			for i, on := range running {
				if on {
					s.sendFrame(i, syntheticFrame(width, n, i))
				}
			}
		}
	}
}

func (s *Simulator) sendFrame(display int, frame stream.DisplayFrame) {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.ClientHost), Port: s.cfg.DisplayPorts[display]}
	if _, err := s.conn.WriteToUDP(stream.EncodeDisplayFrame(frame), addr); err != nil {
		s.logger.Debug().Err(err).Int("display", display+1).Msg("frame send failed")
		return
	}
	s.mu.Lock()
	s.frames[display]++
	s.mu.Unlock()
}

// syntheticFrame is a noise floor with one drifting carrier.
func syntheticFrame(width, n, display int) stream.DisplayFrame {
	bins := make([]float32, width)
	peak := (n*7 + display*width/3) % width
	for i := range bins {
		d := float64(i - peak)
		bins[i] = float32(-120 + 5*math.Sin(float64(i+n)*0.7) + 70*math.Exp(-d*d/8))
	}
	meter := float32(-73 + 10*math.Sin(float64(n)*0.3))
	return stream.DisplayFrame{Meter: meter, Bins: bins}
}
