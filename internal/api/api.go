package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/G3UKB/SDRLibE/internal/codec"
	"github.com/G3UKB/SDRLibE/internal/script"
	"github.com/G3UKB/SDRLibE/internal/transport"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// Device sends commands to the connector. *exchange.Client implements it.
type Device interface {
	Exchange(ctx context.Context, cmd protocol.Command) (protocol.Response, error)
}

// Deps are the daemon components the API exposes. Any field may be nil
// except Status.
type Deps struct {
	Status  func() protocol.StatusResponse
	Device  Device
	Scripts *script.Engine
	Hub     *Hub
}

// Server serves the sdrd control API over a Unix socket.
type Server struct {
	socketPath string
	deps       Deps
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates an API server.
func New(socketPath string, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		deps:       deps,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/outputs", s.handleOutputs)
	mux.HandleFunc("GET /api/v1/inputs", s.handleInputs)
	mux.HandleFunc("POST /api/v1/command", s.handleCommand)
	mux.HandleFunc("GET /api/v1/scripts", s.handleScripts)
	mux.HandleFunc("POST /api/v1/scripts/reload", s.handleScriptsReload)
	if deps.Hub != nil {
		mux.Handle("GET /api/v1/stream/ws", deps.Hub)
	}

	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the route mux, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens on the Unix socket and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Listen binds the Unix socket, replacing a stale one, and restricts it to
// the owner.
func (s *Server) Listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return nil, err
	}
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return nil, err
	}
	s.logger.Info().Str("socket", s.socketPath).Msg("API server listening")
	return ln, nil
}

// Serve handles requests on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// exchangeStatus maps an exchange failure to an HTTP status.
func exchangeStatus(err error) int {
	switch {
	case errors.Is(err, codec.ErrEncode):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Status())
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	s.handleEnum(w, r, protocol.EnumOutputs(), protocol.Response.Outputs)
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	s.handleEnum(w, r, protocol.EnumInputs(), protocol.Response.Inputs)
}

func (s *Server) handleEnum(w http.ResponseWriter, r *http.Request, cmd protocol.Command,
	extract func(protocol.Response) ([]protocol.OutputDescriptor, error)) {

	if s.deps.Device == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("control channel not open"))
		return
	}
	resp, err := s.deps.Device.Exchange(r.Context(), cmd)
	if err != nil {
		s.logger.Warn().Err(err).Str("cmd", cmd.Cmd).Msg("enumeration failed")
		writeError(w, exchangeStatus(err), err)
		return
	}
	list, err := extract(resp)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OutputsResponse{Outputs: list})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req protocol.CommandRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Cmd == "" {
		writeError(w, http.StatusBadRequest, errors.New("cmd is required"))
		return
	}
	if s.deps.Device == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("control channel not open"))
		return
	}

	cmd := protocol.NewCommand(req.Cmd, normalizeParams(req.Params)...)
	resp, err := s.deps.Device.Exchange(r.Context(), cmd)
	if err != nil {
		s.logger.Warn().Err(err).Str("cmd", req.Cmd).Msg("command failed")
		writeError(w, exchangeStatus(err), err)
		return
	}
	s.logger.Info().Str("cmd", req.Cmd).Str("resp", resp.Status()).Msg("command sent")
	writeJSON(w, http.StatusOK, protocol.CommandResponse{Cmd: req.Cmd, Response: resp})
}

// normalizeParams turns json.Number into int64 or float64 so integers
// reach the device without a fractional part.
func normalizeParams(params []any) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = normalize(p)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []any:
		return normalizeParams(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = normalize(x)
		}
		return m
	default:
		return v
	}
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	infos := []script.Info{}
	if s.deps.Scripts != nil {
		infos = append(infos, s.deps.Scripts.Scripts()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": infos})
}

func (s *Server) handleScriptsReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scripts == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("script engine not enabled"))
		return
	}
	if err := s.deps.Scripts.ReloadAll(); err != nil {
		s.logger.Error().Err(err).Msg("script reload failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "scripts": s.deps.Scripts.Count()})
}
