// Package mcp exposes the sdrd daemon to AI assistants as MCP tools.
package mcp

import (
	"context"
	"log"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// MCPServer exposes sdrd capabilities to AI assistants via MCP.
type MCPServer struct {
	api    DaemonAPI
	nc     *nats.Conn
	logger zerolog.Logger

	// Overridable for testing.
	natsOpts []nats.Option
}

// New creates an MCPServer. Call Run() to start serving on stdio.
func New(cfg Config, logger zerolog.Logger) *MCPServer {
	s := &MCPServer{
		api:    NewAPIClient(cfg.Daemon.Socket),
		logger: logger.With().Str("component", "mcp").Logger(),
	}
	s.natsOpts = append(s.natsOpts, nats.Name("sdr-mcp"))
	if cfg.NATS.Token != "" {
		s.natsOpts = append(s.natsOpts, nats.Token(cfg.NATS.Token))
	}
	return s
}

// SetDaemonAPI overrides the daemon API client. Intended for testing with a mock.
func (s *MCPServer) SetDaemonAPI(api DaemonAPI) {
	s.api = api
}

// SetNATSOpts sets NATS connection options. Must be called before Run().
func (s *MCPServer) SetNATSOpts(opts []nats.Option) {
	s.natsOpts = opts
}

// Run registers MCP tools and serves on stdio. When natsURL is set it also
// connects to NATS for the stream tools. It blocks until stdin is closed or
// the context is cancelled.
func (s *MCPServer) Run(ctx context.Context, natsURL string) error {
	if natsURL != "" {
		nc, err := nats.Connect(natsURL, s.natsOpts...)
		if err != nil {
			return err
		}
		defer nc.Close()
		s.nc = nc
	}

	srv := mcpserver.NewMCPServer(
		"sdr",
		"0.1.0",
		mcpserver.WithRecovery(),
	)

	s.registerTools(srv)

	stdio := mcpserver.NewStdioServer(srv)
	stdio.SetErrorLogger(log.New(os.Stderr, "", log.LstdFlags))

	s.logger.Info().Bool("nats", s.nc != nil).Msg("MCP server starting on stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *MCPServer) registerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcplib.NewTool("get_status",
			mcplib.WithDescription("Get sdrd status: uptime, configuration workflow progress, stream counters and control channel counters"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetStatus,
	)

	srv.AddTool(
		mcplib.NewTool("list_outputs",
			mcplib.WithDescription("Enumerate the audio output devices reported by the radio connector"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleListOutputs,
	)

	srv.AddTool(
		mcplib.NewTool("send_command",
			mcplib.WithDescription("Send one control command to the radio connector and return its reply (e.g. set_rx1_freq, set_rx1_mode, radio_stop)"),
			mcplib.WithString("cmd", mcplib.Required(), mcplib.Description("Command name, e.g. \"set_rx1_freq\"")),
			mcplib.WithArray("params", mcplib.Description("Positional command parameters, e.g. [7.1]")),
		),
		s.handleSendCommand,
	)

	srv.AddTool(
		mcplib.NewTool("list_scripts",
			mcplib.WithDescription("List loaded Lua packet scripts with their handler ports, packet counts and error counts"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleListScripts,
	)

	srv.AddTool(
		mcplib.NewTool("reload_scripts",
			mcplib.WithDescription("Hot-reload all Lua packet scripts from disk"),
		),
		s.handleReloadScripts,
	)

	srv.AddTool(
		mcplib.NewTool("next_packet",
			mcplib.WithDescription("Wait for the next stream packet event from the radio (display meter and spectrum bins)"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithNumber("port", mcplib.Description("Stream port to watch; all ports when omitted")),
			mcplib.WithNumber("timeout_ms", mcplib.Description("How long to wait, default 5000")),
		),
		s.handleNextPacket,
	)
}
