package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G3UKB/SDRLibE/internal/api"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

func TestParseParams(t *testing.T) {
	got := parseParams([]string{"7.1", "true", "LOCAL", `"quoted"`, "[1,2]", "3"})
	assert.Equal(t, []any{7.1, true, "LOCAL", "quoted", []any{float64(1), float64(2)}, float64(3)}, got)
	assert.NotNil(t, parseParams(nil))
	assert.Empty(t, parseParams(nil))
}

func TestFormatPacket(t *testing.T) {
	ev := protocol.NewEvent(protocol.EventStreamPacket, "sdr:stream", map[string]any{
		"seq": float64(3), "port": float64(10011), "size": float64(16),
		"meter": -73.5, "bins": []any{-120.0, -60.0, -110.0},
	})
	line := formatPacket(ev)
	assert.Contains(t, line, "#3 port 10011 16 bytes")
	assert.Contains(t, line, "meter -73.5 dBm")
	assert.Contains(t, line, "peak -60.0 at bin 1/3")

	raw := protocol.NewEvent(protocol.EventStreamPacket, "sdr:stream", map[string]any{
		"seq": float64(4), "port": float64(10011), "size": float64(5), "data": "AQIDBAU=",
	})
	assert.NotContains(t, formatPacket(raw), "meter")
}

func TestFormatPorts(t *testing.T) {
	assert.Equal(t, "all", formatPorts(nil))
	assert.Equal(t, "10011, 10012", formatPorts([]int{10011, 10012}))
}

type stubDevice struct {
	err error
}

func (s stubDevice) Exchange(_ context.Context, cmd protocol.Command) (protocol.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return protocol.Response{"resp": "ACK", "echo": cmd.Cmd}, nil
}

func startAPI(t *testing.T, dev api.Device) {
	t.Helper()
	dir, err := os.MkdirTemp("", "sdrctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	sock := filepath.Join(dir, "sdrd.sock")
	srv := api.New(sock, api.Deps{
		Status: func() protocol.StatusResponse { return protocol.StatusResponse{Status: "ok"} },
		Device: dev,
	}, zerolog.Nop())
	ln, err := srv.Listen()
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	old := socketPath
	socketPath = sock
	t.Cleanup(func() { socketPath = old })
}

func TestAPIHelpers(t *testing.T) {
	startAPI(t, stubDevice{})

	var status protocol.StatusResponse
	require.NoError(t, apiGet("/api/v1/status", &status))
	assert.Equal(t, "ok", status.Status)

	var resp protocol.CommandResponse
	require.NoError(t, apiPost("/api/v1/command", protocol.CommandRequest{Cmd: "poll", Params: []any{}}, &resp))
	assert.Equal(t, "poll", resp.Response["echo"])
}

func TestAPIErrorsCarryMessage(t *testing.T) {
	startAPI(t, stubDevice{err: errors.New("device unplugged")})

	err := apiPost("/api/v1/command", protocol.CommandRequest{Cmd: "poll"}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "502") && strings.Contains(err.Error(), "device unplugged"), err.Error())
}

func TestAPIUnreachable(t *testing.T) {
	old := socketPath
	socketPath = filepath.Join(t.TempDir(), "missing.sock")
	defer func() { socketPath = old }()

	err := apiGet("/api/v1/status", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot connect to sdrd")
}
