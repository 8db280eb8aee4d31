package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/G3UKB/SDRLibE/internal/logging"
	"github.com/G3UKB/SDRLibE/internal/server"
	"github.com/G3UKB/SDRLibE/internal/simulator"
	"github.com/G3UKB/SDRLibE/internal/workflow"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// freeUDPPort returns a port that was free a moment ago.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func startSimulator(t *testing.T, cfg simulator.Config) *simulator.Simulator {
	t.Helper()
	sim, err := simulator.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sim
}

func testConfig(t *testing.T, devicePort, streamPort int) server.Config {
	t.Helper()
	// Unix socket paths are length limited; t.TempDir can be too deep.
	sockDir, err := os.MkdirTemp("", "sdrd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	wf := workflow.DefaultParams()
	return server.Config{
		Device:  server.DeviceConfig{Host: "127.0.0.1", Port: devicePort},
		Control: server.ControlConfig{Timeout: time.Second, MaxDatagram: 4096},
		Stream: server.StreamConfig{
			Enabled:       true,
			Host:          "127.0.0.1",
			Port:          streamPort,
			MaxDatagram:   8192,
			Backoff:       10 * time.Millisecond,
			PollWait:      50 * time.Millisecond,
			QueueSize:     64,
			DecodeDisplay: true,
		},
		Workflow: server.WorkflowConfig{
			Enabled:       true,
			OutputIndex:   wf.OutputIndex,
			Direction:     wf.Direction,
			Location:      wf.Location,
			Receiver:      wf.Receiver,
			ChannelMode:   wf.ChannelMode,
			RadioSelector: wf.RadioSelector,
			Display:       wf.Display[:],
			FailOnNak:     true,
		},
		NATS:    server.NATSConfig{Embedded: true},
		Scripts: server.ScriptsConfig{Enabled: true, Dir: t.TempDir(), HandlerTimeout: time.Second},
		Server:  server.ServerConfig{Socket: filepath.Join(sockDir, "sdrd.sock")},
		Log:     logging.Config{Level: "info"},
	}
}

func startDaemon(t *testing.T, cfg server.Config) *server.Daemon {
	t.Helper()
	d := server.NewDaemon(cfg, zerolog.Nop())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run() }()

	select {
	case <-d.Ready():
	case err := <-errCh:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not become ready")
	}
	t.Cleanup(func() {
		d.Stop()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("daemon run: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return d
}

func unixClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

func getStatus(t *testing.T, client *http.Client) protocol.StatusResponse {
	t.Helper()
	resp, err := client.Get("http://sdrd/api/v1/status")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()
	var status protocol.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return status
}

// waitStatus polls the status endpoint until cond holds.
func waitStatus(t *testing.T, client *http.Client, what string, cond func(protocol.StatusResponse) bool) protocol.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		status := getStatus(t, client)
		if cond(status) {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last status %+v", what, status)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestEndToEnd(t *testing.T) {
	streamPort := freeUDPPort(t)
	sim := startSimulator(t, simulator.Config{
		DisplayPorts: [3]int{streamPort, 1, 1},
		Period:       50 * time.Millisecond,
		Width:        32,
	})

	cfg := testConfig(t, sim.Port(), streamPort)
	script := `sdr.on_packet(function(pkt) sdr.publish("test.script", "seen", { seq = pkt.seq, bins = #pkt.bins }) end)`
	if err := os.WriteFile(filepath.Join(cfg.Scripts.Dir, "seen.lua"), []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	d := startDaemon(t, cfg)
	client := unixClient(cfg.Server.Socket)

	nc, err := nats.Connect(d.NATSClientURL(), d.NATSConnectOpts()...)
	if err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	defer nc.Close()

	streamMsgs := make(chan *nats.Msg, 16)
	if _, err := nc.ChanSubscribe(protocol.SubjectStreamAll, streamMsgs); err != nil {
		t.Fatal(err)
	}
	scriptMsgs := make(chan *nats.Msg, 16)
	if _, err := nc.ChanSubscribe("test.script", scriptMsgs); err != nil {
		t.Fatal(err)
	}

	status := waitStatus(t, client, "workflow completion", func(s protocol.StatusResponse) bool {
		return s.Workflow.State == server.WorkflowCompleted || s.Workflow.State == server.WorkflowFailed
	})
	if status.Workflow.State != server.WorkflowCompleted {
		t.Fatalf("workflow %s: %s", status.Workflow.State, status.Workflow.Error)
	}
	if len(status.Workflow.Completed) != len(workflow.Steps()) {
		t.Fatalf("expected %d completed steps, got %v", len(workflow.Steps()), status.Workflow.Completed)
	}
	if status.Workflow.Output == nil || status.Workflow.Output.Name != simulator.DefaultOutputs()[1].Name {
		t.Fatalf("unexpected selected output %+v", status.Workflow.Output)
	}
	if status.Scripts != 1 {
		t.Fatalf("expected 1 script, got %d", status.Scripts)
	}

	want := []string{"radio_discover", "enum_outputs", "set_audio_route", "server_start", "radio_start", "set_disp_status"}
	got := sim.Commands()
	if len(got) != len(want) {
		t.Fatalf("simulator saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d: got %s, want %s", i, got[i], want[i])
		}
	}

	// Display frames flow to NATS.
	select {
	case msg := <-streamMsgs:
		var ev protocol.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type != protocol.EventStreamPacket {
			t.Fatalf("unexpected event type %s", ev.Type)
		}
		bins, _ := ev.Payload["bins"].([]any)
		if len(bins) != 32 {
			t.Fatalf("expected 32 bins, got %d", len(bins))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no stream event on NATS")
	}

	// And through the Lua hook.
	select {
	case msg := <-scriptMsgs:
		var ev protocol.Event
		json.Unmarshal(msg.Data, &ev)
		if ev.Source != "script:seen" {
			t.Fatalf("unexpected source %s", ev.Source)
		}
		if ev.Payload["bins"] != float64(32) {
			t.Fatalf("expected bins=32, got %v", ev.Payload["bins"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event from script")
	}

	status = waitStatus(t, client, "stream packets", func(s protocol.StatusResponse) bool {
		return s.Stream.Packets > 0
	})
	if !status.Stream.Running || status.Stream.Port != streamPort {
		t.Fatalf("unexpected stream status %+v", status.Stream)
	}
	if status.Exchanges.Total < 6 {
		t.Fatalf("expected at least 6 exchanges, got %d", status.Exchanges.Total)
	}

	// Ad hoc command through the API.
	resp, err := client.Post("http://sdrd/api/v1/command", "application/json",
		bytes.NewBufferString(`{"cmd":"set_rx1_freq","params":[7.1]}`))
	if err != nil {
		t.Fatal(err)
	}
	var cr protocol.CommandResponse
	json.NewDecoder(resp.Body).Decode(&cr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || cr.Response.Status() != protocol.StatusAck {
		t.Fatalf("command: status %d, reply %v", resp.StatusCode, cr.Response)
	}
}

func TestWorkflowFailureKeepsStreamRunning(t *testing.T) {
	streamPort := freeUDPPort(t)
	sim := startSimulator(t, simulator.Config{
		DisplayPorts: [3]int{streamPort, 1, 1},
		Period:       50 * time.Millisecond,
		Width:        16,
		Reject:       []string{"server_start"},
	})

	cfg := testConfig(t, sim.Port(), streamPort)
	cfg.Scripts.Enabled = false
	d := startDaemon(t, cfg)
	client := unixClient(cfg.Server.Socket)

	nc, err := nats.Connect(d.NATSClientURL(), d.NATSConnectOpts()...)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	status := waitStatus(t, client, "workflow failure", func(s protocol.StatusResponse) bool {
		return s.Workflow.State == server.WorkflowFailed
	})
	if status.Workflow.Step != workflow.StepServerStart {
		t.Fatalf("expected failure at %s, got %s", workflow.StepServerStart, status.Workflow.Step)
	}
	if len(status.Workflow.Completed) != 3 {
		t.Fatalf("expected 3 completed steps, got %v", status.Workflow.Completed)
	}

	// Turn the display on by hand; the receiver is still polling.
	resp, err := client.Post("http://sdrd/api/v1/command", "application/json",
		bytes.NewBufferString(`{"cmd":"set_disp_state","params":[true,false,false]}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("command returned %d", resp.StatusCode)
	}

	waitStatus(t, client, "stream packets after failure", func(s protocol.StatusResponse) bool {
		return s.Stream.Packets > 0
	})
}

func TestWorkflowDisabled(t *testing.T) {
	sim := startSimulator(t, simulator.Config{})
	cfg := testConfig(t, sim.Port(), 0)
	cfg.Workflow.Enabled = false
	cfg.Scripts.Enabled = false

	d := startDaemon(t, cfg)
	if d.StreamPort() == 0 {
		t.Fatal("expected an ephemeral stream port")
	}
	client := unixClient(cfg.Server.Socket)

	status := waitStatus(t, client, "disabled workflow", func(s protocol.StatusResponse) bool {
		return s.Workflow.State == server.WorkflowDisabled
	})
	if !status.NATSRunning {
		t.Fatal("expected NATS running")
	}
	if n := len(sim.Commands()); n != 0 {
		t.Fatalf("expected no commands, simulator saw %d", n)
	}
}
