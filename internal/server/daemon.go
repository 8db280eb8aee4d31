package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/G3UKB/SDRLibE/internal/api"
	"github.com/G3UKB/SDRLibE/internal/exchange"
	"github.com/G3UKB/SDRLibE/internal/natsserver"
	"github.com/G3UKB/SDRLibE/internal/script"
	"github.com/G3UKB/SDRLibE/internal/stream"
	"github.com/G3UKB/SDRLibE/internal/transport"
	"github.com/G3UKB/SDRLibE/internal/workflow"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// eventSource is the source field of events published by the daemon.
const eventSource = "sdrd"

// Workflow states reported in the status.
const (
	WorkflowPending   = "pending"
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
	WorkflowDisabled  = "disabled"
)

// Daemon is the sdrd process.
type Daemon struct {
	cfg    Config
	logger zerolog.Logger

	nats       *natsserver.Server
	nc         *nats.Conn
	control    *transport.ControlChannel
	client     *exchange.Client
	streamCh   *transport.StreamChannel
	receiver   *stream.Receiver
	queue      *stream.Queue
	dispatcher *stream.Dispatcher
	recv       *stream.Handle
	scripts    *script.Engine
	hub        *api.Hub
	mqtt       mqtt.Client
	apiServer  *api.Server

	startedAt time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	ready     chan struct{}
	wg        sync.WaitGroup

	mu sync.Mutex
	wf protocol.WorkflowStatus
}

// NewDaemon creates a Daemon from config.
func NewDaemon(cfg Config, logger zerolog.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		ready:  make(chan struct{}),
		wf:     protocol.WorkflowStatus{State: WorkflowPending, Completed: []string{}},
	}
}

// Run starts all subsystems, runs the configuration workflow and blocks
// until a signal is received or Stop is called.
func (d *Daemon) Run() error {
	d.startedAt = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Event bus.
	if err := d.startBus(); err != nil {
		return err
	}

	// 2. Control channel. The workflow runs last but the API needs the client.
	control, err := transport.OpenControl(d.cfg.DeviceEndpoint(), d.cfg.Control.LocalPort, d.cfg.Control.Timeout)
	if err != nil {
		d.shutdown()
		return fmt.Errorf("open control channel: %w", err)
	}
	d.control = control
	d.client = exchange.New(control,
		exchange.WithMaxReply(d.cfg.Control.MaxDatagram),
		exchange.WithLogger(d.logger))

	// 3. Script engine.
	if d.cfg.Scripts.Enabled {
		d.startScripts()
	}

	// 4. API server.
	d.hub = api.NewHub(d.cfg.Stream.DecodeDisplay, d.logger)
	d.apiServer = api.New(d.cfg.Server.Socket, api.Deps{
		Status:  d.Status,
		Device:  d.client,
		Scripts: d.scripts,
		Hub:     d.hub,
	}, d.logger)
	ln, err := d.apiServer.Listen()
	if err != nil {
		d.shutdown()
		return fmt.Errorf("api listen: %w", err)
	}
	apiErrCh := make(chan error, 1)
	go func() {
		apiErrCh <- d.apiServer.Serve(ln)
	}()

	// 5. Stream receiver and dispatcher.
	if d.cfg.Stream.Enabled {
		if err := d.startStream(ctx); err != nil {
			d.shutdown()
			return err
		}
	}

	d.logger.Info().
		Str("device", d.cfg.DeviceEndpoint().String()).
		Str("socket", d.cfg.Server.Socket).
		Int("stream_port", d.StreamPort()).
		Msg("sdrd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			d.logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-d.stopCh:
			d.logger.Info().Msg("stop requested, shutting down")
		case err := <-apiErrCh:
			if err != nil {
				d.logger.Error().Err(err).Msg("API server error")
			}
		case <-ctx.Done():
		}
		cancel()
	}()
	close(d.ready)

	// 6. Configuration workflow.
	if d.cfg.Workflow.Enabled {
		d.runWorkflow(ctx)
	} else {
		d.mu.Lock()
		d.wf.State = WorkflowDisabled
		d.mu.Unlock()
	}

	<-ctx.Done()
	return d.shutdown()
}

// Stop signals the daemon to shut down. Safe to call from another goroutine.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Ready is closed once every subsystem is up and the workflow is about to run.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// NATSClientURL returns the embedded NATS server's client URL.
func (d *Daemon) NATSClientURL() string {
	if d.nats == nil {
		return d.cfg.NATS.URL
	}
	return d.nats.ClientURL()
}

// NATSConnectOpts returns NATS connection options for in-process connections.
func (d *Daemon) NATSConnectOpts() []nats.Option {
	if d.nats == nil {
		return nil
	}
	return []nats.Option{nats.InProcessServer(d.nats.NATSServer())}
}

// StreamPort returns the bound stream port, or 0 when the stream is disabled.
func (d *Daemon) StreamPort() int {
	if d.streamCh == nil {
		return 0
	}
	return d.streamCh.Port()
}

func (d *Daemon) startBus() error {
	if d.cfg.NATS.Embedded {
		ns, err := natsserver.New(natsserver.Config{
			Host:  d.cfg.NATS.Host,
			Port:  d.cfg.NATS.Port,
			Token: d.cfg.NATS.Token,
		}, d.logger)
		if err != nil {
			return fmt.Errorf("start nats: %w", err)
		}
		d.nats = ns
		d.nc = ns.Conn()
		return nil
	}

	nc, err := natsserver.Connect(d.cfg.NATS.URL, d.cfg.NATS.Token, "sdrd")
	if err != nil {
		return err
	}
	d.nc = nc
	d.logger.Info().Str("url", d.cfg.NATS.URL).Msg("connected to external NATS")
	return nil
}

func (d *Daemon) startScripts() {
	d.scripts = script.New(script.Config{
		Dir:             d.cfg.Scripts.Dir,
		HandlerTimeout:  d.cfg.Scripts.HandlerTimeout,
		CommandTimeout:  d.cfg.Control.Timeout,
		DecodeDisplay:   d.cfg.Stream.DecodeDisplay,
		VerifyIntegrity: d.cfg.Scripts.VerifyIntegrity,
		AllowCommands:   d.cfg.Scripts.AllowCommands,
	}, d.nc, d.client, d.logger)

	if err := d.scripts.LoadDir(); err != nil {
		d.logger.Error().Err(err).Msg("load scripts")
		return
	}
	if d.cfg.Scripts.HotReload {
		if err := d.scripts.StartWatcher(); err != nil {
			d.logger.Warn().Err(err).Msg("script hot reload disabled")
		}
	}
}

func (d *Daemon) startStream(ctx context.Context) error {
	ch, err := transport.OpenStream(transport.Endpoint{Host: d.cfg.Stream.Host, Port: d.cfg.Stream.Port})
	if err != nil {
		return fmt.Errorf("open stream channel: %w", err)
	}
	d.streamCh = ch

	d.queue = stream.NewQueue(d.cfg.Stream.QueueSize)
	d.dispatcher = stream.NewDispatcher(d.queue, d.logger)
	d.dispatcher.AddSink("nats", stream.NewNATSSink(d.nc, d.cfg.Stream.DecodeDisplay))
	d.dispatcher.AddSink("websocket", d.hub)
	if d.scripts != nil {
		d.dispatcher.AddSink("scripts", d.scripts)
	}
	if d.cfg.MQTT.Broker != "" {
		client, err := stream.ConnectMQTT(stream.MQTTConfig{
			Broker:   d.cfg.MQTT.Broker,
			Topic:    d.cfg.MQTT.Topic,
			ClientID: d.cfg.MQTT.ClientID,
			Username: d.cfg.MQTT.Username,
			Password: d.cfg.MQTT.Password,
			QoS:      byte(d.cfg.MQTT.QoS),
		})
		if err != nil {
			// The broker is optional; the rest of the stream still runs.
			d.logger.Error().Err(err).Msg("MQTT bridge disabled")
		} else {
			d.mqtt = client
			d.dispatcher.AddSink("mqtt", stream.NewMQTTSink(client, d.cfg.MQTT.Topic, byte(d.cfg.MQTT.QoS), d.cfg.Stream.DecodeDisplay))
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatcher.Run(ctx)
	}()

	d.receiver = &stream.Receiver{
		Source:      ch,
		Port:        ch.Port(),
		MaxDatagram: d.cfg.Stream.MaxDatagram,
		Backoff:     d.cfg.Stream.Backoff,
		Wait:        d.cfg.Stream.PollWait,
		Logger:      d.logger.With().Str("component", "stream").Logger(),
	}
	queue := d.queue
	d.recv = d.receiver.Start(ctx, func(p stream.Packet) { queue.Push(p) })

	d.logger.Info().
		Int("port", ch.Port()).
		Strs("sinks", d.dispatcher.Sinks()).
		Msg("stream receiver started")
	return nil
}

func (d *Daemon) runWorkflow(ctx context.Context) {
	d.mu.Lock()
	d.wf.State = WorkflowRunning
	d.mu.Unlock()

	wf := workflow.New(d.client, d.cfg.WorkflowParams(),
		workflow.WithObserver(d.observeStep),
		workflow.WithLogger(d.logger))
	res, err := wf.Run(ctx)

	d.mu.Lock()
	d.wf.FinishedAt = time.Now()
	if err != nil {
		d.wf.State = WorkflowFailed
		d.wf.Error = err.Error()
	} else {
		d.wf.State = WorkflowCompleted
		d.wf.Output = res.Output
	}
	d.mu.Unlock()

	if err != nil {
		step := ""
		var se *workflow.StepError
		if errors.As(err, &se) {
			step = se.Step
		}
		d.logger.Error().Err(err).Str("step", step).Msg("configuration workflow failed, stream keeps running")
		d.publishWorkflow(protocol.EventWorkflowFailed, map[string]any{
			"step":      step,
			"error":     err.Error(),
			"completed": res.Completed,
		})
		return
	}

	payload := map[string]any{"completed": res.Completed}
	if res.Output != nil {
		payload["output"] = map[string]any{"api": res.Output.API, "name": res.Output.Name, "index": res.Output.Index}
	}
	d.publishWorkflow(protocol.EventWorkflowComplete, payload)
}

func (d *Daemon) observeStep(r workflow.StepReport) {
	d.mu.Lock()
	d.wf.Step = r.Step
	if r.Err == nil {
		d.wf.Completed = append(d.wf.Completed, r.Step)
	}
	d.mu.Unlock()

	payload := map[string]any{
		"step":        r.Step,
		"index":       r.Index,
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Command != nil {
		payload["cmd"] = r.Command.Cmd
	}
	if r.Response != nil {
		payload["resp"] = r.Response.Status()
	}
	if r.Err != nil {
		payload["error"] = r.Err.Error()
	}
	d.publishWorkflow(protocol.EventWorkflowStep, payload)
}

func (d *Daemon) publishWorkflow(eventType string, payload map[string]any) {
	if d.nc == nil {
		return
	}
	data, err := json.Marshal(protocol.NewEvent(eventType, eventSource, payload))
	if err != nil {
		d.logger.Error().Err(err).Str("type", eventType).Msg("marshal workflow event")
		return
	}
	if err := d.nc.Publish(protocol.SubjectWorkflow, data); err != nil {
		d.logger.Warn().Err(err).Str("type", eventType).Msg("publish workflow event")
	}
}

// Status reports the daemon's current state.
func (d *Daemon) Status() protocol.StatusResponse {
	d.mu.Lock()
	wf := d.wf
	wf.Completed = append([]string{}, d.wf.Completed...)
	d.mu.Unlock()

	resp := protocol.StatusResponse{
		Status:      "ok",
		Uptime:      time.Since(d.startedAt).Truncate(time.Second).String(),
		NATSRunning: d.nc != nil && d.nc.IsConnected(),
		StartedAt:   d.startedAt,
		Device:      d.cfg.DeviceEndpoint().String(),
		Workflow:    wf,
	}
	if d.receiver != nil {
		resp.Stream = d.receiver.Stats()
		resp.Stream.Dropped = d.queue.Dropped()
		resp.Stream.SinkErrors = d.dispatcher.SinkErrors()
	}
	if d.client != nil {
		resp.Exchanges = d.client.Stats()
	}
	if d.scripts != nil {
		resp.Scripts = d.scripts.Count()
	}
	return resp
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if d.recv != nil {
		d.recv.Stop()
	}
	d.wg.Wait()
	if d.streamCh != nil {
		d.streamCh.Close()
	}
	if d.apiServer != nil {
		d.apiServer.Shutdown(ctx)
	}
	if d.hub != nil {
		d.hub.Close()
	}
	if d.scripts != nil {
		d.scripts.Stop()
	}
	if d.mqtt != nil {
		d.mqtt.Disconnect(250)
	}
	if d.control != nil {
		d.control.Close()
	}
	if d.nats != nil {
		d.nats.Shutdown()
	} else if d.nc != nil {
		d.nc.Drain()
	}
	d.logger.Info().Msg("sdrd stopped")
	return nil
}
