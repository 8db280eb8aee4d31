// Package workflow drives the connector's configuration sequence: discover
// the radio, enumerate audio outputs, route audio to one of them, start the
// server and radio, then enable the display streams.
//
// Later steps depend on replies to earlier ones, so the steps run strictly
// in order and the first failure aborts the rest.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// Step names, in execution order.
const (
	StepDiscover      = "discover"
	StepEnumOutputs   = "enum_outputs"
	StepSetAudioRoute = "set_audio_route"
	StepServerStart   = "server_start"
	StepRadioStart    = "radio_start"
	StepSetDispStatus = "set_disp_status"
)

// Exchanger sends one command and returns its reply. *exchange.Client implements it.
type Exchanger interface {
	Exchange(ctx context.Context, cmd protocol.Command) (protocol.Response, error)
}

// Params are the caller-chosen inputs of the sequence.
type Params struct {
	OutputIndex   int     // index into the enum_outputs list
	Direction     int     // set_audio_route direction
	Location      string  // set_audio_route location
	Receiver      int     // set_audio_route receiver
	ChannelMode   string  // set_audio_route channel mode
	RadioSelector int     // radio_start argument
	Display       [3]bool // set_disp_status flags
	FailOnNak     bool
}

// DefaultParams returns the values used by the reference client.
func DefaultParams() Params {
	return Params{
		OutputIndex:   1,
		Direction:     1,
		Location:      "LOCAL",
		Receiver:      1,
		ChannelMode:   "BOTH",
		RadioSelector: 0,
		Display:       [3]bool{true, false, false},
		FailOnNak:     true,
	}
}

// Result collects what a run produced. On failure it holds the replies of
// the steps that completed.
type Result struct {
	Responses map[string]protocol.Response
	Completed []string
	Outputs   []protocol.OutputDescriptor
	Output    *protocol.OutputDescriptor
}

// StepReport is passed to the observer after every step, successful or not.
type StepReport struct {
	Step     string
	Index    int
	Command  *protocol.Command // nil when the command could not be built
	Response protocol.Response
	Err      error
	Duration time.Duration
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithObserver registers a callback invoked after each step.
func WithObserver(fn func(StepReport)) Option {
	return func(w *Workflow) { w.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Workflow) { w.logger = l.With().Str("component", "workflow").Logger() }
}

// Workflow runs the configuration sequence over an Exchanger.
type Workflow struct {
	ex       Exchanger
	params   Params
	observer func(StepReport)
	logger   zerolog.Logger
}

// New creates a Workflow.
func New(ex Exchanger, params Params, opts ...Option) *Workflow {
	w := &Workflow{ex: ex, params: params, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// step builds its command from the params and the results so far.
type step struct {
	name  string
	build func(p Params, r *Result) (protocol.Command, error)
}

var steps = []step{
	{
		name:  StepDiscover,
		build: func(Params, *Result) (protocol.Command, error) { return protocol.RadioDiscover(), nil },
	},
	{
		name:  StepEnumOutputs,
		build: func(Params, *Result) (protocol.Command, error) { return protocol.EnumOutputs(), nil },
	},
	{
		name:  StepSetAudioRoute,
		build: buildAudioRoute,
	},
	{
		name:  StepServerStart,
		build: func(Params, *Result) (protocol.Command, error) { return protocol.ServerStart(), nil },
	},
	{
		name: StepRadioStart,
		build: func(p Params, _ *Result) (protocol.Command, error) {
			return protocol.RadioStart(p.RadioSelector), nil
		},
	},
	{
		name: StepSetDispStatus,
		build: func(p Params, _ *Result) (protocol.Command, error) {
			return protocol.SetDispStatus(p.Display[:]...), nil
		},
	},
}

// Steps returns the step names in execution order.
func Steps() []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}

func buildAudioRoute(p Params, r *Result) (protocol.Command, error) {
	enum, ok := r.Responses[StepEnumOutputs]
	if !ok {
		return protocol.Command{}, &ConfigurationError{Reason: "no enum_outputs reply"}
	}
	outputs, err := enum.Outputs()
	if err != nil {
		return protocol.Command{}, &ConfigurationError{Reason: err.Error()}
	}
	r.Outputs = outputs
	if p.OutputIndex < 0 || p.OutputIndex >= len(outputs) {
		return protocol.Command{}, &ConfigurationError{
			Reason: fmt.Sprintf("output index %d out of range (%d outputs reported)", p.OutputIndex, len(outputs)),
		}
	}
	out := outputs[p.OutputIndex]
	r.Output = &out
	return protocol.SetAudioRoute(protocol.AudioRoute{
		Direction: p.Direction,
		Location:  p.Location,
		Receiver:  p.Receiver,
		API:       out.API,
		Device:    out.Name,
		Mode:      p.ChannelMode,
	}), nil
}

// Run executes every step in order. It returns a *StepError naming the
// first step that failed; later steps are not attempted.
func (w *Workflow) Run(ctx context.Context) (*Result, error) {
	res := &Result{Responses: make(map[string]protocol.Response, len(steps))}

	for i, st := range steps {
		start := time.Now()
		report := StepReport{Step: st.name, Index: i}

		err := ctx.Err()
		if err == nil {
			var cmd protocol.Command
			cmd, err = st.build(w.params, res)
			if err == nil {
				report.Command = &cmd
				report.Response, err = w.ex.Exchange(ctx, cmd)
			}
		}
		if err == nil && w.params.FailOnNak && report.Response.Rejected() {
			err = ErrRejected
		}

		report.Err = err
		report.Duration = time.Since(start)
		w.notify(report)

		if err != nil {
			w.logger.Error().Err(err).Str("step", st.name).Msg("workflow step failed")
			return res, &StepError{Step: st.name, Err: err}
		}

		res.Responses[st.name] = report.Response
		res.Completed = append(res.Completed, st.name)
		w.logger.Debug().
			Str("step", st.name).
			Str("resp", report.Response.Status()).
			Dur("elapsed", report.Duration).
			Msg("workflow step complete")
	}

	ev := w.logger.Info().Int("steps", len(steps))
	if res.Output != nil {
		ev = ev.Str("output", res.Output.Name).Str("api", res.Output.API)
	}
	ev.Msg("workflow complete")
	return res, nil
}

func (w *Workflow) notify(r StepReport) {
	if w.observer != nil {
		w.observer(r)
	}
}
