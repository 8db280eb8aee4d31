package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G3UKB/SDRLibE/internal/transport"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// fakeDevice answers each command from a table keyed by command name.
type fakeDevice struct {
	replies map[string]protocol.Response
	errs    map[string]error
	sent    []protocol.Command
}

func (f *fakeDevice) Exchange(_ context.Context, cmd protocol.Command) (protocol.Response, error) {
	f.sent = append(f.sent, cmd)
	if err, ok := f.errs[cmd.Cmd]; ok {
		return nil, err
	}
	if r, ok := f.replies[cmd.Cmd]; ok {
		return r, nil
	}
	return protocol.Response{"resp": "ACK"}, nil
}

func (f *fakeDevice) names() []string {
	out := make([]string, len(f.sent))
	for i, c := range f.sent {
		out[i] = c.Cmd
	}
	return out
}

func twoOutputs() protocol.Response {
	return protocol.Response{"outputs": []any{
		map[string]any{"api": "A0", "name": "D0"},
		map[string]any{"api": "A1", "name": "D1"},
	}}
}

func TestStepsOrder(t *testing.T) {
	assert.Equal(t, []string{
		"discover", "enum_outputs", "set_audio_route", "server_start", "radio_start", "set_disp_status",
	}, Steps())
}

func TestRunDefaultSequence(t *testing.T) {
	dev := &fakeDevice{replies: map[string]protocol.Response{
		protocol.CmdEnumOutputs: twoOutputs(),
	}}

	res, err := New(dev, DefaultParams()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"radio_discover", "enum_outputs", "set_audio_route", "server_start", "radio_start", "set_disp_status",
	}, dev.names())

	assert.Equal(t, []any{}, dev.sent[0].Params)
	assert.Equal(t, []any{1, "LOCAL", 1, "A1", "D1", "BOTH"}, dev.sent[2].Params)
	assert.Equal(t, []any{0}, dev.sent[4].Params)
	assert.Equal(t, []any{true, false, false}, dev.sent[5].Params)

	require.NotNil(t, res.Output)
	assert.Equal(t, "D1", res.Output.Name)
	assert.Len(t, res.Outputs, 2)
	assert.Equal(t, Steps(), res.Completed)
	assert.Len(t, res.Responses, 6)
}

func TestRunCustomParams(t *testing.T) {
	dev := &fakeDevice{replies: map[string]protocol.Response{
		protocol.CmdEnumOutputs: twoOutputs(),
	}}
	p := DefaultParams()
	p.OutputIndex = 0
	p.ChannelMode = "LEFT"
	p.RadioSelector = 1
	p.Display = [3]bool{true, true, false}

	_, err := New(dev, p).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{1, "LOCAL", 1, "A0", "D0", "LEFT"}, dev.sent[2].Params)
	assert.Equal(t, []any{1}, dev.sent[4].Params)
	assert.Equal(t, []any{true, true, false}, dev.sent[5].Params)
}

func TestRunSingleOutputIsConfigurationError(t *testing.T) {
	dev := &fakeDevice{replies: map[string]protocol.Response{
		protocol.CmdEnumOutputs: {"outputs": []any{map[string]any{"api": "A0", "name": "D0"}}},
	}}

	res, err := New(dev, DefaultParams()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepSetAudioRoute, stepErr.Step)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	assert.Equal(t, []string{"radio_discover", "enum_outputs"}, dev.names(), "no set_audio_route must be sent")
	assert.Equal(t, []string{StepDiscover, StepEnumOutputs}, res.Completed)
}

func TestRunMissingOutputs(t *testing.T) {
	dev := &fakeDevice{replies: map[string]protocol.Response{
		protocol.CmdEnumOutputs: {"resp": "ACK"},
	}}

	_, err := New(dev, DefaultParams()).Run(context.Background())
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Len(t, dev.sent, 2)
}

func TestRunAbortsOnTimeout(t *testing.T) {
	dev := &fakeDevice{
		replies: map[string]protocol.Response{protocol.CmdEnumOutputs: twoOutputs()},
		errs:    map[string]error{protocol.CmdServerStart: &transport.TimeoutError{}},
	}

	_, err := New(dev, DefaultParams()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepServerStart, stepErr.Step)
	assert.Len(t, dev.sent, 4, "steps after server_start must not run")
}

func TestRunNak(t *testing.T) {
	nak := protocol.Response{"resp": "NAK"}

	t.Run("fails by default", func(t *testing.T) {
		dev := &fakeDevice{replies: map[string]protocol.Response{
			protocol.CmdEnumOutputs: twoOutputs(),
			protocol.CmdRadioStart:  nak,
		}}
		_, err := New(dev, DefaultParams()).Run(context.Background())
		assert.ErrorIs(t, err, ErrRejected)
		assert.Len(t, dev.sent, 5)
	})

	t.Run("tolerated", func(t *testing.T) {
		dev := &fakeDevice{replies: map[string]protocol.Response{
			protocol.CmdEnumOutputs: twoOutputs(),
			protocol.CmdRadioStart:  nak,
		}}
		p := DefaultParams()
		p.FailOnNak = false
		res, err := New(dev, p).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Responses[StepRadioStart].Rejected())
	})
}

func TestRunCancelled(t *testing.T) {
	dev := &fakeDevice{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(dev, DefaultParams()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dev.sent)
}

func TestObserver(t *testing.T) {
	dev := &fakeDevice{replies: map[string]protocol.Response{
		protocol.CmdEnumOutputs: {"outputs": []any{}},
	}}
	var reports []StepReport
	_, err := New(dev, DefaultParams(), WithObserver(func(r StepReport) {
		reports = append(reports, r)
	})).Run(context.Background())
	require.Error(t, err)

	require.Len(t, reports, 3)
	assert.Equal(t, StepDiscover, reports[0].Step)
	assert.NoError(t, reports[0].Err)
	require.NotNil(t, reports[0].Command)

	last := reports[2]
	assert.Equal(t, StepSetAudioRoute, last.Step)
	assert.Equal(t, 2, last.Index)
	assert.Nil(t, last.Command)
	assert.ErrorIs(t, last.Err, ErrConfiguration)
}
