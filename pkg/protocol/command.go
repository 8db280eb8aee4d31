package protocol

// Command names understood by the SDRLibE connector.
const (
	CmdRadioDiscover = "radio_discover"
	CmdEnumOutputs   = "enum_outputs"
	CmdEnumInputs    = "enum_inputs"
	CmdSetAudioRoute = "set_audio_route"
	CmdServerStart   = "server_start"
	CmdRadioStart    = "radio_start"
	CmdRadioStop     = "radio_stop"
	CmdSetDispStatus = "set_disp_status"
	CmdSetDispState  = "set_disp_state"
	CmdSetDispPeriod = "set_disp_period"
	CmdSetDispWidth  = "set_display_width"
	CmdPoll          = "poll"
	CmdTerminate     = "terminate"
)

// Command is the request envelope sent on the control channel:
//
//	{"cmd": "<name>", "params": [<value>, ...]}
//
// Params are positional. A Command is built for a single exchange and must
// not be mutated after it has been sent.
type Command struct {
	Cmd    string `json:"cmd"`
	Params []any  `json:"params"`
}

// NewCommand builds a Command with its own copy of params. A nil or empty
// params list encodes as [].
func NewCommand(name string, params ...any) Command {
	p := make([]any, len(params))
	copy(p, params)
	return Command{Cmd: name, Params: p}
}

// AudioRoute holds the positional arguments of set_audio_route.
type AudioRoute struct {
	Direction int    // 1 = output
	Location  string // "LOCAL" or "REMOTE"
	Receiver  int    // RX number, 1-based
	API       string // host audio API from the output descriptor
	Device    string // device name from the output descriptor
	Mode      string // "LEFT", "RIGHT" or "BOTH"
}

// RadioDiscover returns a radio_discover command.
func RadioDiscover() Command { return NewCommand(CmdRadioDiscover) }

// EnumOutputs returns an enum_outputs command.
func EnumOutputs() Command { return NewCommand(CmdEnumOutputs) }

// EnumInputs returns an enum_inputs command.
func EnumInputs() Command { return NewCommand(CmdEnumInputs) }

// SetAudioRoute returns a set_audio_route command for r.
func SetAudioRoute(r AudioRoute) Command {
	return NewCommand(CmdSetAudioRoute, r.Direction, r.Location, r.Receiver, r.API, r.Device, r.Mode)
}

// ServerStart returns a server_start command.
func ServerStart() Command { return NewCommand(CmdServerStart) }

// RadioStart returns a radio_start command. The selector is passed through
// to the device unchanged (the connector treats it as the wide band scope flag).
func RadioStart(selector int) Command { return NewCommand(CmdRadioStart, selector) }

// RadioStop returns a radio_stop command.
func RadioStop() Command { return NewCommand(CmdRadioStop) }

// SetDispStatus returns a set_disp_status command enabling or disabling
// the device's push streams, one flag per display.
func SetDispStatus(flags ...bool) Command {
	params := make([]any, len(flags))
	for i, f := range flags {
		params[i] = f
	}
	return NewCommand(CmdSetDispStatus, params...)
}

// Poll returns a poll command. The connector always ACKs it.
func Poll() Command { return NewCommand(CmdPoll) }
