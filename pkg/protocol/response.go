package protocol

import "fmt"

// Reply status values carried in the "resp" field.
const (
	StatusAck = "ACK"
	StatusNak = "NAK"
)

// Response is the decoded reply to a Command. The control layer imposes no
// schema; each command defines the shape of its own reply.
type Response map[string]any

// Status returns the "resp" field of an ACK/NAK reply, or "" when absent.
func (r Response) Status() string {
	s, _ := r["resp"].(string)
	return s
}

// Rejected reports whether the device answered NAK.
func (r Response) Rejected() bool {
	return r.Status() == StatusNak
}

// OutputDescriptor is one audio device reported by enum_outputs or enum_inputs.
type OutputDescriptor struct {
	API       string         `json:"api"`
	Name      string         `json:"name"`
	Index     int            `json:"index"`
	Direction int            `json:"direction"`
	Channels  int            `json:"channels"`
	Extra     map[string]any `json:"-"`
}

// Outputs extracts the "outputs" sequence of an enum_outputs reply.
func (r Response) Outputs() ([]OutputDescriptor, error) {
	return r.descriptors("outputs")
}

// Inputs extracts the "inputs" sequence of an enum_inputs reply.
func (r Response) Inputs() ([]OutputDescriptor, error) {
	return r.descriptors("inputs")
}

func (r Response) descriptors(key string) ([]OutputDescriptor, error) {
	raw, ok := r[key]
	if !ok {
		return nil, fmt.Errorf("reply has no %q field", key)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("reply field %q is %T, not a list", key, raw)
	}
	out := make([]OutputDescriptor, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is %T, not an object", key, i, item)
		}
		out = append(out, descriptorFromMap(m))
	}
	return out, nil
}

func descriptorFromMap(m map[string]any) OutputDescriptor {
	d := OutputDescriptor{Extra: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "api":
			d.API, _ = v.(string)
		case "name":
			d.Name, _ = v.(string)
		case "index":
			d.Index = toInt(v)
		case "direction":
			d.Direction = toInt(v)
		case "channels":
			d.Channels = toInt(v)
		default:
			d.Extra[k] = v
		}
	}
	return d
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
