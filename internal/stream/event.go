package stream

import (
	"encoding/base64"
	"math"
	"time"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// EventSource is the source field of packet events.
const EventSource = "sdr:stream"

// PacketEvent wraps p in a stream.packet event. With decode set, a packet
// that parses as a display frame of finite values carries meter and bins;
// otherwise the raw bytes are included base64 encoded. NaN and Inf have no
// JSON form, so such frames always take the raw path.
func PacketEvent(p Packet, decode bool) protocol.Event {
	payload := map[string]any{
		"seq":         p.Seq,
		"port":        p.Port,
		"size":        p.Size,
		"received_at": p.ReceivedAt.Format(time.RFC3339Nano),
	}
	if p.From != nil {
		payload["from"] = p.From.String()
	}
	if decode {
		if f, err := DecodeDisplayFrame(p.Data); err == nil && f.finite() {
			bins := make([]any, len(f.Bins))
			for i, b := range f.Bins {
				bins[i] = float64(b)
			}
			payload["meter"] = float64(f.Meter)
			payload["bins"] = bins
			return protocol.NewEvent(protocol.EventStreamPacket, EventSource, payload)
		}
	}
	payload["data"] = base64.StdEncoding.EncodeToString(p.Data)
	return protocol.NewEvent(protocol.EventStreamPacket, EventSource, payload)
}

func (f DisplayFrame) finite() bool {
	if !isFinite(f.Meter) {
		return false
	}
	for _, b := range f.Bins {
		if !isFinite(b) {
			return false
		}
	}
	return true
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
