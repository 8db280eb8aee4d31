package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

// Packet is one non-empty datagram taken off the stream channel.
type Packet struct {
	Seq        uint64
	Port       int
	Size       int
	Data       []byte
	From       *net.UDPAddr
	ReceivedAt time.Time
}

// DisplayFrame is the decoded form of a connector display packet.
type DisplayFrame struct {
	Meter float32
	Bins  []float32
}

// ErrShortFrame is returned for a display packet too short to hold a meter value.
var ErrShortFrame = errors.New("stream: display frame shorter than 4 bytes")

// DecodeDisplayFrame decodes a little-endian float32 meter value followed by
// float32 spectrum bins. A trailing partial bin is an error.
func DecodeDisplayFrame(data []byte) (DisplayFrame, error) {
	if len(data) < 4 {
		return DisplayFrame{}, ErrShortFrame
	}
	if (len(data)-4)%4 != 0 {
		return DisplayFrame{}, fmt.Errorf("stream: display frame of %d bytes has a partial bin", len(data))
	}
	f := DisplayFrame{
		Meter: math.Float32frombits(binary.LittleEndian.Uint32(data)),
		Bins:  make([]float32, (len(data)-4)/4),
	}
	for i := range f.Bins {
		off := 4 + 4*i
		f.Bins[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
	}
	return f, nil
}

// EncodeDisplayFrame is the inverse of DecodeDisplayFrame.
func EncodeDisplayFrame(f DisplayFrame) []byte {
	out := make([]byte, 4+4*len(f.Bins))
	binary.LittleEndian.PutUint32(out, math.Float32bits(f.Meter))
	for i, b := range f.Bins {
		binary.LittleEndian.PutUint32(out[4+4*i:], math.Float32bits(b))
	}
	return out
}
