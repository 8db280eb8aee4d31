package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// NATSSink publishes each packet as an event on sdr.stream.<port>.
type NATSSink struct {
	nc     *nats.Conn
	decode bool
}

// NewNATSSink creates a sink publishing on nc.
func NewNATSSink(nc *nats.Conn, decode bool) *NATSSink {
	return &NATSSink{nc: nc, decode: decode}
}

func (s *NATSSink) Handle(_ context.Context, p Packet) error {
	data, err := json.Marshal(PacketEvent(p, s.decode))
	if err != nil {
		return fmt.Errorf("marshal packet event: %w", err)
	}
	if err := s.nc.Publish(protocol.SubjectStream(p.Port), data); err != nil {
		return fmt.Errorf("publish packet event: %w", err)
	}
	return nil
}
