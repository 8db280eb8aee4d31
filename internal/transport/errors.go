package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches any *TimeoutError via errors.Is.
	ErrTimeout = errors.New("transport: receive timeout")
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("transport: channel is closed")
	// ErrTruncated matches any *TruncatedError via errors.Is.
	ErrTruncated = errors.New("transport: datagram truncated")
)

// TimeoutError reports that no datagram arrived within the receive timeout.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: no datagram within %s", e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Timeout and Temporary satisfy net.Error.
func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Temporary() bool { return true }

// TruncatedError reports a datagram larger than the receive buffer.
type TruncatedError struct {
	Max int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("transport: datagram exceeds %d byte receive buffer", e.Max)
}

func (e *TruncatedError) Is(target error) bool { return target == ErrTruncated }
