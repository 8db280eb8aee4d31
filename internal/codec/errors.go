package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrEncode matches any *EncodeError via errors.Is.
	ErrEncode = errors.New("codec: encode")
	// ErrDecode matches any *DecodeError via errors.Is.
	ErrDecode = errors.New("codec: decode")
)

// EncodeError reports a Command that cannot be serialised.
type EncodeError struct {
	Cmd   string
	Param int // index of the offending parameter, -1 when not parameter specific
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Param < 0 {
		return fmt.Sprintf("codec: encode %q: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("codec: encode %q param %d: %v", e.Cmd, e.Param, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

// DecodeError reports a reply payload that is empty, truncated, not UTF-8
// or not a single JSON object.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode %d byte reply: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
