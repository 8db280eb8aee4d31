package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// maxDepth bounds nested parameter values.
const maxDepth = 32

// Encode serialises cmd to its wire form {"cmd": name, "params": [...]}.
func Encode(cmd protocol.Command) ([]byte, error) {
	if cmd.Cmd == "" {
		return nil, &EncodeError{Cmd: cmd.Cmd, Param: -1, Err: errors.New("empty command name")}
	}
	for i, p := range cmd.Params {
		if err := validate(reflect.ValueOf(p), 0); err != nil {
			return nil, &EncodeError{Cmd: cmd.Cmd, Param: i, Err: err}
		}
	}

	params := cmd.Params
	if params == nil {
		params = []any{}
	}
	data, err := json.Marshal(protocol.Command{Cmd: cmd.Cmd, Params: params})
	if err != nil {
		return nil, &EncodeError{Cmd: cmd.Cmd, Param: -1, Err: err}
	}
	return data, nil
}

// validate accepts strings, integers, booleans, finite floats, nil and
// slices or string-keyed maps of those.
func validate(v reflect.Value, depth int) error {
	if depth > maxDepth {
		return errors.New("value nested too deeply")
	}
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite number %v", f)
		}
		return nil
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Pointer {
			return fmt.Errorf("unsupported type %s", v.Type())
		}
		return validate(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Errorf("unsupported type %s", v.Type())
		}
		for i := 0; i < v.Len(); i++ {
			if err := validate(v.Index(i), depth+1); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("map key type %s is not string", v.Type().Key())
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := validate(iter.Value(), depth+1); err != nil {
				return fmt.Errorf("[%q]: %w", iter.Key().String(), err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %s", v.Type())
	}
}

// Decode parses a reply payload. payload must be exactly the bytes received;
// trailing NUL padding is tolerated and ignored.
func Decode(payload []byte) (protocol.Response, error) {
	size := len(payload)
	payload = bytes.TrimRight(payload, "\x00")
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, &DecodeError{Size: size, Err: errors.New("empty payload")}
	}
	if !utf8.Valid(payload) {
		return nil, &DecodeError{Size: size, Err: errors.New("payload is not valid UTF-8")}
	}

	var resp protocol.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &DecodeError{Size: size, Err: err}
	}
	if resp == nil {
		return nil, &DecodeError{Size: size, Err: errors.New("reply is not a JSON object")}
	}
	return resp, nil
}

// DecodeFrame decodes the first n bytes of a receive buffer.
func DecodeFrame(buf []byte, n int) (protocol.Response, error) {
	if n < 0 || n > len(buf) {
		return nil, &DecodeError{Size: n, Err: fmt.Errorf("received length %d outside buffer of %d bytes", n, len(buf))}
	}
	return Decode(buf[:n])
}
