// Package codec converts control channel messages to and from their wire
// form: one UTF-8 JSON object per datagram.
//
// Encode validates every parameter before marshalling so that a value JSON
// cannot carry losslessly is rejected with an EncodeError instead of being
// silently converted. Decode only ever looks at the bytes that were actually
// received; trailing NUL padding left over from a fixed-size receive buffer
// is ignored.
package codec
