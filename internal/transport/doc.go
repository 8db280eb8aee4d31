// Package transport provides the two UDP endpoints used to talk to the
// device: a control channel for command datagrams and their replies, and a
// receive-only stream channel for data the device pushes on its own.
//
// Both channels read into a buffer one byte larger than the configured
// maximum so that an oversized datagram, which the kernel would otherwise
// truncate silently, is reported as a TruncatedError rather than handed to
// the caller as a shorter valid-looking message.
package transport
