// Package sv2 defines the Stratum V2 frame model, the message-category
// classifier, and the transport boundary consumed by the connection layer.
// Frame encoding/decoding and Noise encryption live behind the FrameReader
// and FrameWriter interfaces; this package only sees decrypted frames.
package sv2

import "context"

// FrameKind discriminates the two frame shapes that can arrive on an
// established connection.
type FrameKind int

const (
	// KindProtocol is an application frame to forward to upper layers.
	KindProtocol FrameKind = iota
	// KindHandshake is a Noise handshake frame. Receiving one after setup
	// is a protocol violation.
	KindHandshake
)

// Frame is one discrete protocol message unit exchanged over the encrypted
// transport. Ownership transfers by value from transport to queue to consumer.
type Frame struct {
	Kind    FrameKind
	MsgType byte
	Payload []byte
}

// NewProtocolFrame builds an application frame.
func NewProtocolFrame(msgType byte, payload []byte) Frame {
	return Frame{Kind: KindProtocol, MsgType: msgType, Payload: payload}
}

// NewHandshakeFrame builds a handshake frame. Only tests and transport
// implementations should need this.
func NewHandshakeFrame(payload []byte) Frame {
	return Frame{Kind: KindHandshake, Payload: payload}
}

// FrameReader is the read half of an established encrypted duplex transport.
// ReadFrame yields already-decrypted frames, one outstanding call at a time.
type FrameReader interface {
	ReadFrame(ctx context.Context) (Frame, error)
}

// FrameWriter is the write half of an established encrypted duplex transport.
type FrameWriter interface {
	WriteFrame(ctx context.Context, frame Frame) error
}
