package gateway

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/bardlex/gojds/internal/sv2"
	"github.com/bardlex/gojds/pkg/errors"
)

// Handshaker upgrades a raw TCP connection into the frame transport the
// pumps run on. Implementations that terminate Noise encryption return
// reader/writer pairs over the decrypted stream; the plain handshaker is
// for deployments where a fronting proxy terminates encryption.
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn) (sv2.FrameReader, sv2.FrameWriter, error)
}

// Stratum V2 frame header: extension_type u16, msg_type u8, msg_length u24,
// all little-endian.
const frameHeaderSize = 6

// maxFramePayload bounds a frame's payload; the u24 length field allows
// more but nothing in this protocol legitimately approaches it.
const maxFramePayload = 1 << 22

// PlainHandshaker produces frame transports over an unencrypted stream.
type PlainHandshaker struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handshake wraps the connection without any key exchange.
func (h *PlainHandshaker) Handshake(_ context.Context, conn net.Conn) (sv2.FrameReader, sv2.FrameWriter, error) {
	return &frameReader{conn: conn, timeout: h.ReadTimeout},
		&frameWriter{conn: conn, timeout: h.WriteTimeout},
		nil
}

type frameReader struct {
	conn    net.Conn
	timeout time.Duration
	header  [frameHeaderSize]byte
}

func (r *frameReader) ReadFrame(ctx context.Context) (sv2.Frame, error) {
	if err := ctx.Err(); err != nil {
		return sv2.Frame{}, err
	}
	if r.timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return sv2.Frame{}, errors.Wrap(err, errors.ErrorTypeNetwork,
				"read_frame", "failed to set read deadline")
		}
	}

	if _, err := io.ReadFull(r.conn, r.header[:]); err != nil {
		if err == io.EOF {
			return sv2.Frame{}, io.EOF
		}
		return sv2.Frame{}, errors.Wrap(err, errors.ErrorTypeNetwork,
			"read_frame", "failed to read frame header")
	}

	msgType := r.header[2]
	length := uint32(r.header[3]) | uint32(r.header[4])<<8 | uint32(r.header[5])<<16
	if length > maxFramePayload {
		return sv2.Frame{}, errors.New(errors.ErrorTypeProtocol,
			"read_frame", "frame payload exceeds maximum size").
			WithContext("length", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.conn, payload); err != nil {
		return sv2.Frame{}, errors.Wrap(err, errors.ErrorTypeNetwork,
			"read_frame", "failed to read frame payload")
	}

	return sv2.NewProtocolFrame(msgType, payload), nil
}

type frameWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *frameWriter) WriteFrame(ctx context.Context, frame sv2.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if frame.Kind != sv2.KindProtocol {
		return errors.New(errors.ErrorTypeProtocol,
			"write_frame", "refusing to write a handshake frame on an established transport")
	}
	if len(frame.Payload) > maxFramePayload {
		return errors.New(errors.ErrorTypeProtocol,
			"write_frame", "frame payload exceeds maximum size").
			WithContext("length", len(frame.Payload))
	}

	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork,
				"write_frame", "failed to set write deadline")
		}
	}

	buf := make([]byte, frameHeaderSize+len(frame.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], 0) // extension_type
	buf[2] = frame.MsgType
	buf[3] = byte(len(frame.Payload))
	buf[4] = byte(len(frame.Payload) >> 8)
	buf[5] = byte(len(frame.Payload) >> 16)
	copy(buf[frameHeaderSize:], frame.Payload)

	if _, err := w.conn.Write(buf); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork,
			"write_frame", "failed to write frame")
	}
	return nil
}
