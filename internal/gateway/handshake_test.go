package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bardlex/gojds/internal/sv2"
)

func pipeTransports(t *testing.T) (sv2.FrameReader, sv2.FrameWriter, sv2.FrameReader, sv2.FrameWriter) {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	hs := &PlainHandshaker{ReadTimeout: time.Second, WriteTimeout: time.Second}
	clientR, clientW, err := hs.Handshake(context.Background(), client)
	if err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}
	serverR, serverW, err := hs.Handshake(context.Background(), server)
	if err != nil {
		t.Fatalf("server handshake failed: %v", err)
	}
	return clientR, clientW, serverR, serverW
}

func TestFrameRoundTrip(t *testing.T) {
	_, clientW, serverR, _ := pipeTransports(t)

	sent := sv2.NewProtocolFrame(sv2.MsgTypeSubmitSharesStandard, []byte{0x01, 0x02, 0x03})
	errCh := make(chan error, 1)
	go func() {
		errCh <- clientW.WriteFrame(context.Background(), sent)
	}()

	got, err := serverR.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if writeErr := <-errCh; writeErr != nil {
		t.Fatalf("WriteFrame() error = %v", writeErr)
	}

	if got.Kind != sv2.KindProtocol {
		t.Errorf("Kind = %v, want KindProtocol", got.Kind)
	}
	if got.MsgType != sent.MsgType {
		t.Errorf("MsgType = %#x, want %#x", got.MsgType, sent.MsgType)
	}
	if string(got.Payload) != string(sent.Payload) {
		t.Errorf("Payload = %v, want %v", got.Payload, sent.Payload)
	}
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	_, clientW, serverR, _ := pipeTransports(t)

	go func() {
		_ = clientW.WriteFrame(context.Background(), sv2.NewProtocolFrame(sv2.MsgTypeSetupConnection, nil))
	}()

	got, err := serverR.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if got.MsgType != sv2.MsgTypeSetupConnection {
		t.Errorf("MsgType = %#x, want %#x", got.MsgType, sv2.MsgTypeSetupConnection)
	}
	if len(got.Payload) != 0 {
		t.Errorf("Payload length = %d, want 0", len(got.Payload))
	}
}

func TestWriteRejectsHandshakeFrame(t *testing.T) {
	_, clientW, _, _ := pipeTransports(t)

	err := clientW.WriteFrame(context.Background(), sv2.NewHandshakeFrame([]byte{0xff}))
	if err == nil {
		t.Error("expected an error writing a handshake frame")
	}
}

func TestWriteRejectsOversizedPayload(t *testing.T) {
	_, clientW, _, _ := pipeTransports(t)

	err := clientW.WriteFrame(context.Background(),
		sv2.NewProtocolFrame(sv2.MsgTypeNewTemplate, make([]byte, maxFramePayload+1)))
	if err == nil {
		t.Error("expected an error for an oversized payload")
	}
}

func TestReadCancelledContext(t *testing.T) {
	_, _, serverR, _ := pipeTransports(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := serverR.ReadFrame(ctx); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}

func TestReadTimesOutWithoutData(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	hs := &PlainHandshaker{ReadTimeout: 20 * time.Millisecond}
	serverR, _, err := hs.Handshake(context.Background(), server)
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	if _, err := serverR.ReadFrame(context.Background()); err == nil {
		t.Error("expected a deadline error with no data on the wire")
	}
}
