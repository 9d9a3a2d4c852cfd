package gateway

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"math"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gojds/internal/persistence"
	"github.com/bardlex/gojds/internal/sv2"
	"github.com/bardlex/gojds/internal/vardiff"
)

// capturingBackend collects persisted events synchronously.
type capturingBackend struct {
	events []persistence.ShareEvent
}

func (b *capturingBackend) PersistEvent(event persistence.ShareEvent) {
	b.events = append(b.events, event)
}
func (b *capturingBackend) Flush()    {}
func (b *capturingBackend) Shutdown() {}

// memoryStore is an in-memory DifficultyStore.
type memoryStore struct {
	saved map[vardiff.Key]float64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: make(map[vardiff.Key]float64)}
}

func (s *memoryStore) SaveDifficulty(_ context.Context, key vardiff.Key, difficulty float64) {
	s.saved[key] = difficulty
}

func (s *memoryStore) LoadDifficulty(_ context.Context, key vardiff.Key) (float64, bool) {
	difficulty, ok := s.saved[key]
	return difficulty, ok
}

func submitFrame(msgType byte, channelID, jobID, nonce, ntime, version uint32) sv2.Frame {
	payload := make([]byte, submitSharesPrefixSize)
	binary.LittleEndian.PutUint32(payload[0:4], channelID)
	binary.LittleEndian.PutUint32(payload[4:8], 1) // sequence
	binary.LittleEndian.PutUint32(payload[8:12], jobID)
	binary.LittleEndian.PutUint32(payload[12:16], nonce)
	binary.LittleEndian.PutUint32(payload[16:20], ntime)
	binary.LittleEndian.PutUint32(payload[20:24], version)
	return sv2.NewProtocolFrame(msgType, payload)
}

func openChannelFrame(msgType byte, identity string, hashRate float32) sv2.Frame {
	payload := make([]byte, 0, 5+len(identity)+4+32)
	payload = binary.LittleEndian.AppendUint32(payload, 1) // request_id
	payload = append(payload, byte(len(identity)))
	payload = append(payload, identity...)
	payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(hashRate))
	payload = append(payload, make([]byte, 32)...) // max_target
	return sv2.NewProtocolFrame(msgType, payload)
}

func testTracker() *vardiff.Tracker {
	return vardiff.NewTracker(vardiff.Config{
		TargetInterval: 10 * time.Second,
		RetargetWindow: time.Hour,
		MinDifficulty:  1.0,
		MaxDifficulty:  1000.0,
	})
}

func TestParseSubmitShares(t *testing.T) {
	frame := submitFrame(sv2.MsgTypeSubmitSharesStandard, 3, 9, 0xdeadbeef, 1700000000, 0x20000000)

	sub, err := parseSubmitShares(frame.Payload)
	if err != nil {
		t.Fatalf("parseSubmitShares() error = %v", err)
	}
	if sub.ChannelID != 3 || sub.JobID != 9 || sub.Nonce != 0xdeadbeef {
		t.Errorf("parsed %+v, want channel 3 job 9 nonce 0xdeadbeef", sub)
	}
	if sub.NTime != 1700000000 || sub.Version != 0x20000000 {
		t.Errorf("parsed %+v, want ntime 1700000000 version 0x20000000", sub)
	}
}

func TestParseSubmitSharesTooShort(t *testing.T) {
	if _, err := parseSubmitShares([]byte{0x01, 0x02}); err == nil {
		t.Error("expected an error for a truncated payload")
	}
}

func TestShareRecorderPersistsAndTracks(t *testing.T) {
	backend := &capturingBackend{}
	tracker := testTracker()
	recorder := NewShareRecorder(testLogger(), backend, tracker, nil, 16.0)
	conn := testConn(7)

	frame := submitFrame(sv2.MsgTypeSubmitSharesStandard, 2, 5, 42, 1700000000, 0x20000000)
	responses, err := recorder.HandleFrame(context.Background(), conn, frame)
	if err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	if len(responses) != 0 {
		t.Errorf("got %d responses, want 0", len(responses))
	}

	if len(backend.events) != 1 {
		t.Fatalf("persisted %d events, want 1", len(backend.events))
	}
	event := backend.events[0]
	if event.Nonce != 42 || event.TemplateID != 5 || !event.IsValid {
		t.Errorf("event = %+v, want nonce 42, template 5, valid", event)
	}
	if event.ShareWork != 16.0 {
		t.Errorf("ShareWork = %v, want the starting difficulty 16.0", event.ShareWork)
	}

	key := vardiff.Key{DownstreamID: 7, ChannelID: 2}
	if difficulty, ok := tracker.Difficulty(key); !ok || difficulty != 16.0 {
		t.Errorf("tracker slot = %v, %v; want 16.0, true", difficulty, ok)
	}
}

func TestParseOpenChannel(t *testing.T) {
	frame := openChannelFrame(sv2.MsgTypeOpenStandardMiningChannel, "worker.rig1", 5e12)

	open, err := parseOpenChannel(frame.Payload)
	if err != nil {
		t.Fatalf("parseOpenChannel() error = %v", err)
	}
	if open.RequestID != 1 || open.UserIdentity != "worker.rig1" {
		t.Errorf("parsed %+v, want request 1 identity worker.rig1", open)
	}
	if open.NominalHashRate != 5e12 {
		t.Errorf("NominalHashRate = %v, want 5e12", open.NominalHashRate)
	}
}

func TestParseOpenChannelTruncated(t *testing.T) {
	for _, payload := range [][]byte{
		{0x01, 0x02},
		{0x01, 0x00, 0x00, 0x00, 0x08, 'a', 'b'},
	} {
		if _, err := parseOpenChannel(payload); err == nil {
			t.Errorf("expected an error for payload % x", payload)
		}
	}
}

func TestShareRecorderStampsChannelOwner(t *testing.T) {
	backend := &capturingBackend{}
	recorder := NewShareRecorder(testLogger(), backend, testTracker(), nil, 16.0)
	conn := testConn(7)

	open := openChannelFrame(sv2.MsgTypeOpenStandardMiningChannel, "worker.rig1", 5e12)
	if _, err := recorder.HandleFrame(context.Background(), conn, open); err != nil {
		t.Fatalf("HandleFrame(open) error = %v", err)
	}

	submit := submitFrame(sv2.MsgTypeSubmitSharesStandard, 2, 5, 42, 1700000000, 0x20000000)
	if _, err := recorder.HandleFrame(context.Background(), conn, submit); err != nil {
		t.Fatalf("HandleFrame(submit) error = %v", err)
	}

	if len(backend.events) != 1 {
		t.Fatalf("persisted %d events, want 1", len(backend.events))
	}
	event := backend.events[0]
	if event.UserIdentity != "worker.rig1" {
		t.Errorf("UserIdentity = %q, want worker.rig1", event.UserIdentity)
	}
	if event.NominalHashRate != 5e12 {
		t.Errorf("NominalHashRate = %v, want 5e12", event.NominalHashRate)
	}
	if event.Target == [32]byte{} {
		t.Error("Target must be derived from the channel difficulty")
	}
	if event.Target != difficultyTarget(16.0) {
		t.Errorf("Target = %x, want the difficulty-16 target", event.Target)
	}
	if event.ShareHash == (chainhash.Hash{}) {
		t.Error("ShareHash must identify the submission")
	}

	// A second, distinct submission gets a distinct digest.
	submit2 := submitFrame(sv2.MsgTypeSubmitSharesStandard, 2, 5, 43, 1700000000, 0x20000000)
	if _, err := recorder.HandleFrame(context.Background(), conn, submit2); err != nil {
		t.Fatalf("HandleFrame(submit2) error = %v", err)
	}
	if backend.events[1].ShareHash == event.ShareHash {
		t.Error("distinct submissions must not share a digest")
	}

	// Disconnect drops the cached owner.
	recorder.CloseDownstream(7)
	if _, err := recorder.HandleFrame(context.Background(), conn, submit); err != nil {
		t.Fatalf("HandleFrame(submit after close) error = %v", err)
	}
	if got := backend.events[2].UserIdentity; got != "" {
		t.Errorf("UserIdentity after disconnect = %q, want empty", got)
	}
}

func TestDifficultyTarget(t *testing.T) {
	one := difficultyTarget(1.0)
	want := "00000000ffff0000000000000000000000000000000000000000000000000000"
	if got := hex.EncodeToString(one[:]); got != want {
		t.Errorf("difficultyTarget(1) = %s, want %s", got, want)
	}

	harder := difficultyTarget(65536.0)
	if bytes.Compare(harder[:], one[:]) >= 0 {
		t.Error("a higher difficulty must yield a lower target")
	}
}

func TestShareRecorderMalformedSubmit(t *testing.T) {
	recorder := NewShareRecorder(testLogger(), &capturingBackend{}, testTracker(), nil, 16.0)
	conn := testConn(1)

	frame := sv2.NewProtocolFrame(sv2.MsgTypeSubmitSharesStandard, []byte{0x01})
	if _, err := recorder.HandleFrame(context.Background(), conn, frame); err == nil {
		t.Error("expected an error for a truncated submit")
	}
}

func TestShareRecorderResumesStoredDifficulty(t *testing.T) {
	store := newMemoryStore()
	key := vardiff.Key{DownstreamID: 4, ChannelID: 1}
	store.saved[key] = 128.0

	tracker := testTracker()
	recorder := NewShareRecorder(testLogger(), &capturingBackend{}, tracker, store, 16.0)
	conn := testConn(4)

	frame := submitFrame(sv2.MsgTypeSubmitSharesExtended, 1, 2, 3, 4, 5)
	if _, err := recorder.HandleFrame(context.Background(), conn, frame); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	if difficulty, ok := tracker.Difficulty(key); !ok || difficulty != 128.0 {
		t.Errorf("tracker slot = %v, %v; want the stored 128.0", difficulty, ok)
	}
}

func TestShareRecorderCloseChannel(t *testing.T) {
	tracker := testTracker()
	recorder := NewShareRecorder(testLogger(), &capturingBackend{}, tracker, nil, 16.0)
	conn := testConn(9)

	submit := submitFrame(sv2.MsgTypeSubmitSharesStandard, 6, 1, 1, 1, 1)
	if _, err := recorder.HandleFrame(context.Background(), conn, submit); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	closePayload := make([]byte, 4)
	binary.LittleEndian.PutUint32(closePayload, 6)
	closeFrame := sv2.NewProtocolFrame(sv2.MsgTypeCloseChannel, closePayload)
	if _, err := recorder.HandleFrame(context.Background(), conn, closeFrame); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	if _, ok := tracker.Difficulty(vardiff.Key{DownstreamID: 9, ChannelID: 6}); ok {
		t.Error("slot must be gone after CloseChannel")
	}
}

func TestShareRecorderCloseDownstream(t *testing.T) {
	tracker := testTracker()
	recorder := NewShareRecorder(testLogger(), &capturingBackend{}, tracker, nil, 16.0)
	conn := testConn(3)

	for channel := uint32(1); channel <= 3; channel++ {
		frame := submitFrame(sv2.MsgTypeSubmitSharesStandard, channel, 1, 1, 1, 1)
		if _, err := recorder.HandleFrame(context.Background(), conn, frame); err != nil {
			t.Fatalf("HandleFrame() error = %v", err)
		}
	}
	if tracker.ActiveSlots() != 3 {
		t.Fatalf("ActiveSlots() = %d, want 3", tracker.ActiveSlots())
	}

	recorder.CloseDownstream(3)
	if tracker.ActiveSlots() != 0 {
		t.Errorf("ActiveSlots() = %d, want 0 after CloseDownstream", tracker.ActiveSlots())
	}
}

func TestShareRecorderIgnoresOtherMiningFrames(t *testing.T) {
	backend := &capturingBackend{}
	recorder := NewShareRecorder(testLogger(), backend, testTracker(), nil, 16.0)
	conn := testConn(1)

	frame := sv2.NewProtocolFrame(sv2.MsgTypeUpdateChannel, []byte{0x00})
	responses, err := recorder.HandleFrame(context.Background(), conn, frame)
	if err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	if len(responses) != 0 || len(backend.events) != 0 {
		t.Error("non-submit mining frames must be ignored")
	}
}
