package gateway

import (
	"context"
	"encoding/binary"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gojds/internal/persistence"
	"github.com/bardlex/gojds/internal/sv2"
	"github.com/bardlex/gojds/internal/vardiff"
	"github.com/bardlex/gojds/pkg/errors"
	"github.com/bardlex/gojds/pkg/log"
)

// submitShares is the fixed-size prefix shared by SubmitSharesStandard and
// SubmitSharesExtended.
type submitShares struct {
	ChannelID      uint32
	SequenceNumber uint32
	JobID          uint32
	Nonce          uint32
	NTime          uint32
	Version        uint32
}

const submitSharesPrefixSize = 24

func parseSubmitShares(payload []byte) (submitShares, error) {
	if len(payload) < submitSharesPrefixSize {
		return submitShares{}, errors.New(errors.ErrorTypeProtocol,
			"parse_submit_shares", "payload too short").
			WithContext("length", len(payload))
	}
	return submitShares{
		ChannelID:      binary.LittleEndian.Uint32(payload[0:4]),
		SequenceNumber: binary.LittleEndian.Uint32(payload[4:8]),
		JobID:          binary.LittleEndian.Uint32(payload[8:12]),
		Nonce:          binary.LittleEndian.Uint32(payload[12:16]),
		NTime:          binary.LittleEndian.Uint32(payload[16:20]),
		Version:        binary.LittleEndian.Uint32(payload[20:24]),
	}, nil
}

// openChannel is the shared prefix of OpenStandardMiningChannel and
// OpenExtendedMiningChannel: request_id, user_identity, nominal_hash_rate.
type openChannel struct {
	RequestID       uint32
	UserIdentity    string
	NominalHashRate float32
}

func parseOpenChannel(payload []byte) (openChannel, error) {
	if len(payload) < 5 {
		return openChannel{}, errors.New(errors.ErrorTypeProtocol,
			"parse_open_channel", "payload too short").
			WithContext("length", len(payload))
	}
	identityLen := int(payload[4])
	if len(payload) < 5+identityLen+4 {
		return openChannel{}, errors.New(errors.ErrorTypeProtocol,
			"parse_open_channel", "truncated user identity").
			WithContext("length", len(payload)).
			WithContext("identity_length", identityLen)
	}
	return openChannel{
		RequestID:       binary.LittleEndian.Uint32(payload[0:4]),
		UserIdentity:    string(payload[5 : 5+identityLen]),
		NominalHashRate: math.Float32frombits(binary.LittleEndian.Uint32(payload[5+identityLen : 5+identityLen+4])),
	}, nil
}

// maxTarget is the difficulty-1 target. difficultyTarget returns
// maxTarget / difficulty as a 32-byte big-endian value.
var maxTarget = mustParseTarget("00000000FFFF0000000000000000000000000000000000000000000000000000")

func mustParseTarget(hexDigits string) *big.Int {
	target, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok {
		panic("malformed target constant")
	}
	return target
}

func difficultyTarget(difficulty float64) [32]byte {
	var out [32]byte
	if difficulty < 1 {
		difficulty = 1
	}
	target := new(big.Int).Div(maxTarget, big.NewInt(int64(difficulty)))
	target.FillBytes(out[:])
	return out
}

// shareDigest identifies a submission for deduplication. The gateway never
// assembles block headers, so the digest covers the submission itself plus
// the downstream that sent it.
func shareDigest(downstreamID uint64, prefix []byte) chainhash.Hash {
	buf := make([]byte, 8+submitSharesPrefixSize)
	binary.LittleEndian.PutUint64(buf[0:8], downstreamID)
	copy(buf[8:], prefix[:submitSharesPrefixSize])
	return chainhash.DoubleHashH(buf)
}

// DifficultyStore optionally persists a channel's difficulty across
// reconnects. The Redis store implements it; a nil store disables resume.
type DifficultyStore interface {
	SaveDifficulty(ctx context.Context, key vardiff.Key, difficulty float64)
	LoadDifficulty(ctx context.Context, key vardiff.Key) (float64, bool)
}

// ShareRecorder is the mining-category frame handler. Share submissions feed
// the persistence backend and the variance tracker; everything else in the
// category passes through untouched.
type ShareRecorder struct {
	logger          *log.Logger
	backend         persistence.Backend
	tracker         *vardiff.Tracker
	store           DifficultyStore
	startDifficulty float64

	mu     sync.Mutex
	owners map[uint64]openChannel
}

// NewShareRecorder creates the handler. backend may be a NoOp, store may be
// nil.
func NewShareRecorder(
	logger *log.Logger,
	backend persistence.Backend,
	tracker *vardiff.Tracker,
	store DifficultyStore,
	startDifficulty float64,
) *ShareRecorder {
	return &ShareRecorder{
		logger:          logger.WithComponent("shares"),
		backend:         persistence.New(backend),
		tracker:         tracker,
		startDifficulty: startDifficulty,
		store:           store,
		owners:          make(map[uint64]openChannel),
	}
}

// HandleFrame records share submissions. It never returns response frames;
// acknowledgement is the pool protocol layer's job.
func (sr *ShareRecorder) HandleFrame(ctx context.Context, conn *Conn, frame sv2.Frame) ([]sv2.Frame, error) {
	switch frame.MsgType {
	case sv2.MsgTypeOpenStandardMiningChannel, sv2.MsgTypeOpenExtendedMiningChannel:
		return nil, sr.openDownstreamChannel(conn, frame)
	case sv2.MsgTypeSubmitSharesStandard, sv2.MsgTypeSubmitSharesExtended:
		return nil, sr.recordShare(ctx, conn, frame)
	case sv2.MsgTypeCloseChannel:
		return nil, sr.closeChannel(ctx, conn, frame)
	}
	return nil, nil
}

// openDownstreamChannel remembers who a downstream mines as, so share events
// carry the identity and hash rate the backends index on.
func (sr *ShareRecorder) openDownstreamChannel(conn *Conn, frame sv2.Frame) error {
	open, err := parseOpenChannel(frame.Payload)
	if err != nil {
		return err
	}

	sr.mu.Lock()
	sr.owners[conn.ID] = open
	sr.mu.Unlock()

	sr.logger.Debug("channel open",
		"downstream_id", conn.ID,
		"user_identity", open.UserIdentity,
		"nominal_hash_rate", open.NominalHashRate)
	return nil
}

func (sr *ShareRecorder) owner(downstreamID uint64) openChannel {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.owners[downstreamID]
}

func (sr *ShareRecorder) recordShare(ctx context.Context, conn *Conn, frame sv2.Frame) error {
	sub, err := parseSubmitShares(frame.Payload)
	if err != nil {
		return err
	}

	key := vardiff.Key{DownstreamID: conn.ID, ChannelID: sub.ChannelID}
	sr.ensureSlot(ctx, key)
	sr.tracker.RecordShare(key)

	difficulty, _ := sr.tracker.Difficulty(key)
	owner := sr.owner(conn.ID)
	sr.backend.PersistEvent(persistence.ShareEvent{
		IsValid:         true,
		Nonce:           sub.Nonce,
		NTime:           sub.NTime,
		NominalHashRate: owner.NominalHashRate,
		ShareHash:       shareDigest(conn.ID, frame.Payload),
		ShareWork:       difficulty,
		Target:          difficultyTarget(difficulty),
		TemplateID:      uint64(sub.JobID),
		Timestamp:       time.Now(),
		UserIdentity:    owner.UserIdentity,
		Version:         sub.Version,
	})

	if adjusted, newDifficulty := sr.tracker.ShouldAdjust(key); adjusted {
		sr.logger.Info("difficulty retarget",
			"key", key.String(),
			"difficulty", newDifficulty)
		if sr.store != nil {
			sr.store.SaveDifficulty(ctx, key, newDifficulty)
		}
	}
	return nil
}

// ensureSlot lazily opens a tracking slot the first time a channel submits,
// resuming a stored difficulty when one exists.
func (sr *ShareRecorder) ensureSlot(ctx context.Context, key vardiff.Key) {
	if _, ok := sr.tracker.Difficulty(key); ok {
		return
	}

	difficulty := sr.startDifficulty
	if sr.store != nil {
		if stored, ok := sr.store.LoadDifficulty(ctx, key); ok {
			difficulty = stored
		}
	}
	sr.tracker.Open(key, difficulty)
}

func (sr *ShareRecorder) closeChannel(_ context.Context, conn *Conn, frame sv2.Frame) error {
	if len(frame.Payload) < 4 {
		return errors.New(errors.ErrorTypeProtocol,
			"close_channel", "payload too short")
	}
	channelID := binary.LittleEndian.Uint32(frame.Payload[0:4])
	sr.tracker.Close(vardiff.Key{DownstreamID: conn.ID, ChannelID: channelID})
	return nil
}

// CloseDownstream drops every tracking slot owned by a disconnecting
// downstream.
func (sr *ShareRecorder) CloseDownstream(downstreamID uint64) {
	sr.mu.Lock()
	delete(sr.owners, downstreamID)
	sr.mu.Unlock()

	closed := sr.tracker.CloseDownstream(downstreamID)
	if len(closed) > 0 {
		sr.logger.Debug("closed vardiff slots",
			"downstream_id", downstreamID,
			"count", len(closed))
	}
}
