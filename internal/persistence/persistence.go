// Package persistence provides the best-effort event-persistence boundary for
// the gateway. Backends must be non-blocking and infallible from the caller's
// perspective: the hot I/O path calls PersistEvent opportunistically and must
// never stall or fail because of a persistence problem.
package persistence

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ShareEvent is a persistable record of a submitted proof-of-work share,
// including validation results and channel metadata. Serialization format is
// the backend's choice.
type ShareEvent struct {
	ErrorCode              string         `json:"error_code,omitempty"`
	ExtranoncePrefix       []byte         `json:"extranonce_prefix,omitempty"`
	IsBlockFound           bool           `json:"is_block_found"`
	IsValid                bool           `json:"is_valid"`
	NominalHashRate        float32        `json:"nominal_hash_rate"`
	Nonce                  uint32         `json:"nonce"`
	NTime                  uint32         `json:"ntime"`
	RollableExtranonceSize uint16         `json:"rollable_extranonce_size,omitempty"`
	ShareHash              chainhash.Hash `json:"share_hash"`
	ShareWork              float64        `json:"share_work"`
	Target                 [32]byte       `json:"target"`
	TemplateID             uint64         `json:"template_id,omitempty"`
	Timestamp              time.Time      `json:"timestamp"`
	UserIdentity           string         `json:"user_identity"`
	Version                uint32         `json:"version"`
}

// Backend handles the actual persistence of share events.
//
// PersistEvent must be non-blocking and must swallow failures internally
// (dropping or logging on overflow). Flush is a best-effort hint; Shutdown is
// a best-effort drain request. A no-op backend must be indistinguishable in
// behavior, only in side effects, from an active one.
type Backend interface {
	PersistEvent(event ShareEvent)
	Flush()
	Shutdown()
}

// New normalizes an optional backend: nil means persistence is disabled and
// every operation is a no-op.
func New(backend Backend) Backend {
	if backend == nil {
		return NoOp{}
	}
	return backend
}
