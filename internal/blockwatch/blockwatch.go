// Package blockwatch subscribes to Bitcoin Core's ZMQ block notifications
// and turns them into chain-tip events. The gateway uses tip changes to cut
// over persistence batches and to annotate declared jobs that have gone
// stale.
package blockwatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	zmq "github.com/pebbe/zmq4"
)

// ZMQ topics published by bitcoind.
const (
	TopicHashBlock = "hashblock"
	TopicRawBlock  = "rawblock"
)

// TipEvent describes a new chain tip.
type TipEvent struct {
	Hash      chainhash.Hash
	TxCount   int
	SizeBytes int
	Timestamp time.Time
}

// TipHandler receives tip events. Handlers run on the watcher's goroutine
// and must not block.
type TipHandler func(event TipEvent) error

// Watcher listens on a ZMQ SUB socket for block notifications.
type Watcher struct {
	socket   *zmq.Socket
	endpoint string
	logger   *slog.Logger
	handler  TipHandler

	// lastHash suppresses the duplicate event a node publishing both
	// hashblock and rawblock would otherwise produce per block.
	lastHash chainhash.Hash
}

// NewWatcher creates a watcher for the given ZMQ endpoint.
func NewWatcher(endpoint string, handler TipHandler, logger *slog.Logger) (*Watcher, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &Watcher{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
		handler:  handler,
	}, nil
}

// Connect connects the socket and subscribes to block topics.
func (w *Watcher) Connect() error {
	for _, topic := range []string{TopicHashBlock, TopicRawBlock} {
		if err := w.socket.SetSubscribe(topic); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	if err := w.socket.Connect(w.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", w.endpoint, err)
	}

	w.logger.Info("connected to ZMQ endpoint", "endpoint", w.endpoint)
	return nil
}

// Listen receives notifications until the context is cancelled.
func (w *Watcher) Listen(ctx context.Context) error {
	w.logger.Info("starting block watcher")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("block watcher stopping")
			return ctx.Err()
		default:
		}

		msg, err := w.socket.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			if err.Error() == "resource temporarily unavailable" {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			w.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 {
			w.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		data := msg[1]

		event, err := parseNotification(topic, data)
		if err != nil {
			w.logger.Error("failed to parse block notification",
				"topic", topic, "error", err)
			continue
		}
		if event == nil || event.Hash == w.lastHash {
			continue
		}
		w.lastHash = event.Hash

		w.logger.Info("new chain tip",
			"hash", event.Hash.String(),
			"tx_count", event.TxCount,
			"size", event.SizeBytes)

		if err := w.handler(*event); err != nil {
			w.logger.Error("tip handler failed",
				"hash", event.Hash.String(), "error", err)
		}
	}
}

// Close closes the ZMQ socket.
func (w *Watcher) Close() error {
	if w.socket != nil {
		return w.socket.Close()
	}
	return nil
}

// parseNotification turns one ZMQ message into a tip event. Raw blocks are
// preferred because they carry the transaction count; hashblock messages
// still produce an event so a node configured with only zmqpubhashblock
// works. Unknown topics are skipped.
func parseNotification(topic string, data []byte) (*TipEvent, error) {
	switch topic {
	case TopicHashBlock:
		hash, err := chainhash.NewHash(data)
		if err != nil {
			return nil, fmt.Errorf("invalid block hash: %w", err)
		}
		return &TipEvent{
			Hash:      *hash,
			Timestamp: time.Now(),
		}, nil

	case TopicRawBlock:
		block, err := btcutil.NewBlockFromReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("invalid raw block: %w", err)
		}
		return &TipEvent{
			Hash:      *block.Hash(),
			TxCount:   len(block.Transactions()),
			SizeBytes: len(data),
			Timestamp: time.Now(),
		}, nil
	}

	return nil, nil
}
