package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

type fileCommandKind int

const (
	fileCommandWrite fileCommandKind = iota
	fileCommandFlush
	fileCommandShutdown
)

type fileCommand struct {
	kind fileCommandKind
	line []byte
}

// FileBackend appends share events to a log file as JSON lines. Events are
// handed to a background worker through a bounded channel so the hot path
// never blocks on disk; when the channel is full the event is dropped with an
// error log.
type FileBackend struct {
	commands chan fileCommand
	logger   *slog.Logger
}

// NewFileBackend opens (creating if needed) the log file at path and starts
// the background writer. bufferSize bounds the number of in-flight events.
func NewFileBackend(path string, bufferSize int, logger *slog.Logger) (*FileBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persistence directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence file: %w", err)
	}

	b := &FileBackend{
		commands: make(chan fileCommand, bufferSize),
		logger:   logger,
	}

	go b.workerLoop(file)

	logger.Info("initialized file persistence backend", "path", path)
	return b, nil
}

// workerLoop owns the file handle and performs all I/O.
func (b *FileBackend) workerLoop(file *os.File) {
	defer func() {
		if err := file.Close(); err != nil {
			b.logger.Error("failed to close persistence file", "error", err)
		}
	}()

	for cmd := range b.commands {
		switch cmd.kind {
		case fileCommandWrite:
			if _, err := file.Write(append(cmd.line, '\n')); err != nil {
				b.logger.Error("failed to write share event", "error", err)
			}
		case fileCommandFlush:
			if err := file.Sync(); err != nil {
				b.logger.Error("failed to flush persistence file", "error", err)
			}
		case fileCommandShutdown:
			// Drain whatever is still queued, then stop.
			for {
				select {
				case cmd := <-b.commands:
					if cmd.kind == fileCommandWrite {
						if _, err := file.Write(append(cmd.line, '\n')); err != nil {
							b.logger.Error("failed to write share event", "error", err)
						}
					}
				default:
					if err := file.Sync(); err != nil {
						b.logger.Error("failed to flush persistence file", "error", err)
					}
					b.logger.Info("file persistence worker shutdown complete")
					return
				}
			}
		}
	}
}

// PersistEvent queues the event for writing; drops it if the queue is full.
func (b *FileBackend) PersistEvent(event ShareEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal share event", "error", err)
		return
	}

	select {
	case b.commands <- fileCommand{kind: fileCommandWrite, line: line}:
	default:
		b.logger.Error("file persistence queue full, dropping share event",
			"user_identity", event.UserIdentity)
	}
}

// Flush requests a best-effort sync of buffered writes.
func (b *FileBackend) Flush() {
	select {
	case b.commands <- fileCommand{kind: fileCommandFlush}:
	default:
		b.logger.Error("file persistence queue full, dropping flush request")
	}
}

// Shutdown asks the worker to drain and stop.
func (b *FileBackend) Shutdown() {
	select {
	case b.commands <- fileCommand{kind: fileCommandShutdown}:
	default:
		b.logger.Error("file persistence queue full, dropping shutdown request")
	}
}

// PendingEvents returns the number of commands waiting for the worker.
func (b *FileBackend) PendingEvents() int {
	return len(b.commands)
}
