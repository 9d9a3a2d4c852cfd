package connection

import (
	"context"
	"fmt"

	"github.com/bardlex/gojds/internal/shutdown"
	"github.com/bardlex/gojds/internal/status"
	"github.com/bardlex/gojds/internal/sv2"
	"github.com/bardlex/gojds/internal/tasks"
	"github.com/bardlex/gojds/pkg/log"
)

// readResult carries one transport read outcome from the read helper to the
// reader loop so the loop can race it against the shutdown subscription.
type readResult struct {
	frame sv2.Frame
	err   error
}

// SpawnIOTasks starts the reader and writer loops for one connection. Each
// loop holds its own shutdown subscription and a secondary close-only handle
// to the counterpart queue: the reader owns inbound's send side and may only
// close outbound, the writer owns outbound's receive side and may only close
// inbound. Every exit path in either loop closes both queues, so neither
// loop can stay blocked once the other is gone.
//
// The pump does not reconnect and does not bound transport I/O; callers
// needing bounded shutdown latency must enforce deadlines inside the
// transport.
func SpawnIOTasks(
	tm *tasks.Manager,
	logger *log.Logger,
	reader sv2.FrameReader,
	writer sv2.FrameWriter,
	outbound *Queue,
	inbound *Queue,
	sig *shutdown.Signal,
	st status.StatusType,
) {
	spawnReaderTask(tm, logger, reader, inbound, outbound, sig, st)
	spawnWriterTask(tm, logger, writer, outbound, inbound, sig, st)
}

func spawnReaderTask(
	tm *tasks.Manager,
	logger *log.Logger,
	reader sv2.FrameReader,
	inbound *Queue,
	outbound *Queue,
	sig *shutdown.Signal,
	st status.StatusType,
) {
	sub := sig.Subscribe()
	rlog := logger.WithComponent("reader").WithFields("status", st.String())

	ctx, cancel := context.WithCancel(context.Background())
	reads := make(chan readResult)

	// Single-outstanding-call read helper. It exits when the transport
	// fails or when the reader loop cancels ctx on its way out.
	tm.Spawn(fmt.Sprintf("transport reader %s", st), func() {
		for {
			frame, err := reader.ReadFrame(ctx)
			select {
			case reads <- readResult{frame: frame, err: err}:
				if err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	tm.Spawn(fmt.Sprintf("reader loop %s", st), func() {
		defer func() {
			cancel()
			inbound.Close()
			outbound.Close()
			sub.Close()
			rlog.Warn("reader task exited")
		}()

		rlog.Debug("reader task started")
		for {
			select {
			case msg := <-sub.C():
				if !msg.AppliesTo(st) {
					rlog.Debug("ignoring shutdown message",
						"scope", msg.Scope.String())
					continue
				}
				rlog.Debug("received shutdown", "scope", msg.Scope.String())
				inbound.Close()
				return

			case <-inbound.Done():
				// The writer (or the consumer) closed the queues while the
				// transport was idle. The deferred closes finish the job.
				rlog.Debug("inbound queue closed")
				return

			case res := <-reads:
				if res.err != nil {
					rlog.WithError(res.err).Error("reader error")
					inbound.Close()
					return
				}
				if res.frame.Kind == sv2.KindHandshake {
					// Handshake frames are only legal during setup,
					// which happened before this pump existed.
					rlog.Error("received handshake frame after setup")
					return
				}
				rlog.LogFrame("inbound", res.frame.MsgType, len(res.frame.Payload))
				if err := inbound.Send(ctx, res.frame); err != nil {
					rlog.WithError(err).Error("failed to forward inbound frame")
					inbound.Close()
					return
				}
			}
		}
	})
}

func spawnWriterTask(
	tm *tasks.Manager,
	logger *log.Logger,
	writer sv2.FrameWriter,
	outbound *Queue,
	inbound *Queue,
	sig *shutdown.Signal,
	st status.StatusType,
) {
	sub := sig.Subscribe()
	wlog := logger.WithComponent("writer").WithFields("status", st.String())

	tm.Spawn(fmt.Sprintf("writer loop %s", st), func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer func() {
			cancel()
			outbound.Close()
			inbound.Close()
			sub.Close()
			wlog.Warn("writer task exited")
		}()

		wlog.Debug("writer task started")
		for {
			select {
			case msg := <-sub.C():
				if !msg.AppliesTo(st) {
					wlog.Debug("ignoring shutdown message",
						"scope", msg.Scope.String())
					continue
				}
				wlog.Debug("received shutdown", "scope", msg.Scope.String())
				outbound.Close()
				return

			case frame := <-outbound.Frames():
				wlog.LogFrame("outbound", frame.MsgType, len(frame.Payload))
				if err := writer.WriteFrame(ctx, frame); err != nil {
					wlog.WithError(err).Error("writer error")
					outbound.Close()
					return
				}

			case <-outbound.Done():
				// Flush frames that were enqueued before the close.
				for {
					frame, ok := outbound.TryRecv()
					if !ok {
						break
					}
					if err := writer.WriteFrame(ctx, frame); err != nil {
						wlog.WithError(err).Error("writer error during flush")
						return
					}
				}
				wlog.Warn("outbound queue closed")
				return
			}
		}
	})
}
