package gateway

import (
	"context"

	"github.com/bardlex/gojds/internal/connection"
	"github.com/bardlex/gojds/internal/status"
	"github.com/bardlex/gojds/internal/sv2"
	"github.com/bardlex/gojds/pkg/log"
)

// Conn is one pumped connection as the router sees it: the identity used for
// shutdown scoping plus the queue pair shared with the connection's pumps.
// Inbound carries frames read from the wire; Outbound carries frames to
// write.
type Conn struct {
	ID         uint64
	RemoteAddr string
	Status     status.StatusType
	Inbound    *connection.Queue
	Outbound   *connection.Queue
}

// FrameHandler processes one classified frame and returns any response
// frames to send back on the same connection.
type FrameHandler interface {
	HandleFrame(ctx context.Context, conn *Conn, frame sv2.Frame) ([]sv2.Frame, error)
}

// FrameHandlerFunc adapts a function to the FrameHandler interface.
type FrameHandlerFunc func(ctx context.Context, conn *Conn, frame sv2.Frame) ([]sv2.Frame, error)

// HandleFrame calls f.
func (f FrameHandlerFunc) HandleFrame(ctx context.Context, conn *Conn, frame sv2.Frame) ([]sv2.Frame, error) {
	return f(ctx, conn, frame)
}

// Router consumes a connection's inbound queue and dispatches each frame to
// the handler registered for its message category. Frames in an unhandled
// or unknown category are dropped with a warning; a handler error is logged
// and the connection carries on. Serve returns when the inbound queue
// closes or the outbound queue rejects a response.
type Router struct {
	logger   *log.Logger
	handlers map[sv2.MessageType]FrameHandler
}

// NewRouter creates a router with no handlers registered.
func NewRouter(logger *log.Logger) *Router {
	return &Router{
		logger:   logger.WithComponent("router"),
		handlers: make(map[sv2.MessageType]FrameHandler),
	}
}

// Handle registers the handler for one message category. Registering twice
// for the same category replaces the earlier handler.
func (r *Router) Handle(category sv2.MessageType, handler FrameHandler) {
	r.handlers[category] = handler
}

// Serve processes the connection's inbound frames until the queue closes.
func (r *Router) Serve(ctx context.Context, conn *Conn) {
	rlog := r.logger.WithFields("status", conn.Status.String())

	for {
		frame, err := conn.Inbound.Recv(ctx)
		if err != nil {
			rlog.Debug("inbound queue drained", "error", err)
			return
		}

		category := sv2.Classify(frame.MsgType)
		handler, ok := r.handlers[category]
		if !ok {
			rlog.Warn("dropping frame with no handler",
				"category", category.String(),
				"msg_type", frame.MsgType)
			continue
		}

		responses, err := handler.HandleFrame(ctx, conn, frame)
		if err != nil {
			rlog.WithError(err).Error("frame handler failed",
				"category", category.String(),
				"msg_type", frame.MsgType)
			continue
		}

		for _, resp := range responses {
			if err := conn.Outbound.Send(ctx, resp); err != nil {
				rlog.Debug("outbound queue rejected response", "error", err)
				return
			}
		}
	}
}
