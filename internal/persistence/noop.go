package persistence

// NoOp is a persistence backend that does nothing. It is used when
// persistence is disabled; callers cannot tell it apart from an active
// backend except by the absence of side effects.
type NoOp struct{}

// PersistEvent discards the event.
func (NoOp) PersistEvent(ShareEvent) {}

// Flush does nothing.
func (NoOp) Flush() {}

// Shutdown does nothing.
func (NoOp) Shutdown() {}
