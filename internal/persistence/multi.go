package persistence

// Multi fans every operation out to a set of backends. A failing or slow
// sink cannot affect another: each backend already isolates its own I/O
// behind a non-blocking boundary.
type Multi struct {
	backends []Backend
}

// NewMulti composes backends into one. Nil entries are skipped.
func NewMulti(backends ...Backend) *Multi {
	m := &Multi{}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

// PersistEvent forwards the event to every backend.
func (m *Multi) PersistEvent(event ShareEvent) {
	for _, b := range m.backends {
		b.PersistEvent(event)
	}
}

// Flush forwards the flush hint to every backend.
func (m *Multi) Flush() {
	for _, b := range m.backends {
		b.Flush()
	}
}

// Shutdown forwards the drain request to every backend.
func (m *Multi) Shutdown() {
	for _, b := range m.backends {
		b.Shutdown()
	}
}

// Len returns the number of active backends.
func (m *Multi) Len() int {
	return len(m.backends)
}
