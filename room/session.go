package room

// Conn is the transport half of a live connection. Implemented by ClientConn
// for real websockets and by test doubles.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(m *Message)
	Finalise() // run by room manager goroutine
}

// Session is the registered identity behind a connection. DisplayName is set
// once at join and immutable afterwards. At most one session per room has
// Admin set.
type Session struct {
	ID          string
	DisplayName string
	Admin       bool
	joinSeq     uint64
}

// registry maps connection ids to joined sessions. It is owned by the room
// manager goroutine, NOT thread-safe.
type registry struct {
	sessions map[string]*Session
	nextSeq  uint64
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*Session)}
}

// add registers a session for id. Duplicate display names are allowed.
func (r *registry) add(id, displayName string) *Session {
	r.nextSeq++
	s := &Session{
		ID:          id,
		DisplayName: displayName,
		joinSeq:     r.nextSeq,
	}
	r.sessions[id] = s
	return s
}

// remove deregisters id, idempotent. Returns the removed session, if any.
func (r *registry) remove(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

func (r *registry) get(id string) *Session {
	return r.sessions[id]
}

func (r *registry) len() int {
	return len(r.sessions)
}

// earliest returns the remaining session with the lowest join sequence. This
// is the deterministic tie-break for admin re-election.
func (r *registry) earliest() *Session {
	var best *Session
	for _, s := range r.sessions {
		if best == nil || s.joinSeq < best.joinSeq {
			best = s
		}
	}
	return best
}
