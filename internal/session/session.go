// Package session represents a single forwarded connection: the
// accepted client socket, the dialed source socket, and the counters
// and state that describe its lifecycle.
//
// A Session is written by exactly one forwarder.  Byte counters are
// owned by their direction's copy loop; everything else may be read
// concurrently (metrics, logging).
package session

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"luka/util"
)

// State is the lifecycle phase of a session.
type State int32

const (
	Authenticating State = iota // admission gate running
	Connecting                  // dialing the source
	Relaying                    // both copy loops running
	Closed                      // both legs finished cleanly
	Failed                      // admission, dial or relay error
)

var stateNames = [...]string{"authenticating", "connecting", "relaying", "closed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Session encapsulates the runtime context for a single client.
type Session struct {
	ID        string
	Client    net.Conn
	Source    net.Conn // nil until the source is dialed
	StartedAt time.Time
	Logger    *util.Logger

	bytesUp   atomic.Int64 // client → source
	bytesDown atomic.Int64 // source → client
	state     atomic.Int32
}

// New creates a Session for an accepted client connection.  The logger
// is scoped with the short session ID.
func New(client net.Conn, logger *util.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		Client:    client,
		StartedAt: time.Now(),
		Logger:    logger.With("session " + id[:8]),
	}
}

// ShortID returns the first eight characters of the ID, enough to tell
// sessions apart in logs.
func (s *Session) ShortID() string {
	if len(s.ID) < 8 {
		return s.ID
	}
	return s.ID[:8]
}

// ClientAddr returns the peer address of the client socket.
func (s *Session) ClientAddr() string {
	if s.Client == nil {
		return ""
	}
	return s.Client.RemoteAddr().String()
}

func (s *Session) AddUp(n int)       { s.bytesUp.Add(int64(n)) }
func (s *Session) AddDown(n int)     { s.bytesDown.Add(int64(n)) }
func (s *Session) BytesUp() int64    { return s.bytesUp.Load() }
func (s *Session) BytesDown() int64  { return s.bytesDown.Load() }
func (s *Session) SetState(st State) { s.state.Store(int32(st)) }
func (s *Session) State() State      { return State(s.state.Load()) }

// Done reports whether the session reached a terminal state.
func (s *Session) Done() bool {
	st := s.State()
	return st == Closed || st == Failed
}

// Duration returns how long the session has been (or was) open.
func (s *Session) Duration() time.Duration {
	return time.Since(s.StartedAt)
}
