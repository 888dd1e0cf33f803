package presence

import "sync"

type State int32

const (
	StateUnjoined State = iota
	StateJoined
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateTerminated:
		return "terminated"
	}
	return "invalid"
}

// Session is the coordinator's view of one live connection. The transport
// creates it on connect and hands it to every coordinator call.
type Session struct {
	ConnectionID string
	// SourceKey is the rate-limiting identity (client network origin).
	SourceKey string

	// op serialises Join and Disconnect of this connection.
	op sync.Mutex

	mu       sync.RWMutex
	state    State
	roomID   string
	nickName string
}

func NewSession(connectionID, sourceKey string) *Session {
	return &Session{ConnectionID: connectionID, SourceKey: sourceKey}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Room returns the joined room and the nickname assigned in it.
func (s *Session) Room() (roomID, nickName string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID, s.nickName, s.state == StateJoined
}

func (s *Session) markJoined(roomID, nickName string) (previousRoom string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateJoined {
		previousRoom = s.roomID
	}
	s.state = StateJoined
	s.roomID = roomID
	s.nickName = nickName
	return previousRoom
}

// terminate reports false when the session was already terminated.
func (s *Session) terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return false
	}
	s.state = StateTerminated
	return true
}
