// internal/session/session.go
package session

import (
	"encoding/json"
	"sync"

	"github.com/superbgame/relay/internal/ws"
)

// Session is a relay between exactly two players. members is frozen at
// creation and read without locking; the session mutex guards conns,
// lastStates and the started/finished flags.
type Session struct {
	ID      string
	members map[string]string

	mu         sync.Mutex
	conns      map[string]ws.Conn
	lastStates map[string]json.RawMessage
	started    bool
	finished   bool
}

// AttachResult describes what a freshly attached connection should be told.
type AttachResult struct {
	// ConnectedCount is the number of live connections including this one.
	ConnectedCount int
	// FirstStart is true when both members are present for the first time.
	FirstStart bool
	// Rejoined is true when both members are present again after a drop.
	Rejoined bool
	// OwnState is the attaching player's last submitted state, if any.
	OwnState json.RawMessage
	// OpponentState is the opponent's last submitted state, if any.
	OpponentState json.RawMessage
}

func newSession(id string, members map[string]string) *Session {
	return &Session{
		ID:         id,
		members:    members,
		conns:      make(map[string]ws.Conn),
		lastStates: make(map[string]json.RawMessage),
	}
}

// Member reports whether id belongs to this session and its display name.
func (s *Session) Member(id string) (string, bool) {
	name, ok := s.members[id]
	return name, ok
}

// MemberCount is always 2 for sessions built by the matchmaker.
func (s *Session) MemberCount() int {
	return len(s.members)
}

// Opponent returns the other member's id and name.
func (s *Session) Opponent(id string) (string, string, bool) {
	for pid, name := range s.members {
		if pid != id {
			return pid, name, true
		}
	}
	return "", "", false
}

// Attach binds a connection for playerID and reports, atomically with the
// bind, whether the session just reached full occupancy for the first time
// (start) or again (returning player), plus any memoized states to resume.
func (s *Session) Attach(playerID string, conn ws.Conn) AttachResult {
	oppID, _, hasOpp := s.Opponent(playerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns[playerID] = conn
	res := AttachResult{ConnectedCount: len(s.conns)}
	if len(s.conns) == len(s.members) {
		if !s.started {
			s.started = true
			res.FirstStart = true
		} else {
			res.Rejoined = true
		}
	}
	res.OwnState = s.lastStates[playerID]
	if hasOpp {
		res.OpponentState = s.lastStates[oppID]
	}
	return res
}

// Detach removes the player's connection and reports whether anything was
// removed plus how many connections remain. conn, when non-nil, must still be
// the player's current socket; a stale handler whose player already
// re-attached on a newer socket removes nothing.
func (s *Session) Detach(playerID string, conn ws.Conn) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.conns[playerID]
	if !ok || (conn != nil && cur != conn) {
		return false, len(s.conns)
	}
	delete(s.conns, playerID)
	return true, len(s.conns)
}

// ConnectedCount returns the number of live connections.
func (s *Session) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Started reports whether both members have ever been simultaneously present.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Finished reports whether any member has submitted game_over.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// LastState returns the memoized state for playerID, if any.
func (s *Session) LastState(playerID string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.lastStates[playerID]
	return state, ok
}

// Broadcast safe-sends payload to every connection except the excluded
// player. Targets are snapshotted under the mutex; writes happen outside it.
func (s *Session) Broadcast(payload interface{}, exclude string) {
	s.mu.Lock()
	targets := make([]ws.Conn, 0, len(s.conns))
	for pid, conn := range s.conns {
		if pid != exclude {
			targets = append(targets, conn)
		}
	}
	s.mu.Unlock()

	for _, conn := range targets {
		ws.SafeSend(conn, payload)
	}
}

// SendTo safe-sends payload to one member's live connection, if any.
func (s *Session) SendTo(playerID string, payload interface{}) {
	s.mu.Lock()
	conn := s.conns[playerID]
	s.mu.Unlock()
	if conn != nil {
		ws.SafeSend(conn, payload)
	}
}

// sendToOpponent safe-sends payload to the sender's opponent, if connected.
func (s *Session) sendToOpponent(senderID string, payload interface{}) {
	oppID, _, ok := s.Opponent(senderID)
	if !ok {
		return
	}
	s.SendTo(oppID, payload)
}

// recordState memoizes the sender's latest payload for resume.
func (s *Session) recordState(playerID string, state json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStates[playerID] = state
}

func (s *Session) markFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
}

// clear empties the connection and state maps after removal from the registry.
func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = make(map[string]ws.Conn)
	s.lastStates = make(map[string]json.RawMessage)
}
