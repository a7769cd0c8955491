// internal/session/registry.go
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/superbgame/relay/internal/metrics"
	"github.com/superbgame/relay/internal/ws"
)

// emptyState substitutes a missing state payload so resume always replays a
// valid JSON object.
var emptyState = json.RawMessage("{}")

// Registry owns every live session and the per-session cleanup timers. Its
// mutex guards both maps; each Session guards its own connection state. When
// both locks are needed the registry mutex is acquired first.
type Registry struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	cleanupTimers map[string]*time.Timer

	grace  time.Duration
	logger *logrus.Logger
}

// NewRegistry builds an empty session registry. grace is how long an empty or
// finished session survives before the cleanup timer destroys it.
func NewRegistry(logger *logrus.Logger, grace time.Duration) *Registry {
	return &Registry{
		sessions:      make(map[string]*Session),
		cleanupTimers: make(map[string]*time.Timer),
		grace:         grace,
		logger:        logger,
	}
}

// Create allocates a session for an ordered pair of players. The member map
// is frozen here and never mutated again.
func (g *Registry) Create(playerOneID, playerOneName, playerTwoID, playerTwoName string) *Session {
	s := newSession(uuid.NewString(), map[string]string{
		playerOneID: playerOneName,
		playerTwoID: playerTwoName,
	})

	g.mu.Lock()
	g.sessions[s.ID] = s
	metrics.ActiveSessions.Set(float64(len(g.sessions)))
	g.mu.Unlock()

	metrics.SessionsCreated.Inc()
	g.logger.Infof("session %s created for players %s vs %s", s.ID, playerOneID, playerTwoID)
	return s
}

// Get looks up a session by id.
func (g *Registry) Get(id string) (*Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	return s, ok
}

// Remove destroys the session, cancelling any cleanup timer and clearing the
// session's connection and state maps.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	s, ok := g.sessions[id]
	delete(g.sessions, id)
	if t, armed := g.cleanupTimers[id]; armed {
		t.Stop()
		delete(g.cleanupTimers, id)
	}
	metrics.ActiveSessions.Set(float64(len(g.sessions)))
	g.mu.Unlock()

	if ok {
		s.clear()
		g.logger.Infof("session %s removed", id)
	}
}

// ForwardState memoizes the sender's payload and relays it to the opponent's
// live connection. A missing session is a silent no-op.
func (g *Registry) ForwardState(sessionID, senderID string, state json.RawMessage) {
	s, ok := g.Get(sessionID)
	if !ok {
		return
	}
	if len(state) == 0 {
		state = emptyState
	}
	s.recordState(senderID, state)
	s.sendToOpponent(senderID, map[string]interface{}{
		"type":     "opponent_state",
		"playerId": senderID,
		"state":    state,
	})
	metrics.MessagesRelayed.WithLabelValues("state_update").Inc()
	g.logger.Debugf("session %s state update from %s", sessionID, senderID)
}

// ForwardGameOver is ForwardState plus marking the session finished and using
// the opponent_game_over envelope.
func (g *Registry) ForwardGameOver(sessionID, senderID string, state json.RawMessage) {
	s, ok := g.Get(sessionID)
	if !ok {
		return
	}
	if len(state) == 0 {
		state = emptyState
	}
	s.recordState(senderID, state)
	s.markFinished()
	s.sendToOpponent(senderID, map[string]interface{}{
		"type":     "opponent_game_over",
		"playerId": senderID,
		"state":    state,
	})
	metrics.MessagesRelayed.WithLabelValues("game_over").Inc()
	g.logger.Infof("session %s marked finished by %s", sessionID, senderID)
}

// HandleDisconnect detaches the player's connection, tells whoever remains,
// and arms the cleanup timer once the session has no connections left. conn
// carries the same stale-socket guard as Session.Detach.
func (g *Registry) HandleDisconnect(sessionID, playerID string, conn ws.Conn) {
	s, ok := g.Get(sessionID)
	if !ok {
		return
	}
	removed, remaining := s.Detach(playerID, conn)
	if !removed {
		return
	}
	s.Broadcast(map[string]interface{}{"type": "opponent_left", "playerId": playerID}, playerID)
	g.logger.Infof("session %s player %s disconnected", sessionID, playerID)
	if remaining == 0 {
		g.ScheduleCleanup(sessionID)
		g.logger.Infof("session %s has no active connections; cleanup scheduled", sessionID)
	}
}

// ScheduleCleanup arms a single cleanup timer for the session. Idempotent:
// an already armed timer is left in place.
func (g *Registry) ScheduleCleanup(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, armed := g.cleanupTimers[sessionID]; armed {
		return
	}
	g.cleanupTimers[sessionID] = time.AfterFunc(g.grace, func() { g.expireCleanup(sessionID) })
}

// CancelCleanup disarms a pending cleanup timer, if any. Called when a member
// connects to the session during the grace window.
func (g *Registry) CancelCleanup(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, armed := g.cleanupTimers[sessionID]; armed {
		t.Stop()
		delete(g.cleanupTimers, sessionID)
		g.logger.Infof("session %s cleanup cancelled", sessionID)
	}
}

// expireCleanup runs when a cleanup grace elapses. Conditions are re-checked
// before destroying: a session rescued by a reconnect survives even if the
// timer won the race with its cancellation.
func (g *Registry) expireCleanup(sessionID string) {
	g.mu.Lock()
	delete(g.cleanupTimers, sessionID)
	s, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return
	}
	if s.ConnectedCount() == 0 || s.Finished() {
		g.logger.Infof("session %s cleanup executed", sessionID)
		g.Remove(sessionID)
	} else {
		g.logger.Debugf("session %s cleanup skipped; players still connected", sessionID)
	}
}
