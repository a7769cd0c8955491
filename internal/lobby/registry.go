// internal/lobby/registry.go
package lobby

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/superbgame/relay/internal/metrics"
	"github.com/superbgame/relay/internal/ws"
)

// Registry owns every lobby player, the FIFO ready queue and the per-player
// reconnect timers. A single mutex serializes all three; socket writes happen
// after snapshotting targets and releasing it.
type Registry struct {
	mu              sync.Mutex
	players         map[string]*Player
	queue           []string
	reconnectTimers map[string]*time.Timer

	grace  time.Duration
	logger *logrus.Logger
}

// LiveSocket pairs a player id with its current lobby connection.
type LiveSocket struct {
	PlayerID string
	Conn     ws.Conn
}

// NewRegistry builds an empty lobby registry. grace is the reconnect window
// armed when a player's socket drops.
func NewRegistry(logger *logrus.Logger, grace time.Duration) *Registry {
	return &Registry{
		players:         make(map[string]*Player),
		reconnectTimers: make(map[string]*time.Timer),
		grace:           grace,
		logger:          logger,
	}
}

// RegisterPlayer admits a player into the lobby. A requestedID matching an
// existing record is a reconnect: the socket is rebound, the name overwritten
// only if the new one sanitizes to non-empty, and any pending reconnect timer
// cancelled inside the same critical section. Otherwise a new record is
// created under requestedID, or a fresh UUID when none was supplied.
func (r *Registry) RegisterPlayer(conn ws.Conn, name, requestedID string) PlayerInfo {
	sanitized := sanitizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if requestedID != "" {
		if p, ok := r.players[requestedID]; ok {
			if sanitized != "" {
				p.Name = sanitized
			}
			p.Conn = conn
			p.Connected = conn != nil
			r.cancelReconnectTimerLocked(p.ID)
			r.logger.Infof("player %s reconnected as %s", p.ID, p.Name)
			return PlayerInfo{ID: p.ID, Name: p.Name}
		}
	}

	id := requestedID
	if id == "" {
		id = uuid.NewString()
	}
	display := sanitized
	if display == "" {
		display = fallbackName(id)
	}
	p := &Player{ID: id, Name: display, Conn: conn, Connected: conn != nil}
	r.players[id] = p
	r.cancelReconnectTimerLocked(id)
	metrics.LobbyPlayers.Set(float64(len(r.players)))
	r.logger.Infof("player %s connected as %s", p.ID, p.Name)
	return PlayerInfo{ID: p.ID, Name: p.Name}
}

// RemovePlayer drops the player record, its queue entry and any pending
// reconnect timer.
func (r *Registry) RemovePlayer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok {
		return
	}
	delete(r.players, id)
	r.dequeueLocked(id)
	r.cancelReconnectTimerLocked(id)
	metrics.LobbyPlayers.Set(float64(len(r.players)))
	r.logger.Infof("player %s removed from lobby (%s)", id, p.Name)
}

// SetReady toggles queue membership. Idempotent in both directions; queue
// position is insertion order and is preserved across repeated calls.
func (r *Registry) SetReady(id string, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[id]; !ok {
		return
	}
	queued := r.queuedLocked(id)
	switch {
	case ready && !queued:
		r.queue = append(r.queue, id)
		r.logger.Infof("player %s marked ready", id)
	case !ready && queued:
		r.dequeueLocked(id)
		r.logger.Infof("player %s unmarked as ready", id)
	}
	metrics.ReadyPlayers.Set(float64(len(r.queue)))
}

// Snapshot returns an atomic view of the lobby: one payload entry per player
// plus the subset of players with a live socket.
func (r *Registry) Snapshot() ([]map[string]interface{}, []LiveSocket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := make([]map[string]interface{}, 0, len(r.players))
	sockets := make([]LiveSocket, 0, len(r.players))
	for id, p := range r.players {
		payload = append(payload, map[string]interface{}{
			"id":          id,
			"name":        p.Name,
			"isReady":     r.queuedLocked(id),
			"isConnected": p.Connected,
		})
		if p.Conn != nil {
			sockets = append(sockets, LiveSocket{PlayerID: id, Conn: p.Conn})
		}
	}
	return payload, sockets
}

// BroadcastState sends the lobby_state frame to every live socket. A socket
// that errors on write is stale: its player is evicted and the rest of the
// broadcast continues.
func (r *Registry) BroadcastState() {
	payload, sockets := r.Snapshot()
	msg := map[string]interface{}{"type": "lobby_state", "players": payload}

	var stale []string
	for _, s := range sockets {
		if err := ws.Send(s.Conn, msg); err != nil {
			stale = append(stale, s.PlayerID)
		}
	}
	for _, id := range stale {
		r.logger.Warnf("dropping stale socket for player %s", id)
		metrics.StaleSocketsEvicted.Inc()
		r.RemovePlayer(id)
	}
}

// ScheduleDisconnect marks the player offline, pulls them from the ready
// queue and arms a single reconnect timer. Re-entrant: a second call while a
// timer is pending changes nothing. conn, when non-nil, must still be the
// player's current socket; a stale handler whose player already reconnected
// on a newer socket is a no-op.
func (r *Registry) ScheduleDisconnect(id string, conn ws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok {
		return
	}
	if conn != nil && p.Conn != conn {
		return
	}
	p.Conn = nil
	p.Connected = false
	if r.queuedLocked(id) {
		r.dequeueLocked(id)
		metrics.ReadyPlayers.Set(float64(len(r.queue)))
		r.logger.Infof("player %s removed from ready queue due to disconnect", id)
	}
	if _, armed := r.reconnectTimers[id]; armed {
		return
	}
	r.logger.Infof("player %s disconnected; waiting %s for reconnect", id, r.grace)
	r.reconnectTimers[id] = time.AfterFunc(r.grace, func() { r.expireReconnect(id) })
}

// expireReconnect runs when a reconnect grace elapses. It re-checks presence
// and connectivity under the mutex: a player who reconnected in the meantime
// is left alone even if the timer won the race with its cancellation.
func (r *Registry) expireReconnect(id string) {
	r.mu.Lock()
	delete(r.reconnectTimers, id)
	p, ok := r.players[id]
	if !ok || p.Connected {
		r.mu.Unlock()
		return
	}
	delete(r.players, id)
	r.dequeueLocked(id)
	metrics.LobbyPlayers.Set(float64(len(r.players)))
	r.mu.Unlock()

	r.logger.Infof("player %s removed after grace period (%s)", id, p.Name)
	r.BroadcastState()
}

func (r *Registry) cancelReconnectTimerLocked(id string) {
	if t, ok := r.reconnectTimers[id]; ok {
		t.Stop()
		delete(r.reconnectTimers, id)
		r.logger.Infof("cancelled reconnect timer for %s", id)
	}
}

func (r *Registry) queuedLocked(id string) bool {
	for _, qid := range r.queue {
		if qid == id {
			return true
		}
	}
	return false
}

func (r *Registry) dequeueLocked(id string) {
	for i, qid := range r.queue {
		if qid == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}
