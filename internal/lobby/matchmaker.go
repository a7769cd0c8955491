// internal/lobby/matchmaker.go
package lobby

import (
	"github.com/superbgame/relay/internal/metrics"
	"github.com/superbgame/relay/internal/session"
	"github.com/superbgame/relay/internal/ws"
)

// matchTarget captures the identity and socket of a matched player at the
// moment it was popped from the queue.
type matchTarget struct {
	id   string
	name string
	conn ws.Conn
}

type pairing struct {
	sessionID string
	one, two  matchTarget
}

// TryMatchmake pairs consecutive ready, connected players in queue order and
// creates a session for each pair. Safe to call spuriously: with fewer than
// two eligible players it does nothing. When any matches formed it broadcasts
// lobby state exactly once, then notifies both members of every pair.
func (r *Registry) TryMatchmake(sessions *session.Registry) {
	var matches []pairing
	for {
		r.mu.Lock()
		eligible := make([]string, 0, len(r.queue))
		for _, id := range r.queue {
			if p, ok := r.players[id]; ok && p.Connected {
				eligible = append(eligible, id)
			}
		}
		if len(eligible) < 2 {
			r.mu.Unlock()
			break
		}
		firstID, secondID := eligible[0], eligible[1]
		r.dequeueLocked(firstID)
		r.dequeueLocked(secondID)
		metrics.ReadyPlayers.Set(float64(len(r.queue)))
		first, okOne := r.players[firstID]
		second, okTwo := r.players[secondID]
		var m pairing
		if okOne && okTwo {
			m = pairing{
				one: matchTarget{id: first.ID, name: first.Name, conn: first.Conn},
				two: matchTarget{id: second.ID, name: second.Name, conn: second.Conn},
			}
		}
		r.mu.Unlock()

		// Either player vanishing between snapshot and resolution skips
		// the pair; their queue entries are already gone.
		if !okOne || !okTwo {
			continue
		}
		sess := sessions.Create(m.one.id, m.one.name, m.two.id, m.two.name)
		m.sessionID = sess.ID
		matches = append(matches, m)
		r.logger.Infof("matched players %s and %s into session %s", m.one.id, m.two.id, sess.ID)
	}

	if len(matches) == 0 {
		return
	}
	r.BroadcastState()
	for _, m := range matches {
		ws.SafeSend(m.one.conn, matchFoundPayload(m.sessionID, m.two))
		ws.SafeSend(m.two.conn, matchFoundPayload(m.sessionID, m.one))
	}
}

func matchFoundPayload(sessionID string, opponent matchTarget) map[string]interface{} {
	return map[string]interface{}{
		"type":   "match_found",
		"gameId": sessionID,
		"opponent": map[string]interface{}{
			"id":   opponent.id,
			"name": opponent.name,
		},
	}
}
