// internal/handlers/game_ws.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/superbgame/relay/internal/session"
	"github.com/superbgame/relay/internal/ws"
)

// GameMessage is the envelope for client frames on the game socket. State is
// relayed verbatim and never examined beyond JSON decoding.
type GameMessage struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state,omitempty"`
}

// GameWSHandler attaches a socket to an existing session at
// /ws/game/{gameId}?playerId=<id> and relays frames between its two members.
// A missing playerId, unknown session or non-member is closed with 1008
// before any payload is emitted.
func GameWSHandler(logger *logrus.Logger, gm *session.Registry, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/ws/game/"), "/")
		if len(pathParts) < 1 || pathParts[0] == "" {
			http.Error(w, "missing game_id in path (/ws/game/{game_id})", http.StatusBadRequest)
			return
		}
		gameID := pathParts[0]
		playerID := r.URL.Query().Get("playerId")

		sess, exists := gm.Get(gameID)
		var you string
		var member bool
		if exists {
			you, member = sess.Member(playerID)
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warnf("game websocket accept error for session %s: %v", gameID, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if playerID == "" || !exists || !member {
			logger.Warnf("rejecting game socket for session %s, playerId %q", gameID, playerID)
			c.Close(websocket.StatusPolicyViolation, "unknown session or player")
			return
		}

		attach := sess.Attach(playerID, c)
		gm.CancelCleanup(gameID)
		logger.Infof("player %s joined session %s (%d connected)", playerID, gameID, attach.ConnectedCount)

		oppID, oppName, hasOpp := sess.Opponent(playerID)
		var opponent interface{}
		if hasOpp {
			opponent = map[string]interface{}{"id": oppID, "name": oppName}
		}
		ws.SafeSend(c, map[string]interface{}{
			"type":     "connected",
			"you":      map[string]interface{}{"id": playerID, "name": you},
			"opponent": opponent,
		})

		switch {
		case attach.FirstStart:
			sess.Broadcast(map[string]interface{}{"type": "start"}, "")
		case attach.Rejoined:
			sess.Broadcast(map[string]interface{}{"type": "opponent_returned", "playerId": playerID}, playerID)
			ws.SafeSend(c, map[string]interface{}{"type": "start"})
		}

		if len(attach.OwnState) > 0 {
			ws.SafeSend(c, map[string]interface{}{"type": "resume_state", "state": attach.OwnState})
		}
		if hasOpp && len(attach.OpponentState) > 0 {
			ws.SafeSend(c, map[string]interface{}{
				"type":     "opponent_state",
				"playerId": oppID,
				"state":    attach.OpponentState,
			})
		}

		// Finalizer: every exit path detaches the connection; the session
		// registry arms cleanup once nobody is left.
		defer gm.HandleDisconnect(gameID, playerID, c)

		ctx := r.Context()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					logger.Infof("game socket closed normally for player %s in session %s", playerID, gameID)
				} else {
					logger.Infof("game socket dropped for player %s in session %s: %v", playerID, gameID, err)
				}
				return
			}

			var msg GameMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warnf("invalid json on game socket from player %s in session %s: %v", playerID, gameID, err)
				continue
			}

			switch msg.Type {
			case "state_update":
				gm.ForwardState(gameID, playerID, msg.State)
			case "game_over":
				gm.ForwardGameOver(gameID, playerID, msg.State)
			case "leave":
				c.Close(websocket.StatusNormalClosure, "left game")
				return
			default:
				// Unknown message types are ignored.
			}
		}
	}
}
