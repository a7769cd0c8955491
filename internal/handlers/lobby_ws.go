// internal/handlers/lobby_ws.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/superbgame/relay/internal/lobby"
	"github.com/superbgame/relay/internal/session"
	"github.com/superbgame/relay/internal/ws"
)

// LobbyMessage is the envelope for client frames on the lobby socket.
// Unknown fields are ignored by encoding/json.
type LobbyMessage struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	Ready    bool   `json:"ready,omitempty"`
}

// LobbyWSHandler runs the per-socket lobby state machine: Anonymous until a
// successful join, then Joined until leave or disconnect. A drop without an
// explicit leave arms the reconnect grace instead of removing the player.
func LobbyWSHandler(logger *logrus.Logger, lm *lobby.Registry, gm *session.Registry, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warnf("lobby websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		ctx := r.Context()
		playerID := ""
		left := false

		// Finalizer: any exit without an explicit leave arms the grace
		// timer rather than dropping the player outright.
		defer func() {
			if playerID != "" && !left {
				lm.ScheduleDisconnect(playerID, c)
				lm.BroadcastState()
			}
		}()

		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					logger.Infof("lobby socket closed normally for player %q", playerID)
				} else {
					logger.Infof("lobby socket dropped for player %q: %v", playerID, err)
				}
				return
			}

			var msg LobbyMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warnf("invalid json on lobby socket from %s: %v", r.RemoteAddr, err)
				continue
			}

			switch msg.Type {
			case "join":
				if playerID != "" {
					continue
				}
				if strings.TrimSpace(msg.Name) == "" && msg.PlayerID == "" {
					ws.SafeSend(c, map[string]interface{}{
						"type":    "error",
						"message": "Name is required",
					})
					continue
				}
				info := lm.RegisterPlayer(c, msg.Name, msg.PlayerID)
				playerID = info.ID
				players, _ := lm.Snapshot()
				ws.SafeSend(c, map[string]interface{}{
					"type":       "joined",
					"playerId":   info.ID,
					"playerName": info.Name,
					"players":    players,
				})
				lm.BroadcastState()

			case "set_ready":
				if playerID == "" {
					continue
				}
				lm.SetReady(playerID, msg.Ready)
				lm.BroadcastState()
				lm.TryMatchmake(gm)

			case "leave":
				if playerID == "" {
					continue
				}
				lm.RemovePlayer(playerID)
				lm.BroadcastState()
				left = true
				c.Close(websocket.StatusNormalClosure, "left lobby")
				return

			default:
				// Unknown message types are ignored.
			}
		}
	}
}
