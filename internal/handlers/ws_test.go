// internal/handlers/ws_test.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superbgame/relay/internal/lobby"
	"github.com/superbgame/relay/internal/session"
)

type testEnv struct {
	srv *httptest.Server
	lm  *lobby.Registry
	gm  *session.Registry
}

func newTestEnv(t *testing.T, reconnectGrace, cleanupGrace time.Duration) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	lm := lobby.NewRegistry(logger, reconnectGrace)
	gm := session.NewRegistry(logger, cleanupGrace)

	mux := http.NewServeMux()
	mux.Handle("/ws/lobby", LobbyWSHandler(logger, lm, gm, nil))
	mux.Handle("/ws/game/", GameWSHandler(logger, gm, nil))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, lm: lm, gm: gm}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func sendJSON(t *testing.T, c *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

func readFrame(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// readUntil consumes frames until one of the wanted type arrives. Lobby
// broadcasts interleave freely with direct replies, so tests match on type
// rather than exact sequences.
func readUntil(t *testing.T, c *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 25; i++ {
		m := readFrame(t, c)
		if m["type"] == msgType {
			return m
		}
	}
	t.Fatalf("never received a %q frame", msgType)
	return nil
}

func joinLobby(t *testing.T, c *websocket.Conn, name string) string {
	t.Helper()
	sendJSON(t, c, map[string]interface{}{"type": "join", "name": name})
	joined := readUntil(t, c, "joined")
	require.Equal(t, name, joined["playerName"])
	return joined["playerId"].(string)
}

func TestLobbyJoinRequiresNameOrID(t *testing.T) {
	env := newTestEnv(t, time.Second, time.Second)
	c := env.dial(t, "/ws/lobby")

	sendJSON(t, c, map[string]interface{}{"type": "join"})
	errFrame := readUntil(t, c, "error")
	assert.Equal(t, "Name is required", errFrame["message"])

	// The socket stays usable; a proper join succeeds afterwards.
	sendJSON(t, c, map[string]interface{}{"type": "join", "name": "Ada"})
	joined := readUntil(t, c, "joined")
	assert.Equal(t, "Ada", joined["playerName"])
	players := joined["players"].([]interface{})
	assert.Len(t, players, 1)
}

func TestHappyPairingRelayAndGameOver(t *testing.T) {
	env := newTestEnv(t, time.Second, time.Second)

	lobbyA := env.dial(t, "/ws/lobby")
	idA := joinLobby(t, lobbyA, "Ada")
	lobbyB := env.dial(t, "/ws/lobby")
	idB := joinLobby(t, lobbyB, "Bob")

	sendJSON(t, lobbyA, map[string]interface{}{"type": "set_ready", "ready": true})
	sendJSON(t, lobbyB, map[string]interface{}{"type": "set_ready", "ready": true})

	matchA := readUntil(t, lobbyA, "match_found")
	matchB := readUntil(t, lobbyB, "match_found")
	gameID := matchA["gameId"].(string)
	require.Equal(t, gameID, matchB["gameId"])

	oppOfA := matchA["opponent"].(map[string]interface{})
	assert.Equal(t, idB, oppOfA["id"])
	assert.Equal(t, "Bob", oppOfA["name"])
	oppOfB := matchB["opponent"].(map[string]interface{})
	assert.Equal(t, idA, oppOfB["id"])

	gameA := env.dial(t, "/ws/game/"+gameID+"?playerId="+idA)
	connected := readUntil(t, gameA, "connected")
	you := connected["you"].(map[string]interface{})
	assert.Equal(t, idA, you["id"])
	assert.Equal(t, "Ada", you["name"])
	opp := connected["opponent"].(map[string]interface{})
	assert.Equal(t, idB, opp["id"])

	gameB := env.dial(t, "/ws/game/"+gameID+"?playerId="+idB)
	readUntil(t, gameB, "connected")

	// Second connection starts the session for both.
	readUntil(t, gameA, "start")
	readUntil(t, gameB, "start")

	sendJSON(t, gameA, map[string]interface{}{
		"type":  "state_update",
		"state": map[string]interface{}{"score": 3},
	})
	relayed := readUntil(t, gameB, "opponent_state")
	assert.Equal(t, idA, relayed["playerId"])
	assert.Equal(t, map[string]interface{}{"score": float64(3)}, relayed["state"])

	sendJSON(t, gameA, map[string]interface{}{
		"type":  "game_over",
		"state": map[string]interface{}{"score": 9},
	})
	over := readUntil(t, gameB, "opponent_game_over")
	assert.Equal(t, idA, over["playerId"])

	require.Eventually(t, func() bool {
		s, ok := env.gm.Get(gameID)
		return ok && s.Finished()
	}, time.Second, 10*time.Millisecond)
}

func TestGameSocketPolicyViolations(t *testing.T) {
	env := newTestEnv(t, time.Second, time.Second)
	s := env.gm.Create("p1", "Ada", "p2", "Bob")

	expectPolicyClose := func(path string) {
		t.Helper()
		c := env.dial(t, path)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _, err := c.Read(ctx)
		require.Error(t, err)
		assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	}

	expectPolicyClose("/ws/game/no-such-session?playerId=p1")
	expectPolicyClose("/ws/game/" + s.ID)
	expectPolicyClose("/ws/game/" + s.ID + "?playerId=stranger")
}

func TestLobbyReconnectWithinGrace(t *testing.T) {
	env := newTestEnv(t, 300*time.Millisecond, time.Second)

	first := env.dial(t, "/ws/lobby")
	idA := joinLobby(t, first, "Ada")

	_ = first.CloseNow()

	second := env.dial(t, "/ws/lobby")
	sendJSON(t, second, map[string]interface{}{"type": "join", "playerId": idA, "name": ""})
	joined := readUntil(t, second, "joined")
	assert.Equal(t, idA, joined["playerId"])
	assert.Equal(t, "Ada", joined["playerName"], "empty name on reconnect keeps the stored one")

	// Survive well past the grace window.
	time.Sleep(500 * time.Millisecond)
	payload, _ := env.lm.Snapshot()
	found := false
	for _, entry := range payload {
		if entry["id"] == idA {
			found = true
			assert.Equal(t, true, entry["isConnected"])
		}
	}
	assert.True(t, found, "reconnected player must not be removed by the stale grace timer")
}

func TestLobbyDropPastGraceRemovesPlayer(t *testing.T) {
	env := newTestEnv(t, 100*time.Millisecond, time.Second)

	watcher := env.dial(t, "/ws/lobby")
	joinLobby(t, watcher, "Watcher")

	doomed := env.dial(t, "/ws/lobby")
	idD := joinLobby(t, doomed, "Dana")
	_ = doomed.CloseNow()

	require.Eventually(t, func() bool {
		payload, _ := env.lm.Snapshot()
		for _, entry := range payload {
			if entry["id"] == idD {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestSessionReturningPlayerResumesState(t *testing.T) {
	env := newTestEnv(t, time.Second, time.Second)
	s := env.gm.Create("p1", "Ada", "p2", "Bob")

	gameA := env.dial(t, "/ws/game/"+s.ID+"?playerId=p1")
	readUntil(t, gameA, "connected")
	gameB := env.dial(t, "/ws/game/"+s.ID+"?playerId=p2")
	readUntil(t, gameB, "connected")
	readUntil(t, gameA, "start")
	readUntil(t, gameB, "start")

	sendJSON(t, gameA, map[string]interface{}{
		"type":  "state_update",
		"state": map[string]interface{}{"hp": 7},
	})
	sendJSON(t, gameB, map[string]interface{}{
		"type":  "state_update",
		"state": map[string]interface{}{"score": 1},
	})
	readUntil(t, gameA, "opponent_state")
	readUntil(t, gameB, "opponent_state")

	_ = gameB.CloseNow()
	left := readUntil(t, gameA, "opponent_left")
	assert.Equal(t, "p2", left["playerId"])

	// One connection remains, so the session must not be cleaned up.
	_, ok := env.gm.Get(s.ID)
	require.True(t, ok)

	returned := env.dial(t, "/ws/game/"+s.ID+"?playerId=p2")
	readUntil(t, returned, "connected")

	back := readUntil(t, gameA, "opponent_returned")
	assert.Equal(t, "p2", back["playerId"])

	// The returning socket gets a private start plus both memoized states.
	readUntil(t, returned, "start")
	resume := readUntil(t, returned, "resume_state")
	assert.Equal(t, map[string]interface{}{"score": float64(1)}, resume["state"])
	oppState := readUntil(t, returned, "opponent_state")
	assert.Equal(t, "p1", oppState["playerId"])
	assert.Equal(t, map[string]interface{}{"hp": float64(7)}, oppState["state"])
}

func TestSessionCleanupAfterBothDrop(t *testing.T) {
	env := newTestEnv(t, time.Second, 150*time.Millisecond)
	s := env.gm.Create("p1", "Ada", "p2", "Bob")

	gameA := env.dial(t, "/ws/game/"+s.ID+"?playerId=p1")
	readUntil(t, gameA, "connected")
	gameB := env.dial(t, "/ws/game/"+s.ID+"?playerId=p2")
	readUntil(t, gameB, "connected")

	_ = gameA.CloseNow()
	_ = gameB.CloseNow()

	require.Eventually(t, func() bool {
		_, ok := env.gm.Get(s.ID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestLobbyExplicitLeaveSkipsGrace(t *testing.T) {
	env := newTestEnv(t, time.Second, time.Second)

	c := env.dial(t, "/ws/lobby")
	id := joinLobby(t, c, "Ada")

	sendJSON(t, c, map[string]interface{}{"type": "leave"})

	require.Eventually(t, func() bool {
		payload, _ := env.lm.Snapshot()
		for _, entry := range payload {
			if entry["id"] == id {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}
