// internal/lobby/player.go
package lobby

import (
	"strings"

	"github.com/superbgame/relay/internal/ws"
)

// MaxNameLength caps player display names, counted in code points.
const MaxNameLength = 24

// Player is a lobby registry record. All fields are guarded by the registry
// mutex; Conn is nil while the player is disconnected.
type Player struct {
	ID        string
	Name      string
	Conn      ws.Conn
	Connected bool
}

// PlayerInfo is the immutable view of a player handed back to handlers.
type PlayerInfo struct {
	ID   string
	Name string
}

// sanitizeName trims surrounding whitespace and truncates to MaxNameLength
// code points. Returns "" if nothing printable remains.
func sanitizeName(name string) string {
	trimmed := strings.TrimSpace(name)
	runes := []rune(trimmed)
	if len(runes) > MaxNameLength {
		runes = runes[:MaxNameLength]
	}
	return string(runes)
}

// fallbackName derives a display name from a player id.
func fallbackName(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
