// Package observerproto defines the JSON messages exchanged with observer
// clients over the websocket.
package observerproto

// Version is the observer protocol version.
const Version = "1.0"

const (
	TypeHello        = "HELLO"
	TypeMove         = "MOVE"
	TypeWelcome      = "WELCOME"
	TypeChunkDrawn   = "CHUNK_DRAWN"
	TypeChunkRemoved = "CHUNK_REMOVED"
	TypeTick         = "TICK"
	TypeError        = "ERROR"
)

// Envelope is decoded first to dispatch on Type.
type Envelope struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// Client -> Server. First message on the connection.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
}

// Client -> Server. Moves the observer.
type MoveMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
}

type WorldParams struct {
	TickRateHz   int   `json:"tick_rate_hz"`
	ChunkSize    int   `json:"chunk_size"`
	ColumnHeight int   `json:"column_height"`
	WorldExtent  int   `json:"world_extent"`
	Radius       int   `json:"radius"`
	Seed         int64 `json:"seed"`
}

// Server -> Client. Reply to HELLO.
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
	BlockPalette    []string    `json:"block_palette"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	Observer        [3]float64  `json:"observer"`
	WorldParams     WorldParams `json:"world_params"`
	BlockPalette    []string    `json:"block_palette"`
	Sessions        int         `json:"sessions"`
}

// Server -> Client. A chunk's geometry was realized or refreshed.
type ChunkDrawnMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Key             string         `json:"key"`
	Anchor          [3]int         `json:"anchor"`
	Faces           int            `json:"faces"`
	Solid           int            `json:"solid"`
	ByBlock         map[string]int `json:"by_block,omitempty"`
}

// Server -> Client. Drop a chunk from the client cache.
type ChunkRemovedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Key             string `json:"key"`
}

type QueueStats struct {
	Active    int    `json:"active"`
	Waiting   int    `json:"waiting"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Server -> Client. Sent after every streaming tick.
type TickMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	Observer        [3]float64 `json:"observer"`
	Rebuilt         bool       `json:"rebuilt"`
	Drawn           []string   `json:"drawn,omitempty"`
	PendingRemoval  []string   `json:"pending_removal,omitempty"`
	Removed         []string   `json:"removed,omitempty"`
	Registry        int        `json:"registry"`
	Queue           QueueStats `json:"queue"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
