package relay

import "encoding/json"

// MessageType is one of the closed set of tags recognised by the
// signalling relay. Any other tag is dropped silently by both the relay
// and the session client — see the design note on dynamic named message
// dispatch.
type MessageType string

const (
	MsgRegister    MessageType = "register"
	MsgRegistered  MessageType = "registered"
	MsgLobbyCreate MessageType = "lobby:create"
	MsgLobbyCreated MessageType = "lobby:created"
	MsgLobbyUpdated MessageType = "lobby:updated"
	MsgLobbyList   MessageType = "lobby:list"
	MsgLobbyJoin   MessageType = "lobby:join"
	MsgLobbyJoined MessageType = "lobby:joined"
	MsgLobbyLeave  MessageType = "lobby:leave"
	MsgLobbyReady  MessageType = "lobby:ready"
	MsgLobbyHouse  MessageType = "lobby:house"
	MsgGameStart   MessageType = "game:start"
	MsgPeerOffer   MessageType = "peer:offer"
	MsgPeerAnswer  MessageType = "peer:answer"
	MsgPeerIce     MessageType = "peer:ice"
	MsgError       MessageType = "error"
)

// LobbyPlayer is one participant in a LobbyDescriptor.
type LobbyPlayer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
	House string `json:"house,omitempty"`
}

// LobbyDescriptor is the full state of one lobby, as sent to clients.
type LobbyDescriptor struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Host       string        `json:"host"`
	Players    []LobbyPlayer `json:"players"`
	MaxPlayers int           `json:"maxPlayers"`
	MapID      string        `json:"mapId,omitempty"`
	GameMode   string        `json:"gameMode,omitempty"`
}

// Message is the single flat envelope every relay message uses. Only the
// fields relevant to Type are populated; the rest are left at their zero
// value and omitted from the wire form.
type Message struct {
	Type MessageType `json:"type"`

	// register / registered
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`

	// lobby:create / lobby:join / lobby:ready / lobby:house
	LobbyID    string `json:"lobbyId,omitempty"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
	MapID      string `json:"mapId,omitempty"`
	House      string `json:"house,omitempty"`
	Ready      bool   `json:"ready,omitempty"`

	// lobby:created / lobby:updated / lobby:joined
	Lobby *LobbyDescriptor `json:"lobby,omitempty"`
	// lobby:list
	Lobbies []LobbyDescriptor `json:"lobbies,omitempty"`

	// game:start
	Seed int64  `json:"seed,omitempty"`
	Tick uint64 `json:"tick,omitempty"`

	// peer:offer / peer:answer / peer:ice
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// error
	ErrorMessage string `json:"message,omitempty"`
}

// Encode renders m to its wire JSON form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes a wire message. An unrecognised Type is not an
// error here — the caller's dispatch is responsible for dropping it.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
