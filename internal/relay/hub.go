package relay

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"rtslockstep/internal/peerchannel"
)

// client is one connected relay participant. It is never exposed outside
// the package; callers only ever see the wire-level relay.Message shapes.
type client struct {
	id      string
	name    string
	channel peerchannel.Channel
	lobbyID string
}

// lobby is the hub's internal, mutable form of a LobbyDescriptor.
type lobby struct {
	id         string
	name       string
	hostID     string
	maxPlayers int
	mapID      string
	gameMode   string
	players    []string // client IDs, join order
}

func (l *lobby) descriptor(h *Hub) LobbyDescriptor {
	players := make([]LobbyPlayer, 0, len(l.players))
	for _, id := range l.players {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		players = append(players, LobbyPlayer{ID: c.id, Name: c.name, Ready: h.ready[c.id], House: h.house[c.id]})
	}
	return LobbyDescriptor{
		ID:         l.id,
		Name:       l.name,
		Host:       l.hostID,
		Players:    players,
		MaxPlayers: l.maxPlayers,
		MapID:      l.mapID,
		GameMode:   l.gameMode,
	}
}

// Hub holds every connected client and every open lobby. It is the relay's
// single owned mutable state, grounded the same way internal/api's
// WebSocketHub owns its client map: one mutex, no back-references out to
// the transport layer beyond the Channel interface.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	lobbies map[string]*lobby
	ready   map[string]bool
	house   map[string]string
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		lobbies: make(map[string]*lobby),
		ready:   make(map[string]bool),
		house:   make(map[string]string),
	}
}

// Connect registers a new channel with the hub and wires its message/status
// callbacks. The caller (the HTTP layer) owns accept/upgrade; the hub owns
// everything from "a Channel exists" onward.
func (h *Hub) Connect(ch peerchannel.Channel) {
	c := &client{id: uuid.NewString(), channel: ch}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	connectionsActive.Inc()

	ch.OnMessage(func(data []byte) {
		messagesTotal.Inc()
		msg, err := ParseMessage(data)
		if err != nil {
			return
		}
		h.dispatch(c, msg)
	})
	ch.OnStatus(func(status peerchannel.Status) {
		if status == peerchannel.StatusClosed || status == peerchannel.StatusError {
			h.disconnect(c)
		}
	})
}

func (h *Hub) send(c *client, msg Message) {
	data, err := msg.Encode()
	if err != nil {
		return
	}
	if err := c.channel.Send(data); err != nil {
		log.Printf("relay: send to %s failed: %v", c.id, err)
	}
}

func (h *Hub) sendError(c *client, text string) {
	h.send(c, Message{Type: MsgError, ErrorMessage: text})
}

func (h *Hub) dispatch(c *client, msg Message) {
	switch msg.Type {
	case MsgRegister:
		h.handleRegister(c, msg)
	case MsgLobbyCreate:
		h.handleLobbyCreate(c, msg)
	case MsgLobbyList:
		h.handleLobbyList(c)
	case MsgLobbyJoin:
		h.handleLobbyJoin(c, msg)
	case MsgLobbyLeave:
		h.handleLobbyLeave(c)
	case MsgLobbyReady:
		h.handleLobbyReady(c, msg)
	case MsgLobbyHouse:
		h.handleLobbyHouse(c, msg)
	case MsgGameStart:
		h.handleGameStart(c, msg)
	case MsgPeerOffer, MsgPeerAnswer, MsgPeerIce:
		h.relayPeerMessage(c, msg)
	default:
		// Unrecognised or server-originated-only tags are dropped.
	}
}

func (h *Hub) handleRegister(c *client, msg Message) {
	h.mu.Lock()
	c.name = msg.Name
	h.mu.Unlock()

	h.send(c, Message{Type: MsgRegistered, ID: c.id})
}

func (h *Hub) handleLobbyCreate(c *client, msg Message) {
	h.mu.Lock()
	l := &lobby{
		id:         uuid.NewString(),
		name:       msg.Name,
		hostID:     c.id,
		maxPlayers: msg.MaxPlayers,
		mapID:      msg.MapID,
		players:    []string{c.id},
	}
	if l.maxPlayers <= 0 {
		l.maxPlayers = defaultMaxPlayers
	}
	h.lobbies[l.id] = l
	c.lobbyID = l.id
	descriptor := l.descriptor(h)
	h.mu.Unlock()

	lobbiesActive.Set(float64(h.lobbyCount()))
	h.send(c, Message{Type: MsgLobbyCreated, Lobby: &descriptor})
}

func (h *Hub) handleLobbyList(c *client) {
	h.mu.Lock()
	descriptors := make([]LobbyDescriptor, 0, len(h.lobbies))
	for _, l := range h.lobbies {
		descriptors = append(descriptors, l.descriptor(h))
	}
	h.mu.Unlock()

	h.send(c, Message{Type: MsgLobbyList, Lobbies: descriptors})
}

func (h *Hub) handleLobbyJoin(c *client, msg Message) {
	h.mu.Lock()
	l, ok := h.lobbies[msg.LobbyID]
	if !ok {
		h.mu.Unlock()
		h.sendError(c, "lobby not found")
		return
	}
	if len(l.players) >= l.maxPlayers {
		h.mu.Unlock()
		h.sendError(c, "lobby is full")
		return
	}
	l.players = append(l.players, c.id)
	c.lobbyID = l.id
	descriptor := l.descriptor(h)
	members := h.lobbyMembersLocked(l)
	h.mu.Unlock()

	h.send(c, Message{Type: MsgLobbyJoined, Lobby: &descriptor})
	h.broadcastTo(members, Message{Type: MsgLobbyUpdated, Lobby: &descriptor})
}

func (h *Hub) handleLobbyLeave(c *client) {
	h.mu.Lock()
	l, ok := h.lobbies[c.lobbyID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.removePlayerLocked(l, c.id)
	c.lobbyID = ""

	if len(l.players) == 0 {
		delete(h.lobbies, l.id)
		h.mu.Unlock()
		lobbiesActive.Set(float64(h.lobbyCount()))
		return
	}
	if l.hostID == c.id {
		l.hostID = l.players[0]
	}
	descriptor := l.descriptor(h)
	members := h.lobbyMembersLocked(l)
	h.mu.Unlock()

	h.broadcastTo(members, Message{Type: MsgLobbyUpdated, Lobby: &descriptor})
}

func (h *Hub) handleLobbyReady(c *client, msg Message) {
	h.mu.Lock()
	l, ok := h.lobbies[c.lobbyID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.ready[c.id] = msg.Ready
	descriptor := l.descriptor(h)
	members := h.lobbyMembersLocked(l)
	h.mu.Unlock()

	h.broadcastTo(members, Message{Type: MsgLobbyUpdated, Lobby: &descriptor})
}

func (h *Hub) handleLobbyHouse(c *client, msg Message) {
	h.mu.Lock()
	l, ok := h.lobbies[c.lobbyID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.house[c.id] = msg.House
	descriptor := l.descriptor(h)
	members := h.lobbyMembersLocked(l)
	h.mu.Unlock()

	h.broadcastTo(members, Message{Type: MsgLobbyUpdated, Lobby: &descriptor})
}

func (h *Hub) handleGameStart(c *client, msg Message) {
	h.mu.Lock()
	l, ok := h.lobbies[c.lobbyID]
	if !ok || l.hostID != c.id {
		h.mu.Unlock()
		return
	}
	members := h.lobbyMembersLocked(l)
	h.mu.Unlock()

	h.broadcastTo(members, Message{Type: MsgGameStart, Seed: msg.Seed, Tick: msg.Tick})
}

// relayPeerMessage forwards an offer/answer/ice payload verbatim to its
// named recipient, stamping From so the recipient knows who sent it. The
// relay never inspects SDP/ICE contents — they are opaque blobs per the
// external interface.
func (h *Hub) relayPeerMessage(c *client, msg Message) {
	h.mu.Lock()
	target, ok := h.clients[msg.To]
	h.mu.Unlock()
	if !ok {
		h.sendError(c, "peer not found")
		return
	}
	msg.From = c.id
	msg.To = ""
	h.send(target, msg)
}

func (h *Hub) disconnect(c *client) {
	h.handleLobbyLeave(c)

	h.mu.Lock()
	delete(h.clients, c.id)
	delete(h.ready, c.id)
	delete(h.house, c.id)
	h.mu.Unlock()

	connectionsActive.Dec()
}

func (h *Hub) lobbyMembersLocked(l *lobby) []*client {
	members := make([]*client, 0, len(l.players))
	for _, id := range l.players {
		if c, ok := h.clients[id]; ok {
			members = append(members, c)
		}
	}
	return members
}

func (h *Hub) removePlayerLocked(l *lobby, id string) {
	for i, p := range l.players {
		if p == id {
			l.players = append(l.players[:i], l.players[i+1:]...)
			return
		}
	}
}

func (h *Hub) lobbyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lobbies)
}

func (h *Hub) broadcastTo(members []*client, msg Message) {
	for _, c := range members {
		h.send(c, msg)
	}
}

const defaultMaxPlayers = 8
