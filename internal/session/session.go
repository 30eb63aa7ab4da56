// Package session drives the lobby and peer-connection lifecycle for one
// local player: registering with the signalling relay, lobby CRUD, and the
// offer/answer/ICE handshake that brings up one PeerChannel per opponent
// before handing control to the simulation.
package session

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"rtslockstep/internal/peerchannel"
	"rtslockstep/internal/relay"
)

// State is the session-level state machine: disconnected -> lobby ->
// connecting -> playing, with backward transitions on disconnect/leave.
type State int

const (
	StateDisconnected State = iota
	StateLobby
	StateConnecting
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateLobby:
		return "lobby"
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// PeerState is the per-peer handshake state machine named in the design
// notes: fresh -> offered -> answered -> iceFlushed -> connected | failed.
type PeerState int

const (
	PeerFresh PeerState = iota
	PeerOffered
	PeerAnswered
	PeerICEFlushed
	PeerConnected
	PeerFailed
)

// connectTimeout bounds how long "connecting" may last before the
// orchestrator gives up and reverts to the lobby. A var, not a const, so
// tests can shrink it instead of waiting out the real budget.
var connectTimeout = 15 * time.Second

// reconnectInterval matches the teacher's ReconnectDelay-style retry
// cadence for the relay connection.
const reconnectInterval = 3 * time.Second

// Negotiator performs the actual peer-to-peer transport handshake. The
// orchestrator only ever sees opaque JSON blobs relayed between peers — it
// has no opinion on the underlying P2P transport (WebRTC or otherwise);
// a Negotiator implementation supplies that.
type Negotiator interface {
	// CreateOffer is called when the local peer is the initiator for
	// peerID (peerID > local id). Returns the offer blob to relay.
	CreateOffer(peerID string) (json.RawMessage, error)
	// HandleOffer is called when peerID (peerID < local id) sent an
	// offer. Returns the answer blob to relay back.
	HandleOffer(peerID string, offer json.RawMessage) (json.RawMessage, error)
	// HandleAnswer completes a locally-initiated negotiation and
	// returns the resulting data channel.
	HandleAnswer(peerID string, answer json.RawMessage) (peerchannel.Channel, error)
	// HandleICE applies a remote ICE candidate. If this call completes
	// the acceptor-side handshake, it returns the resulting channel;
	// otherwise it returns a nil channel.
	HandleICE(peerID string, candidate json.RawMessage) (peerchannel.Channel, error)
}

// EventSink is how the orchestrator reports state without holding a
// back-reference to its caller, mirroring internal/game/engine.go's
// SetCallbacks shape.
type EventSink interface {
	OnStateChanged(s State)
	OnLobbyUpdated(lobby relay.LobbyDescriptor)
	OnPeerDisconnected(peerID string)
	OnAllPeersConnected()
	OnGameStart(seed int64, startTick uint64)
	OnError(err error)
}

// RelayDialer opens a fresh transport connection to the signalling relay.
type RelayDialer func() (peerchannel.Channel, error)

type peerConn struct {
	id         string
	seat       uint8
	state      PeerState
	channel    peerchannel.Channel
	remoteSet  bool
	pendingICE []json.RawMessage
}

// Orchestrator is the SessionOrchestrator: one instance per local player.
type Orchestrator struct {
	mu sync.Mutex

	localID   string
	localName string
	localSeat uint8

	dial     RelayDialer
	relay    peerchannel.Channel
	negotiator Negotiator
	sink     EventSink

	state State
	lobby *relay.LobbyDescriptor
	peers map[string]*peerConn

	reconnectStop chan struct{}
	connectTimer  *time.Timer
}

func NewOrchestrator(dial RelayDialer, negotiator Negotiator, sink EventSink) *Orchestrator {
	return &Orchestrator{
		dial:       dial,
		negotiator: negotiator,
		sink:       sink,
		state:      StateDisconnected,
		peers:      make(map[string]*peerConn),
	}
}

// setState must be called with o.mu held; it only updates the field. The
// sink notification always happens after the caller releases the lock, so
// a callback re-entering the orchestrator (e.g. reading State()) cannot
// deadlock on o.mu.
func (o *Orchestrator) setState(s State) {
	o.state = s
}

// Register connects to the relay and announces the local player's name.
// Reconnect is driven by connectionLoop for as long as localName stays set.
func (o *Orchestrator) Register(name string) error {
	o.mu.Lock()
	o.localName = name
	o.reconnectStop = make(chan struct{})
	o.mu.Unlock()

	if err := o.connectOnce(); err != nil {
		go o.connectionLoop()
		return err
	}
	return nil
}

// Disconnect clears the local name (suppressing reconnect), closes the
// relay connection, and reverts to disconnected.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	o.localName = ""
	if o.reconnectStop != nil {
		close(o.reconnectStop)
		o.reconnectStop = nil
	}
	conn := o.relay
	o.relay = nil
	o.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	o.mu.Lock()
	o.setState(StateDisconnected)
	o.mu.Unlock()
	if o.sink != nil {
		o.sink.OnStateChanged(StateDisconnected)
	}
}

func (o *Orchestrator) connectOnce() error {
	ch, err := o.dial()
	if err != nil {
		return err
	}
	ch.OnMessage(func(data []byte) {
		msg, err := relay.ParseMessage(data)
		if err != nil {
			return
		}
		o.handleRelayMessage(msg)
	})
	ch.OnStatus(func(status peerchannel.Status) {
		if status == peerchannel.StatusClosed || status == peerchannel.StatusError {
			o.onRelayLost()
		}
	})

	o.mu.Lock()
	o.relay = ch
	name := o.localName
	o.mu.Unlock()

	data, _ := relay.Message{Type: relay.MsgRegister, Name: name}.Encode()
	return ch.Send(data)
}

// connectionLoop is the teacher's ipc.Subscriber.connectionLoop shape: retry
// on a fixed interval for as long as localName is still set.
func (o *Orchestrator) connectionLoop() {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		o.mu.Lock()
		stop := o.reconnectStop
		active := o.localName != ""
		o.mu.Unlock()
		if !active || stop == nil {
			return
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
			o.mu.Lock()
			connected := o.relay != nil
			o.mu.Unlock()
			if connected {
				continue
			}
			if err := o.connectOnce(); err == nil {
				return
			}
		}
	}
}

func (o *Orchestrator) onRelayLost() {
	o.mu.Lock()
	o.relay = nil
	name := o.localName
	o.mu.Unlock()
	if name != "" {
		go o.connectionLoop()
	}
}

func (o *Orchestrator) send(msg relay.Message) error {
	o.mu.Lock()
	conn := o.relay
	o.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// CreateLobby issues lobby:create to the relay.
func (o *Orchestrator) CreateLobby(name string, maxPlayers int, mapID string) error {
	return o.send(relay.Message{Type: relay.MsgLobbyCreate, Name: name, MaxPlayers: maxPlayers, MapID: mapID})
}

// JoinLobby issues lobby:join.
func (o *Orchestrator) JoinLobby(lobbyID string) error {
	return o.send(relay.Message{Type: relay.MsgLobbyJoin, LobbyID: lobbyID})
}

// LeaveLobby issues lobby:leave and reverts locally to the lobby-less state.
func (o *Orchestrator) LeaveLobby() error {
	err := o.send(relay.Message{Type: relay.MsgLobbyLeave})
	o.mu.Lock()
	o.lobby = nil
	o.mu.Unlock()
	return err
}

// SetReady issues lobby:ready.
func (o *Orchestrator) SetReady(ready bool) error {
	return o.send(relay.Message{Type: relay.MsgLobbyReady, Ready: ready})
}

// SetHouse issues lobby:house.
func (o *Orchestrator) SetHouse(house string) error {
	return o.send(relay.Message{Type: relay.MsgLobbyHouse, House: house})
}

// StartGame issues game:start. Only meaningful for the lobby host; the
// relay silently drops a game:start sent by any other lobby member.
func (o *Orchestrator) StartGame(seed int64, startTick uint64) error {
	return o.send(relay.Message{Type: relay.MsgGameStart, Seed: seed, Tick: startTick})
}

// Broadcast sends an identical payload to every currently-connected peer
// channel.
func (o *Orchestrator) Broadcast(payload []byte) {
	o.mu.Lock()
	peers := make([]*peerConn, 0, len(o.peers))
	for _, p := range o.peers {
		if p.state == PeerConnected && p.channel != nil {
			peers = append(peers, p)
		}
	}
	o.mu.Unlock()

	for _, p := range peers {
		p.channel.Send(payload)
	}
}

func (o *Orchestrator) handleRelayMessage(msg relay.Message) {
	switch msg.Type {
	case relay.MsgRegistered:
		o.mu.Lock()
		o.localID = msg.ID
		o.setState(StateLobby)
		o.mu.Unlock()
		if o.sink != nil {
			o.sink.OnStateChanged(StateLobby)
		}
	case relay.MsgLobbyCreated, relay.MsgLobbyJoined, relay.MsgLobbyUpdated:
		if msg.Lobby != nil {
			o.mu.Lock()
			o.lobby = msg.Lobby
			o.mu.Unlock()
			if o.sink != nil {
				o.sink.OnLobbyUpdated(*msg.Lobby)
			}
		}
	case relay.MsgGameStart:
		o.beginConnecting(msg.Seed, msg.Tick)
	case relay.MsgPeerOffer:
		o.handlePeerOffer(msg.From, msg.Offer)
	case relay.MsgPeerAnswer:
		o.handlePeerAnswer(msg.From, msg.Answer)
	case relay.MsgPeerIce:
		o.handlePeerICE(msg.From, msg.Candidate)
	case relay.MsgError:
		if o.sink != nil {
			o.sink.OnError(errRelay(msg.ErrorMessage))
		}
	}
}

// beginConnecting transitions to connecting and drives the offerer/acceptor
// split by comparing peer ids, per §4.5: the local peer initiates toward
// every peer with a strictly greater id and waits for an offer from every
// peer with a lesser one. The lobby's player list is identical and
// identically ordered on every client (it is broadcast verbatim from the
// relay's single owned slice), so its index doubles as the dense uint8
// seat id the lockstep coordinator addresses peers by.
func (o *Orchestrator) beginConnecting(seed int64, startTick uint64) {
	o.mu.Lock()
	if o.lobby == nil {
		o.mu.Unlock()
		return
	}
	o.peers = make(map[string]*peerConn)
	for seat, p := range o.lobby.Players {
		if p.ID == o.localID {
			o.localSeat = uint8(seat)
			continue
		}
		o.peers[p.ID] = &peerConn{id: p.ID, seat: uint8(seat), state: PeerFresh}
	}
	localSeat := o.localSeat
	peers := make([]*peerConn, 0, len(o.peers))
	for _, p := range o.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].seat < peers[j].seat })
	o.setState(StateConnecting)
	o.connectTimer = time.AfterFunc(connectTimeout, o.onConnectTimeout)
	o.mu.Unlock()

	if o.sink != nil {
		o.sink.OnStateChanged(StateConnecting)
	}

	for _, p := range peers {
		if p.seat > localSeat {
			o.initiate(p.id)
		}
	}

	if o.sink != nil {
		o.sink.OnGameStart(seed, startTick)
	}
}

// LocalSeat returns the dense uint8 seat id assigned from lobby join
// order, suitable for constructing a lockstep.Coordinator.
func (o *Orchestrator) LocalSeat() uint8 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.localSeat
}

// PeerSeats returns every other seat id expected for this match, ascending.
func (o *Orchestrator) PeerSeats() []uint8 {
	o.mu.Lock()
	defer o.mu.Unlock()
	seats := make([]uint8, 0, len(o.peers))
	for _, p := range o.peers {
		seats = append(seats, p.seat)
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i] < seats[j] })
	return seats
}

func (o *Orchestrator) initiate(peerID string) {
	offer, err := o.negotiator.CreateOffer(peerID)
	if err != nil {
		o.failPeer(peerID)
		return
	}
	o.mu.Lock()
	if p, ok := o.peers[peerID]; ok {
		p.state = PeerOffered
	}
	o.mu.Unlock()
	o.send(relay.Message{Type: relay.MsgPeerOffer, To: peerID, Offer: offer})
}

func (o *Orchestrator) handlePeerOffer(peerID string, offer json.RawMessage) {
	o.mu.Lock()
	p, ok := o.peers[peerID]
	o.mu.Unlock()
	if !ok {
		return
	}

	answer, err := o.negotiator.HandleOffer(peerID, offer)
	if err != nil {
		o.failPeer(peerID)
		return
	}
	o.mu.Lock()
	p.state = PeerAnswered
	p.remoteSet = true
	pending := p.pendingICE
	p.pendingICE = nil
	o.mu.Unlock()

	o.send(relay.Message{Type: relay.MsgPeerAnswer, To: peerID, Answer: answer})
	o.flushICE(peerID, pending)
}

func (o *Orchestrator) handlePeerAnswer(peerID string, answer json.RawMessage) {
	o.mu.Lock()
	p, ok := o.peers[peerID]
	o.mu.Unlock()
	if !ok {
		return
	}

	ch, err := o.negotiator.HandleAnswer(peerID, answer)
	if err != nil {
		o.failPeer(peerID)
		return
	}
	o.mu.Lock()
	p.remoteSet = true
	pending := p.pendingICE
	p.pendingICE = nil
	o.mu.Unlock()

	o.flushICE(peerID, pending)
	if ch != nil {
		o.markConnected(peerID, ch)
	}
}

func (o *Orchestrator) handlePeerICE(peerID string, candidate json.RawMessage) {
	o.mu.Lock()
	p, ok := o.peers[peerID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if !p.remoteSet {
		// The buffer is bounded; candidates past the cap are dropped.
		const maxPendingICE = 64
		if len(p.pendingICE) < maxPendingICE {
			p.pendingICE = append(p.pendingICE, candidate)
		}
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	ch, err := o.negotiator.HandleICE(peerID, candidate)
	if err != nil {
		o.failPeer(peerID)
		return
	}
	if ch != nil {
		o.markConnected(peerID, ch)
	}
}

// flushICE applies every candidate buffered before the remote description
// was set, immediately after it is set — per §4.5.
func (o *Orchestrator) flushICE(peerID string, pending []json.RawMessage) {
	for _, c := range pending {
		ch, err := o.negotiator.HandleICE(peerID, c)
		if err != nil {
			o.failPeer(peerID)
			return
		}
		if ch != nil {
			o.markConnected(peerID, ch)
		}
	}
	o.mu.Lock()
	if p, ok := o.peers[peerID]; ok && p.state != PeerConnected && p.state != PeerFailed {
		p.state = PeerICEFlushed
	}
	o.mu.Unlock()
}

func (o *Orchestrator) markConnected(peerID string, ch peerchannel.Channel) {
	o.mu.Lock()
	p, ok := o.peers[peerID]
	if !ok || p.state == PeerConnected {
		o.mu.Unlock()
		return
	}
	p.state = PeerConnected
	p.channel = ch
	allConnected := o.allPeersConnectedLocked()
	o.mu.Unlock()

	ch.OnStatus(func(status peerchannel.Status) {
		if status == peerchannel.StatusClosed || status == peerchannel.StatusError {
			o.onPeerLost(peerID)
		}
	})

	if allConnected {
		o.onAllPeersConnected()
	}
}

func (o *Orchestrator) failPeer(peerID string) {
	o.mu.Lock()
	if p, ok := o.peers[peerID]; ok {
		p.state = PeerFailed
	}
	o.mu.Unlock()
}

func (o *Orchestrator) allPeersConnectedLocked() bool {
	for _, p := range o.peers {
		if p.state != PeerConnected {
			return false
		}
	}
	return true
}

func (o *Orchestrator) onAllPeersConnected() {
	o.mu.Lock()
	if o.connectTimer != nil {
		o.connectTimer.Stop()
	}
	o.setState(StatePlaying)
	o.mu.Unlock()
	if o.sink != nil {
		o.sink.OnStateChanged(StatePlaying)
		o.sink.OnAllPeersConnected()
	}
}

func (o *Orchestrator) onConnectTimeout() {
	o.mu.Lock()
	if o.state != StateConnecting {
		o.mu.Unlock()
		return
	}
	o.setState(StateLobby)
	o.mu.Unlock()
	if o.sink != nil {
		o.sink.OnStateChanged(StateLobby)
		o.sink.OnError(errConnectTimeout)
	}
}

func (o *Orchestrator) onPeerLost(peerID string) {
	o.mu.Lock()
	playing := o.state == StatePlaying
	if p, ok := o.peers[peerID]; ok {
		p.state = PeerFailed
		p.channel = nil
	}
	o.mu.Unlock()

	if playing && o.sink != nil {
		o.sink.OnPeerDisconnected(peerID)
	}
}

// State returns the current session state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LocalID returns the id assigned by the relay on registration.
func (o *Orchestrator) LocalID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.localID
}
