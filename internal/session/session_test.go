package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rtslockstep/internal/peerchannel"
	"rtslockstep/internal/relay"
)

// fakeChannel is an in-memory peerchannel.Channel: Send appends to a log
// instead of touching a socket, and tests deliver inbound messages by
// calling deliver directly.
type fakeChannel struct {
	mu        sync.Mutex
	open      bool
	sent      []relay.Message
	onMessage func([]byte)
	onStatus  func(peerchannel.Status)
}

func newFakeChannel() *fakeChannel { return &fakeChannel{open: true} }

func (f *fakeChannel) Send(data []byte) error {
	msg, err := relay.ParseMessage(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.open = false
	cb := f.onStatus
	f.mu.Unlock()
	if cb != nil {
		cb(peerchannel.StatusClosed)
	}
	return nil
}

func (f *fakeChannel) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeChannel) OnMessage(cb func(data []byte)) { f.onMessage = cb }
func (f *fakeChannel) OnStatus(cb func(status peerchannel.Status)) { f.onStatus = cb }

func (f *fakeChannel) deliver(msg relay.Message) {
	data, _ := msg.Encode()
	f.onMessage(data)
}

func (f *fakeChannel) last(t *testing.T) relay.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

// recordingSink captures every EventSink callback for assertion.
type recordingSink struct {
	mu               sync.Mutex
	states           []State
	lobbies          []relay.LobbyDescriptor
	disconnectedPeer []string
	allConnected     int
	gameStarts       []int64
	errs             []error
}

func (s *recordingSink) OnStateChanged(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}
func (s *recordingSink) OnLobbyUpdated(l relay.LobbyDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobbies = append(s.lobbies, l)
}
func (s *recordingSink) OnPeerDisconnected(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectedPeer = append(s.disconnectedPeer, peerID)
}
func (s *recordingSink) OnAllPeersConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allConnected++
}
func (s *recordingSink) OnGameStart(seed int64, tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameStarts = append(s.gameStarts, seed)
}
func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) lastState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return StateDisconnected
	}
	return s.states[len(s.states)-1]
}

// fakeNegotiator hands back scripted offer/answer blobs and completes the
// handshake either on HandleAnswer (initiator) or HandleICE (acceptor).
type fakeNegotiator struct {
	mu          sync.Mutex
	offerCalls  []string
	offerCalls2 []string
}

func (n *fakeNegotiator) CreateOffer(peerID string) (json.RawMessage, error) {
	n.mu.Lock()
	n.offerCalls = append(n.offerCalls, peerID)
	n.mu.Unlock()
	return json.RawMessage(`"offer"`), nil
}

func (n *fakeNegotiator) HandleOffer(peerID string, offer json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`"answer"`), nil
}

func (n *fakeNegotiator) HandleAnswer(peerID string, answer json.RawMessage) (peerchannel.Channel, error) {
	return newFakeChannel(), nil
}

func (n *fakeNegotiator) HandleICE(peerID string, candidate json.RawMessage) (peerchannel.Channel, error) {
	return newFakeChannel(), nil
}

func newTestOrchestrator(ch *fakeChannel, neg Negotiator, sink *recordingSink) *Orchestrator {
	dial := func() (peerchannel.Channel, error) { return ch, nil }
	return NewOrchestrator(dial, neg, sink)
}

func TestOrchestratorRegisterTransitionsToLobby(t *testing.T) {
	ch := newFakeChannel()
	sink := &recordingSink{}
	o := newTestOrchestrator(ch, &fakeNegotiator{}, sink)

	require.NoError(t, o.Register("commander"))
	require.Equal(t, relay.MsgRegister, ch.last(t).Type)

	ch.deliver(relay.Message{Type: relay.MsgRegistered, ID: "local-id"})

	require.Equal(t, "local-id", o.LocalID())
	require.Equal(t, StateLobby, o.State())
	require.Equal(t, StateLobby, sink.lastState())
}

func TestOrchestratorLobbyCreateAndUpdate(t *testing.T) {
	ch := newFakeChannel()
	sink := &recordingSink{}
	o := newTestOrchestrator(ch, &fakeNegotiator{}, sink)
	require.NoError(t, o.Register("host"))
	ch.deliver(relay.Message{Type: relay.MsgRegistered, ID: "host-id"})

	require.NoError(t, o.CreateLobby("arena", 2, "map1"))
	require.Equal(t, relay.MsgLobbyCreate, ch.last(t).Type)

	lobby := relay.LobbyDescriptor{ID: "lobby1", Host: "host-id", MaxPlayers: 2,
		Players: []relay.LobbyPlayer{{ID: "host-id", Name: "host"}}}
	ch.deliver(relay.Message{Type: relay.MsgLobbyCreated, Lobby: &lobby})

	require.Len(t, sink.lobbies, 1)
	require.Equal(t, "lobby1", sink.lobbies[0].ID)
}

func TestOrchestratorInitiatorOffersHigherSeat(t *testing.T) {
	ch := newFakeChannel()
	sink := &recordingSink{}
	neg := &fakeNegotiator{}
	o := newTestOrchestrator(ch, neg, sink)
	require.NoError(t, o.Register("host"))
	ch.deliver(relay.Message{Type: relay.MsgRegistered, ID: "host-id"})

	lobby := relay.LobbyDescriptor{ID: "lobby1", Players: []relay.LobbyPlayer{
		{ID: "host-id"}, // seat 0, local
		{ID: "peer-id"}, // seat 1
	}}
	ch.deliver(relay.Message{Type: relay.MsgLobbyUpdated, Lobby: &lobby})

	ch.deliver(relay.Message{Type: relay.MsgGameStart, Seed: 7, Tick: 0})

	require.Equal(t, StateConnecting, o.State())
	require.Contains(t, neg.offerCalls, "peer-id")
	require.Equal(t, relay.MsgPeerOffer, ch.last(t).Type)
	require.Equal(t, uint8(0), o.LocalSeat())
	require.Equal(t, []uint8{1}, o.PeerSeats())
}

func TestOrchestratorAcceptorAnswersLowerSeat(t *testing.T) {
	ch := newFakeChannel()
	sink := &recordingSink{}
	neg := &fakeNegotiator{}
	o := newTestOrchestrator(ch, neg, sink)
	require.NoError(t, o.Register("guest"))
	ch.deliver(relay.Message{Type: relay.MsgRegistered, ID: "peer-id"})

	lobby := relay.LobbyDescriptor{ID: "lobby1", Players: []relay.LobbyPlayer{
		{ID: "host-id"}, // seat 0
		{ID: "peer-id"}, // seat 1, local
	}}
	ch.deliver(relay.Message{Type: relay.MsgLobbyUpdated, Lobby: &lobby})
	ch.deliver(relay.Message{Type: relay.MsgGameStart, Seed: 7, Tick: 0})

	// Local is the higher seat, so it must not have initiated anything yet.
	require.Empty(t, neg.offerCalls)

	ch.deliver(relay.Message{Type: relay.MsgPeerOffer, From: "host-id", Offer: json.RawMessage(`"offer"`)})
	require.Equal(t, relay.MsgPeerAnswer, ch.last(t).Type)
	require.Equal(t, "host-id", ch.last(t).To)
}

func TestOrchestratorAllPeersConnectedEntersPlaying(t *testing.T) {
	ch := newFakeChannel()
	sink := &recordingSink{}
	neg := &fakeNegotiator{}
	o := newTestOrchestrator(ch, neg, sink)
	require.NoError(t, o.Register("host"))
	ch.deliver(relay.Message{Type: relay.MsgRegistered, ID: "host-id"})

	lobby := relay.LobbyDescriptor{ID: "lobby1", Players: []relay.LobbyPlayer{
		{ID: "host-id"},
		{ID: "peer-id"},
	}}
	ch.deliver(relay.Message{Type: relay.MsgLobbyUpdated, Lobby: &lobby})
	ch.deliver(relay.Message{Type: relay.MsgGameStart, Seed: 1, Tick: 0})

	ch.deliver(relay.Message{Type: relay.MsgPeerAnswer, From: "peer-id", Answer: json.RawMessage(`"answer"`)})

	require.Equal(t, StatePlaying, o.State())
	require.Equal(t, 1, sink.allConnected)
}

func TestOrchestratorICEBufferedBeforeRemoteDescription(t *testing.T) {
	ch := newFakeChannel()
	sink := &recordingSink{}
	neg := &fakeNegotiator{}
	o := newTestOrchestrator(ch, neg, sink)
	require.NoError(t, o.Register("host"))
	ch.deliver(relay.Message{Type: relay.MsgRegistered, ID: "host-id"})

	lobby := relay.LobbyDescriptor{ID: "lobby1", Players: []relay.LobbyPlayer{
		{ID: "host-id"},
		{ID: "peer-id"},
	}}
	ch.deliver(relay.Message{Type: relay.MsgLobbyUpdated, Lobby: &lobby})
	ch.deliver(relay.Message{Type: relay.MsgGameStart, Seed: 1, Tick: 0})

	// ICE arrives before the answer — must buffer, not connect yet.
	ch.deliver(relay.Message{Type: relay.MsgPeerIce, From: "peer-id", Candidate: json.RawMessage(`"c1"`)})
	require.NotEqual(t, StatePlaying, o.State())

	ch.deliver(relay.Message{Type: relay.MsgPeerAnswer, From: "peer-id", Answer: json.RawMessage(`"answer"`)})
	require.Equal(t, StatePlaying, o.State())
}

func TestOrchestratorConnectTimeoutRevertsToLobby(t *testing.T) {
	orig := connectTimeout
	connectTimeout = 30 * time.Millisecond
	defer func() { connectTimeout = orig }()

	ch := newFakeChannel()
	sink := &recordingSink{}
	o := newTestOrchestrator(ch, &fakeNegotiator{}, sink)
	require.NoError(t, o.Register("host"))
	ch.deliver(relay.Message{Type: relay.MsgRegistered, ID: "host-id"})

	lobby := relay.LobbyDescriptor{ID: "lobby1", Players: []relay.LobbyPlayer{
		{ID: "host-id"},
		{ID: "peer-id"},
	}}
	ch.deliver(relay.Message{Type: relay.MsgLobbyUpdated, Lobby: &lobby})
	ch.deliver(relay.Message{Type: relay.MsgGameStart, Seed: 1, Tick: 0})
	require.Equal(t, StateConnecting, o.State())

	require.Eventually(t, func() bool { return o.State() == StateLobby }, time.Second, 5*time.Millisecond)
	require.NotEmpty(t, sink.errs)
}

func TestOrchestratorDisconnectSuppressesReconnect(t *testing.T) {
	ch := newFakeChannel()
	sink := &recordingSink{}
	o := newTestOrchestrator(ch, &fakeNegotiator{}, sink)
	require.NoError(t, o.Register("host"))
	ch.deliver(relay.Message{Type: relay.MsgRegistered, ID: "host-id"})

	o.Disconnect()
	require.Equal(t, StateDisconnected, o.State())
	require.False(t, ch.IsOpen())
}

func TestOrchestratorLeaveLobbySendsLeave(t *testing.T) {
	ch := newFakeChannel()
	sink := &recordingSink{}
	o := newTestOrchestrator(ch, &fakeNegotiator{}, sink)
	require.NoError(t, o.Register("host"))
	ch.deliver(relay.Message{Type: relay.MsgRegistered, ID: "host-id"})

	require.NoError(t, o.LeaveLobby())
	require.Equal(t, relay.MsgLobbyLeave, ch.last(t).Type)
}
