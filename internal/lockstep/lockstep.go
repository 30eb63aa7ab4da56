// Package lockstep implements a delay-based (not rollback) lockstep
// coordinator: every peer's commands for a tick are buffered until every
// peer has contributed, then dispatched in one canonically-ordered batch.
package lockstep

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rtslockstep/internal/command"
	"rtslockstep/internal/config"
)

var (
	stallTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_stall_total",
		Help: "Number of times the coordinator entered a stall waiting for peer input",
	})
	desyncTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_desync_total",
		Help: "Number of detected simulation hash mismatches",
	})
	tickReadyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_tick_ready_total",
		Help: "Number of ticks successfully dispatched to the simulation",
	})
)

// InputMessage is the wire message broadcast to peers for one tick's local
// input: {type: "lockstep:input", tick, commands, hash?}.
type InputMessage struct {
	Tick     uint64            `json:"tick"`
	Commands []command.Command `json:"commands"`
	Hash     *uint32           `json:"hash,omitempty"`
}

// Broadcaster sends a queued InputMessage to every peer. Implemented by the
// session/peerchannel layer; the coordinator never knows how peers are
// reached.
type Broadcaster interface {
	BroadcastInput(msg InputMessage)
}

// EventSink receives the coordinator's callbacks. A composition root wires
// a concrete sink at construction, avoiding any coordinator->session
// back-reference.
type EventSink interface {
	OnStall(missingPeers []uint8)
	OnStallResolved()
	OnTickReady(tick uint64, commands []command.Command)
	OnDesync(tick uint64, localHash uint32, remoteHashes map[uint8]uint32)
}

// inputBuffer maps tick -> peer id -> that peer's contribution.
type inputBuffer map[uint64]map[uint8]command.TickInput

// Coordinator drives lockstep dispatch for one match. Safe for concurrent
// use by the goroutine that queues local input and the goroutine that
// delivers peer messages — both paths hold the same mutex.
type Coordinator struct {
	mu sync.Mutex

	localPlayerID uint8
	peerIDs       []uint8
	allIDs        []uint8 // localPlayerID + peerIDs, sorted ascending

	// Tuning parameters, fixed by the protocol for the lifetime of a match —
	// every peer's Coordinator must be constructed with the same values, or
	// TryAdvance's merge and desync logic will disagree tick for tick. The
	// caller (the composition root) is responsible for that agreement; a
	// LockstepConfig loaded once and shared is the normal way to get it.
	inputDelay        uint64
	hashCheckInterval uint64
	retention         uint64

	buffer        inputBuffer
	localTick     uint64
	confirmedTick uint64
	stalling      bool

	sink      EventSink
	broadcast Broadcaster
}

// NewCoordinator constructs a Coordinator for one local player and its set
// of peers, tuned by cfg. Every peer in the match must be constructed with
// an identical cfg.
func NewCoordinator(localPlayerID uint8, peerIDs []uint8, cfg config.LockstepConfig, sink EventSink, broadcast Broadcaster) *Coordinator {
	all := append([]uint8{localPlayerID}, peerIDs...)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	return &Coordinator{
		localPlayerID:     localPlayerID,
		peerIDs:           peerIDs,
		allIDs:            all,
		inputDelay:        uint64(cfg.InputDelay),
		hashCheckInterval: uint64(cfg.HashCheckInterval),
		retention:         uint64(cfg.Retention),
		buffer:            inputBuffer{},
		sink:              sink,
		broadcast:         broadcast,
	}
}

// QueueLocalInput schedules commands for dispatch INPUT_DELAY ticks in the
// future, deposits them into the buffer under the local peer id, attaches
// hash if provided and the target tick is a hash-check boundary, broadcasts the
// input message to every peer, and advances local_tick. Must be called for
// every local tick, including empty ones — skipping a tick stalls every
// peer forever waiting for it.
func (c *Coordinator) QueueLocalInput(commands []command.Command, hash *uint32) {
	c.mu.Lock()
	target := c.localTick + c.inputDelay

	// The hash is attached and later checked against the same tick number
	// (target) so the two conditions land on the same dispatch — attaching
	// by local_tick's own counter would offset the check by the input delay
	// and the desync check below would never see it.
	var attached *uint32
	if target%c.hashCheckInterval == 0 && hash != nil {
		h := *hash
		attached = &h
	}

	entry := command.TickInput{Commands: commands, Hash: attached}
	c.depositLocked(target, c.localPlayerID, entry)
	c.localTick++
	c.mu.Unlock()

	if c.broadcast != nil {
		c.broadcast.BroadcastInput(InputMessage{Tick: target, Commands: commands, Hash: attached})
	}
}

// HandlePeerInput deposits a peer's input message into the buffer and, if a
// stall was pending, re-attempts TryAdvance. Commands claiming a player id
// other than peerID are dropped rather than deposited — the coordinator
// never accepts a command whose player doesn't match the peer that sent it.
func (c *Coordinator) HandlePeerInput(peerID uint8, msg InputMessage) {
	commands := msg.Commands
	for _, cmd := range msg.Commands {
		if cmd.Player != peerID {
			commands = filterByPlayer(msg.Commands, peerID)
			break
		}
	}

	c.mu.Lock()
	entry := command.TickInput{Commands: commands, Hash: msg.Hash}
	c.depositLocked(msg.Tick, peerID, entry)
	wasStalling := c.stalling
	c.mu.Unlock()

	if wasStalling {
		c.TryAdvance()
	}
}

func filterByPlayer(commands []command.Command, peerID uint8) []command.Command {
	out := make([]command.Command, 0, len(commands))
	for _, cmd := range commands {
		if cmd.Player == peerID {
			out = append(out, cmd)
		}
	}
	return out
}

func (c *Coordinator) depositLocked(tick uint64, peerID uint8, entry command.TickInput) {
	peers, ok := c.buffer[tick]
	if !ok {
		peers = map[uint8]command.TickInput{}
		c.buffer[tick] = peers
	}
	peers[peerID] = entry
}

// TryAdvance attempts to dispatch confirmed_tick+1. Returns true if a tick
// was dispatched.
func (c *Coordinator) TryAdvance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tryAdvanceLocked()
}

func (c *Coordinator) tryAdvanceLocked() bool {
	target := c.confirmedTick + 1

	// No peer can ever produce input for a tick earlier than the input
	// delay — the first local tick (0) always targets it. These bootstrap
	// ticks dispatch trivially with no commands, so the real waiting only
	// starts once a tick peers could actually have filled comes due.
	if target < c.inputDelay {
		if c.stalling {
			c.stalling = false
			if c.sink != nil {
				c.sink.OnStallResolved()
			}
		}
		if c.sink != nil {
			c.sink.OnTickReady(target, nil)
		}
		tickReadyTotal.Inc()
		c.confirmedTick = target
		return true
	}

	entry := c.buffer[target]

	var missing []uint8
	for _, id := range c.allIDs {
		if _, ok := entry[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		if !c.stalling {
			c.stalling = true
			stallTotal.Inc()
			if c.sink != nil {
				c.sink.OnStall(missing)
			}
		}
		return false
	}

	if c.stalling {
		c.stalling = false
		if c.sink != nil {
			c.sink.OnStallResolved()
		}
	}

	merged := make([]command.Command, 0)
	for _, id := range c.allIDs {
		for _, cmd := range entry[id].Commands {
			// Unknown opcodes are dropped during dispatch rather than
			// failing the whole tick — the merged tick still fires.
			if !cmd.Op.Valid() {
				continue
			}
			merged = append(merged, cmd)
		}
	}

	c.checkDesyncLocked(target, entry)

	if c.sink != nil {
		c.sink.OnTickReady(target, merged)
	}
	tickReadyTotal.Inc()

	c.confirmedTick = target
	c.reclaimLocked()
	return true
}

func (c *Coordinator) checkDesyncLocked(target uint64, entry map[uint8]command.TickInput) {
	if target%c.hashCheckInterval != 0 {
		return
	}
	local, ok := entry[c.localPlayerID]
	if !ok || local.Hash == nil {
		return
	}

	mismatched := false
	remote := map[uint8]uint32{}
	for _, id := range c.peerIDs {
		ti, ok := entry[id]
		if !ok || ti.Hash == nil {
			continue
		}
		remote[id] = *ti.Hash
		if *ti.Hash != *local.Hash {
			mismatched = true
		}
	}

	if mismatched {
		desyncTotal.Inc()
		if c.sink != nil {
			c.sink.OnDesync(target, *local.Hash, remote)
		}
	}
}

func (c *Coordinator) reclaimLocked() {
	if c.confirmedTick < c.retention {
		return
	}
	cutoff := c.confirmedTick - c.retention
	for tick := range c.buffer {
		if tick <= cutoff {
			delete(c.buffer, tick)
		}
	}
}

// Reset drops all state for a new game.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = inputBuffer{}
	c.localTick = 0
	c.confirmedTick = 0
	c.stalling = false
}
