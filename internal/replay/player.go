package replay

import "rtslockstep/internal/command"

// CommandSink is the function a Player delivers replayed commands to — the
// same shape the lockstep coordinator drives its consumer with, so a
// replay can be fed through identical downstream code.
type CommandSink func(cmd command.Command)

// Player drives a previously recorded Artifact back through a CommandSink,
// tick by tick. It never rewinds: ProcessTick only ever moves its cursor
// forward.
type Player struct {
	artifact Artifact
	hashIdx  map[uint64]uint32
	tickIdx  map[uint64][]command.Command
	sink     CommandSink
	active   bool
	cursor   int // index into artifact.Ticks of the next tick not yet fully consumed
}

// NewPlayer constructs an unloaded Player.
func NewPlayer() *Player {
	return &Player{}
}

// Load installs the artifact and rebuilds its tick-keyed indexes: the
// tick -> hash index HashCheckpoint uses for O(1) lookup, and a
// tick -> commands index. ProcessTick does not use the latter; it walks
// the artifact's ticks with its forward-only cursor.
func (p *Player) Load(a Artifact) {
	p.artifact = a
	p.hashIdx = make(map[uint64]uint32, len(a.HashCheckpoints))
	for _, c := range a.HashCheckpoints {
		p.hashIdx[c.Tick] = c.Hash
	}
	p.tickIdx = make(map[uint64][]command.Command, len(a.Ticks))
	for _, t := range a.Ticks {
		p.tickIdx[t.Tick] = t.Commands
	}
	p.active = false
	p.cursor = 0
}

// SetCommandSink installs the function invoked for each replayed command.
func (p *Player) SetCommandSink(sink CommandSink) {
	p.sink = sink
}

// Start enters playback from the beginning of the loaded artifact.
func (p *Player) Start() {
	p.active = true
	p.cursor = 0
}

// ProcessTick delivers every command stored for tick, in stored order, to
// the sink and advances the cursor. Returns the number of commands
// delivered. Becomes inactive once tick exceeds the artifact's EndTick.
//
// If called with a tick past the next stored tick, intervening sparse gaps
// are simply skipped. If called with a tick behind the cursor's current
// position, no commands are replayed for it — the player never rewinds.
func (p *Player) ProcessTick(tick uint64) int {
	if !p.active {
		return 0
	}
	if tick > p.artifact.EndTick {
		p.active = false
		return 0
	}

	for p.cursor < len(p.artifact.Ticks) && p.artifact.Ticks[p.cursor].Tick < tick {
		p.cursor++
	}
	if p.cursor >= len(p.artifact.Ticks) || p.artifact.Ticks[p.cursor].Tick != tick {
		return 0
	}

	cmds := p.artifact.Ticks[p.cursor].Commands
	p.cursor++
	if p.sink != nil {
		for _, c := range cmds {
			p.sink(c)
		}
	}
	return len(cmds)
}

// HashCheckpoint returns the hash recorded at tick, if any.
func (p *Player) HashCheckpoint(tick uint64) (uint32, bool) {
	h, ok := p.hashIdx[tick]
	return h, ok
}
