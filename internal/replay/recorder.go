package replay

import "rtslockstep/internal/command"

// Recorder observes every locally-seen command and hash checkpoint during a
// match and accumulates them into an Artifact. It stores ticks sparsely:
// a tick with no commands never appears in the artifact at all.
type Recorder struct {
	recording bool
	header    Header
	ticks     []TickCommands
	checks    []HashCheckpoint
	endTick   uint64

	pending []command.Command // current tick's commands, not yet closed
}

// NewRecorder constructs an idle Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins a new recording session, discarding any prior state.
func (r *Recorder) Start(header Header) {
	r.recording = true
	r.header = header
	r.ticks = nil
	r.checks = nil
	r.endTick = 0
	r.pending = nil
}

// RecordCommand appends cmd to the tick currently being accumulated.
// Ignored when not recording.
func (r *Recorder) RecordCommand(cmd command.Command) {
	if !r.recording {
		return
	}
	r.pending = append(r.pending, cmd)
}

// EndTick closes the tick currently being accumulated. If it held any
// commands they are appended as a (tick, commands) entry; otherwise the
// tick is omitted (sparse storage). Always updates EndTick, including for
// empty ticks, so playback can tell how long the match ran.
func (r *Recorder) EndTick(tick uint64) {
	if !r.recording {
		return
	}
	if len(r.pending) > 0 {
		cmds := make([]command.Command, len(r.pending))
		copy(cmds, r.pending)
		r.ticks = append(r.ticks, TickCommands{Tick: tick, Commands: cmds})
	}
	r.pending = nil
	r.endTick = tick
}

// AddHashCheckpoint records a (tick, hash) desync-check pair.
func (r *Recorder) AddHashCheckpoint(tick uint64, hash uint32) {
	if !r.recording {
		return
	}
	r.checks = append(r.checks, HashCheckpoint{Tick: tick, Hash: hash})
}

// Stop detaches and returns the accumulated artifact; the recorder returns
// to idle.
func (r *Recorder) Stop() Artifact {
	a := Artifact{
		Header:          r.header,
		Ticks:           r.ticks,
		HashCheckpoints: r.checks,
		EndTick:         r.endTick,
	}
	r.recording = false
	r.header = Header{}
	r.ticks = nil
	r.checks = nil
	r.endTick = 0
	r.pending = nil
	return a
}
