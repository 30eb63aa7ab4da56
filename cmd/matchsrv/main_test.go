package main

import (
	"testing"

	"rtslockstep/internal/command"
	"rtslockstep/internal/config"
	"rtslockstep/internal/lockstep"
	"rtslockstep/internal/pathfind"
)

type nullSink struct{}

func (nullSink) OnStall(missingPeers []uint8)                                      {}
func (nullSink) OnStallResolved()                                                  {}
func (nullSink) OnTickReady(tick uint64, commands []command.Command)               {}
func (nullSink) OnDesync(tick uint64, localHash uint32, remoteHashes map[uint8]uint32) {}

type nullBroadcaster struct{}

func (nullBroadcaster) BroadcastInput(msg lockstep.InputMessage) {}

func TestNewMatchRuntimeWiresConfiguredComponents(t *testing.T) {
	cfg := config.AppConfig{
		Lockstep: config.LockstepConfig{InputDelay: 2, HashCheckInterval: 8, Retention: 4},
		Pathfind: config.DefaultPathfind(),
		Relay:    config.DefaultRelay(),
	}
	grid := pathfind.NewGrid()
	grid.Init(make([]byte, 4*4), 4, 4)

	coord, worker := newMatchRuntime(cfg, 0, []uint8{1}, nullBroadcaster{}, nullSink{}, grid)
	defer worker.Close()

	if coord == nil || worker == nil {
		t.Fatal("expected both a coordinator and a worker")
	}

	// A coordinator built with InputDelay=2 dispatches tick 1 trivially on
	// the very first TryAdvance, since 1 < InputDelay.
	if !coord.TryAdvance() {
		t.Fatal("expected the bootstrap tick to dispatch immediately")
	}
}
