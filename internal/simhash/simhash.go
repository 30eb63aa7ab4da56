// Package simhash computes a canonical 32-bit digest of a world snapshot
// at a tick boundary, used to detect simulation desync between peers.
//
// The digest is a fold of 32-bit lanes (xor-rotate-multiply), chosen for
// speed rather than cryptographic strength. It must be byte-order
// independent and must never depend on map iteration order — every
// collection that enters the hash is sorted first.
package simhash

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// EntitySnapshot is the essential, replay-significant state of one live
// entity at a tick boundary. Only fields that every peer's simulation must
// agree on belong here.
type EntitySnapshot struct {
	ID     uint32
	Owner  uint8
	PosX   int32 // already quantised, see command.Quantise
	PosZ   int32
	Health int32
	TypeID uint16
}

// WorldSnapshot is the input to Hash: the live entity set plus each
// player's credit balance, indexed by player id.
type WorldSnapshot struct {
	Entities []EntitySnapshot
	Credits  []int32 // Credits[playerID] = current balance
}

const (
	lane0 uint32 = 0x9e3779b9 // golden-ratio constant, odd, good avalanche
	rot   uint32 = 13
)

func fold(acc, v uint32) uint32 {
	acc ^= v
	acc = (acc << rot) | (acc >> (32 - rot))
	acc *= lane0
	return acc
}

func foldInt32(acc uint32, v int32) uint32 {
	return fold(acc, uint32(v))
}

// Hash computes the canonical digest of ws. It never mutates ws.Entities —
// a sorted copy is taken first, matching the rule that a grid/world
// snapshot is never shared as a mutable reference between components.
func Hash(ws WorldSnapshot) uint32 {
	entities := make([]EntitySnapshot, len(ws.Entities))
	copy(entities, ws.Entities)
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	acc := uint32(xxhash.Sum64String("rtslockstep/simhash/v1"))
	for _, e := range entities {
		acc = fold(acc, e.ID)
		acc = fold(acc, uint32(e.Owner))
		acc = foldInt32(acc, e.PosX)
		acc = foldInt32(acc, e.PosZ)
		acc = foldInt32(acc, e.Health)
		acc = fold(acc, uint32(e.TypeID))
	}

	for playerID, credits := range ws.Credits {
		acc = fold(acc, uint32(playerID))
		acc = foldInt32(acc, credits)
	}

	return acc
}
