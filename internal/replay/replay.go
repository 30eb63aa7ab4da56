// Package replay captures every command a match's peers agreed on, plus
// periodic desync-check hashes, into a self-describing artifact that can be
// serialised, stored, and later driven back through the same command sink
// the lockstep coordinator normally feeds.
package replay

import (
	"encoding/json"

	"rtslockstep/internal/command"
)

// ArtifactVersion is the current replay format version. Bump it, never
// renumber it, whenever the artifact's shape changes incompatibly.
const ArtifactVersion = 1

// Opponent names one non-local participant, for display in a replay
// browser.
type Opponent struct {
	Prefix string `json:"prefix"`
	Name   string `json:"name"`
}

// Header carries everything about the match that isn't a per-tick command:
// enough to reconstruct the initial world and identify the participants.
type Header struct {
	Version      int        `json:"version"`
	Date         string     `json:"date"`
	HousePrefix  string     `json:"housePrefix"`
	EnemyPrefix  string     `json:"enemyPrefix"`
	MapID        string     `json:"mapId"`
	MapSeed      int64      `json:"mapSeed"`
	RNGSeed      int64      `json:"rngSeed"`
	TotalPlayers int        `json:"totalPlayers"`
	Opponents    []Opponent `json:"opponents"`
	GameMode     string     `json:"gameMode"`
	Difficulty   string     `json:"difficulty,omitempty"`
	GameSpeed    float64    `json:"gameSpeed,omitempty"`
}

// TickCommands is one non-empty tick's recorded commands.
type TickCommands struct {
	Tick     uint64            `json:"tick"`
	Commands []command.Command `json:"commands"`
}

// HashCheckpoint is a (tick, hash) pair recorded at desync-check intervals.
// Serialised as a 2-element array to match the wire format exactly:
// [tick, hash].
type HashCheckpoint struct {
	Tick uint64
	Hash uint32
}

// MarshalJSON renders the checkpoint as a 2-element JSON array.
func (h HashCheckpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint64{h.Tick, uint64(h.Hash)})
}

// UnmarshalJSON parses a 2-element JSON array back into a HashCheckpoint.
func (h *HashCheckpoint) UnmarshalJSON(data []byte) error {
	var pair [2]uint64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	h.Tick = pair[0]
	h.Hash = uint32(pair[1])
	return nil
}

// Artifact is the complete, self-describing recording of a match: append-
// only while recording, immutable during playback.
type Artifact struct {
	Header          Header           `json:"header"`
	Ticks           []TickCommands   `json:"ticks"`
	HashCheckpoints []HashCheckpoint `json:"hashCheckpoints"`
	EndTick         uint64           `json:"endTick"`
}

// Serialise renders the artifact to its stable JSON wire form.
func Serialise(a Artifact) ([]byte, error) {
	return json.Marshal(a)
}

// Deserialise parses a previously serialised artifact. Round-tripping
// Serialise/Deserialise is lossless.
func Deserialise(data []byte) (Artifact, error) {
	var a Artifact
	err := json.Unmarshal(data, &a)
	return a, err
}
