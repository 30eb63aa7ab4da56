package simhash

import "testing"

func sampleWorld() WorldSnapshot {
	return WorldSnapshot{
		Entities: []EntitySnapshot{
			{ID: 3, Owner: 1, PosX: 100, PosZ: 200, Health: 50, TypeID: 7},
			{ID: 1, Owner: 0, PosX: 10, PosZ: 20, Health: 100, TypeID: 2},
			{ID: 2, Owner: 0, PosX: 15, PosZ: 25, Health: 80, TypeID: 2},
		},
		Credits: []int32{500, 750},
	}
}

func TestHashEqualForEqualSnapshots(t *testing.T) {
	a := sampleWorld()
	b := sampleWorld()
	if Hash(a) != Hash(b) {
		t.Fatal("identical snapshots hashed differently")
	}
}

func TestHashIndependentOfEntityOrder(t *testing.T) {
	a := sampleWorld()
	b := sampleWorld()
	b.Entities[0], b.Entities[2] = b.Entities[2], b.Entities[0]
	if Hash(a) != Hash(b) {
		t.Fatal("hash depends on entity slice order, expected canonical id-order fold")
	}
}

func TestHashDoesNotMutateInput(t *testing.T) {
	a := sampleWorld()
	before := make([]EntitySnapshot, len(a.Entities))
	copy(before, a.Entities)
	Hash(a)
	for i := range a.Entities {
		if a.Entities[i] != before[i] {
			t.Fatalf("Hash mutated caller's entity slice at index %d", i)
		}
	}
}

func TestHashDiffersOnHealthChange(t *testing.T) {
	a := sampleWorld()
	b := sampleWorld()
	b.Entities[0].Health--
	if Hash(a) == Hash(b) {
		t.Fatal("hash identical despite differing health")
	}
}

func TestHashDiffersOnPositionChange(t *testing.T) {
	a := sampleWorld()
	b := sampleWorld()
	b.Entities[0].PosX++
	if Hash(a) == Hash(b) {
		t.Fatal("hash identical despite differing position")
	}
}

func TestHashDiffersOnCreditsChange(t *testing.T) {
	a := sampleWorld()
	b := sampleWorld()
	b.Credits[1]++
	if Hash(a) == Hash(b) {
		t.Fatal("hash identical despite differing credits")
	}
}

func TestHashDiffersOnOwnerChange(t *testing.T) {
	a := sampleWorld()
	b := sampleWorld()
	b.Entities[0].Owner = 5
	if Hash(a) == Hash(b) {
		t.Fatal("hash identical despite differing owner")
	}
}
