package jrpcpeer

import "testing"

func TestFreshIDAvoidsCollisions(t *testing.T) {
	used := map[uint32]bool{1: true, 2: true, 3: true}
	for i := 0; i < 1000; i++ {
		id := freshID(func(n uint32) bool { return used[n] })
		if used[id] {
			t.Fatalf("freshID returned an in-use id: %d", id)
		}
		used[id] = true
	}
}

func TestFreshIDRescansOnCollision(t *testing.T) {
	calls := 0
	inUse := func(n uint32) bool {
		calls++
		return calls <= 3 // force three rejections before acceptance
	}
	freshID(inUse)
	if calls < 4 {
		t.Errorf("freshID made %d calls to inUse, want at least 4", calls)
	}
}
