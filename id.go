package jrpcpeer

import "math/rand"

// freshID returns a random uint32 for which inUse reports false, rescanning
// on collision. The registry's invariant that numeric IDs are unique across
// all Armed entries depends on the caller holding the registry lock across
// both the inUse checks and the eventual insertion.
//
// A PRNG-plus-rescan scheme, rather than a monotonic counter, is used here;
// see DESIGN.md for why the counter alternative was considered and not
// adopted.
func freshID(inUse func(uint32) bool) uint32 {
	for {
		id := rand.Uint32()
		if !inUse(id) {
			return id
		}
	}
}
