// Package keymon implements the org.freedesktop.a11y.KeyboardMonitor
// service: per-client grab/watch state, compound key-grab registration,
// and the key-event broadcast feed consumed by assistive technologies.
package keymon

// virtualModStart is the bit index where virtual-modifier bits begin in
// the wire encoding of a keystroke's modifier word, as defined by
// at-spi2-core. Bits below it carry the real hardware modifier mask.
const virtualModStart = 15

// Keysym is an X keyboard symbol.
type Keysym uint32

// KeysymSet is a set of keysyms.
type KeysymSet map[Keysym]struct{}

// Contains reports membership of sym in the set.
func (s KeysymSet) Contains(sym Keysym) bool {
	_, ok := s[sym]
	return ok
}

// Equal reports whether both sets hold exactly the same keysyms.
func (s KeysymSet) Equal(other KeysymSet) bool {
	if len(s) != len(other) {
		return false
	}
	for sym := range s {
		if _, ok := other[sym]; !ok {
			return false
		}
	}
	return true
}

// KeyGrab is one key+modifier combination a client wants intercepted.
type KeyGrab struct {
	// Mods is the real hardware modifier mask.
	Mods uint32

	// VirtualMods are the client-declared abstract modifiers that must
	// be active, matched by exact set equality.
	VirtualMods KeysymSet

	// Key is the grabbed keysym.
	Key Keysym
}

// newKeyGrab decodes a raw 32-bit modifier word against the client's
// ordered virtual-modifier list. The low virtualModStart bits are the
// real modifier mask; bit virtualModStart+i selects virtualMods[i].
func newKeyGrab(virtualMods []Keysym, key Keysym, rawMods uint32) KeyGrab {
	grab := KeyGrab{
		Mods:        rawMods & ((1 << virtualModStart) - 1),
		VirtualMods: make(KeysymSet),
		Key:         key,
	}
	for i, sym := range virtualMods {
		// Shifts past bit 31 yield zero, so bits beyond the word are
		// simply unobservable.
		if rawMods&(uint32(1)<<(virtualModStart+i)) != 0 {
			grab.VirtualMods[sym] = struct{}{}
		}
	}
	return grab
}
