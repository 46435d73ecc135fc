package keymon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKeyGrabSplitsRealMods(t *testing.T) {
	tests := []struct {
		name     string
		rawMods  uint32
		wantMods uint32
	}{
		{"no mods", 0, 0},
		{"low bits only", 0x5, 0x5},
		{"all real bits", (1 << virtualModStart) - 1, (1 << virtualModStart) - 1},
		{"virtual bits masked off", 0xFFFFFFFF, (1 << virtualModStart) - 1},
		{"boundary bit excluded", 1 << virtualModStart, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grab := newKeyGrab(nil, 0xFF1B, tt.rawMods)
			assert.Equal(t, tt.wantMods, grab.Mods)
			assert.Equal(t, Keysym(0xFF1B), grab.Key)
		})
	}
}

func TestNewKeyGrabVirtualBits(t *testing.T) {
	mods := []Keysym{0x100, 0x200, 0x300}

	tests := []struct {
		name    string
		rawMods uint32
		want    []Keysym
	}{
		{"none set", 0x7, nil},
		{"first", 1 << virtualModStart, []Keysym{0x100}},
		{"second", 1 << (virtualModStart + 1), []Keysym{0x200}},
		{"first and third", 1<<virtualModStart | 1<<(virtualModStart+2), []Keysym{0x100, 0x300}},
		{"all", 0x7 << virtualModStart, []Keysym{0x100, 0x200, 0x300}},
		{"bit beyond list ignored", 1 << (virtualModStart + 3), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grab := newKeyGrab(mods, 0x20, tt.rawMods)
			assert.Len(t, grab.VirtualMods, len(tt.want))
			for _, sym := range tt.want {
				assert.True(t, grab.VirtualMods.Contains(sym), "missing %#x", sym)
			}
		})
	}
}

func TestNewKeyGrabLongModList(t *testing.T) {
	// Bit positions past the 32-bit word are unobservable; a list longer
	// than 32-virtualModStart entries simply never sees its tail selected.
	mods := make([]Keysym, 20)
	for i := range mods {
		mods[i] = Keysym(0x1000 + i)
	}

	grab := newKeyGrab(mods, 0x41, 0xFFFFFFFF)
	// Bits 15..31 select indices 0..16.
	assert.Len(t, grab.VirtualMods, 32-virtualModStart)
	assert.True(t, grab.VirtualMods.Contains(0x1000))
	assert.True(t, grab.VirtualMods.Contains(Keysym(0x1000+32-virtualModStart-1)))
	assert.False(t, grab.VirtualMods.Contains(Keysym(0x1000+32-virtualModStart)))
}

func TestKeysymSetEqual(t *testing.T) {
	a := KeysymSet{1: {}, 2: {}}
	b := KeysymSet{1: {}, 2: {}}
	c := KeysymSet{1: {}}
	d := KeysymSet{1: {}, 3: {}}

	assert.True(t, a.Equal(b))
	assert.True(t, KeysymSet{}.Equal(KeysymSet{}))
	assert.False(t, a.Equal(c))
	assert.False(t, c.Equal(a))
	assert.False(t, a.Equal(d))
}
