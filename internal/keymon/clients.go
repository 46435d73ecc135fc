package keymon

import "sync"

// client is the per-identity protocol state. Zero value is the default
// state on first contact.
type client struct {
	grabbed     bool
	watched     bool
	virtualMods KeysymSet
	keyGrabs    []KeyGrab
}

// clientTable maps caller identities (bus unique names) to their state.
// One mutex guards the whole table; handlers and the input-path queries
// hold it only for short, non-blocking critical sections.
type clientTable struct {
	mu      sync.Mutex
	clients map[string]*client
}

func newClientTable() *clientTable {
	return &clientTable{clients: make(map[string]*client)}
}

// get returns the client for identity, creating it lazily.
// Callers must hold t.mu.
func (t *clientTable) get(identity string) *client {
	c, ok := t.clients[identity]
	if !ok {
		c = &client{}
		t.clients[identity] = c
	}
	return c
}

// remove drops the client for identity, reporting whether one existed.
func (t *clientTable) remove(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.clients[identity]
	delete(t.clients, identity)
	return ok
}

// setGrabbed sets the keyboard-grab flag for identity.
func (t *clientTable) setGrabbed(identity string, grabbed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(identity).grabbed = grabbed
}

// setWatched sets the key-event watch flag for identity.
func (t *clientTable) setWatched(identity string, watched bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(identity).watched = watched
}

// setKeyGrabs replaces identity's declared virtual modifiers and key
// grabs together, so readers never observe one without the other.
func (t *clientTable) setKeyGrabs(identity string, virtualMods KeysymSet, grabs []KeyGrab) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(identity)
	c.virtualMods = virtualMods
	c.keyGrabs = grabs
}

// anyGrabbed reports whether any client holds a keyboard grab.
func (t *clientTable) anyGrabbed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		if c.grabbed {
			return true
		}
	}
	return false
}

// anyWatched reports whether any client subscribed to the event feed.
func (t *clientTable) anyWatched() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		if c.watched {
			return true
		}
	}
	return false
}

// hasVirtualMod reports whether any client declared sym as a virtual
// modifier.
func (t *clientTable) hasVirtualMod(sym Keysym) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		if c.virtualMods.Contains(sym) {
			return true
		}
	}
	return false
}

// hasKeyGrab reports whether any registered grab matches mods and key
// exactly, with its virtual-modifier set equal to active.
func (t *clientTable) hasKeyGrab(mods uint32, key Keysym, active KeysymSet) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		for i := range c.keyGrabs {
			grab := &c.keyGrabs[i]
			if grab.Mods == mods && grab.Key == key && grab.VirtualMods.Equal(active) {
				return true
			}
		}
	}
	return false
}

// stats is a point-in-time summary for the control socket.
type stats struct {
	clients  int
	grabbed  int
	watched  int
	keyGrabs int
}

func (t *clientTable) stats() stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s stats
	s.clients = len(t.clients)
	for _, c := range t.clients {
		if c.grabbed {
			s.grabbed++
		}
		if c.watched {
			s.watched++
		}
		s.keyGrabs += len(c.keyGrabs)
	}
	return s
}
