package keymon

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
)

// Bus identifiers for the keyboard-monitor service.
const (
	BusName    = "org.freedesktop.a11y.Manager"
	ObjectPath = dbus.ObjectPath("/org/freedesktop/a11y/Manager")
	Interface  = "org.freedesktop.a11y.KeyboardMonitor"
)

const keyEventSignal = Interface + ".KeyEvent"

// signalEmitter emits a broadcast signal on the bus. *dbus.Conn
// satisfies it; tests substitute a fake.
type signalEmitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// KeyState distinguishes key presses from releases.
type KeyState int

// Key states.
const (
	KeyPressed KeyState = iota
	KeyReleased
)

// ModifierState is the host input pipeline's view of the modifier state
// at the time of a key event.
type ModifierState struct {
	// EffectiveLayout is the active keyboard layout index.
	EffectiveLayout uint32
}

// KeysymInfo describes the key of a key event.
type KeysymInfo struct {
	// ModifiedSym is the keysym after modifiers are applied.
	ModifiedSym Keysym

	// Unicode is the UTF-32 codepoint the key produces, or zero.
	Unicode uint32

	// Keycode is the raw hardware keycode.
	Keycode uint16
}

// keyEventNotification is one queued KeyEvent broadcast.
type keyEventNotification struct {
	releasedEvent bool
	layout        uint32
	keysym        uint32
	unicode       uint32
	keycode       uint16
}

// Options configures a Monitor.
type Options struct {
	// QueueSize is the capacity of the bounded broadcast queue between
	// the input path and the signal dispatcher. Defaults to 64.
	QueueSize int

	// Logger receives serve and dispatch failures.
	Logger *slog.Logger
}

// Monitor owns the client session table and the key-event broadcast
// path. Protocol handlers mutate the table via the bus; the host input
// pipeline calls the query methods and KeyEvent.
type Monitor struct {
	table *clientTable

	// activeVirtualMods is owned by the single-threaded input pipeline;
	// Add/RemoveActiveVirtualMod and HasKeyGrab must only be called from
	// that context.
	activeVirtualMods KeysymSet

	// emitter is published exactly once, after the serving connection is
	// established. Before publication KeyEvent is a no-op.
	emitter atomic.Value // signalEmitter

	queue     chan keyEventNotification
	dropped   atomic.Uint64
	log       *slog.Logger
	done      chan struct{}
	published atomic.Bool
	closeOnce sync.Once
}

// NewMonitor creates a Monitor and starts its broadcast dispatcher.
func NewMonitor(opts Options) *Monitor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Monitor{
		table:             newClientTable(),
		activeVirtualMods: make(KeysymSet),
		queue:             make(chan keyEventNotification, opts.QueueSize),
		log:               opts.Logger,
		done:              make(chan struct{}),
	}
	go m.dispatchLoop()
	return m
}

// HasVirtualMod reports whether any client declared sym as a virtual
// modifier. Safe to call from the input pipeline; never blocks on I/O.
func (m *Monitor) HasVirtualMod(sym Keysym) bool {
	return m.table.hasVirtualMod(sym)
}

// HasKeyboardGrab reports whether any client holds an exclusive
// keyboard grab.
func (m *Monitor) HasKeyboardGrab() bool {
	return m.table.anyGrabbed()
}

// HasKeyGrab reports whether a registered grab matches mods and key with
// the currently active virtual modifiers (exact set equality).
func (m *Monitor) HasKeyGrab(mods uint32, key Keysym) bool {
	return m.table.hasKeyGrab(mods, key, m.activeVirtualMods)
}

// AddActiveVirtualMod marks sym as held. Input-pipeline context only.
func (m *Monitor) AddActiveVirtualMod(sym Keysym) {
	m.activeVirtualMods[sym] = struct{}{}
}

// RemoveActiveVirtualMod clears sym, reporting whether it was held.
// Input-pipeline context only.
func (m *Monitor) RemoveActiveVirtualMod(sym Keysym) bool {
	_, ok := m.activeVirtualMods[sym]
	delete(m.activeVirtualMods, sym)
	return ok
}

// RemoveClient drops all protocol state for an identity. Wired to the
// name-ownership registry's disconnect notifications.
func (m *Monitor) RemoveClient(identity string) {
	if m.table.remove(identity) {
		m.log.Debug("removed disconnected client", "identity", identity)
	}
}

// KeyEvent broadcasts a key event to all watchers. It never blocks: the
// event is queued for asynchronous dispatch, and dropped when the
// service is not yet (or no longer) connected, nobody is watching, or
// the queue is full.
func (m *Monitor) KeyEvent(mods ModifierState, key KeysymInfo, state KeyState) {
	if m.emitter.Load() == nil {
		return
	}
	if !m.table.anyWatched() {
		return
	}

	ev := keyEventNotification{
		releasedEvent: state == KeyReleased,
		layout:        mods.EffectiveLayout,
		keysym:        uint32(key.ModifiedSym),
		unicode:       key.Unicode,
		keycode:       key.Keycode,
	}
	select {
	case m.queue <- ev:
	default:
		m.dropped.Add(1)
		m.log.Debug("broadcast queue full, dropping key event")
	}
}

// dispatchLoop delivers queued key events. Delivery is best-effort;
// emission failures are logged and dropped, never surfaced to the
// input pipeline.
func (m *Monitor) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.queue:
			em, _ := m.emitter.Load().(signalEmitter)
			if em == nil {
				continue
			}
			err := em.Emit(ObjectPath, keyEventSignal,
				ev.releasedEvent, ev.layout, ev.keysym, ev.unicode, ev.keycode)
			if err != nil {
				m.log.Debug("failed to emit KeyEvent", "err", err)
			}
		}
	}
}

// publish installs the serving connection for the broadcast path.
// Write-once; later calls are ignored.
func (m *Monitor) publish(em signalEmitter) {
	if m.published.CompareAndSwap(false, true) {
		m.emitter.Store(em)
	}
}

// Dropped returns the number of key events dropped on queue overflow.
func (m *Monitor) Dropped() uint64 {
	return m.dropped.Load()
}

// Stats is a point-in-time summary of the session table.
type Stats struct {
	Clients  int
	Grabbed  int
	Watched  int
	KeyGrabs int
	Dropped  uint64
}

// Stats snapshots the session table for the control socket.
func (m *Monitor) Stats() Stats {
	s := m.table.stats()
	return Stats{
		Clients:  s.clients,
		Grabbed:  s.grabbed,
		Watched:  s.watched,
		KeyGrabs: s.keyGrabs,
		Dropped:  m.dropped.Load(),
	}
}

// Close stops the broadcast dispatcher. Queued events are discarded.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}
