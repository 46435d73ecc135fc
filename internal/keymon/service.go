package keymon

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// Keystroke is one (keysym, rawMods) pair of a SetKeyGrabs call, wire
// signature (uu).
type Keystroke struct {
	Keysym  uint32
	RawMods uint32
}

// keyboardMonitor is the bus-facing handler set for the
// org.freedesktop.a11y.KeyboardMonitor interface. The bus runtime
// serializes calls per connection; a call without a sender header (for
// example a locally-originated one) is a silent no-op.
type keyboardMonitor struct {
	monitor *Monitor
}

// GrabKeyboard requests exclusive keyboard interception for the caller.
func (k *keyboardMonitor) GrabKeyboard(sender dbus.Sender) *dbus.Error {
	if sender == "" {
		return nil
	}
	k.monitor.table.setGrabbed(string(sender), true)
	k.monitor.log.Info("keyboard grabbed", "sender", string(sender))
	return nil
}

// UngrabKeyboard releases the caller's keyboard grab.
func (k *keyboardMonitor) UngrabKeyboard(sender dbus.Sender) *dbus.Error {
	if sender == "" {
		return nil
	}
	k.monitor.table.setGrabbed(string(sender), false)
	k.monitor.log.Info("keyboard ungrabbed", "sender", string(sender))
	return nil
}

// WatchKeyboard subscribes the caller to the key-event feed.
func (k *keyboardMonitor) WatchKeyboard(sender dbus.Sender) *dbus.Error {
	if sender == "" {
		return nil
	}
	k.monitor.table.setWatched(string(sender), true)
	k.monitor.log.Info("keyboard watched", "sender", string(sender))
	return nil
}

// UnwatchKeyboard unsubscribes the caller from the key-event feed.
func (k *keyboardMonitor) UnwatchKeyboard(sender dbus.Sender) *dbus.Error {
	if sender == "" {
		return nil
	}
	k.monitor.table.setWatched(string(sender), false)
	k.monitor.log.Info("keyboard unwatched", "sender", string(sender))
	return nil
}

// SetKeyGrabs replaces the caller's declared virtual modifiers and key
// grabs. virtualMods is ordered: bit virtualModStart+i of a keystroke's
// modifier word selects virtualMods[i].
func (k *keyboardMonitor) SetKeyGrabs(sender dbus.Sender, virtualMods []uint32, keystrokes []Keystroke) *dbus.Error {
	if sender == "" {
		return nil
	}

	syms := make([]Keysym, len(virtualMods))
	declared := make(KeysymSet, len(virtualMods))
	for i, m := range virtualMods {
		syms[i] = Keysym(m)
		declared[Keysym(m)] = struct{}{}
	}

	grabs := make([]KeyGrab, len(keystrokes))
	for i, ks := range keystrokes {
		grabs[i] = newKeyGrab(syms, Keysym(ks.Keysym), ks.RawMods)
	}

	k.monitor.table.setKeyGrabs(string(sender), declared, grabs)
	k.monitor.log.Info("key grabs set",
		"sender", string(sender),
		"virtual_mods", len(syms),
		"grabs", len(grabs))
	return nil
}

// introspection describes the exported interface for bus tooling.
var introspection = introspect.Node{
	Name: string(ObjectPath),
	Interfaces: []introspect.Interface{
		introspect.IntrospectData,
		{
			Name: Interface,
			Methods: []introspect.Method{
				{Name: "GrabKeyboard"},
				{Name: "UngrabKeyboard"},
				{Name: "WatchKeyboard"},
				{Name: "UnwatchKeyboard"},
				{Name: "SetKeyGrabs", Args: []introspect.Arg{
					{Name: "virtualMods", Type: "au", Direction: "in"},
					{Name: "keystrokes", Type: "a(uu)", Direction: "in"},
				}},
			},
			Signals: []introspect.Signal{
				{Name: "KeyEvent", Args: []introspect.Arg{
					{Name: "released", Type: "b"},
					{Name: "state", Type: "u"},
					{Name: "keysym", Type: "u"},
					{Name: "unichar", Type: "u"},
					{Name: "keycode", Type: "q"},
				}},
			},
		},
	},
}

// Serve exports the keyboard-monitor interface on conn, claims the
// service name, and publishes the connection to the broadcast path.
// On error the monitor keeps working locally with broadcast disabled.
func (m *Monitor) Serve(conn *dbus.Conn) error {
	handler := &keyboardMonitor{monitor: m}
	if err := conn.Export(handler, ObjectPath, Interface); err != nil {
		return fmt.Errorf("export %s: %w", Interface, err)
	}
	if err := conn.Export(introspect.NewIntrospectable(&introspection), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("request name %s: not primary owner (reply %d)", BusName, reply)
	}

	m.publish(conn)
	m.log.Info("serving keyboard monitor", "name", BusName, "path", string(ObjectPath))
	return nil
}

// WatchDisconnects installs the monitor's own NameOwnerChanged watch to
// garbage-collect client sessions whose connection left the bus. Used
// when no enforcing name-ownership registry is available to subscribe to.
func (m *Monitor) WatchDisconnects(conn *dbus.Conn) error {
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath("/org/freedesktop/DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return fmt.Errorf("subscribe to NameOwnerChanged: %w", err)
	}

	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)

	go func() {
		for {
			select {
			case <-m.done:
				conn.RemoveSignal(signals)
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if unique, gone := connectionGone(sig); gone {
					m.RemoveClient(unique)
				}
			}
		}
	}()
	return nil
}

// connectionGone reports whether sig announces a unique name leaving
// the bus.
func connectionGone(sig *dbus.Signal) (string, bool) {
	if sig == nil || sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
		return "", false
	}
	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, ":") {
		return "", false
	}
	newOwner, ok := sig.Body[2].(string)
	if !ok {
		return "", false
	}
	return name, newOwner == ""
}
