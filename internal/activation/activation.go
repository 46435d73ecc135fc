// Package activation publishes display variables to the session bus's
// activation environment, so bus-activated services inherit the running
// session's WAYLAND_DISPLAY and DISPLAY.
package activation

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// UpdateEnvironment sends vars to the bus daemon's activation
// environment. Existing variables with the same names are overwritten.
func UpdateEnvironment(conn *dbus.Conn, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	obj := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
	call := obj.Call("org.freedesktop.DBus.UpdateActivationEnvironment", 0, vars)
	if call.Err != nil {
		return fmt.Errorf("update activation environment: %w", call.Err)
	}
	return nil
}

// DisplayVars builds the variable set for a session's displays. Empty
// values are published as-is so activated services see the same absence
// the session does.
func DisplayVars(waylandDisplay, x11Display string) map[string]string {
	return map[string]string{
		"WAYLAND_DISPLAY": waylandDisplay,
		"DISPLAY":         x11Display,
	}
}
