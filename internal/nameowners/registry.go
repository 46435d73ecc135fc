// Package nameowners tracks which bus connection owns which well-known
// name on the session bus, so protocol services can authorize callers by
// identity instead of trusting a spoofable name.
package nameowners

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const nameOwnerChanged = "org.freedesktop.DBus.NameOwnerChanged"

// ErrStreamClosed reports that the ownership-change stream has ended,
// typically because the bus connection was closed.
var ErrStreamClosed = errors.New("nameowners: ownership stream closed")

// Options configures a Registry.
type Options struct {
	// Enforce controls whether ownership is tracked at all. When false,
	// CheckOwner is unconditionally permissive and the stream is never
	// subscribed or drained.
	Enforce bool

	// PollInterval is how often the background task drains the stream
	// when nobody is calling CheckOwner. Defaults to one second.
	PollInterval time.Duration

	// Logger receives drain failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Registry maintains the well-known-name to unique-name mapping from the
// bus's NameOwnerChanged stream. All methods are safe for concurrent use.
type Registry struct {
	mu           sync.Mutex
	owners       map[string]string // well-known name -> unique name
	signals      chan *dbus.Signal
	enforce      bool
	degraded     bool
	onDisconnect []func(unique string)

	conn *dbus.Conn
	log  *slog.Logger
	done chan struct{}
	once sync.Once
}

// New subscribes to the bus's ownership-change stream and starts the
// background drain task. With Enforce false the returned registry is a
// permissive no-op and the subscription is never established.
func New(conn *dbus.Conn, opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	r := &Registry{
		owners:  make(map[string]string),
		enforce: opts.Enforce,
		conn:    conn,
		log:     opts.Logger,
		done:    make(chan struct{}),
	}

	if !opts.Enforce {
		return r, nil
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath("/org/freedesktop/DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return nil, fmt.Errorf("subscribe to NameOwnerChanged: %w", err)
	}

	r.signals = make(chan *dbus.Signal, 64)
	conn.Signal(r.signals)

	go r.drainLoop(opts.PollInterval)

	return r, nil
}

// CheckOwner reports whether identity currently owns at least one of
// allowedNames, per the most recently drained stream state. It drains
// already-buffered events first but never blocks on the bus.
func (r *Registry) CheckOwner(identity string, allowedNames []string) bool {
	if !r.enforce {
		return true
	}

	r.mu.Lock()
	gone := r.drainLocked()
	owned := false
	for _, name := range allowedNames {
		if r.owners[name] == identity {
			owned = true
			break
		}
	}
	callbacks := r.onDisconnect
	r.mu.Unlock()

	notifyDisconnects(callbacks, gone)
	return owned
}

// OnDisconnect registers a callback invoked whenever a unique name drops
// off the bus. Used by protocol services to garbage-collect per-client
// state. Callbacks run outside the registry lock and must not call back
// into the Registry. No-op when enforcement is disabled.
func (r *Registry) OnDisconnect(fn func(unique string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Enforcing reports whether ownership tracking is active.
func (r *Registry) Enforcing() bool {
	return r.enforce
}

// Degraded reports whether the ownership stream has failed. A degraded
// registry keeps answering from its last drained state.
func (r *Registry) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// OwnerCount returns the number of tracked well-known names.
func (r *Registry) OwnerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

// Close stops the background drain task and removes the signal
// subscription. The bus connection itself is left open for its owner.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
	if r.signals != nil {
		r.conn.RemoveSignal(r.signals)
		_ = r.conn.RemoveMatchSignal(
			dbus.WithMatchObjectPath("/org/freedesktop/DBus"),
			dbus.WithMatchInterface("org.freedesktop.DBus"),
			dbus.WithMatchMember("NameOwnerChanged"),
		)
	}
}

// drainLoop periodically drains the stream so buffered events cannot
// accumulate without bound when CheckOwner is never called.
func (r *Registry) drainLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			gone := r.drainLocked()
			degraded := r.degraded
			callbacks := r.onDisconnect
			r.mu.Unlock()

			notifyDisconnects(callbacks, gone)
			if degraded {
				return
			}
		}
	}
}

// drainLocked consumes all buffered stream events in order and applies
// them to the owners map. Returns the unique names that disconnected.
// Callers must hold r.mu; receive-and-apply under the single lock keeps
// concurrent drains serialized in stream order.
func (r *Registry) drainLocked() []string {
	if r.signals == nil || r.degraded {
		return nil
	}

	var gone []string
	for {
		select {
		case sig, ok := <-r.signals:
			if !ok {
				// Stream ended with the connection. Keep answering from
				// the last drained state.
				r.degraded = true
				r.log.Warn("name ownership stream closed, registry degraded",
					"err", ErrStreamClosed)
				return gone
			}
			if unique, closed := r.apply(sig); closed {
				gone = append(gone, unique)
			}
		default:
			return gone
		}
	}
}

// apply updates the owners map for a single NameOwnerChanged event.
// Returns the unique name and true when the event reports a connection
// leaving the bus.
func (r *Registry) apply(sig *dbus.Signal) (string, bool) {
	if sig == nil || sig.Name != nameOwnerChanged || len(sig.Body) != 3 {
		return "", false
	}
	name, ok := sig.Body[0].(string)
	if !ok {
		return "", false
	}
	newOwner, ok := sig.Body[2].(string)
	if !ok {
		return "", false
	}

	if strings.HasPrefix(name, ":") {
		// Unique names report connection lifetimes, not ownership.
		return name, newOwner == ""
	}

	if newOwner != "" {
		r.owners[name] = newOwner
	} else {
		delete(r.owners, name)
	}
	return "", false
}

func notifyDisconnects(callbacks []func(string), gone []string) {
	for _, unique := range gone {
		for _, fn := range callbacks {
			fn(unique)
		}
	}
}
