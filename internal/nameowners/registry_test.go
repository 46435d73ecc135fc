package nameowners

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRegistry builds an enforcing registry with an injected signal
// channel, bypassing the bus subscription.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return &Registry{
		owners:  make(map[string]string),
		signals: make(chan *dbus.Signal, 64),
		enforce: true,
		log:     slog.Default(),
		done:    make(chan struct{}),
	}
}

func ownerChanged(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Name: nameOwnerChanged,
		Path: "/org/freedesktop/DBus",
		Body: []interface{}{name, oldOwner, newOwner},
	}
}

func TestCheckOwner(t *testing.T) {
	r := newTestRegistry(t)
	r.signals <- ownerChanged("org.example.Reader", "", ":1.10")

	assert.True(t, r.CheckOwner(":1.10", []string{"org.example.Reader"}))
	assert.False(t, r.CheckOwner(":1.11", []string{"org.example.Reader"}))
	assert.False(t, r.CheckOwner(":1.10", []string{"org.example.Writer"}))
	assert.False(t, r.CheckOwner(":1.10", nil))
}

func TestCheckOwnerAnyOfAllowedNames(t *testing.T) {
	r := newTestRegistry(t)
	r.signals <- ownerChanged("org.example.B", "", ":1.2")

	allowed := []string{"org.example.A", "org.example.B"}
	assert.True(t, r.CheckOwner(":1.2", allowed))
}

func TestDrainOrdering(t *testing.T) {
	// Events must apply in stream order; the final release leaves the
	// name unowned for every previous owner.
	r := newTestRegistry(t)
	r.signals <- ownerChanged("org.example.Svc", "", ":1.1")
	r.signals <- ownerChanged("org.example.Svc", ":1.1", ":1.2")
	r.signals <- ownerChanged("org.example.Svc", ":1.2", "")

	assert.False(t, r.CheckOwner(":1.1", []string{"org.example.Svc"}))
	assert.False(t, r.CheckOwner(":1.2", []string{"org.example.Svc"}))
	assert.Equal(t, 0, r.OwnerCount())
}

func TestDrainReplacesOwner(t *testing.T) {
	r := newTestRegistry(t)
	r.signals <- ownerChanged("org.example.Svc", "", ":1.1")
	r.signals <- ownerChanged("org.example.Svc", ":1.1", ":1.2")

	assert.False(t, r.CheckOwner(":1.1", []string{"org.example.Svc"}))
	assert.True(t, r.CheckOwner(":1.2", []string{"org.example.Svc"}))
}

func TestEnforcementDisabled(t *testing.T) {
	r, err := New(nil, Options{Enforce: false})
	require.NoError(t, err)

	assert.True(t, r.CheckOwner(":1.99", []string{"org.example.Svc"}))
	assert.True(t, r.CheckOwner("", nil))
	assert.False(t, r.Enforcing())
	assert.Equal(t, 0, r.OwnerCount())
}

func TestMalformedSignalsIgnored(t *testing.T) {
	r := newTestRegistry(t)
	r.signals <- &dbus.Signal{Name: nameOwnerChanged, Body: []interface{}{"too", "short"}}
	r.signals <- &dbus.Signal{Name: "org.freedesktop.DBus.NameAcquired", Body: []interface{}{"x", "y", "z"}}
	r.signals <- ownerChanged("org.example.Svc", "", ":1.5")

	assert.True(t, r.CheckOwner(":1.5", []string{"org.example.Svc"}))
	assert.Equal(t, 1, r.OwnerCount())
}

func TestDisconnectCallback(t *testing.T) {
	r := newTestRegistry(t)

	var mu sync.Mutex
	var gone []string
	r.OnDisconnect(func(unique string) {
		mu.Lock()
		gone = append(gone, unique)
		mu.Unlock()
	})

	// A unique name appearing then vanishing fires the callback once.
	r.signals <- ownerChanged(":1.42", "", ":1.42")
	r.signals <- ownerChanged(":1.42", ":1.42", "")
	r.CheckOwner(":1.1", nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{":1.42"}, gone)
}

func TestUniqueNamesNotTracked(t *testing.T) {
	r := newTestRegistry(t)
	r.signals <- ownerChanged(":1.42", "", ":1.42")
	r.CheckOwner(":1.1", nil)

	assert.Equal(t, 0, r.OwnerCount())
}

func TestDegradedOnStreamClose(t *testing.T) {
	r := newTestRegistry(t)
	r.signals <- ownerChanged("org.example.Svc", "", ":1.7")
	close(r.signals)

	// The drain sees the buffered event, then the closed stream.
	assert.True(t, r.CheckOwner(":1.7", []string{"org.example.Svc"}))
	assert.True(t, r.Degraded())

	// Last drained state keeps answering.
	assert.True(t, r.CheckOwner(":1.7", []string{"org.example.Svc"}))
	assert.False(t, r.CheckOwner(":1.8", []string{"org.example.Svc"}))
}

func TestBackgroundDrain(t *testing.T) {
	r := newTestRegistry(t)
	go r.drainLoop(10 * time.Millisecond)
	defer close(r.done)

	r.signals <- ownerChanged("org.example.Svc", "", ":1.3")

	// No CheckOwner call; the background task must drain on its own.
	require.Eventually(t, func() bool {
		return r.OwnerCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
