// Package ipc provides the local control socket between the a11yd
// daemon and client tools such as a11yctl.
//
// The protocol is length-prefixed JSON frames over a Unix socket:
// a 4-byte big-endian payload length followed by the payload.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxFrame bounds a single message payload.
const maxFrame = 1 << 20

// Request types.
const (
	TypeStatus = "status"
	TypePing   = "ping"
)

// Request is a client message to the daemon.
type Request struct {
	Type string `json:"type"`
}

// Response is the daemon's reply.
type Response struct {
	Type   string  `json:"type"`
	Error  string  `json:"error,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Status reports the daemon's live state.
type Status struct {
	// Clients is the number of known protocol clients.
	Clients int `json:"clients"`

	// Grabbed is the number of clients holding a keyboard grab.
	Grabbed int `json:"grabbed"`

	// Watched is the number of clients watching key events.
	Watched int `json:"watched"`

	// KeyGrabs is the total number of registered key grabs.
	KeyGrabs int `json:"key_grabs"`

	// DroppedEvents counts key events dropped on queue overflow.
	DroppedEvents uint64 `json:"dropped_events"`

	// Owners is the number of tracked well-known names.
	Owners int `json:"owners"`

	// Enforcing reports whether name-ownership checks are active.
	Enforcing bool `json:"enforcing"`

	// Degraded reports whether the ownership stream has failed.
	Degraded bool `json:"degraded"`
}

// writeFrame writes one length-prefixed JSON message.
func writeFrame(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readFrame reads one length-prefixed JSON message into v.
func readFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrame {
		return errors.New("message too large")
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
