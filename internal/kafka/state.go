package kafka

import (
	"sync"
	"time"
)

// ConnState tracks the adapter connection lifecycle:
// DISCONNECTED -> CONNECTING -> CONNECTED -> DISCONNECTED.
// A crash moves straight back to DISCONNECTED.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Health is the health-check snapshot. Reads come from cached state so they
// never block data-plane operations.
type Health struct {
	Status       string        `json:"status"` // healthy | unhealthy
	Error        string        `json:"error,omitempty"`
	ResponseTime time.Duration `json:"responseTime,omitempty"`
}

type connTracker struct {
	mu      sync.RWMutex
	state   ConnState
	lastErr error
}

func (t *connTracker) set(s ConnState, err error) {
	t.mu.Lock()
	t.state = s
	t.lastErr = err
	t.mu.Unlock()
}

func (t *connTracker) get() (ConnState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state, t.lastErr
}

func (t *connTracker) connected() bool {
	s, _ := t.get()
	return s == StateConnected
}

func (t *connTracker) health(started time.Time) Health {
	s, err := t.get()
	h := Health{ResponseTime: time.Since(started)}
	if s == StateConnected {
		h.Status = "healthy"
		return h
	}
	h.Status = "unhealthy"
	if err != nil {
		h.Error = err.Error()
	} else {
		h.Error = "not connected"
	}
	return h
}
