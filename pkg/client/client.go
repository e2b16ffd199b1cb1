// Package client provides the embeddable RoadTemplates service handle.
// Other services construct a Handle, initialise it with the endpoint of
// the templates service, and use the health check to gate readiness.
// The handle holds configuration only; it performs no network I/O.
package client

import (
	"context"
	"sync"
)

// Configuration identifies a templates service endpoint. Timeout is in
// milliseconds. Values are stored as given; nothing is validated.
type Configuration struct {
	Endpoint string `json:"endpoint"`
	Timeout  int    `json:"timeout"`
}

// Envelope is the wire wrapper the templates service speaks: a success
// flag, an optional payload and an optional error message. The handle
// itself never produces or consumes envelopes; the type is exported so
// embedders share one response shape.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handle tracks whether the service has been configured. A new handle
// is uninitialised; Init transitions it to initialised. There is no
// reset, so a handle stays initialised for the life of the process.
// Safe for concurrent use.
type Handle struct {
	mu  sync.RWMutex
	cfg *Configuration
}

// New constructs an uninitialised handle.
func New() *Handle {
	return &Handle{}
}

// Init stores the configuration. It always succeeds and never blocks;
// the context is accepted for interface symmetry with the rest of the
// service surface. Calling Init again replaces the stored configuration
// (last write wins).
func (h *Handle) Init(_ context.Context, cfg Configuration) {
	h.mu.Lock()
	h.cfg = &cfg
	h.mu.Unlock()
}

// Health reports whether a configuration is currently held. It is a
// pure read and cannot fail.
func (h *Handle) Health(_ context.Context) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg != nil
}
