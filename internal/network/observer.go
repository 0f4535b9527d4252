// Package network tracks connectivity and notifies subscribers on
// online/offline transitions.
package network

import (
	"sync"

	"offlinesync/internal/metrics"

	"github.com/rs/zerolog"
)

// Status is the latest connectivity observation. A nil IsReachable and an
// empty TransportType mean unknown.
type Status struct {
	IsConnected   bool   `json:"is_connected"`
	IsReachable   *bool  `json:"is_reachable,omitempty"`
	TransportType string `json:"transport_type,omitempty"`
}

// Online reports whether the device is connected and not known to be unreachable.
func (s Status) Online() bool {
	return s.IsConnected && (s.IsReachable == nil || *s.IsReachable)
}

// Reachable is a helper for building Status literals.
func Reachable(v bool) *bool {
	return &v
}

// Listener receives the previous and the new status on every transition.
type Listener func(prev, cur Status)

// Source is the connectivity view the sync engine consumes.
type Source interface {
	Current() Status
	Subscribe(fn Listener) (unsubscribe func())
}

// Observer stores the last reported status and fans out transitions.
type Observer struct {
	mu        sync.RWMutex
	current   Status
	listeners map[uint64]Listener
	nextID    uint64

	// serializes Report so listeners see transitions in order
	reportMu sync.Mutex
	logger   *zerolog.Logger
}

func NewObserver(initial Status, logger *zerolog.Logger) *Observer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	metrics.SetOnline(initial.Online())
	return &Observer{
		current:   initial,
		listeners: make(map[uint64]Listener),
		logger:    logger,
	}
}

func (o *Observer) Current() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Subscribe registers fn. The returned function removes only this
// subscription and may be called more than once.
func (o *Observer) Subscribe(fn Listener) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

// Report records an observation from the platform. Listeners run only when
// the online state flips.
func (o *Observer) Report(s Status) {
	o.reportMu.Lock()
	defer o.reportMu.Unlock()

	o.mu.Lock()
	prev := o.current
	o.current = s
	if prev.Online() == s.Online() {
		o.mu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		listeners = append(listeners, l)
	}
	o.mu.Unlock()

	metrics.SetOnline(s.Online())
	if s.Online() {
		o.logger.Info().Str("transport", s.TransportType).Msg("Network is back online")
	} else {
		o.logger.Warn().Str("transport", s.TransportType).Msg("Network went offline")
	}

	for _, l := range listeners {
		l(prev, s)
	}
}
