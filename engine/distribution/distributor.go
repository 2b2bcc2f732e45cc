// Package distribution implements the session manager and wire-protocol
// distributors of spec.md §4.5 (C5): a session owns a named set of
// distributors and an event-kind routing table, and fans routed events out
// to each target's outbound queue.
package distribution

import (
	"context"
	"sync"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// Distributor is implemented once per wire transport (UDP, WebSocket, MQTT,
// HTTP). Session owns the outbound queue, backpressure policy and degraded
// tracking; a Distributor only knows how to open, close and send.
type Distributor interface {
	Kind() models.DistributorKind
	Open(ctx context.Context) error
	Close() error
	Send(ctx context.Context, payload []byte, opts SendOptions) (SendResult, error)
	Stats() models.DistributorStats
}

// SendOptions mirrors spec.md §4.5's send(payload, opts{compress?, priority?}).
// EventKind is additionally threaded through so the MQTT distributor can
// resolve a per-kind topic without widening Send's payload shape.
type SendOptions struct {
	Compress  bool
	Priority  int
	EventKind models.EventKind
}

type SendResult struct {
	BytesSent      int
	ClientsReached int
}

// statsTracker accumulates the DistributorStats counters every transport
// reports identically; concrete distributors embed it.
type statsTracker struct {
	mu    sync.Mutex
	stats models.DistributorStats
}

func (s *statsTracker) recordSend(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Sent++
	s.stats.Bytes += uint64(n)
	s.stats.LastSend = time.Now()
}

func (s *statsTracker) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Errors++
}

func (s *statsTracker) Stats() models.DistributorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
