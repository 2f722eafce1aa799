// Package broadcast fans job events out to live subscribers grouped in rooms.
package broadcast

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
)

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// HubOptions configures a Hub.
type HubOptions struct {
	// Buffer is the per-subscriber queue length.
	Buffer int
	// Grace is how long the latest event per job is kept for resuming
	// subscribers.
	Grace  time.Duration
	Logger *infra.Logger
	Now    func() time.Time
}

type snapshot struct {
	event domain.Event
	at    time.Time
}

// Hub is the in-process room registry.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*Subscription]struct{}
	snapshots map[string]snapshot
	lastPrune time.Time

	buffer int
	grace  time.Duration
	seq    atomic.Uint64
	logger *infra.Logger
	now    func() time.Time
}

// Subscription is one live client.
type Subscription struct {
	ID    string
	rooms []string
	out   chan domain.Event

	mu     sync.Mutex
	last   map[string]int
	sent   map[string]int
	ended  map[string]bool
	closed bool

	dropped atomic.Int64
}

// Events returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) Events() <-chan domain.Event { return s.out }

// Rooms returns the rooms the subscription listens to.
func (s *Subscription) Rooms() []string { return append([]string(nil), s.rooms...) }

// Dropped counts events lost to a full buffer.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// offer delivers ev unless it would move the job's progress backwards or the
// buffer is full. Terminal events are never suppressed by progress.
func (s *Subscription) offer(ev domain.Event) (delivered bool, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	if last, ok := s.last[ev.JobID]; ok && ev.Progress < last && !ev.Terminal() {
		return false, false
	}
	select {
	case s.out <- ev:
		if cur, ok := s.last[ev.JobID]; !ok || ev.Progress > cur {
			s.last[ev.JobID] = ev.Progress
		}
		return true, false
	default:
		s.dropped.Add(1)
		return false, true
	}
}

// Seed records an event the client already received outside the
// subscription, such as the stored state a stream opens with. Buffered events
// that would move that job backwards are skipped on read.
func (s *Subscription) Seed(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markSent(ev)
}

// deliverable reports whether a buffered event may still be written and
// marks it sent. Events older than what the client has seen are skipped, as is
// anything for a job whose terminal event was already written.
func (s *Subscription) deliverable(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended[ev.JobID] {
		return false
	}
	if sent, ok := s.sent[ev.JobID]; ok && ev.Progress < sent && !ev.Terminal() {
		return false
	}
	s.markSent(ev)
	return true
}

func (s *Subscription) markSent(ev domain.Event) {
	if ev.Terminal() {
		s.ended[ev.JobID] = true
	}
	if cur, ok := s.sent[ev.JobID]; !ok || ev.Progress > cur {
		s.sent[ev.JobID] = ev.Progress
	}
	if cur, ok := s.last[ev.JobID]; !ok || ev.Progress > cur {
		s.last[ev.JobID] = ev.Progress
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

// NewHub returns an empty hub.
func NewHub(opts HubOptions) *Hub {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 32
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Hub{
		rooms:     make(map[string]map[*Subscription]struct{}),
		snapshots: make(map[string]snapshot),
		buffer:    buffer,
		grace:     grace,
		logger:    logger,
		now:       now,
	}
}

// Subscribe registers a subscription on rooms. Blank rooms are ignored.
func (h *Hub) Subscribe(rooms ...string) *Subscription {
	sub := &Subscription{
		ID:    uuid.NewString(),
		out:   make(chan domain.Event, h.buffer),
		last:  make(map[string]int),
		sent:  make(map[string]int),
		ended: make(map[string]bool),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[*Subscription]struct{})
			h.rooms[room] = members
		}
		members[sub] = struct{}{}
		sub.rooms = append(sub.rooms, room)
	}
	h.logger.Debug().Str("subscription", sub.ID).Strs("rooms", sub.rooms).Msg("broadcast: subscribed")
	return sub
}

// Unsubscribe removes the subscription from every room and closes its
// channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	for _, room := range sub.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, sub)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers ev to every subscriber of its rooms without blocking. A
// subscriber in several of the event's rooms receives it once.
func (h *Hub) Publish(_ context.Context, ev domain.Event) error {
	ev.Seq = h.seq.Add(1)
	now := h.now()
	if ev.At.IsZero() {
		ev.At = now
	}

	h.mu.Lock()
	h.snapshots[ev.JobID] = snapshot{event: ev, at: now}
	if now.Sub(h.lastPrune) > h.grace {
		for id, snap := range h.snapshots {
			if now.Sub(snap.at) > h.grace {
				delete(h.snapshots, id)
			}
		}
		h.lastPrune = now
	}
	targets := make(map[*Subscription]string)
	for _, room := range ev.Rooms() {
		for sub := range h.rooms[room] {
			if _, ok := targets[sub]; !ok {
				targets[sub] = room
			}
		}
	}
	h.mu.Unlock()

	for sub, room := range targets {
		delivery := ev
		delivery.Room = room
		if _, full := sub.offer(delivery); full {
			h.logger.Warn().
				Str("subscription", sub.ID).
				Str("job_id", ev.JobID).
				Str("room", room).
				Msg("broadcast: dropping event; subscriber buffer full")
		}
	}
	return nil
}

// Snapshot returns the latest event for a job if it is inside the grace
// window.
func (h *Hub) Snapshot(jobID string) (domain.Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap, ok := h.snapshots[jobID]
	if !ok || h.now().Sub(snap.at) > h.grace {
		return domain.Event{}, false
	}
	return snap.event, true
}

// Resume replays the latest in-grace event of every job the subscription's
// rooms cover and returns how many were delivered.
func (h *Hub) Resume(sub *Subscription) int {
	now := h.now()
	rooms := make(map[string]bool, len(sub.rooms))
	for _, r := range sub.rooms {
		rooms[r] = true
	}
	var replay []domain.Event
	h.mu.RLock()
	for _, snap := range h.snapshots {
		if now.Sub(snap.at) > h.grace {
			continue
		}
		for _, room := range snap.event.Rooms() {
			if rooms[room] {
				ev := snap.event
				ev.Room = room
				replay = append(replay, ev)
				break
			}
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, ev := range replay {
		if ok, _ := sub.offer(ev); ok {
			delivered++
		}
	}
	return delivered
}

// Forward publishes every event received on events to each publisher until
// events is closed or ctx ends. Publisher errors are logged.
func Forward(ctx context.Context, logger *infra.Logger, events <-chan domain.Event, pubs ...Publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			for _, p := range pubs {
				if err := p.Publish(ctx, ev); err != nil && logger != nil {
					logger.Warn().Err(err).Str("job_id", ev.JobID).Msg("broadcast: forward failed")
				}
			}
		}
	}
}
