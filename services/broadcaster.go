package services

import (
	"encoding/json"
	"sync"

	"github.com/olahol/melody"
	"go.uber.org/zap"

	"github.com/cppla/clubcheckin/models"
)

// UnidentifiedAlert is attached to every push for a card with no member.
const UnidentifiedAlert = "unidentified card, please bind"

// MemberSummary is the member part of a live push.
type MemberSummary struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// ActivitySummary is the activity part of a live push.
type ActivitySummary struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

// Message is one live push. Clients must key on Event.ID: the stream and the
// polling endpoints can both deliver the same check-in.
type Message struct {
	Type              string              `json:"type"`
	Event             models.CheckinEvent `json:"event"`
	Member            *MemberSummary      `json:"member,omitempty"`
	Activity          *ActivitySummary    `json:"activity,omitempty"`
	Unidentified      bool                `json:"unidentified"`
	Alert             string              `json:"alert,omitempty"`
	AttendanceCreated bool                `json:"attendanceCreated"`
}

// Subscription is one connected dashboard.
type Subscription struct {
	id   uint64
	ch   chan Message
	b    *Broadcaster
	once sync.Once
}

// C delivers messages until the subscription or the broadcaster is closed.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.remove(s)
}

// Broadcaster fans accepted check-ins out to every connected dashboard.
// Sends never block: a subscriber whose buffer is full misses that message.
type Broadcaster struct {
	log    *zap.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	next   uint64
	closed bool
	ws     *melody.Melody
}

// NewBroadcaster creates a hub with a per-subscriber buffer.
func NewBroadcaster(buffer int, log *zap.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 32
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{log: log, buffer: buffer, subs: make(map[uint64]*Subscription)}
}

// AttachMelody also pushes every message to all WebSocket sessions of m.
func (b *Broadcaster) AttachMelody(m *melody.Melody) {
	b.mu.Lock()
	b.ws = m
	b.mu.Unlock()
}

// Subscribe registers a new dashboard. On a closed broadcaster the returned
// subscription's channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	s := &Subscription{id: b.next, ch: make(chan Message, b.buffer), b: b}
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s.id] = s
	return s
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
	// Publish holds the read lock while sending, so closing after removal is safe
	s.once.Do(func() { close(s.ch) })
}

// Publish delivers msg to every subscriber that has room and reports how many got it.
func (b *Broadcaster) Publish(msg Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}

	delivered := 0
	for _, s := range b.subs {
		select {
		case s.ch <- msg:
			delivered++
		default:
			b.log.Debug("subscriber buffer full, dropping push",
				zap.Uint64("subscriber", s.id), zap.String("checkin_id", msg.Event.ID))
		}
	}

	if b.ws != nil && !b.ws.IsClosed() {
		if payload, err := json.Marshal(msg); err == nil {
			if err := b.ws.Broadcast(payload); err != nil {
				b.log.Warn("websocket broadcast failed", zap.Error(err))
			}
		}
	}
	return delivered
}

// Subscribers returns the number of connected stream clients.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every stream; used on shutdown.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = map[uint64]*Subscription{}
	ws := b.ws
	b.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
	if ws != nil && !ws.IsClosed() {
		_ = ws.Close()
	}
}
