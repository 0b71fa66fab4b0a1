package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sessions remembers which activity an operator selected for each reader.
// The empty reader name is the default session that every reader falls back to.
type Sessions struct {
	rc  *redis.Client
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	local map[string]sessionEntry
}

type sessionEntry struct {
	eventID   uint
	expiresAt time.Time
}

// NewSessions prefers Redis for consistency across instances; a nil client keeps selections in memory.
func NewSessions(rc *redis.Client, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{rc: rc, ttl: ttl, now: time.Now, local: map[string]sessionEntry{}}
}

func sessionKey(reader string) string {
	return "checkin:session:" + reader
}

// Select attributes future check-ins from reader to eventID.
func (s *Sessions) Select(ctx context.Context, reader string, eventID uint) error {
	if s.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return s.rc.Set(ctx, sessionKey(reader), strconv.FormatUint(uint64(eventID), 10), s.ttl).Err()
	}
	s.mu.Lock()
	s.local[reader] = sessionEntry{eventID: eventID, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

// Clear removes the selection for reader.
func (s *Sessions) Clear(ctx context.Context, reader string) error {
	if s.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return s.rc.Del(ctx, sessionKey(reader)).Err()
	}
	s.mu.Lock()
	delete(s.local, reader)
	s.mu.Unlock()
	return nil
}

// Selected returns the activity for reader, falling back to the default session.
func (s *Sessions) Selected(ctx context.Context, reader string) (*uint, error) {
	if id, err := s.lookup(ctx, reader); id != nil || err != nil || reader == "" {
		return id, err
	}
	return s.lookup(ctx, "")
}

func (s *Sessions) lookup(ctx context.Context, reader string) (*uint, error) {
	if s.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		v, err := s.rc.Get(ctx, sessionKey(reader)).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return nil, nil
		}
		id := uint(n)
		return &id, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.local[reader]
	if !ok {
		return nil, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.local, reader)
		return nil, nil
	}
	id := e.eventID
	return &id, nil
}
