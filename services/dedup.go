package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cppla/clubcheckin/models"
)

// Decision is the outcome of Guard.Accept.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// GuardOptions configures a Guard. Zero values fall back to defaults.
type GuardOptions struct {
	Redis    *redis.Client
	Debounce time.Duration
	IDWindow time.Duration
	MaxIDs   int
	Logger   *zap.Logger
}

// Guard suppresses replays of an already accepted event id and mechanical
// re-reads of one card by one reader inside the debounce window.
//
// With Redis configured the decision is a single Lua script, so instances
// sharing Redis agree. Otherwise state is process-local and every decision
// runs under one mutex.
type Guard struct {
	rc       *redis.Client
	debounce time.Duration
	idWindow time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	seen     *lru.Cache
	lastRead map[string][]readMark
}

type readMark struct {
	occurredAt time.Time
	touched    time.Time
}

// maxMarks bounds the accepted scan times kept per reader and card.
const maxMarks = 64

// KEYS[1] seen-id key, KEYS[2] debounce zset of accepted scan times
// ARGV: occurredAt ms, debounce ms, debounce key ttl ms, has id, id ttl ms, max marks
var acceptScript = redis.NewScript(`
if ARGV[4] == '1' and redis.call('EXISTS', KEYS[1]) == 1 then
  return 'duplicate-id'
end
local at = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local near = redis.call('ZRANGEBYSCORE', KEYS[2], '(' .. (at - window), '(' .. (at + window), 'LIMIT', 0, 1)
if #near > 0 then
  return 'debounced'
end
if ARGV[4] == '1' then
  redis.call('SET', KEYS[1], '1', 'PX', ARGV[5])
end
redis.call('ZADD', KEYS[2], at, ARGV[1])
redis.call('ZREMRANGEBYRANK', KEYS[2], 0, -(tonumber(ARGV[6]) + 1))
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 'ok'
`)

// NewGuard builds a guard.
func NewGuard(opts GuardOptions) *Guard {
	if opts.Debounce <= 0 {
		opts.Debounce = 3 * time.Second
	}
	if opts.IDWindow <= 0 {
		opts.IDWindow = 10 * time.Minute
	}
	if opts.MaxIDs <= 0 {
		opts.MaxIDs = 4096
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	seen, _ := lru.New(opts.MaxIDs)
	return &Guard{
		rc:       opts.Redis,
		debounce: opts.Debounce,
		idWindow: opts.IDWindow,
		log:      opts.Logger,
		now:      time.Now,
		seen:     seen,
		lastRead: make(map[string][]readMark),
	}
}

// Accept records ev as seen and reports whether it is a new visit.
// ev.OccurredAt must be set.
func (g *Guard) Accept(ctx context.Context, ev *models.CheckinEvent) Decision {
	if g.rc != nil {
		d, err := g.acceptRedis(ctx, ev)
		if err == nil {
			return d
		}
		g.log.Warn("dedup redis unavailable, using local state", zap.Error(err))
	}
	return g.acceptLocal(ev)
}

func (g *Guard) acceptRedis(ctx context.Context, ev *models.CheckinEvent) (Decision, error) {
	hasID := "0"
	if ev.ID != "" {
		hasID = "1"
	}
	keys := []string{seenKey(ev.ID), "checkin:debounce:" + debounceKey(ev)}
	res, err := acceptScript.Run(ctx, g.rc, keys,
		ev.OccurredAt.UnixMilli(),
		g.debounce.Milliseconds(),
		(g.debounce + time.Minute).Milliseconds(),
		hasID,
		g.idWindow.Milliseconds(),
		maxMarks,
	).Text()
	if err != nil {
		return Decision{}, err
	}
	if res == "ok" {
		return Decision{Accepted: true}, nil
	}
	return Decision{Reason: res}, nil
}

func (g *Guard) acceptLocal(ev *models.CheckinEvent) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if ev.ID != "" {
		if v, ok := g.seen.Get(ev.ID); ok && now.Sub(v.(time.Time)) < g.idWindow {
			return Decision{Reason: ReasonDuplicateID}
		}
	}
	key := debounceKey(ev)
	marks := g.liveMarks(g.lastRead[key], now)
	for _, m := range marks {
		if absDuration(ev.OccurredAt.Sub(m.occurredAt)) < g.debounce {
			g.lastRead[key] = marks
			return Decision{Reason: ReasonDebounced}
		}
	}

	if ev.ID != "" {
		g.seen.Add(ev.ID, now)
	}
	marks = append(marks, readMark{occurredAt: ev.OccurredAt, touched: now})
	if len(marks) > maxMarks {
		marks = marks[len(marks)-maxMarks:]
	}
	g.lastRead[key] = marks
	return Decision{Accepted: true}
}

// Forget undoes Accept for an event that could not be persisted, so a retry is not rejected.
func (g *Guard) Forget(ctx context.Context, ev *models.CheckinEvent) {
	if g.rc != nil {
		pipe := g.rc.TxPipeline()
		pipe.ZRem(ctx, "checkin:debounce:"+debounceKey(ev), strconv.FormatInt(ev.OccurredAt.UnixMilli(), 10))
		if ev.ID != "" {
			pipe.Del(ctx, seenKey(ev.ID))
		}
		if _, err := pipe.Exec(ctx); err == nil {
			return
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if ev.ID != "" {
		g.seen.Remove(ev.ID)
	}
	key := debounceKey(ev)
	marks := g.lastRead[key]
	for i, m := range marks {
		if m.occurredAt.Equal(ev.OccurredAt) {
			marks = append(marks[:i], marks[i+1:]...)
			break
		}
	}
	if len(marks) == 0 {
		delete(g.lastRead, key)
	} else {
		g.lastRead[key] = marks
	}
}

// Prune drops local debounce marks nobody can collide with anymore. Redis keys expire on their own.
func (g *Guard) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for k, marks := range g.lastRead {
		live := g.liveMarks(marks, now)
		n += len(marks) - len(live)
		if len(live) == 0 {
			delete(g.lastRead, k)
		} else {
			g.lastRead[k] = live
		}
	}
	return n
}

// liveMarks drops marks accepted longer ago than the debounce window plus a minute of slack.
func (g *Guard) liveMarks(marks []readMark, now time.Time) []readMark {
	cutoff := now.Add(-(g.debounce + time.Minute))
	live := marks[:0]
	for _, m := range marks {
		if !m.touched.Before(cutoff) {
			live = append(live, m)
		}
	}
	return live
}

func seenKey(id string) string {
	return "checkin:seen:" + id
}

// debounceKey scopes re-reads to one reader; readers without a name are grouped by source.
func debounceKey(ev *models.CheckinEvent) string {
	reader := ev.ReaderName
	if reader == "" {
		reader = ev.Source
	}
	return reader + "|" + ev.CardUID
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
