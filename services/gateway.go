package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// GatewayState is the reader session state as seen from the cloud side.
type GatewayState string

const (
	GatewayIdle     GatewayState = "idle"
	GatewayStarting GatewayState = "starting"
	GatewayActive   GatewayState = "active"
)

// GatewayStatusSnapshot is one probe's view of the local gateway adapter.
// Snapshots are immutable; each probe publishes a new one.
type GatewayStatusSnapshot struct {
	Reachable           bool         `json:"reachable"`
	ReaderConnected     bool         `json:"readerConnected"`
	ReaderName          string       `json:"readerName,omitempty"`
	ActiveSession       bool         `json:"activeSession"`
	LastCardUID         string       `json:"lastCardUid,omitempty"`
	ObservedAt          time.Time    `json:"observedAt"`
	State               GatewayState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	Error               string       `json:"error,omitempty"`
}

// GatewayMonitor probes the local gateway adapter and proxies reader start/stop.
type GatewayMonitor struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
	now     func() time.Time

	// transitions are serialized; readers only load the pointer
	mu   sync.Mutex
	snap atomic.Pointer[GatewayStatusSnapshot]
}

// NewGatewayMonitor creates a monitor for the adapter at baseURL. Every call
// to the adapter is bounded by timeout.
func NewGatewayMonitor(baseURL string, timeout time.Duration, log *zap.Logger) *GatewayMonitor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GatewayMonitor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
		now:     time.Now,
	}
}

// Snapshot returns the latest snapshot; ok is false before the first probe.
func (g *GatewayMonitor) Snapshot() (GatewayStatusSnapshot, bool) {
	s := g.snap.Load()
	if s == nil {
		return GatewayStatusSnapshot{State: GatewayIdle}, false
	}
	return *s, true
}

// Probe queries GET /status. Network failures are reported in the snapshot, never returned.
func (g *GatewayMonitor) Probe(ctx context.Context) GatewayStatusSnapshot {
	raw, err := g.call(ctx, http.MethodGet, "/status")

	g.mu.Lock()
	defer g.mu.Unlock()
	prev, _ := g.Snapshot()
	next := GatewayStatusSnapshot{ObservedAt: g.now(), State: GatewayIdle}

	if err != nil {
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		next.Error = err.Error()
		next.LastCardUID = prev.LastCardUID
		if prev.Reachable || next.ConsecutiveFailures == 1 {
			g.log.Warn("gateway unreachable", zap.String("gateway", g.baseURL), zap.Error(err))
		}
		g.snap.Store(&next)
		return next
	}

	applyStatus(&next, raw)
	next.Reachable = true
	switch {
	case next.ActiveSession:
		next.State = GatewayActive
	case prev.State == GatewayStarting && next.ReaderConnected:
		next.State = GatewayStarting
	}
	if !prev.Reachable && prev.ConsecutiveFailures > 0 {
		g.log.Info("gateway reachable again", zap.String("gateway", g.baseURL), zap.Int("after_failures", prev.ConsecutiveFailures))
	}
	g.snap.Store(&next)
	return next
}

// StartReader asks the adapter to start reading cards.
func (g *GatewayMonitor) StartReader(ctx context.Context) (GatewayStatusSnapshot, error) {
	g.transition(func(s *GatewayStatusSnapshot) { s.State = GatewayStarting })

	raw, err := g.call(ctx, http.MethodPost, "/start-reader")
	if err != nil {
		s := g.fail(err)
		return s, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	s := g.transition(func(s *GatewayStatusSnapshot) {
		s.Reachable = true
		s.ConsecutiveFailures = 0
		s.Error = ""
		applyStatus(s, raw)
		if s.ActiveSession {
			s.State = GatewayActive
		} else {
			s.State = GatewayStarting
		}
	})
	g.log.Info("gateway reader started", zap.String("state", string(s.State)))
	return s, nil
}

// StopReader asks the adapter to stop reading cards. The session ends either way.
func (g *GatewayMonitor) StopReader(ctx context.Context) (GatewayStatusSnapshot, error) {
	raw, err := g.call(ctx, http.MethodPost, "/stop-reader")
	if err != nil {
		s := g.fail(err)
		return s, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	s := g.transition(func(s *GatewayStatusSnapshot) {
		s.Reachable = true
		s.ConsecutiveFailures = 0
		s.Error = ""
		applyStatus(s, raw)
		s.ActiveSession = false
		s.State = GatewayIdle
	})
	g.log.Info("gateway reader stopped")
	return s, nil
}

func (g *GatewayMonitor) fail(err error) GatewayStatusSnapshot {
	return g.transition(func(s *GatewayStatusSnapshot) {
		s.Reachable = false
		s.ActiveSession = false
		s.ConsecutiveFailures++
		s.Error = err.Error()
		s.State = GatewayIdle
	})
}

// transition publishes a modified copy of the current snapshot.
func (g *GatewayMonitor) transition(mutate func(*GatewayStatusSnapshot)) GatewayStatusSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	next, _ := g.Snapshot()
	mutate(&next)
	next.ObservedAt = g.now()
	g.snap.Store(&next)
	return next
}

func (g *GatewayMonitor) call(ctx context.Context, method, path string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway %s %s: status %d", method, path, resp.StatusCode)
	}

	body := map[string]any{}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return body, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	return body, nil
}

// applyStatus copies the adapter's status fields, accepting its older key spellings.
func applyStatus(s *GatewayStatusSnapshot, raw map[string]any) {
	if v, ok := firstValue(raw, "readerConnected", "connected", "reader_connected"); ok {
		s.ReaderConnected = truthy(v)
	}
	if v := firstString(raw, []string{"readerName", "reader", "reader_name"}); v != "" {
		s.ReaderName = v
	}
	if v, ok := firstValue(raw, "activeSession", "active", "isActive", "active_session"); ok {
		s.ActiveSession = truthy(v)
	}
	if v := firstString(raw, []string{"lastCardUid", "lastCardUID", "uid", "last_card_uid"}); v != "" {
		s.LastCardUID = NormalizeCardUID(v)
	}
}

func firstValue(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// truthy treats a session id or a non-zero number as an active flag.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "false" && s != "0" && s != "null"
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	}
	return false
}
