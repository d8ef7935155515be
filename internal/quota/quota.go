// Package quota tracks the platform's consumable, time-recovering request
// budget so that callers can decide whether to dispatch more work.
package quota

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okian/rubricsync/pkg/metrics"
)

// Budget constants of the grading platform.
const (
	PreflightCost = 50.0  // debited optimistically when a request starts
	DefaultTotal  = 700.0 // assumed ceiling until the server reports one
	RecoveryRate  = 10.0  // budget units regained per second
)

// Token identifies an in-flight request. It is only valid for the tracker
// that issued it.
type Token struct {
	slot int
	gen  uint64
}

// Report carries the budget headers of a settled request. Nil fields were
// absent from the response.
type Report struct {
	Remaining *float64 // authoritative remaining budget
	Cost      *float64 // cost of this request
}

// State is a snapshot of the tracker.
type State struct {
	Remaining   float64
	ObservedMax float64
	LastUpdate  time.Time
	InFlight    int
}

// Tracker is safe for concurrent use. In-flight requests live in a slot
// table; a slot holds the generation of the request occupying it, zero when
// free.
type Tracker struct {
	mu          sync.Mutex
	remaining   float64
	observedMax float64
	lastUpdate  time.Time

	slots []uint64
	free  []int
	gen   uint64

	now func() time.Time
}

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a tracker assuming the default budget is fully available.
func New(opts ...Option) *Tracker {
	t := &Tracker{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.Reset()
	return t
}

// Reset restores the initial state, e.g. after switching credentials.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining = DefaultTotal
	t.observedMax = 0
	t.lastUpdate = t.now()
	t.slots = t.slots[:0]
	t.free = t.free[:0]
	t.publishLocked()
}

// Start registers a request and debits PreflightCost.
func (t *Tracker) Start() Token {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	var slot int
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, 0)
		slot = len(t.slots) - 1
	}
	t.slots[slot] = t.gen
	t.remaining -= PreflightCost
	t.publishLocked()
	return Token{slot: slot, gen: t.gen}
}

// Finish settles a request. An authoritative remaining value overwrites the
// local estimate and clears every in-flight slot; otherwise the preflight
// debit is refunded if the request was still tracked, and the reported cost
// is debited.
func (t *Tracker) Finish(tok Token, r Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	if r.Remaining != nil {
		t.clearLocked()
		t.remaining = *r.Remaining
		t.observedMax = math.Max(t.observedMax, *r.Remaining)
		t.lastUpdate = now
		t.publishLocked()
		return
	}
	if t.trackedLocked(tok) {
		t.slots[tok.slot] = 0
		t.free = append(t.free, tok.slot)
		t.remaining += PreflightCost
		t.lastUpdate = now
	}
	if r.Cost != nil {
		t.remaining -= *r.Cost
		t.lastUpdate = now
	}
	t.publishLocked()
}

// Available estimates the budget that can be spent now: the last known
// remaining value plus linear recovery for every whole second since the
// last update, capped at the observed maximum (or DefaultTotal before any
// server report).
func (t *Tracker) Available() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.availableLocked()
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	inFlight := 0
	for _, g := range t.slots {
		if g != 0 {
			inFlight++
		}
	}
	return State{
		Remaining:   t.remaining,
		ObservedMax: t.observedMax,
		LastUpdate:  t.lastUpdate,
		InFlight:    inFlight,
	}
}

func (t *Tracker) availableLocked() float64 {
	ceiling := DefaultTotal
	if t.observedMax != 0 {
		ceiling = t.observedMax
	}
	elapsed := math.Floor(t.now().Sub(t.lastUpdate).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(ceiling, t.remaining+RecoveryRate*elapsed)
}

func (t *Tracker) trackedLocked(tok Token) bool {
	return tok.gen != 0 && tok.slot < len(t.slots) && t.slots[tok.slot] == tok.gen
}

func (t *Tracker) clearLocked() {
	t.slots = t.slots[:0]
	t.free = t.free[:0]
}

func (t *Tracker) publishLocked() {
	metrics.UpdateQuota(t.remaining, t.availableLocked(), t.observedMax)
}

// Budget headers of the grading platform.
const (
	HeaderRequestCost = "X-Request-Cost"
	HeaderRemaining   = "X-Rate-Limit-Remaining"
)

// ReportFromHeader reads the budget headers of a response. Missing or
// unparsable values are left nil.
func ReportFromHeader(h http.Header) Report {
	return Report{
		Remaining: parseHeaderFloat(h, HeaderRemaining),
		Cost:      parseHeaderFloat(h, HeaderRequestCost),
	}
}

func parseHeaderFloat(h http.Header, key string) *float64 {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return nil
	}
	return &v
}
