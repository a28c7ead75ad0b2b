package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/decision"
	"github.com/tradeforge/confluence/internal/faults"
)

// MemoryLedger is the in-process backend, used in tests and when no
// DATABASE_URL is configured. Entries are copied on the way in and
// out so callers can never mutate stored state.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	now     func() time.Time
}

// NewMemoryLedger creates an empty ledger. Pass nil for time.Now.
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		entries: make(map[string]*Entry),
		now:     now,
	}
}

// Append inserts a new entry, assigning its id and createdAt. The
// entry's decision/execution pairing is validated before insert.
func (l *MemoryLedger) Append(_ context.Context, entry *Entry) (*Entry, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	stored := copyEntry(entry)
	stored.ID = uuid.New().String()
	stored.CreatedAt = l.now().UTC()

	l.mu.Lock()
	l.entries[stored.ID] = stored
	l.order = append(l.order, stored.ID)
	l.mu.Unlock()

	log.Debug().
		Str("id", stored.ID).
		Str("decision", string(stored.Decision)).
		Float64("confluence", stored.ConfluenceScore).
		Msg("Ledger entry appended")
	return copyEntry(stored), nil
}

// UpdateExit sets the exit outcome, once, on an EXECUTE entry.
func (l *MemoryLedger) UpdateExit(_ context.Context, id string, exit Exit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return faults.Newf(faults.KindEntryNotFound, "ledger entry %s not found", id)
	}
	if entry.Decision != decision.ActionExecute {
		return faults.Newf(faults.KindInvalidUpdate, "exit only applies to EXECUTE entries, entry %s is %s", id, entry.Decision)
	}
	if entry.ExitData != nil {
		return faults.Newf(faults.KindOverwriteNotAllowed, "entry %s already has an exit", id)
	}
	e := exit
	entry.ExitData = &e
	return nil
}

// UpdateHypothetical sets the hypothetical outcome, once, on a
// non-EXECUTE entry.
func (l *MemoryLedger) UpdateHypothetical(_ context.Context, id string, hypo Hypothetical) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return faults.Newf(faults.KindEntryNotFound, "ledger entry %s not found", id)
	}
	if entry.Decision == decision.ActionExecute {
		return faults.Newf(faults.KindInvalidUpdate, "hypothetical does not apply to EXECUTE entry %s", id)
	}
	if entry.Hypothetical != nil {
		return faults.Newf(faults.KindOverwriteNotAllowed, "entry %s already has a hypothetical", id)
	}
	h := hypo
	entry.Hypothetical = &h
	return nil
}

// Get returns a copy of the entry.
func (l *MemoryLedger) Get(_ context.Context, id string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[id]
	if !ok {
		return nil, faults.Newf(faults.KindEntryNotFound, "ledger entry %s not found", id)
	}
	return copyEntry(entry), nil
}

// Query returns matching entries, newest first, capped at the query
// limit.
func (l *MemoryLedger) Query(_ context.Context, filters Filters) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*Entry
	for _, id := range l.order {
		entry := l.entries[id]
		if filters.matches(entry) {
			matched = append(matched, entry)
		}
	}
	// Insert order is creation order; tie-break on id keeps the sort
	// deterministic when timestamps collide.
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := effectiveLimit(filters.Limit)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*Entry, len(matched))
	for i, e := range matched {
		out[i] = copyEntry(e)
	}
	return out, nil
}

// Aggregates summarizes all entries matching the filters. The query
// cap does not apply to aggregation.
func (l *MemoryLedger) Aggregates(_ context.Context, filters Filters) (*Aggregates, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*Entry
	for _, id := range l.order {
		if entry := l.entries[id]; filters.matches(entry) {
			matched = append(matched, entry)
		}
	}
	return aggregate(matched), nil
}

// Len reports the number of stored entries.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// validateEntry enforces the decision/execution pairing invariant at
// the door.
func validateEntry(entry *Entry) error {
	if entry == nil {
		return faults.New(faults.KindValidationError, "nil ledger entry")
	}
	if entry.Signal.Ticker == "" {
		return faults.New(faults.KindValidationError, "ledger entry missing ticker")
	}
	switch entry.Decision {
	case decision.ActionExecute:
		if entry.Execution == nil {
			return faults.New(faults.KindValidationError, "EXECUTE entry requires execution details")
		}
	case decision.ActionWait, decision.ActionSkip:
		if entry.Execution != nil {
			return faults.Newf(faults.KindValidationError, "%s entry must not carry execution details", entry.Decision)
		}
	default:
		return faults.Newf(faults.KindValidationError, "unknown decision %q", entry.Decision)
	}
	return nil
}

// copyEntry deep-copies the mutable pointer fields.
func copyEntry(e *Entry) *Entry {
	c := *e
	if e.Execution != nil {
		v := *e.Execution
		c.Execution = &v
	}
	if e.ExitData != nil {
		v := *e.ExitData
		c.ExitData = &v
	}
	if e.Hypothetical != nil {
		v := *e.Hypothetical
		c.Hypothetical = &v
	}
	if e.PhaseContext != nil {
		v := *e.PhaseContext
		c.PhaseContext = &v
	}
	if e.GateResults != nil {
		v := *e.GateResults
		c.GateResults = &v
	}
	if e.Signal.DTE != nil {
		v := *e.Signal.DTE
		c.Signal.DTE = &v
	}
	if e.Signal.Price != nil {
		v := *e.Signal.Price
		c.Signal.Price = &v
	}
	return &c
}
