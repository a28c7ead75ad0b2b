package contextstore

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/faults"
)

const shardCount = 32

// Store holds per-symbol partial context and materializes decision
// contexts. Symbols are sharded across mutex-guarded maps so updates
// for one symbol serialize while unrelated symbols proceed in parallel.
type Store struct {
	cfg           *config.ContextConfig
	engineVersion string
	now           func() time.Time
	shards        [shardCount]*shard
}

type shard struct {
	mu      sync.Mutex
	symbols map[string]*symbolState
}

type symbolState struct {
	instrument  *Instrument
	regime      *Regime
	alignment   *Alignment
	expert      *Expert
	structure   *Structure
	lastUpdated map[Source]time.Time
}

// CompletenessStats reports what the store knows about one symbol.
type CompletenessStats struct {
	Symbol   string           `json:"symbol"`
	Present  map[Source]bool  `json:"present"`
	AgeMS    map[Source]int64 `json:"age_ms"`
	Ratio    float64          `json:"ratio"`
	Complete bool             `json:"complete"`
}

// New creates a context store. The clock is injectable so tests can
// pin time; pass nil for time.Now.
func New(cfg *config.ContextConfig, engineVersion string, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	s := &Store{cfg: cfg, engineVersion: engineVersion, now: now}
	for i := range s.shards {
		s.shards[i] = &shard{symbols: make(map[string]*symbolState)}
	}
	return s
}

func (s *Store) shardFor(symbol string) *shard {
	h := uint32(2166136261)
	for i := 0; i < len(symbol); i++ {
		h ^= uint32(symbol[i])
		h *= 16777619
	}
	return s.shards[h%shardCount]
}

// Update merges a partial context for the symbol. The instrument
// section merges field-wise (later wins per field); all other sections
// replace wholesale. The source's freshness timestamp is advanced.
func (s *Store) Update(symbol string, partial *PartialContext, source Source) error {
	if symbol == "" {
		return faults.New(faults.KindInvalidInput, "symbol must not be empty")
	}
	if partial.Instrument != nil && partial.Instrument.Symbol != "" && partial.Instrument.Symbol != symbol {
		return faults.Newf(faults.KindInvalidInput,
			"conflicting symbol: store entry is %s, payload carries %s", symbol, partial.Instrument.Symbol)
	}

	sh := s.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, ok := sh.symbols[symbol]
	if !ok {
		state = &symbolState{lastUpdated: make(map[Source]time.Time)}
		sh.symbols[symbol] = state
	}

	if partial.Instrument != nil {
		if state.instrument == nil {
			inst := *partial.Instrument
			state.instrument = &inst
		} else {
			if partial.Instrument.Symbol != "" {
				state.instrument.Symbol = partial.Instrument.Symbol
			}
			if partial.Instrument.Exchange != "" {
				state.instrument.Exchange = partial.Instrument.Exchange
			}
			if partial.Instrument.Price != nil {
				p := *partial.Instrument.Price
				state.instrument.Price = &p
			}
		}
	}
	if partial.Regime != nil {
		r := *partial.Regime
		state.regime = &r
	}
	if partial.Alignment != nil {
		a := *partial.Alignment
		state.alignment = &a
	}
	if partial.Expert != nil {
		e := *partial.Expert
		state.expert = &e
	}
	if partial.Structure != nil {
		st := *partial.Structure
		state.structure = &st
	}

	state.lastUpdated[source] = s.now()

	log.Debug().
		Str("symbol", symbol).
		Str("source", string(source)).
		Str("section", SectionFor(source)).
		Msg("Context updated")

	return nil
}

// fresh reports whether the source reported within maxAge.
func (s *Store) fresh(state *symbolState, source Source, now time.Time) bool {
	ts, ok := state.lastUpdated[source]
	return ok && now.Sub(ts) <= s.cfg.MaxAge()
}

// isCompleteLocked evaluates the completeness rule; the caller holds
// the shard lock.
func (s *Store) isCompleteLocked(state *symbolState, now time.Time) bool {
	if state.instrument == nil || state.instrument.Symbol == "" {
		return false
	}
	for _, req := range s.cfg.RequiredSources {
		if !s.fresh(state, Source(req), now) {
			return false
		}
	}
	expertFresh := false
	for _, exp := range s.cfg.ExpertSources {
		if s.fresh(state, Source(exp), now) {
			expertFresh = true
			break
		}
	}
	return expertFresh
}

// IsComplete reports whether the symbol's context satisfies the
// completeness rule right now.
func (s *Store) IsComplete(symbol string) bool {
	sh := s.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	state, ok := sh.symbols[symbol]
	if !ok {
		return false
	}
	return s.isCompleteLocked(state, s.now())
}

// Build materializes the decision context, filling missing optional
// sections with semantic defaults. Returns nil when incomplete.
func (s *Store) Build(symbol string) *DecisionContext {
	sh := s.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, ok := sh.symbols[symbol]
	if !ok {
		return nil
	}
	now := s.now()
	if !s.isCompleteLocked(state, now) {
		return nil
	}

	dc := &DecisionContext{
		Instrument: *state.instrument,
		Regime:     *state.regime,
		Alignment:  DefaultAlignment(),
		Structure:  DefaultStructure(),
		Meta: Meta{
			EngineVersion: s.engineVersion,
			ReceivedAt:    now,
			Completeness:  s.ratioLocked(state, now),
		},
	}
	if state.alignment != nil && s.sectionFresh(state, "alignment", now) {
		dc.Alignment = *state.alignment
	}
	if state.structure != nil && s.sectionFresh(state, "structure", now) {
		dc.Structure = *state.structure
	}
	if state.expert != nil {
		dc.Expert = *state.expert
	}
	return dc
}

// sectionFresh reports whether any source owning the section is fresh.
func (s *Store) sectionFresh(state *symbolState, section string, now time.Time) bool {
	for src := range state.lastUpdated {
		if SectionFor(src) == section && s.fresh(state, src, now) {
			return true
		}
	}
	return false
}

// ratioLocked computes fresh sources / known sources.
func (s *Store) ratioLocked(state *symbolState, now time.Time) float64 {
	known := len(s.cfg.KnownSources)
	if known == 0 {
		return 0
	}
	freshCount := 0
	for _, src := range s.cfg.KnownSources {
		if s.fresh(state, Source(src), now) {
			freshCount++
		}
	}
	return float64(freshCount) / float64(known)
}

// CleanupExpired drops sections whose every owning source is older
// than maxAge and deletes the stale timestamps.
func (s *Store) CleanupExpired(symbol string) {
	sh := s.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, ok := sh.symbols[symbol]
	if !ok {
		return
	}
	now := s.now()

	for src, ts := range state.lastUpdated {
		if now.Sub(ts) > s.cfg.MaxAge() {
			delete(state.lastUpdated, src)
			log.Debug().
				Str("symbol", symbol).
				Str("source", string(src)).
				Msg("Expired context source dropped")
		}
	}

	if !s.sectionFresh(state, "regime", now) {
		state.regime = nil
	}
	if !s.sectionFresh(state, "alignment", now) {
		state.alignment = nil
	}
	if !s.sectionFresh(state, "expert", now) {
		state.expert = nil
	}
	if !s.sectionFresh(state, "structure", now) {
		state.structure = nil
	}
}

// Stats returns presence, age, and completeness for the symbol.
func (s *Store) Stats(symbol string) CompletenessStats {
	sh := s.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	stats := CompletenessStats{
		Symbol:  symbol,
		Present: make(map[Source]bool, len(s.cfg.KnownSources)),
		AgeMS:   make(map[Source]int64),
	}
	state, ok := sh.symbols[symbol]
	if !ok {
		for _, src := range s.cfg.KnownSources {
			stats.Present[Source(src)] = false
		}
		return stats
	}
	now := s.now()
	for _, src := range s.cfg.KnownSources {
		source := Source(src)
		ts, present := state.lastUpdated[source]
		stats.Present[source] = present
		if present {
			stats.AgeMS[source] = now.Sub(ts).Milliseconds()
		}
	}
	stats.Ratio = s.ratioLocked(state, now)
	stats.Complete = s.isCompleteLocked(state, now)
	return stats
}

// Regime returns the symbol's current regime section, or nil.
func (s *Store) Regime(symbol string) *Regime {
	sh := s.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	state, ok := sh.symbols[symbol]
	if !ok || state.regime == nil {
		return nil
	}
	r := *state.regime
	return &r
}

// Alignment returns the symbol's current alignment section, or nil.
func (s *Store) Alignment(symbol string) *Alignment {
	sh := s.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	state, ok := sh.symbols[symbol]
	if !ok || state.alignment == nil {
		return nil
	}
	a := *state.alignment
	return &a
}

// Clear removes all state for the symbol.
func (s *Store) Clear(symbol string) {
	sh := s.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.symbols, symbol)
}
