package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/decision"
	"github.com/tradeforge/confluence/internal/faults"
)

// PoolInterface is the subset of pgxpool.Pool the ledger needs;
// pgxmock satisfies it in tests.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresLedger is the durable backend over a single append-mostly
// ledger_entries table.
type PostgresLedger struct {
	pool PoolInterface
	now  func() time.Time
}

// NewPostgresLedger wraps a pool-compatible connection. Pass nil for
// time.Now.
func NewPostgresLedger(pool PoolInterface, now func() time.Time) *PostgresLedger {
	if now == nil {
		now = time.Now
	}
	return &PostgresLedger{pool: pool, now: now}
}

// NewPostgresLedgerWithPool wraps a concrete pgxpool.Pool.
func NewPostgresLedgerWithPool(pool *pgxpool.Pool) *PostgresLedger {
	return NewPostgresLedger(pool, nil)
}

const insertEntrySQL = `
	INSERT INTO ledger_entries (
		id, created_at, engine_version, signal, phase_context, decision,
		decision_reason, decision_breakdown, confluence_score, execution,
		exit_data, regime, hypothetical, gate_results
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
	)
`

// Append inserts the entry in a single statement, assigning its id and
// createdAt.
func (l *PostgresLedger) Append(ctx context.Context, entry *Entry) (*Entry, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	stored := copyEntry(entry)
	stored.ID = uuid.New().String()
	stored.CreatedAt = l.now().UTC()

	signal, err := json.Marshal(stored.Signal)
	if err != nil {
		return nil, faults.Wrap(faults.KindValidationError, "marshal signal snapshot", err)
	}
	breakdown, err := json.Marshal(stored.DecisionBreakdown)
	if err != nil {
		return nil, faults.Wrap(faults.KindValidationError, "marshal decision breakdown", err)
	}
	regime, err := json.Marshal(stored.Regime)
	if err != nil {
		return nil, faults.Wrap(faults.KindValidationError, "marshal regime snapshot", err)
	}
	phaseContext := marshalOptional(stored.PhaseContext)
	execution := marshalOptional(stored.Execution)
	exitData := marshalOptional(stored.ExitData)
	hypothetical := marshalOptional(stored.Hypothetical)
	gateResults := marshalOptional(stored.GateResults)

	_, err = l.pool.Exec(ctx, insertEntrySQL,
		stored.ID,
		stored.CreatedAt,
		stored.EngineVersion,
		signal,
		phaseContext,
		string(stored.Decision),
		stored.DecisionReason,
		breakdown,
		stored.ConfluenceScore,
		execution,
		exitData,
		regime,
		hypothetical,
		gateResults,
	)
	if err != nil {
		return nil, faults.Wrap(faults.KindDatabaseError, "ledger append failed", err)
	}

	log.Debug().
		Str("id", stored.ID).
		Str("decision", string(stored.Decision)).
		Msg("Ledger entry appended")
	return stored, nil
}

// UpdateExit sets the exit outcome, once, on an EXECUTE entry. The
// guarded UPDATE is the authority; a miss is classified by re-reading
// the row.
func (l *PostgresLedger) UpdateExit(ctx context.Context, id string, exit Exit) error {
	payload, err := json.Marshal(exit)
	if err != nil {
		return faults.Wrap(faults.KindValidationError, "marshal exit", err)
	}

	tag, err := l.pool.Exec(ctx, `
		UPDATE ledger_entries SET exit_data = $2
		WHERE id = $1 AND decision = 'EXECUTE' AND exit_data IS NULL
	`, id, payload)
	if err != nil {
		return faults.Wrap(faults.KindDatabaseError, "ledger exit update failed", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	entry, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Decision != decision.ActionExecute {
		return faults.Newf(faults.KindInvalidUpdate, "exit only applies to EXECUTE entries, entry %s is %s", id, entry.Decision)
	}
	return faults.Newf(faults.KindOverwriteNotAllowed, "entry %s already has an exit", id)
}

// UpdateHypothetical sets the hypothetical outcome, once, on a
// non-EXECUTE entry.
func (l *PostgresLedger) UpdateHypothetical(ctx context.Context, id string, hypo Hypothetical) error {
	payload, err := json.Marshal(hypo)
	if err != nil {
		return faults.Wrap(faults.KindValidationError, "marshal hypothetical", err)
	}

	tag, err := l.pool.Exec(ctx, `
		UPDATE ledger_entries SET hypothetical = $2
		WHERE id = $1 AND decision <> 'EXECUTE' AND hypothetical IS NULL
	`, id, payload)
	if err != nil {
		return faults.Wrap(faults.KindDatabaseError, "ledger hypothetical update failed", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	entry, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Decision == decision.ActionExecute {
		return faults.Newf(faults.KindInvalidUpdate, "hypothetical does not apply to EXECUTE entry %s", id)
	}
	return faults.Newf(faults.KindOverwriteNotAllowed, "entry %s already has a hypothetical", id)
}

const selectEntryColumns = `
	id, created_at, engine_version, signal, phase_context, decision,
	decision_reason, decision_breakdown, confluence_score, execution,
	exit_data, regime, hypothetical, gate_results
`

// Get fetches one entry by id.
func (l *PostgresLedger) Get(ctx context.Context, id string) (*Entry, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+selectEntryColumns+` FROM ledger_entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.Newf(faults.KindEntryNotFound, "ledger entry %s not found", id)
	}
	if err != nil {
		return nil, faults.Wrap(faults.KindDatabaseError, "ledger get failed", err)
	}
	return entry, nil
}

// Query returns matching entries, newest first, capped at the query
// limit. Filters translate to SQL predicates so the cap is correct.
func (l *PostgresLedger) Query(ctx context.Context, filters Filters) ([]*Entry, error) {
	where, args := buildWhere(filters)
	args = append(args, effectiveLimit(filters.Limit))
	sql := fmt.Sprintf(
		`SELECT %s FROM ledger_entries %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		selectEntryColumns, where, len(args),
	)

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, faults.Wrap(faults.KindDatabaseError, "ledger query failed", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, faults.Wrap(faults.KindDatabaseError, "ledger scan failed", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.KindDatabaseError, "ledger query failed", err)
	}
	return entries, nil
}

// Aggregates summarizes every entry matching the filters.
func (l *PostgresLedger) Aggregates(ctx context.Context, filters Filters) (*Aggregates, error) {
	where, args := buildWhere(filters)
	sql := fmt.Sprintf(`
		SELECT decision, confluence_score,
		       exit_data IS NOT NULL,
		       COALESCE((exit_data->>'net_pnl')::float8, 0),
		       hypothetical IS NOT NULL
		FROM ledger_entries %s
	`, where)

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, faults.Wrap(faults.KindDatabaseError, "ledger aggregates failed", err)
	}
	defer rows.Close()

	agg := &Aggregates{ByDecision: map[string]int{}}
	var confluenceSum float64
	for rows.Next() {
		var (
			dec     string
			score   float64
			hasExit bool
			netPnL  float64
			hasHypo bool
		)
		if err := rows.Scan(&dec, &score, &hasExit, &netPnL, &hasHypo); err != nil {
			return nil, faults.Wrap(faults.KindDatabaseError, "ledger aggregates scan failed", err)
		}
		agg.Total++
		agg.ByDecision[dec]++
		confluenceSum += score
		if hasExit {
			agg.WithExit++
			agg.NetPnL += netPnL
			if netPnL > 0 {
				agg.Wins++
			} else {
				agg.Losses++
			}
		} else {
			agg.WithoutExit++
		}
		if hasHypo {
			agg.WithHypothetical++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.KindDatabaseError, "ledger aggregates failed", err)
	}
	if agg.Total > 0 {
		agg.AverageConfluence = confluenceSum / float64(agg.Total)
	}
	return agg, nil
}

var scalpFrames = []string{"1m", "2m", "3m", "5m"}
var dayFrames = []string{"10m", "15m", "30m", "1h", "2h", "4h"}

// buildWhere translates Filters into a WHERE clause with positional
// args. Derived classes (trade type, DTE bucket) become predicates on
// the json extracts so LIMIT semantics stay exact.
func buildWhere(f Filters) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Timeframe != "" {
		add(`signal->>'timeframe' = $%d`, f.Timeframe)
	}
	if f.Quality != "" {
		add(`signal->>'quality' = $%d`, string(f.Quality))
	}
	if f.Decision != "" {
		add(`decision = $%d`, string(f.Decision))
	}
	if f.TradeType != "" {
		switch f.TradeType {
		case TradeScalp:
			add(`signal->>'timeframe' = ANY($%d)`, scalpFrames)
		case TradeDay:
			add(`signal->>'timeframe' = ANY($%d)`, dayFrames)
		case TradeSwing:
			args = append(args, scalpFrames, dayFrames)
			clauses = append(clauses, fmt.Sprintf(
				`NOT (signal->>'timeframe' = ANY($%d) OR signal->>'timeframe' = ANY($%d))`,
				len(args)-1, len(args)))
		}
	}
	if f.DTEBucket != "" {
		switch f.DTEBucket {
		case DTEBucketZero:
			clauses = append(clauses, `(signal->>'dte')::int <= 0`)
		case DTEBucketWeekly:
			clauses = append(clauses, `(signal->>'dte')::int BETWEEN 1 AND 7`)
		case DTEBucketMonthly:
			clauses = append(clauses, `(signal->>'dte')::int > 7`)
		}
	}
	if f.Volatility != "" {
		add(`regime->>'volatility' = $%d`, string(f.Volatility))
	}
	if f.From != nil {
		add(`created_at >= $%d`, *f.From)
	}
	if f.To != nil {
		add(`created_at <= $%d`, *f.To)
	}
	if f.Ticker != "" {
		add(`signal->>'ticker' = $%d`, f.Ticker)
	}
	if f.HasExit != nil {
		if *f.HasExit {
			clauses = append(clauses, `exit_data IS NOT NULL`)
		} else {
			clauses = append(clauses, `exit_data IS NULL`)
		}
	}
	if f.HasHypothetical != nil {
		if *f.HasHypothetical {
			clauses = append(clauses, `hypothetical IS NOT NULL`)
		} else {
			clauses = append(clauses, `hypothetical IS NULL`)
		}
	}
	if f.MinConfluence != nil {
		add(`confluence_score >= $%d`, *f.MinConfluence)
	}
	if f.MaxConfluence != nil {
		add(`confluence_score <= $%d`, *f.MaxConfluence)
	}
	if f.ExitReason != "" {
		add(`exit_data->>'reason' = $%d`, f.ExitReason)
	}

	if len(clauses) == 0 {
		return "", args
	}
	where := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

// scanEntry reads one row in selectEntryColumns order.
func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		entry        Entry
		signal       []byte
		phaseContext []byte
		dec          string
		breakdown    []byte
		execution    []byte
		exitData     []byte
		regime       []byte
		hypothetical []byte
		gateResults  []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.CreatedAt,
		&entry.EngineVersion,
		&signal,
		&phaseContext,
		&dec,
		&entry.DecisionReason,
		&breakdown,
		&entry.ConfluenceScore,
		&execution,
		&exitData,
		&regime,
		&hypothetical,
		&gateResults,
	)
	if err != nil {
		return nil, err
	}
	entry.Decision = decision.Action(dec)
	if err := json.Unmarshal(signal, &entry.Signal); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(breakdown, &entry.DecisionBreakdown); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(regime, &entry.Regime); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(phaseContext, &entry.PhaseContext); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(execution, &entry.Execution); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(exitData, &entry.ExitData); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(hypothetical, &entry.Hypothetical); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(gateResults, &entry.GateResults); err != nil {
		return nil, err
	}
	return &entry, nil
}

// marshalOptional renders a nilable struct as JSON or SQL NULL.
func marshalOptional(v interface{}) interface{} {
	switch t := v.(type) {
	case *RegimeSnapshot:
		if t == nil {
			return nil
		}
	case *Execution:
		if t == nil {
			return nil
		}
	case *Exit:
		if t == nil {
			return nil
		}
	case *Hypothetical:
		if t == nil {
			return nil
		}
	case *decision.GateResults:
		if t == nil {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// unmarshalOptional decodes a nullable JSON column into a typed
// pointer field.
func unmarshalOptional[T any](data []byte, out **T) error {
	if len(data) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*out = &v
	return nil
}
