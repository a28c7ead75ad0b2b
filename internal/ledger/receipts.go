package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/faults"
)

// Receipt is the audit record for one inbound webhook call. The
// summary is pre-redacted by the caller.
type Receipt struct {
	ID         string                 `json:"id"`
	ReceivedAt time.Time              `json:"received_at"`
	Source     string                 `json:"source"`
	Status     int                    `json:"status"`
	DurationMS int64                  `json:"duration_ms"`
	Summary    map[string]interface{} `json:"summary,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// ReceiptStore records inbound webhook calls for the audit endpoint.
type ReceiptStore interface {
	Record(ctx context.Context, receipt Receipt) error
	Recent(ctx context.Context, limit int) ([]Receipt, error)
}

// memoryReceiptCap bounds the in-memory audit ring.
const memoryReceiptCap = 200

// MemoryReceipts is a fixed-size ring, used when no database is
// configured.
type MemoryReceipts struct {
	mu       sync.RWMutex
	receipts []Receipt
	now      func() time.Time
}

// NewMemoryReceipts creates an empty ring. Pass nil for time.Now.
func NewMemoryReceipts(now func() time.Time) *MemoryReceipts {
	if now == nil {
		now = time.Now
	}
	return &MemoryReceipts{now: now}
}

// Record appends a receipt, dropping the oldest past the cap.
func (r *MemoryReceipts) Record(_ context.Context, receipt Receipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.New().String()
	}
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = r.now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, receipt)
	if len(r.receipts) > memoryReceiptCap {
		r.receipts = r.receipts[len(r.receipts)-memoryReceiptCap:]
	}
	return nil
}

// Recent returns up to limit receipts, newest first.
func (r *MemoryReceipts) Recent(_ context.Context, limit int) ([]Receipt, error) {
	if limit <= 0 || limit > memoryReceiptCap {
		limit = memoryReceiptCap
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.receipts)
	if limit > n {
		limit = n
	}
	out := make([]Receipt, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.receipts[i])
	}
	return out, nil
}

// PostgresReceipts stores receipts in the webhook_receipts table.
type PostgresReceipts struct {
	pool PoolInterface
	now  func() time.Time
}

// NewPostgresReceipts wraps a pool-compatible connection. Pass nil for
// time.Now.
func NewPostgresReceipts(pool PoolInterface, now func() time.Time) *PostgresReceipts {
	if now == nil {
		now = time.Now
	}
	return &PostgresReceipts{pool: pool, now: now}
}

// Record inserts one receipt. Failures are surfaced but callers treat
// receipt recording as best-effort.
func (r *PostgresReceipts) Record(ctx context.Context, receipt Receipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.New().String()
	}
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = r.now().UTC()
	}
	summary, err := json.Marshal(receipt.Summary)
	if err != nil {
		summary = nil
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO webhook_receipts (id, received_at, source, status, duration_ms, summary, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, receipt.ID, receipt.ReceivedAt, receipt.Source, receipt.Status, receipt.DurationMS, summary, receipt.Error)
	if err != nil {
		log.Warn().Err(err).Str("source", receipt.Source).Msg("Failed to record webhook receipt")
		return faults.Wrap(faults.KindDatabaseError, "receipt insert failed", err)
	}
	return nil
}

// Recent returns up to limit receipts, newest first.
func (r *PostgresReceipts) Recent(ctx context.Context, limit int) ([]Receipt, error) {
	limit = effectiveLimit(limit)
	rows, err := r.pool.Query(ctx, `
		SELECT id, received_at, source, status, duration_ms, summary, error
		FROM webhook_receipts ORDER BY received_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, faults.Wrap(faults.KindDatabaseError, "receipt query failed", err)
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var receipt Receipt
		var summary []byte
		if err := rows.Scan(&receipt.ID, &receipt.ReceivedAt, &receipt.Source, &receipt.Status,
			&receipt.DurationMS, &summary, &receipt.Error); err != nil {
			return nil, faults.Wrap(faults.KindDatabaseError, "receipt scan failed", err)
		}
		if len(summary) > 0 {
			_ = json.Unmarshal(summary, &receipt.Summary)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.KindDatabaseError, "receipt query failed", err)
	}
	return receipts, nil
}
