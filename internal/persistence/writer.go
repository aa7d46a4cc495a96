package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OperationRow is one row in synth.operations, the append-only operation log.
type OperationRow struct {
	Sequence  int64
	EventType string
	Asset     string
	Payload   []byte // JSON event payload
	Timestamp time.Time
}

// BalanceDelta is a signed projection update derived from one event.
// Collateral deltas carry an asset; debt deltas leave it empty. Amounts are
// decimal strings so Postgres NUMERIC keeps full big.Int precision.
type BalanceDelta struct {
	User  string
	Asset string
	Delta string
}

// Writer batch-writes the operation log and balance projections using
// multi-row INSERT.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// WriteOperationBatch appends rows to synth.operations. Conflicting sequences
// are skipped so retried batches stay idempotent.
func (w *Writer) WriteOperationBatch(ctx context.Context, tx *sql.Tx, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO synth.operations
		(sequence, event_type, asset, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)
	for i, r := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, r.Sequence, r.EventType, r.Asset, r.Payload, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ApplyCollateralDeltas folds collateral balance changes into the
// synth.collateral_balances projection.
func (w *Writer) ApplyCollateralDeltas(ctx context.Context, tx *sql.Tx, deltas []BalanceDelta) error {
	const query = `INSERT INTO synth.collateral_balances (user_id, asset, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (user_id, asset)
		DO UPDATE SET amount = synth.collateral_balances.amount + EXCLUDED.amount`

	for _, d := range deltas {
		if _, err := tx.ExecContext(ctx, query, d.User, d.Asset, d.Delta); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDebtDeltas folds debt changes into the synth.debt_balances projection.
func (w *Writer) ApplyDebtDeltas(ctx context.Context, tx *sql.Tx, deltas []BalanceDelta) error {
	const query = `INSERT INTO synth.debt_balances (user_id, amount)
		VALUES ($1, $2::numeric)
		ON CONFLICT (user_id)
		DO UPDATE SET amount = synth.debt_balances.amount + EXCLUDED.amount`

	for _, d := range deltas {
		if _, err := tx.ExecContext(ctx, query, d.User, d.Delta); err != nil {
			return err
		}
	}
	return nil
}

// StreamOperations reads the operation log in sequence order starting after
// fromSequence and hands each row to fn. Used for boot-time replay.
func (w *Writer) StreamOperations(ctx context.Context, fromSequence int64, fn func(OperationRow) error) error {
	rows, err := w.db.QueryContext(ctx,
		`SELECT sequence, event_type, asset, payload, timestamp
		 FROM synth.operations
		 WHERE sequence > $1
		 ORDER BY sequence ASC`,
		fromSequence,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r OperationRow
		if err := rows.Scan(&r.Sequence, &r.EventType, &r.Asset, &r.Payload, &r.Timestamp); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastSequence returns the highest persisted operation sequence, or zero on
// an empty log.
func (w *Writer) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM synth.operations`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
