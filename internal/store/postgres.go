package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"WagerPool/internal/wager"
)

// Postgres is the durable Store. Update serializes per wager with a
// SELECT ... FOR UPDATE row lock inside a transaction; serialization
// conflicts and deadlocks are retried transparently with exponential
// backoff.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const wagerColumns = `id, group_id, creator, title, condition, sides,
	verification_type, status, deadline, result, proof_ref, version, created_at`

func (s *Postgres) CreateWager(ctx context.Context, w *wager.Wager) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wagers
			(id, group_id, creator, title, condition, sides, verification_type,
			 status, deadline, result, proof_ref, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, w.ID, w.GroupID, w.Creator, w.Title, w.Condition, pq.Array(w.Sides),
		w.VerificationType, w.Status.String(), w.Deadline, w.Result, w.ProofRef,
		w.Version, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert wager: %w", err)
	}
	return nil
}

func (s *Postgres) GetWager(ctx context.Context, id uuid.UUID) (*wager.Wager, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE id = $1`, id)
	return scanWager(row)
}

func (s *Postgres) GetWagerWithPositions(ctx context.Context, id uuid.UUID) (*wager.Wager, []*wager.Position, error) {
	w, err := s.GetWager(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	positions, err := s.loadPositions(ctx, s.db, id)
	if err != nil {
		return nil, nil, err
	}
	return w, positions, nil
}

func (s *Postgres) ListWagers(ctx context.Context, groupID string, status *wager.Status) ([]WagerWithPositions, error) {
	query := `SELECT ` + wagerColumns + ` FROM wagers WHERE group_id = $1`
	args := []interface{}{groupID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, status.String())
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wagers: %w", err)
	}
	defer rows.Close()

	var out []WagerWithPositions
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, WagerWithPositions{Wager: w})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		positions, err := s.loadPositions(ctx, s.db, out[i].Wager.ID)
		if err != nil {
			return nil, err
		}
		out[i].Positions = positions
	}
	return out, nil
}

func (s *Postgres) ListPayouts(ctx context.Context, wagerID uuid.UUID) ([]PayoutRow, error) {
	if _, err := s.GetWager(ctx, wagerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT wager_id, participant, amount, winning_side, created_at
		FROM payouts WHERE wager_id = $1 ORDER BY id
	`, wagerID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var out []PayoutRow
	for rows.Next() {
		var p PayoutRow
		if err := rows.Scan(&p.WagerID, &p.Participant, &p.Amount, &p.WinningSide, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update runs fn under the wager's row lock and commits every staged
// mutation atomically. Retries on serialization_failure (40001) and
// deadlock_detected (40P01) so callers never see transient conflicts.
func (s *Postgres) Update(ctx context.Context, id uuid.UUID, fn func(tx *Txn) error) (*wager.Wager, []*wager.Position, error) {
	backoff := 50 * time.Millisecond
	const maxBackoff = 1 * time.Second
	const maxAttempts = 6

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		w, positions, err := s.updateOnce(ctx, id, fn)
		if err == nil {
			return w, positions, nil
		}
		if !isRetryable(err) {
			return nil, nil, err
		}
		lastErr = err
	}

	return nil, nil, fmt.Errorf("update wager %s: retries exhausted: %w", id, lastErr)
}

func (s *Postgres) updateOnce(ctx context.Context, id uuid.UUID, fn func(tx *Txn) error) (*wager.Wager, []*wager.Position, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbtx.Rollback()

	// Row lock: serializes every mutating operation on this wager.
	row := dbtx.QueryRowContext(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE id = $1 FOR UPDATE`, id)
	w, err := scanWager(row)
	if err != nil {
		return nil, nil, err
	}

	positions, err := s.loadPositions(ctx, dbtx, id)
	if err != nil {
		return nil, nil, err
	}

	// Remember loaded matched amounts so only changed rows are written back.
	loadedMatched := make(map[uuid.UUID]int64, len(positions))
	for _, p := range positions {
		loadedMatched[p.ID] = p.Matched
	}

	tx := &Txn{Wager: w, Positions: positions}
	if err := fn(tx); err != nil {
		return nil, nil, err
	}

	w.Version++
	if _, err := dbtx.ExecContext(ctx, `
		UPDATE wagers SET status = $2, result = $3, proof_ref = $4, version = $5
		WHERE id = $1
	`, id, w.Status.String(), w.Result, w.ProofRef, w.Version); err != nil {
		return nil, nil, fmt.Errorf("update wager row: %w", err)
	}

	inserted := make(map[uuid.UUID]bool, len(tx.inserted))
	now := time.Now().UTC()
	for _, p := range tx.inserted {
		inserted[p.ID] = true
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if _, err := dbtx.ExecContext(ctx, `
			INSERT INTO positions (id, wager_id, participant, side, staked, matched, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, p.ID, p.WagerID, p.Participant, p.Side, p.Staked, p.Matched, p.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("insert position: %w", err)
		}
	}

	for _, p := range tx.Positions {
		if inserted[p.ID] || loadedMatched[p.ID] == p.Matched {
			continue
		}
		if _, err := dbtx.ExecContext(ctx, `
			UPDATE positions SET matched = $2 WHERE id = $1
		`, p.ID, p.Matched); err != nil {
			return nil, nil, fmt.Errorf("update position matched: %w", err)
		}
	}

	for _, e := range tx.events {
		if _, err := dbtx.ExecContext(ctx, `
			INSERT INTO wager_events (wager_id, event_type, actor, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, e.WagerID, e.EventType, e.Actor, e.Payload, now); err != nil {
			return nil, nil, fmt.Errorf("insert event: %w", err)
		}
	}

	for _, p := range tx.payouts {
		if _, err := dbtx.ExecContext(ctx, `
			INSERT INTO payouts (wager_id, participant, amount, winning_side, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (wager_id, participant) DO NOTHING
		`, p.WagerID, p.Participant, p.Amount, p.WinningSide, now); err != nil {
			return nil, nil, fmt.Errorf("insert payout: %w", err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	return tx.Wager, tx.Positions, nil
}

func (s *Postgres) loadPositions(ctx context.Context, q queryer, wagerID uuid.UUID) ([]*wager.Position, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, wager_id, participant, side, staked, matched, created_at
		FROM positions WHERE wager_id = $1 ORDER BY created_at, id
	`, wagerID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var out []*wager.Position
	for rows.Next() {
		var p wager.Position
		if err := rows.Scan(&p.ID, &p.WagerID, &p.Participant, &p.Side,
			&p.Staked, &p.Matched, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWager(row rowScanner) (*wager.Wager, error) {
	var w wager.Wager
	var sides pq.StringArray
	var statusStr string

	err := row.Scan(&w.ID, &w.GroupID, &w.Creator, &w.Title, &w.Condition,
		&sides, &w.VerificationType, &statusStr, &w.Deadline, &w.Result,
		&w.ProofRef, &w.Version, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wager.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wager: %w", err)
	}

	w.Sides = []string(sides)
	status, ok := wager.ParseStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("wager %s has unknown status %q", w.ID, statusStr)
	}
	w.Status = status
	return &w, nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
