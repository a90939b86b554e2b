// Package query serves read-only reporting over the wager tables. It never
// takes the per-wager critical section: listings and aggregates read
// committed state directly.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"WagerPool/internal/wager"
)

// Service provides the reporting queries behind the HTTP API's group and
// audit endpoints.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GroupSummary aggregates all wagers of a group in one pass.
func (s *Service) GroupSummary(ctx context.Context, groupID string) (*GroupSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.status,
		       COUNT(DISTINCT w.id),
		       COALESCE(SUM(p.staked), 0),
		       COALESCE(SUM(p.matched), 0)
		FROM wagers w
		LEFT JOIN positions p ON p.wager_id = w.id
		WHERE w.group_id = $1
		GROUP BY w.status
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("group summary: %w", err)
	}
	defer rows.Close()

	sum := &GroupSummary{
		GroupID:       groupID,
		CountByStatus: make(map[string]int),
	}
	for rows.Next() {
		var statusStr string
		var count int
		var staked, matched int64
		if err := rows.Scan(&statusStr, &count, &staked, &matched); err != nil {
			return nil, err
		}

		sum.WagerCount += count
		sum.CountByStatus[statusStr] = count
		sum.TotalStaked += staked
		sum.TotalMatched += matched

		status, ok := wager.ParseStatus(statusStr)
		if ok && !status.IsTerminal() {
			sum.OpenExposure += staked
		}
	}
	return sum, rows.Err()
}

// ParticipantActivity aggregates one participant's stakes and payouts
// across a group.
func (s *Service) ParticipantActivity(ctx context.Context, groupID, participant string) (*ParticipantActivity, error) {
	activity := &ParticipantActivity{Participant: participant}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(p.id), COALESCE(SUM(p.staked), 0), COALESCE(SUM(p.matched), 0)
		FROM positions p
		JOIN wagers w ON w.id = p.wager_id
		WHERE w.group_id = $1 AND p.participant = $2
	`, groupID, participant).Scan(&activity.Positions, &activity.TotalStaked, &activity.TotalMatched)
	if err != nil {
		return nil, fmt.Errorf("participant positions: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(y.amount), 0)
		FROM payouts y
		JOIN wagers w ON w.id = y.wager_id
		WHERE w.group_id = $1 AND y.participant = $2
	`, groupID, participant).Scan(&activity.TotalPaidOut)
	if err != nil {
		return nil, fmt.Errorf("participant payouts: %w", err)
	}

	return activity, nil
}

// SettlementHistory lists a group's resolved wagers, most recent first.
func (s *Service) SettlementHistory(ctx context.Context, groupID string, limit int) ([]SettlementRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.title, w.result,
		       COALESCE(SUM(y.amount), 0),
		       COUNT(y.id),
		       MAX(y.created_at)
		FROM wagers w
		LEFT JOIN payouts y ON y.wager_id = w.id
		WHERE w.group_id = $1 AND w.status = 'resolved'
		GROUP BY w.id, w.title, w.result
		ORDER BY MAX(y.created_at) DESC NULLS LAST
		LIMIT $2
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement history: %w", err)
	}
	defer rows.Close()

	var out []SettlementRecord
	for rows.Next() {
		var rec SettlementRecord
		var result sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&rec.WagerID, &rec.Title, &result,
			&rec.PayoutTotal, &rec.Recipients, &resolvedAt); err != nil {
			return nil, err
		}
		if result.Valid {
			rec.WinningSide = result.String
		}
		if resolvedAt.Valid {
			rec.ResolvedAt = resolvedAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AuditLog returns a wager's event log in append order.
func (s *Service) AuditLog(ctx context.Context, wagerID uuid.UUID) ([]AuditEntry, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM wagers WHERE id = $1)`, wagerID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, wager.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, actor, payload, created_at
		FROM wager_events
		WHERE wager_id = $1
		ORDER BY id
	`, wagerID)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.Actor, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				e.Payload = nil
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
