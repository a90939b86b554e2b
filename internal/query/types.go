package query

import (
	"time"

	"github.com/google/uuid"
)

// GroupSummary aggregates a group's wagers for reporting.
type GroupSummary struct {
	GroupID       string         `json:"group_id"`
	WagerCount    int            `json:"wager_count"`
	CountByStatus map[string]int `json:"count_by_status"`
	TotalStaked   int64          `json:"total_staked"`
	TotalMatched  int64          `json:"total_matched"`
	OpenExposure  int64          `json:"open_exposure"` // staked on non-terminal wagers
}

// ParticipantActivity is one participant's aggregate across a group.
type ParticipantActivity struct {
	Participant  string `json:"participant"`
	Positions    int    `json:"positions"`
	TotalStaked  int64  `json:"total_staked"`
	TotalMatched int64  `json:"total_matched"`
	TotalPaidOut int64  `json:"total_paid_out"`
}

// SettlementRecord is one resolved wager with its payout total.
type SettlementRecord struct {
	WagerID     uuid.UUID `json:"wager_id"`
	Title       string    `json:"title"`
	WinningSide string    `json:"winning_side"`
	PayoutTotal int64     `json:"payout_total"`
	Recipients  int       `json:"recipients"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// AuditEntry is one row of a wager's append-only event log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Actor     string         `json:"actor,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
