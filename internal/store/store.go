// Package store provides durable state for wagers and positions. All
// mutating access to a single wager goes through Update, which serializes
// the full read-compute-write cycle per wager identity: the memory store
// holds a per-wager mutex, the Postgres store takes a row lock. Cross-wager
// concurrency is unrestricted.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"WagerPool/internal/settle"
	"WagerPool/internal/wager"
)

// Store is the durable state boundary for the engine.
type Store interface {
	// CreateWager persists a new wager.
	CreateWager(ctx context.Context, w *wager.Wager) error

	// GetWager returns a wager by id, or wager.ErrNotFound.
	GetWager(ctx context.Context, id uuid.UUID) (*wager.Wager, error)

	// GetWagerWithPositions returns a wager and its positions in creation
	// order, or wager.ErrNotFound.
	GetWagerWithPositions(ctx context.Context, id uuid.UUID) (*wager.Wager, []*wager.Position, error)

	// ListWagers returns the wagers of a group, optionally filtered by
	// status, each with its positions.
	ListWagers(ctx context.Context, groupID string, status *wager.Status) ([]WagerWithPositions, error)

	// ListPayouts returns the recorded payout rows for a resolved wager.
	ListPayouts(ctx context.Context, wagerID uuid.UUID) ([]PayoutRow, error)

	// Update runs fn inside the wager's critical section and atomically
	// persists every mutation recorded on the Txn. If fn returns an error
	// nothing is written. On success the committed wager and positions are
	// returned. Conflicts on the underlying lock are retried transparently.
	Update(ctx context.Context, id uuid.UUID, fn func(tx *Txn) error) (*wager.Wager, []*wager.Position, error)
}

// WagerWithPositions pairs a wager with its positions for listings.
type WagerWithPositions struct {
	Wager     *wager.Wager
	Positions []*wager.Position
}

// EventRow is one append-only audit record, written in the same transaction
// as the mutation it describes.
type EventRow struct {
	ID        int64
	WagerID   uuid.UUID
	EventType string
	Actor     string
	Payload   []byte // JSON
	CreatedAt time.Time
}

// PayoutRow is the durable record of one participant's computed payout,
// written at resolve time. It is the hand-off ledger for the external
// disbursement collaborator.
type PayoutRow struct {
	WagerID     uuid.UUID `json:"wager_id"`
	Participant string    `json:"participant"`
	Amount      int64     `json:"amount"`
	WinningSide string    `json:"winning_side"`
	CreatedAt   time.Time `json:"created_at"`
}

// Txn is the mutable view handed to Update callbacks. The callback may edit
// the wager's status/result fields and the Matched field of existing
// positions, append new positions, and record audit events and payouts.
// Everything is committed atomically when the callback returns nil.
type Txn struct {
	Wager     *wager.Wager
	Positions []*wager.Position

	inserted []*wager.Position
	events   []EventRow
	payouts  []PayoutRow
}

// AppendPosition stages a new position for insertion and makes it visible in
// tx.Positions for the remainder of the callback.
func (t *Txn) AppendPosition(p *wager.Position) {
	t.inserted = append(t.inserted, p)
	t.Positions = append(t.Positions, p)
}

// RecordEvent stages an audit event. Payload is JSON-encoded; encoding
// failures degrade to an empty object rather than aborting the mutation.
func (t *Txn) RecordEvent(eventType, actor string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	t.events = append(t.events, EventRow{
		WagerID:   t.Wager.ID,
		EventType: eventType,
		Actor:     actor,
		Payload:   data,
	})
}

// RecordPayouts stages the computed payout list for durable hand-off.
func (t *Txn) RecordPayouts(winningSide string, payouts []settle.Payout) {
	for _, p := range payouts {
		t.payouts = append(t.payouts, PayoutRow{
			WagerID:     t.Wager.ID,
			Participant: p.Participant,
			Amount:      p.Amount,
			WinningSide: winningSide,
		})
	}
}
