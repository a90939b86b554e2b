package wager

import (
	"time"

	"github.com/google/uuid"
)

// Status is the wager lifecycle state.
type Status int32

const (
	StatusOpen Status = iota
	StatusActive
	StatusPendingVerification
	StatusResolved
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusActive:
		return "active"
	case StatusPendingVerification:
		return "pending_verification"
	case StatusResolved:
		return "resolved"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus converts the storage/API string form back to a Status.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "open":
		return StatusOpen, true
	case "active":
		return StatusActive, true
	case "pending_verification":
		return StatusPendingVerification, true
	case "resolved":
		return StatusResolved, true
	case "cancelled":
		return StatusCancelled, true
	default:
		return 0, false
	}
}

// CanTransitionTo validates lifecycle transitions.
// resolved and cancelled are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusOpen: {
			StatusActive,
			StatusPendingVerification,
			StatusResolved,
			StatusCancelled,
		},
		StatusActive: {
			StatusPendingVerification,
			StatusResolved,
			StatusCancelled,
		},
		StatusPendingVerification: {
			StatusResolved,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, a := range allowed {
		if next == a {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// AcceptsPositions reports whether new positions may be placed.
func (s Status) AcceptsPositions() bool {
	return s == StatusOpen || s == StatusActive
}

// Wager is one market: a proposition with opposing outcome sides that
// participants of a group stake against each other.
type Wager struct {
	ID               uuid.UUID  `json:"id"`
	GroupID          string     `json:"group_id"`
	Creator          string     `json:"creator"`
	Title            string     `json:"title"`
	Condition        string     `json:"condition"`
	Sides            []string   `json:"sides"`
	VerificationType string     `json:"verification_type"` // Opaque tag, interpreted by the resolver
	Status           Status     `json:"-"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	Result           *string    `json:"result,omitempty"` // Non-nil iff Status == StatusResolved
	ProofRef         *string    `json:"proof_ref,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	Version          int64      `json:"-"` // Bumped on every committed mutation
}

// HasSide reports whether label is one of the wager's side labels.
func (w *Wager) HasSide(label string) bool {
	for _, s := range w.Sides {
		if s == label {
			return true
		}
	}
	return false
}

// OtherSide returns the opposing label of a two-sided wager.
// ok is false when the wager is not two-sided or label is unknown.
func (w *Wager) OtherSide(label string) (string, bool) {
	if len(w.Sides) != 2 || !w.HasSide(label) {
		return "", false
	}
	if w.Sides[0] == label {
		return w.Sides[1], true
	}
	return w.Sides[0], true
}

// Matchable reports whether the matching algorithm applies. Wagers with more
// than two sides accept positions but are never matched.
func (w *Wager) Matchable() bool {
	return len(w.Sides) == 2
}

// Position is one participant's stake on one side of a wager. Staked never
// changes after creation; Matched only ever increases, and only inside the
// wager's critical section.
type Position struct {
	ID          uuid.UUID `json:"id"`
	WagerID     uuid.UUID `json:"wager_id"`
	Participant string    `json:"participant"`
	Side        string    `json:"side"`
	Staked      int64     `json:"staked"`     // Fixed-point, money.Scale
	Matched     int64     `json:"matched"`    // Fixed-point, 0 <= Matched <= Staked
	CreatedAt   time.Time `json:"created_at"` // FIFO matching order
}

// Unmatched returns the stake not yet paired against the opposing side.
// Always refunded in full at settlement regardless of outcome.
func (p *Position) Unmatched() int64 {
	return p.Staked - p.Matched
}
