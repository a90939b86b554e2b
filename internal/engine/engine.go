// Package engine implements the wager lifecycle: creation, stake placement
// with immediate matching, verification hand-off, resolution with settlement,
// and cancellation. Every mutating operation runs its read-compute-write
// cycle inside the store's per-wager critical section, so concurrent
// placements and resolutions on the same wager are linearized.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"WagerPool/internal/match"
	"WagerPool/internal/money"
	"WagerPool/internal/observability"
	"WagerPool/internal/outbound"
	"WagerPool/internal/settle"
	"WagerPool/internal/store"
	"WagerPool/internal/wager"
)

// EventSink receives lifecycle events and payout batches for downstream
// consumers. Lifecycle events are best-effort; payout batches block.
type EventSink interface {
	EmitEvent(evt outbound.Event)
	EmitPayouts(ctx context.Context, batch outbound.PayoutBatch) error
}

// Engine orchestrates wager operations against a Store.
type Engine struct {
	store   store.Store
	sink    EventSink
	log     zerolog.Logger
	metrics *observability.Metrics
}

// New creates an engine. sink may be nil, in which case emissions are
// discarded.
func New(s store.Store, sink EventSink, metrics *observability.Metrics) *Engine {
	if sink == nil {
		sink = nopSink{}
	}
	return &Engine{
		store:   s,
		sink:    sink,
		log:     observability.NewLogger("engine"),
		metrics: metrics,
	}
}

type nopSink struct{}

func (nopSink) EmitEvent(outbound.Event) {}
func (nopSink) EmitPayouts(context.Context, outbound.PayoutBatch) error {
	return nil
}

// CreateWagerParams carries the caller-supplied fields of a new wager.
type CreateWagerParams struct {
	GroupID          string
	Creator          string
	Title            string
	Condition        string
	Sides            []string
	VerificationType string
	Deadline         *time.Time
}

// CreateWager validates and persists a new wager in the open state.
// A wager needs at least two distinct, non-empty sides; only two-sided
// wagers participate in matching.
func (e *Engine) CreateWager(ctx context.Context, params CreateWagerParams) (*wager.Wager, error) {
	if err := validateSides(params.Sides); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", wager.ErrInvalidArgument)
	}
	if strings.TrimSpace(params.Creator) == "" {
		return nil, fmt.Errorf("%w: creator is required", wager.ErrInvalidArgument)
	}

	w := &wager.Wager{
		ID:               uuid.New(),
		GroupID:          params.GroupID,
		Creator:          params.Creator,
		Title:            params.Title,
		Condition:        params.Condition,
		Sides:            append([]string(nil), params.Sides...),
		VerificationType: params.VerificationType,
		Status:           wager.StatusOpen,
		Deadline:         params.Deadline,
		CreatedAt:        time.Now().UTC(),
	}

	if err := e.store.CreateWager(ctx, w); err != nil {
		e.metrics.StoreErrors.WithLabelValues("create_wager").Inc()
		return nil, err
	}

	committed, _, err := e.store.Update(ctx, w.ID, func(tx *store.Txn) error {
		tx.RecordEvent("wager_created", params.Creator, map[string]interface{}{
			"title": params.Title,
			"sides": params.Sides,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.WagersCreated.WithLabelValues(w.VerificationType).Inc()
	e.sink.EmitEvent(outbound.Event{
		WagerID:   w.ID,
		GroupID:   w.GroupID,
		EventType: "wager_created",
		Actor:     params.Creator,
	})

	e.log.Info().
		Str("wager_id", w.ID.String()).
		Str("group_id", w.GroupID).
		Strs("sides", w.Sides).
		Msg("wager created")

	return committed, nil
}

// PlaceResult reports the outcome of one placement.
type PlaceResult struct {
	Wager    *wager.Wager
	Position *wager.Position
	// Matched is the amount newly paired on each side by this placement's
	// matching cycle. Zero when the opposing side had no unmatched stake.
	Matched int64
}

// PlacePosition stakes amount on side for participant and immediately runs
// a matching cycle. The wager must still accept positions, the side must
// exist, and the amount must be positive.
func (e *Engine) PlacePosition(ctx context.Context, wagerID uuid.UUID, participant, side string, amount int64) (*PlaceResult, error) {
	if amount <= 0 {
		e.metrics.PositionsRejected.WithLabelValues("amount").Inc()
		return nil, fmt.Errorf("%w: stake must be positive, got %s",
			wager.ErrInvalidAmount, money.Format(amount))
	}
	if strings.TrimSpace(participant) == "" {
		return nil, fmt.Errorf("%w: participant is required", wager.ErrInvalidArgument)
	}

	var result PlaceResult
	start := time.Now()

	w, _, err := e.store.Update(ctx, wagerID, func(tx *store.Txn) error {
		if !tx.Wager.Status.AcceptsPositions() {
			e.metrics.PositionsRejected.WithLabelValues("status").Inc()
			return fmt.Errorf("%w: wager is %s", wager.ErrInvalidStateTransition, tx.Wager.Status)
		}
		if !tx.Wager.HasSide(side) {
			e.metrics.PositionsRejected.WithLabelValues("side").Inc()
			return fmt.Errorf("%w: %q", wager.ErrInvalidSide, side)
		}

		p := &wager.Position{
			ID:          uuid.New(),
			WagerID:     wagerID,
			Participant: participant,
			Side:        side,
			Staked:      amount,
			CreatedAt:   time.Now().UTC(),
		}
		tx.AppendPosition(p)
		tx.RecordEvent("position_placed", participant, map[string]interface{}{
			"position_id": p.ID,
			"side":        side,
			"staked":      amount,
		})

		cycle := match.Run(tx.Wager, tx.Positions)
		if cycle.Amount > 0 {
			tx.RecordEvent("stake_matched", "", map[string]interface{}{
				"amount": cycle.Amount,
				"fills":  len(cycle.Filled),
			})
			if tx.Wager.Status == wager.StatusOpen {
				tx.Wager.Status = wager.StatusActive
			}
		}

		result.Position = p
		result.Matched = cycle.Amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Wager = w

	e.metrics.StoreUpdateDuration.Observe(time.Since(start).Seconds())
	e.metrics.PositionsPlaced.WithLabelValues(sideIndex(w, side)).Inc()
	e.metrics.StakeVolume.WithLabelValues(sideIndex(w, side)).Add(float64(amount))
	if result.Matched > 0 {
		e.metrics.MatchCycles.Inc()
		e.metrics.MatchVolume.Add(float64(result.Matched))
	}

	e.sink.EmitEvent(outbound.Event{
		WagerID:   wagerID,
		GroupID:   w.GroupID,
		EventType: "position_placed",
		Actor:     participant,
		Payload: map[string]interface{}{
			"side":    side,
			"staked":  money.Format(amount),
			"matched": money.Format(result.Matched),
		},
	})

	e.log.Info().
		Str("wager_id", wagerID.String()).
		Str("participant", participant).
		Str("side", side).
		Str("staked", money.Format(amount)).
		Str("matched", money.Format(result.Matched)).
		Msg("position placed")

	return &result, nil
}

// MarkPendingVerification moves a wager into pending_verification, the
// deadline-driven hand-off to outcome verification. Already-terminal and
// already-pending wagers are rejected with ErrInvalidStateTransition.
func (e *Engine) MarkPendingVerification(ctx context.Context, wagerID uuid.UUID, actor string) (*wager.Wager, error) {
	w, _, err := e.store.Update(ctx, wagerID, func(tx *store.Txn) error {
		if !tx.Wager.Status.CanTransitionTo(wager.StatusPendingVerification) {
			e.metrics.StatusRejections.WithLabelValues("mark_pending").Inc()
			return wager.TransitionError(tx.Wager.Status, wager.StatusPendingVerification)
		}
		tx.Wager.Status = wager.StatusPendingVerification
		tx.RecordEvent("pending_verification", actor, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.sink.EmitEvent(outbound.Event{
		WagerID:   wagerID,
		GroupID:   w.GroupID,
		EventType: "pending_verification",
		Actor:     actor,
	})

	e.log.Info().Str("wager_id", wagerID.String()).Msg("wager pending verification")
	return w, nil
}

// ResolveWager records the winning side, computes the settlement, persists
// the payout ledger in the same transaction, and hands the batch to the
// disbursement sink. Resolution is legal from open, active, and
// pending_verification.
func (e *Engine) ResolveWager(ctx context.Context, wagerID uuid.UUID, winningSide, actor string, proofRef *string) (*wager.Wager, []settle.Payout, error) {
	var payouts []settle.Payout
	start := time.Now()

	w, _, err := e.store.Update(ctx, wagerID, func(tx *store.Txn) error {
		if !tx.Wager.Status.CanTransitionTo(wager.StatusResolved) {
			e.metrics.StatusRejections.WithLabelValues("resolve").Inc()
			return wager.TransitionError(tx.Wager.Status, wager.StatusResolved)
		}
		if !tx.Wager.HasSide(winningSide) {
			return fmt.Errorf("%w: %q", wager.ErrInvalidWinningSide, winningSide)
		}

		tx.Wager.Status = wager.StatusResolved
		tx.Wager.Result = &winningSide
		if proofRef != nil {
			tx.Wager.ProofRef = proofRef
		}

		computed, err := settle.Calculate(tx.Wager, tx.Positions)
		if err != nil {
			return err
		}
		payouts = computed

		tx.RecordEvent("wager_resolved", actor, map[string]interface{}{
			"winning_side": winningSide,
			"payout_total": settle.Total(payouts),
		})
		tx.RecordPayouts(winningSide, payouts)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	e.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	e.metrics.SettlementsComputed.Inc()
	e.metrics.WagersResolved.WithLabelValues(w.VerificationType).Inc()
	e.metrics.PayoutTotal.Add(float64(settle.Total(payouts)))
	e.metrics.PayoutRecipients.Observe(float64(len(payouts)))

	// Disbursement hand-off. Blocking: the payout ledger is already durable,
	// but downstream must see the batch before we report success upstream.
	if err := e.sink.EmitPayouts(ctx, outbound.PayoutBatch{
		WagerID:     wagerID,
		GroupID:     w.GroupID,
		WinningSide: winningSide,
		Payouts:     payouts,
	}); err != nil {
		e.log.Error().Err(err).Str("wager_id", wagerID.String()).Msg("payout batch hand-off failed")
		return nil, nil, fmt.Errorf("emit payout batch: %w", err)
	}

	e.sink.EmitEvent(outbound.Event{
		WagerID:   wagerID,
		GroupID:   w.GroupID,
		EventType: "wager_resolved",
		Actor:     actor,
		Payload:   map[string]interface{}{"winning_side": winningSide},
	})

	e.log.Info().
		Str("wager_id", wagerID.String()).
		Str("winning_side", winningSide).
		Str("payout_total", money.Format(settle.Total(payouts))).
		Int("recipients", len(payouts)).
		Msg("wager resolved")

	return w, payouts, nil
}

// CancelWager voids a wager. Cancellation is only legal while no stake has
// been matched; once any pairing exists the wager must run to resolution.
func (e *Engine) CancelWager(ctx context.Context, wagerID uuid.UUID, actor string) (*wager.Wager, error) {
	w, _, err := e.store.Update(ctx, wagerID, func(tx *store.Txn) error {
		if !tx.Wager.Status.CanTransitionTo(wager.StatusCancelled) {
			e.metrics.StatusRejections.WithLabelValues("cancel").Inc()
			return wager.TransitionError(tx.Wager.Status, wager.StatusCancelled)
		}
		for _, p := range tx.Positions {
			if p.Matched > 0 {
				e.metrics.StatusRejections.WithLabelValues("cancel").Inc()
				return fmt.Errorf("%w: cannot cancel, stake already matched",
					wager.ErrInvalidStateTransition)
			}
		}
		tx.Wager.Status = wager.StatusCancelled
		tx.RecordEvent("wager_cancelled", actor, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.WagersCancelled.Inc()
	e.sink.EmitEvent(outbound.Event{
		WagerID:   wagerID,
		GroupID:   w.GroupID,
		EventType: "wager_cancelled",
		Actor:     actor,
	})

	e.log.Info().Str("wager_id", wagerID.String()).Msg("wager cancelled")
	return w, nil
}

// GetWager returns a wager with its positions.
func (e *Engine) GetWager(ctx context.Context, wagerID uuid.UUID) (*wager.Wager, []*wager.Position, error) {
	return e.store.GetWagerWithPositions(ctx, wagerID)
}

// ListWagers returns a group's wagers, optionally filtered by status.
func (e *Engine) ListWagers(ctx context.Context, groupID string, status *wager.Status) ([]store.WagerWithPositions, error) {
	return e.store.ListWagers(ctx, groupID, status)
}

// ListPayouts returns the durable payout ledger of a resolved wager.
func (e *Engine) ListPayouts(ctx context.Context, wagerID uuid.UUID) ([]store.PayoutRow, error) {
	return e.store.ListPayouts(ctx, wagerID)
}

// SideSummary aggregates one side of a wager.
type SideSummary struct {
	Side         string `json:"side"`
	Staked       int64  `json:"staked"`
	Matched      int64  `json:"matched"`
	Participants int    `json:"participants"`
}

// Summary is the aggregate view of a wager's pools.
type Summary struct {
	Wager       *wager.Wager  `json:"wager"`
	TotalStaked int64         `json:"total_staked"`
	MatchedPool int64         `json:"matched_pool"`
	Sides       []SideSummary `json:"sides"`
}

// Summarize computes per-side totals from a consistent snapshot.
func (e *Engine) Summarize(ctx context.Context, wagerID uuid.UUID) (*Summary, error) {
	w, positions, err := e.store.GetWagerWithPositions(ctx, wagerID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Wager: w}
	bySide := make(map[string]*SideSummary, len(w.Sides))
	for _, s := range w.Sides {
		ss := &SideSummary{Side: s}
		bySide[s] = ss
	}

	seen := make(map[string]map[string]bool, len(w.Sides))
	for _, p := range positions {
		ss, ok := bySide[p.Side]
		if !ok {
			continue
		}
		ss.Staked += p.Staked
		ss.Matched += p.Matched
		if seen[p.Side] == nil {
			seen[p.Side] = make(map[string]bool)
		}
		if !seen[p.Side][p.Participant] {
			seen[p.Side][p.Participant] = true
			ss.Participants++
		}
		sum.TotalStaked += p.Staked
	}

	for _, s := range w.Sides {
		sum.Sides = append(sum.Sides, *bySide[s])
	}
	// Matched pools are balanced, so one side's matched total is the pool.
	if len(sum.Sides) > 0 {
		sum.MatchedPool = sum.Sides[0].Matched
	}
	return sum, nil
}

// CalculatePayouts recomputes the settlement of a resolved wager from its
// stored positions. The computation is pure, so this always reproduces the
// recorded ledger.
func (e *Engine) CalculatePayouts(ctx context.Context, wagerID uuid.UUID) ([]settle.Payout, error) {
	w, positions, err := e.store.GetWagerWithPositions(ctx, wagerID)
	if err != nil {
		return nil, err
	}
	return settle.Calculate(w, positions)
}

// IsNotFound reports whether err means the wager does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, wager.ErrNotFound)
}

func validateSides(sides []string) error {
	if len(sides) < 2 {
		return fmt.Errorf("%w: need at least two sides", wager.ErrInvalidSide)
	}
	seen := make(map[string]bool, len(sides))
	for _, s := range sides {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty side name", wager.ErrInvalidSide)
		}
		if seen[s] {
			return fmt.Errorf("%w: duplicate side %q", wager.ErrInvalidSide, s)
		}
		seen[s] = true
	}
	return nil
}

func sideIndex(w *wager.Wager, side string) string {
	for i, s := range w.Sides {
		if s == side {
			return fmt.Sprintf("%d", i)
		}
	}
	return "unknown"
}
