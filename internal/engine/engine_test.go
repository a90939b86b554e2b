package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"WagerPool/internal/engine"
	"WagerPool/internal/money"
	"WagerPool/internal/observability"
	"WagerPool/internal/outbound"
	"WagerPool/internal/settle"
	"WagerPool/internal/store"
	"WagerPool/internal/wager"
)

// Prometheus collectors register globally, so share one set across tests.
var (
	metricsOnce sync.Once
	testMetrics *observability.Metrics
)

func metrics() *observability.Metrics {
	metricsOnce.Do(func() {
		testMetrics = observability.NewMetrics()
	})
	return testMetrics
}

type captureSink struct {
	mu      sync.Mutex
	events  []outbound.Event
	batches []outbound.PayoutBatch
}

func (s *captureSink) EmitEvent(evt outbound.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *captureSink) EmitPayouts(_ context.Context, batch outbound.PayoutBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureSink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

func newEngine(t *testing.T) (*engine.Engine, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	return engine.New(store.NewMemory(), sink, metrics()), sink
}

func createWager(t *testing.T, eng *engine.Engine) *wager.Wager {
	t.Helper()
	w, err := eng.CreateWager(context.Background(), engine.CreateWagerParams{
		GroupID:          "group-1",
		Creator:          "alice",
		Title:            "Will it rain tomorrow",
		Condition:        "rain before midnight",
		Sides:            []string{"yes", "no"},
		VerificationType: "manual",
	})
	if err != nil {
		t.Fatalf("create wager: %v", err)
	}
	return w
}

func mustParse(t *testing.T, s string) int64 {
	t.Helper()
	v, err := money.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

// ============================================================================
// Test: creation
// ============================================================================

func TestCreateWager_RejectsBadSides(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	cases := [][]string{
		{"yes"},
		{},
		{"yes", "yes"},
		{"yes", " "},
	}
	for _, sides := range cases {
		_, err := eng.CreateWager(ctx, engine.CreateWagerParams{
			GroupID: "g", Creator: "a", Title: "t", Sides: sides,
		})
		if !errors.Is(err, wager.ErrInvalidSide) {
			t.Errorf("sides %v: got %v, want ErrInvalidSide", sides, err)
		}
	}
}

func TestCreateWager_StartsOpen(t *testing.T) {
	eng, sink := newEngine(t)
	w := createWager(t, eng)

	if w.Status != wager.StatusOpen {
		t.Errorf("status: got %v, want open", w.Status)
	}
	types := sink.eventTypes()
	if len(types) != 1 || types[0] != "wager_created" {
		t.Errorf("emitted %v, want [wager_created]", types)
	}
}

// ============================================================================
// Test: placement and matching
// ============================================================================

func TestPlacePosition_ActivatesOnFirstMatch(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	first, err := eng.PlacePosition(ctx, w.ID, "alice", "yes", mustParse(t, "100"))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if first.Matched != 0 {
		t.Errorf("one-sided placement matched %d, want 0", first.Matched)
	}
	if first.Wager.Status != wager.StatusOpen {
		t.Errorf("status after unmatched placement: got %v, want open", first.Wager.Status)
	}

	second, err := eng.PlacePosition(ctx, w.ID, "bob", "no", mustParse(t, "60"))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if second.Matched != mustParse(t, "60") {
		t.Errorf("matched: got %s, want 60", money.Format(second.Matched))
	}
	if second.Wager.Status != wager.StatusActive {
		t.Errorf("status after match: got %v, want active", second.Wager.Status)
	}
}

func TestPlacePosition_Validation(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	if _, err := eng.PlacePosition(ctx, w.ID, "alice", "maybe", 100); !errors.Is(err, wager.ErrInvalidSide) {
		t.Errorf("unknown side: got %v, want ErrInvalidSide", err)
	}
	if _, err := eng.PlacePosition(ctx, w.ID, "alice", "yes", 0); !errors.Is(err, wager.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := eng.PlacePosition(ctx, w.ID, "alice", "yes", -5); !errors.Is(err, wager.ErrInvalidAmount) {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestPlacePosition_RejectedAfterPendingVerification(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	if _, err := eng.MarkPendingVerification(ctx, w.ID, "scheduler"); err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	_, err := eng.PlacePosition(ctx, w.ID, "alice", "yes", 100)
	if !errors.Is(err, wager.ErrInvalidStateTransition) {
		t.Errorf("got %v, want ErrInvalidStateTransition", err)
	}
}

// ============================================================================
// Test: resolution and settlement
// ============================================================================

func TestResolveWager_EndToEnd(t *testing.T) {
	eng, sink := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	if _, err := eng.PlacePosition(ctx, w.ID, "alice", "yes", mustParse(t, "100")); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := eng.PlacePosition(ctx, w.ID, "bob", "no", mustParse(t, "60")); err != nil {
		t.Fatalf("place: %v", err)
	}

	resolved, payouts, err := eng.ResolveWager(ctx, w.ID, "yes", "carol", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != wager.StatusResolved {
		t.Errorf("status: got %v, want resolved", resolved.Status)
	}
	if resolved.Result == nil || *resolved.Result != "yes" {
		t.Errorf("result: got %v, want yes", resolved.Result)
	}

	if total := settle.Total(payouts); total != mustParse(t, "160") {
		t.Errorf("payout total: got %s, want 160", money.Format(total))
	}

	// Payout ledger persisted.
	rows, err := eng.ListPayouts(ctx, w.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(rows) != 1 || rows[0].Participant != "alice" || rows[0].Amount != mustParse(t, "160") {
		t.Errorf("ledger rows: %+v", rows)
	}

	// Disbursement batch handed off exactly once.
	if len(sink.batches) != 1 {
		t.Fatalf("got %d payout batches, want 1", len(sink.batches))
	}
	if sink.batches[0].WinningSide != "yes" {
		t.Errorf("batch winning side: got %q", sink.batches[0].WinningSide)
	}
}

func TestResolveWager_RejectsUnknownSide(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	_, _, err := eng.ResolveWager(ctx, w.ID, "maybe", "carol", nil)
	if !errors.Is(err, wager.ErrInvalidWinningSide) {
		t.Errorf("got %v, want ErrInvalidWinningSide", err)
	}

	// The failed resolve must not have mutated the wager.
	got, _, err := eng.GetWager(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != wager.StatusOpen {
		t.Errorf("status after failed resolve: got %v, want open", got.Status)
	}
}

func TestResolveWager_TerminalIsFinal(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	if _, _, err := eng.ResolveWager(ctx, w.ID, "yes", "carol", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, _, err := eng.ResolveWager(ctx, w.ID, "no", "mallory", nil)
	if !errors.Is(err, wager.ErrInvalidStateTransition) {
		t.Errorf("second resolve: got %v, want ErrInvalidStateTransition", err)
	}
}

func TestResolveWager_FromPendingVerification(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	if _, err := eng.MarkPendingVerification(ctx, w.ID, "scheduler"); err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	if _, _, err := eng.ResolveWager(ctx, w.ID, "no", "carol", nil); err != nil {
		t.Fatalf("resolve from pending: %v", err)
	}
}

// ============================================================================
// Test: cancellation
// ============================================================================

func TestCancelWager_BeforeAnyMatch(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	// Unmatched stake does not block cancellation.
	if _, err := eng.PlacePosition(ctx, w.ID, "alice", "yes", 100); err != nil {
		t.Fatalf("place: %v", err)
	}

	cancelled, err := eng.CancelWager(ctx, w.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != wager.StatusCancelled {
		t.Errorf("status: got %v, want cancelled", cancelled.Status)
	}
}

func TestCancelWager_BlockedByMatchedStake(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	if _, err := eng.PlacePosition(ctx, w.ID, "alice", "yes", 100); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := eng.PlacePosition(ctx, w.ID, "bob", "no", 50); err != nil {
		t.Fatalf("place: %v", err)
	}

	_, err := eng.CancelWager(ctx, w.ID, "alice")
	if !errors.Is(err, wager.ErrInvalidStateTransition) {
		t.Errorf("got %v, want ErrInvalidStateTransition", err)
	}
}

// ============================================================================
// Test: summary
// ============================================================================

func TestSummarize(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	if _, err := eng.PlacePosition(ctx, w.ID, "alice", "yes", 100); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := eng.PlacePosition(ctx, w.ID, "carol", "yes", 30); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := eng.PlacePosition(ctx, w.ID, "bob", "no", 60); err != nil {
		t.Fatalf("place: %v", err)
	}

	sum, err := eng.Summarize(ctx, w.ID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.TotalStaked != 190 {
		t.Errorf("total staked: got %d, want 190", sum.TotalStaked)
	}
	if sum.MatchedPool != 60 {
		t.Errorf("matched pool: got %d, want 60", sum.MatchedPool)
	}
	if len(sum.Sides) != 2 {
		t.Fatalf("got %d sides, want 2", len(sum.Sides))
	}
	yes := sum.Sides[0]
	if yes.Staked != 130 || yes.Matched != 60 || yes.Participants != 2 {
		t.Errorf("yes side: %+v", yes)
	}
	no := sum.Sides[1]
	if no.Staked != 60 || no.Matched != 60 || no.Participants != 1 {
		t.Errorf("no side: %+v", no)
	}
}

func TestCalculatePayouts_MatchesRecordedLedger(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	w := createWager(t, eng)

	if _, err := eng.PlacePosition(ctx, w.ID, "alice", "yes", 100); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := eng.PlacePosition(ctx, w.ID, "bob", "no", 60); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, _, err := eng.ResolveWager(ctx, w.ID, "no", "carol", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	recomputed, err := eng.CalculatePayouts(ctx, w.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}

	rows, err := eng.ListPayouts(ctx, w.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(recomputed) != len(rows) {
		t.Fatalf("recomputed %d payouts, ledger has %d", len(recomputed), len(rows))
	}
	ledger := make(map[string]int64, len(rows))
	for _, r := range rows {
		ledger[r.Participant] = r.Amount
	}
	for _, p := range recomputed {
		if ledger[p.Participant] != p.Amount {
			t.Errorf("%s: recomputed %d, ledger %d", p.Participant, p.Amount, ledger[p.Participant])
		}
	}
}
