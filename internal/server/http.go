// Package server exposes the wager engine over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"WagerPool/internal/engine"
	"WagerPool/internal/money"
	"WagerPool/internal/observability"
	"WagerPool/internal/query"
	"WagerPool/internal/settle"
	"WagerPool/internal/wager"
)

// Server handles the REST API plus health probes.
type Server struct {
	engine  *engine.Engine
	query   *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	router  *mux.Router
	log     zerolog.Logger
}

// NewServer wires routes. query may be nil when no reporting database is
// configured; the reporting endpoints then return 404.
func NewServer(eng *engine.Engine, qs *query.Service, health *observability.HealthChecker, metrics *observability.Metrics) *Server {
	s := &Server{
		engine:  eng,
		query:   qs,
		health:  health,
		metrics: metrics,
		router:  mux.NewRouter(),
		log:     observability.NewLogger("http"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Wager lifecycle
	api.HandleFunc("/wagers", s.instrument("create_wager", s.handleCreateWager)).Methods("POST")
	api.HandleFunc("/wagers/{id}", s.instrument("get_wager", s.handleGetWager)).Methods("GET")
	api.HandleFunc("/wagers/{id}/summary", s.instrument("summary", s.handleSummary)).Methods("GET")
	api.HandleFunc("/wagers/{id}/positions", s.instrument("place_position", s.handlePlacePosition)).Methods("POST")
	api.HandleFunc("/wagers/{id}/resolve", s.instrument("resolve", s.handleResolve)).Methods("POST")
	api.HandleFunc("/wagers/{id}/cancel", s.instrument("cancel", s.handleCancel)).Methods("POST")
	api.HandleFunc("/wagers/{id}/verify-pending", s.instrument("verify_pending", s.handleVerifyPending)).Methods("POST")
	api.HandleFunc("/wagers/{id}/payouts", s.instrument("payouts", s.handlePayouts)).Methods("GET")
	api.HandleFunc("/wagers/{id}/events", s.instrument("events", s.handleAuditLog)).Methods("GET")

	// Group reporting
	api.HandleFunc("/groups/{group_id}/wagers", s.instrument("list_wagers", s.handleListWagers)).Methods("GET")
	api.HandleFunc("/groups/{group_id}/summary", s.instrument("group_summary", s.handleGroupSummary)).Methods("GET")
	api.HandleFunc("/groups/{group_id}/settlements", s.instrument("settlements", s.handleSettlements)).Methods("GET")
	api.HandleFunc("/groups/{group_id}/participants/{participant}", s.instrument("participant", s.handleParticipant)).Methods("GET")

	// Probes
	s.router.HandleFunc("/healthz", s.health.LivenessHandler).Methods("GET")
	s.router.HandleFunc("/readyz", s.health.ReadinessHandler).Methods("GET")
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is cancelled, then drains with a 10s grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ==============================
// Handlers
// ==============================

func (s *Server) handleCreateWager(w http.ResponseWriter, r *http.Request) {
	var req CreateWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	created, err := s.engine.CreateWager(r.Context(), engine.CreateWagerParams{
		GroupID:          req.GroupID,
		Creator:          req.Creator,
		Title:            req.Title,
		Condition:        req.Condition,
		Sides:            req.Sides,
		VerificationType: req.VerificationType,
		Deadline:         req.Deadline,
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toWagerResponse(created, nil))
}

func (s *Server) handleGetWager(w http.ResponseWriter, r *http.Request) {
	id, ok := s.wagerID(w, r)
	if !ok {
		return
	}

	found, positions, err := s.engine.GetWager(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, toWagerResponse(found, positions))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := s.wagerID(w, r)
	if !ok {
		return
	}

	sum, err := s.engine.Summarize(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	resp := SummaryResponse{
		Wager:       toWagerResponse(sum.Wager, nil),
		TotalStaked: money.Format(sum.TotalStaked),
		MatchedPool: money.Format(sum.MatchedPool),
	}
	for _, side := range sum.Sides {
		resp.Sides = append(resp.Sides, SideSummaryResponse{
			Side:         side.Side,
			Staked:       money.Format(side.Staked),
			Matched:      money.Format(side.Matched),
			Participants: side.Participants,
		})
	}
	respondJSON(w, resp)
}

func (s *Server) handlePlacePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.wagerID(w, r)
	if !ok {
		return
	}

	var req PlacePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	result, err := s.engine.PlacePosition(r.Context(), id, req.Participant, req.Side, amount)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(PlacePositionResponse{
		Wager:    toWagerResponse(result.Wager, nil),
		Position: toPositionResponse(result.Position),
		Matched:  money.Format(result.Matched),
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := s.wagerID(w, r)
	if !ok {
		return
	}

	var req ResolveWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	resolved, payouts, err := s.engine.ResolveWager(r.Context(), id, req.WinningSide, req.Actor, req.ProofRef)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	resp := ResolveWagerResponse{
		Wager:       toWagerResponse(resolved, nil),
		WinningSide: req.WinningSide,
		Payouts:     toPayoutResponses(payouts),
		PayoutTotal: money.Format(settle.Total(payouts)),
	}
	respondJSON(w, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.wagerID(w, r)
	if !ok {
		return
	}

	var req CancelWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	cancelled, err := s.engine.CancelWager(r.Context(), id, req.Actor)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, toWagerResponse(cancelled, nil))
}

func (s *Server) handleVerifyPending(w http.ResponseWriter, r *http.Request) {
	id, ok := s.wagerID(w, r)
	if !ok {
		return
	}

	var req VerifyPendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	pending, err := s.engine.MarkPendingVerification(r.Context(), id, req.Actor)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, toWagerResponse(pending, nil))
}

func (s *Server) handlePayouts(w http.ResponseWriter, r *http.Request) {
	id, ok := s.wagerID(w, r)
	if !ok {
		return
	}

	rows, err := s.engine.ListPayouts(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	out := make([]PayoutResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, PayoutResponse{
			Participant: row.Participant,
			Amount:      money.Format(row.Amount),
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		respondError(w, http.StatusNotFound, "reporting not configured", "")
		return
	}
	id, ok := s.wagerID(w, r)
	if !ok {
		return
	}

	entries, err := s.query.AuditLog(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, entries)
}

func (s *Server) handleListWagers(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group_id"]

	var status *wager.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := wager.ParseStatus(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid status filter", raw)
			return
		}
		status = &parsed
	}

	listing, err := s.engine.ListWagers(r.Context(), groupID, status)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	out := make([]WagerResponse, 0, len(listing))
	for _, item := range listing {
		out = append(out, toWagerResponse(item.Wager, item.Positions))
	}
	respondJSON(w, out)
}

func (s *Server) handleGroupSummary(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		respondError(w, http.StatusNotFound, "reporting not configured", "")
		return
	}

	sum, err := s.query.GroupSummary(r.Context(), mux.Vars(r)["group_id"])
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, sum)
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		respondError(w, http.StatusNotFound, "reporting not configured", "")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = parsed
	}

	history, err := s.query.SettlementHistory(r.Context(), mux.Vars(r)["group_id"], limit)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, history)
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		respondError(w, http.StatusNotFound, "reporting not configured", "")
		return
	}

	vars := mux.Vars(r)
	activity, err := s.query.ParticipantActivity(r.Context(), vars["group_id"], vars["participant"])
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, activity)
}

// ==============================
// Helpers
// ==============================

func (s *Server) wagerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid wager id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wager.ErrNotFound):
		respondError(w, http.StatusNotFound, "wager not found", "")
	case errors.Is(err, wager.ErrInvalidStateTransition):
		respondError(w, http.StatusConflict, "invalid state transition", err.Error())
	case errors.Is(err, wager.ErrInvalidSide),
		errors.Is(err, wager.ErrInvalidWinningSide),
		errors.Is(err, wager.ErrInvalidAmount),
		errors.Is(err, wager.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
	default:
		s.log.Error().Err(err).Msg("internal error")
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// instrument wraps a handler with request counting and latency tracking.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func toPayoutResponses(payouts []settle.Payout) []PayoutResponse {
	out := make([]PayoutResponse, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, PayoutResponse{
			Participant: p.Participant,
			Amount:      money.Format(p.Amount),
		})
	}
	return out
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
