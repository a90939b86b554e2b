package server

import (
	"time"

	"WagerPool/internal/money"
	"WagerPool/internal/wager"
)

// Money values cross the API as decimal strings ("12.5"), parsed and
// formatted by the money package. Base units never leak to clients.

type CreateWagerRequest struct {
	GroupID          string     `json:"group_id"`
	Creator          string     `json:"creator"`
	Title            string     `json:"title"`
	Condition        string     `json:"condition"`
	Sides            []string   `json:"sides"`
	VerificationType string     `json:"verification_type"`
	Deadline         *time.Time `json:"deadline,omitempty"`
}

type PlacePositionRequest struct {
	Participant string `json:"participant"`
	Side        string `json:"side"`
	Amount      string `json:"amount"`
}

type ResolveWagerRequest struct {
	WinningSide string  `json:"winning_side"`
	Actor       string  `json:"actor"`
	ProofRef    *string `json:"proof_ref,omitempty"`
}

type CancelWagerRequest struct {
	Actor string `json:"actor"`
}

type VerifyPendingRequest struct {
	Actor string `json:"actor"`
}

type WagerResponse struct {
	ID               string             `json:"id"`
	GroupID          string             `json:"group_id"`
	Creator          string             `json:"creator"`
	Title            string             `json:"title"`
	Condition        string             `json:"condition"`
	Sides            []string           `json:"sides"`
	VerificationType string             `json:"verification_type"`
	Status           string             `json:"status"`
	Deadline         *time.Time         `json:"deadline,omitempty"`
	Result           *string            `json:"result,omitempty"`
	ProofRef         *string            `json:"proof_ref,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	Positions        []PositionResponse `json:"positions,omitempty"`
}

type PositionResponse struct {
	ID          string    `json:"id"`
	Participant string    `json:"participant"`
	Side        string    `json:"side"`
	Staked      string    `json:"staked"`
	Matched     string    `json:"matched"`
	Unmatched   string    `json:"unmatched"`
	CreatedAt   time.Time `json:"created_at"`
}

type PlacePositionResponse struct {
	Wager    WagerResponse    `json:"wager"`
	Position PositionResponse `json:"position"`
	Matched  string           `json:"matched"`
}

type PayoutResponse struct {
	Participant string `json:"participant"`
	Amount      string `json:"amount"`
}

type ResolveWagerResponse struct {
	Wager       WagerResponse    `json:"wager"`
	WinningSide string           `json:"winning_side"`
	Payouts     []PayoutResponse `json:"payouts"`
	PayoutTotal string           `json:"payout_total"`
}

type SideSummaryResponse struct {
	Side         string `json:"side"`
	Staked       string `json:"staked"`
	Matched      string `json:"matched"`
	Participants int    `json:"participants"`
}

type SummaryResponse struct {
	Wager       WagerResponse         `json:"wager"`
	TotalStaked string                `json:"total_staked"`
	MatchedPool string                `json:"matched_pool"`
	Sides       []SideSummaryResponse `json:"sides"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func toWagerResponse(w *wager.Wager, positions []*wager.Position) WagerResponse {
	resp := WagerResponse{
		ID:               w.ID.String(),
		GroupID:          w.GroupID,
		Creator:          w.Creator,
		Title:            w.Title,
		Condition:        w.Condition,
		Sides:            w.Sides,
		VerificationType: w.VerificationType,
		Status:           w.Status.String(),
		Deadline:         w.Deadline,
		Result:           w.Result,
		ProofRef:         w.ProofRef,
		CreatedAt:        w.CreatedAt,
	}
	for _, p := range positions {
		resp.Positions = append(resp.Positions, toPositionResponse(p))
	}
	return resp
}

func toPositionResponse(p *wager.Position) PositionResponse {
	return PositionResponse{
		ID:          p.ID.String(),
		Participant: p.Participant,
		Side:        p.Side,
		Staked:      money.Format(p.Staked),
		Matched:     money.Format(p.Matched),
		Unmatched:   money.Format(p.Unmatched()),
		CreatedAt:   p.CreatedAt,
	}
}
