package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomelab/ammd/internal/domain"
)

// SettlementService defines the methods the settlement handler needs from the
// service layer.
type SettlementService interface {
	Resolve(ctx context.Context, marketID string, res domain.Resolution) error
	Claim(ctx context.Context, marketID string, holder common.Address) (*big.Int, error)
	EstimatePayout(ctx context.Context, marketID string, holder common.Address) (*big.Int, error)
}

// SettlementHandler serves market resolution and settlement endpoints.
type SettlementHandler struct {
	settlement SettlementService
	logger     *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler with the given service and
// logger.
func NewSettlementHandler(settlement SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
		logger:     logger,
	}
}

// resolveRequest is the body of POST /api/markets/{id}/resolve. Outcome is
// "valid" or "invalid"; Winner is required for valid resolutions and ignored
// for invalid ones.
type resolveRequest struct {
	Outcome string `json:"outcome"`
	Winner  int    `json:"winner"`
}

// Resolve moves a market into a terminal state. The route is guarded by the
// resolver key, not the general API key.
// POST /api/markets/{id}/resolve
func (h *SettlementHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var res domain.Resolution
	switch req.Outcome {
	case "valid":
		res = domain.Resolution{State: domain.ResolvedValid, Winner: req.Winner}
	case "invalid":
		res = domain.Resolution{State: domain.ResolvedInvalid}
	default:
		writeError(w, http.StatusBadRequest, `outcome must be "valid" or "invalid"`)
		return
	}

	if err := h.settlement.Resolve(r.Context(), id, res); err != nil {
		if errStatus(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: resolve failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"outcome":   req.Outcome,
		"winner":    res.Winner,
	})
}

// claimRequest is the body of POST /api/markets/{id}/claim.
type claimRequest struct {
	Account string `json:"account"`
}

// claimResponse reports a settlement claim. Claimed is false when the account
// held no redeemable position; the call is still a success and repeatable.
type claimResponse struct {
	MarketID string `json:"market_id"`
	Account  string `json:"account"`
	Payout   string `json:"payout"`
	Claimed  bool   `json:"claimed"`
}

// Claim settles an account's positions in a resolved market.
// POST /api/markets/{id}/claim
func (h *SettlementHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	holder, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account: "+err.Error())
		return
	}

	payout, err := h.settlement.Claim(r.Context(), id, holder)
	if err != nil {
		// An empty claim is not a failure: settlement is idempotent and a
		// second claim (or a loser's claim) simply pays zero.
		if errors.Is(err, domain.ErrNothingToClaim) {
			writeJSON(w, http.StatusOK, claimResponse{
				MarketID: id,
				Account:  holder.Hex(),
				Payout:   "0",
				Claimed:  false,
			})
			return
		}
		if errStatus(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: claim failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		MarketID: id,
		Account:  holder.Hex(),
		Payout:   payout.String(),
		Claimed:  true,
	})
}

// EstimatePayout previews an account's settlement payout without claiming.
// GET /api/markets/{id}/payout/{address}
func (h *SettlementHandler) EstimatePayout(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	holder, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := h.settlement.EstimatePayout(r.Context(), id, holder)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"market_id": id,
		"account":   holder.Hex(),
		"payout":    payout.String(),
	})
}
