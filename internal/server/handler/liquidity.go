package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/outcomelab/ammd/internal/service"
)

// LiquidityService defines the methods the liquidity handler needs from the
// service layer.
type LiquidityService interface {
	AddLiquidity(ctx context.Context, p service.LiquidityParams) (*big.Int, error)
	RemoveLiquidity(ctx context.Context, p service.LiquidityParams) (*big.Int, error)
}

// LiquidityHandler serves LP deposit and withdrawal endpoints.
type LiquidityHandler struct {
	liquidity LiquidityService
	logger    *slog.Logger
}

// NewLiquidityHandler creates a LiquidityHandler with the given service and
// logger.
func NewLiquidityHandler(liquidity LiquidityService, logger *slog.Logger) *LiquidityHandler {
	return &LiquidityHandler{
		liquidity: liquidity,
		logger:    logger,
	}
}

// liquidityRequest is the body of add and remove requests. Amount is
// collateral for adds and LP shares for removes.
type liquidityRequest struct {
	Provider string    `json:"provider"`
	Amount   string    `json:"amount"`
	MinOut   string    `json:"min_out,omitempty"`
	Deadline time.Time `json:"deadline,omitempty"`
}

// liquidityResponse reports the result of a liquidity operation. Out is LP
// shares minted for adds and collateral returned for removes.
type liquidityResponse struct {
	MarketID string `json:"market_id"`
	Provider string `json:"provider"`
	Out      string `json:"out"`
}

// Add deposits collateral for LP shares.
// POST /api/markets/{id}/liquidity/add
func (h *LiquidityHandler) Add(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, true)
}

// Remove burns LP shares for collateral.
// POST /api/markets/{id}/liquidity/remove
func (h *LiquidityHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, false)
}

func (h *LiquidityHandler) execute(w http.ResponseWriter, r *http.Request, add bool) {
	id := pathParam(r, "id")

	var req liquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	provider, err := parseAddress(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, "provider: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}
	minOut, err := parseOptionalAmount(req.MinOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, "min_out: "+err.Error())
		return
	}

	params := service.LiquidityParams{
		MarketID: id,
		Provider: provider,
		Amount:   amount,
		MinOut:   minOut,
		Deadline: req.Deadline,
	}

	var out *big.Int
	if add {
		out, err = h.liquidity.AddLiquidity(r.Context(), params)
	} else {
		out, err = h.liquidity.RemoveLiquidity(r.Context(), params)
	}
	if err != nil {
		if errStatus(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: liquidity operation failed",
				slog.String("market_id", id),
				slog.Bool("add", add),
				slog.String("error", err.Error()),
			)
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, liquidityResponse{
		MarketID: id,
		Provider: provider.Hex(),
		Out:      out.String(),
	})
}
