package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomelab/ammd/internal/domain"
	"github.com/outcomelab/ammd/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, p service.CreateMarketParams) (domain.MarketSnapshot, error)
	GetMarket(ctx context.Context, id string) (domain.MarketSnapshot, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error)
	MarketCount(ctx context.Context) (int64, error)
	Balances(ctx context.Context, marketID string, holder common.Address) ([]*big.Int, *big.Int, error)
}

// MarketHandler serves market lifecycle and read endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// createMarketRequest is the body of POST /api/markets. Amounts are decimal
// strings; Distribution is optional and defaults to an even seed.
type createMarketRequest struct {
	Question          string    `json:"question"`
	Outcomes          []string  `json:"outcomes"`
	EndTime           time.Time `json:"end_time"`
	FeeBps            uint32    `json:"fee_bps"`
	Creator           string    `json:"creator"`
	InitialCollateral string    `json:"initial_collateral"`
	Distribution      []string  `json:"distribution,omitempty"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	creator, err := parseAddress(req.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, "creator: "+err.Error())
		return
	}
	initial, err := parseAmount(req.InitialCollateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, "initial_collateral: "+err.Error())
		return
	}

	var distribution []*big.Int
	if len(req.Distribution) > 0 {
		distribution = make([]*big.Int, len(req.Distribution))
		for i, s := range req.Distribution {
			distribution[i], err = parseAmount(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "distribution: "+err.Error())
				return
			}
		}
	}

	snap, err := h.markets.CreateMarket(r.Context(), service.CreateMarketParams{
		Question:          req.Question,
		Outcomes:          req.Outcomes,
		EndTime:           req.EndTime,
		FeeBps:            req.FeeBps,
		Creator:           creator,
		InitialCollateral: initial,
		Distribution:      distribution,
	})
	if err != nil {
		if errStatus(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: create market failed",
				slog.String("error", err.Error()),
			)
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, service.NewSnapshotJSON(snap))
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []service.SnapshotJSON `json:"markets"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// ListMarkets returns market snapshots with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.markets.MarketCount(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	out := make([]service.SnapshotJSON, len(markets))
	for i, m := range markets {
		out[i] = service.NewSnapshotJSON(m)
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: out,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market snapshot by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	snap, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		if errStatus(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: get market failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, service.NewSnapshotJSON(snap))
}

// balancesResponse carries one account's holdings in one market.
type balancesResponse struct {
	MarketID string   `json:"market_id"`
	Account  string   `json:"account"`
	Balances []string `json:"balances"`
	LPShares string   `json:"lp_shares"`
}

// GetBalances returns an account's outcome-token and LP balances.
// GET /api/markets/{id}/balances/{address}
func (h *MarketHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	holder, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balances, lp, err := h.markets.Balances(r.Context(), id, holder)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	out := make([]string, len(balances))
	for i, b := range balances {
		out[i] = b.String()
	}
	writeJSON(w, http.StatusOK, balancesResponse{
		MarketID: id,
		Account:  holder.Hex(),
		Balances: out,
		LPShares: lp.String(),
	})
}
