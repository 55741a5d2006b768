package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/outcomelab/ammd/internal/domain"
	"github.com/outcomelab/ammd/internal/service"
)

// TradeService defines the methods the trade handler needs from the service
// layer.
type TradeService interface {
	Quote(ctx context.Context, marketID string, side domain.TradeSide, outcome int, amount *big.Int) (out, fee *big.Int, err error)
	Buy(ctx context.Context, p service.TradeParams) (domain.Trade, error)
	Sell(ctx context.Context, p service.TradeParams) (domain.Trade, error)
	ListTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves quoting and trade-execution endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// quoteResponse reports the result of pricing a prospective trade. For buys,
// Out is outcome tokens received; for sells, Out is collateral received.
type quoteResponse struct {
	MarketID string `json:"market_id"`
	Side     string `json:"side"`
	Outcome  int    `json:"outcome"`
	Amount   string `json:"amount"`
	Out      string `json:"out"`
	Fee      string `json:"fee"`
}

// Quote prices a trade without executing it. Read-only, so it takes query
// parameters rather than a body.
// GET /api/markets/{id}/quote?side=buy&outcome=0&amount=1000000
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	q := r.URL.Query()

	side, ok := parseSide(q.Get("side"))
	if !ok {
		writeError(w, http.StatusBadRequest, `side must be "buy" or "sell"`)
		return
	}
	outcome, err := strconv.Atoi(q.Get("outcome"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "outcome must be an integer")
		return
	}
	amount, err := parseAmount(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}

	out, fee, err := h.trades.Quote(r.Context(), id, side, outcome, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{
		MarketID: id,
		Side:     string(side),
		Outcome:  outcome,
		Amount:   amount.String(),
		Out:      out.String(),
		Fee:      fee.String(),
	})
}

// tradeRequest is the body of buy and sell requests. Amount is collateral in
// for buys and outcome tokens in for sells. MinOut and Deadline are optional.
type tradeRequest struct {
	Trader   string    `json:"trader"`
	Outcome  int       `json:"outcome"`
	Amount   string    `json:"amount"`
	MinOut   string    `json:"min_out,omitempty"`
	Deadline time.Time `json:"deadline,omitempty"`
}

// Buy executes a buy.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, domain.TradeBuy)
}

// Sell executes a sell.
// POST /api/markets/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, domain.TradeSell)
}

func (h *TradeHandler) execute(w http.ResponseWriter, r *http.Request, side domain.TradeSide) {
	id := pathParam(r, "id")

	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	trader, err := parseAddress(req.Trader)
	if err != nil {
		writeError(w, http.StatusBadRequest, "trader: "+err.Error())
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

	params := service.TradeParams{
		MarketID: id,
		Trader:   trader,
		Outcome:  req.Outcome,
		Amount:   amount,
		MinOut:   minOut,
		Deadline: req.Deadline,
	}

	var trade domain.Trade
	if side == domain.TradeSell {
		trade, err = h.trades.Sell(r.Context(), params)
	} else {
		trade, err = h.trades.Buy(r.Context(), params)
	}
	if err != nil {
		if errStatus(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: trade failed",
				slog.String("market_id", id),
				slog.String("side", string(side)),
				slog.String("error", err.Error()),
			)
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, service.NewTradeJSON(trade))
}

// listTradesResponse wraps the trade-log endpoint output with metadata.
type listTradesResponse struct {
	Trades []service.TradeJSON `json:"trades"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// ListTrades returns a market's trade log, newest first.
// GET /api/markets/{id}/trades?limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts := parseListOpts(r)

	trades, err := h.trades.ListTrades(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]service.TradeJSON, len(trades))
	for i, t := range trades {
		out[i] = service.NewTradeJSON(t)
	}
	writeJSON(w, http.StatusOK, listTradesResponse{
		Trades: out,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func parseSide(s string) (domain.TradeSide, bool) {
	switch s {
	case "buy":
		return domain.TradeBuy, true
	case "sell":
		return domain.TradeSell, true
	default:
		return "", false
	}
}
