package service

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/outcomelab/ammd/internal/domain"
)

// TradeJSON is the wire form of a trade record. Amounts are decimal strings
// so browser consumers never round them through float64.
type TradeJSON struct {
	ID               string    `json:"id"`
	MarketID         string    `json:"market_id"`
	Outcome          int       `json:"outcome"`
	Side             string    `json:"side"`
	CollateralAmount string    `json:"collateral_amount"`
	TokenAmount      string    `json:"token_amount"`
	Fee              string    `json:"fee"`
	Actor            string    `json:"actor"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewTradeJSON converts a trade record to its wire form.
func NewTradeJSON(t domain.Trade) TradeJSON {
	return TradeJSON{
		ID:               t.ID,
		MarketID:         t.MarketID,
		Outcome:          t.Outcome,
		Side:             string(t.Side),
		CollateralAmount: amountString(t.CollateralAmount),
		TokenAmount:      amountString(t.TokenAmount),
		Fee:              amountString(t.Fee),
		Actor:            t.Actor.Hex(),
		CreatedAt:        t.CreatedAt,
	}
}

// SnapshotJSON is the wire form of a market snapshot.
type SnapshotJSON struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	Outcomes     []string  `json:"outcomes"`
	FeeBps       uint32    `json:"fee_bps"`
	EndTime      time.Time `json:"end_time"`
	Resolution   string    `json:"resolution"`
	Winner       *int      `json:"winner,omitempty"`
	Reserves     []string  `json:"reserves"`
	Prices       []string  `json:"prices"`
	Collateral   string    `json:"collateral"`
	ProtocolFees string    `json:"protocol_fees"`
	LPSupply     string    `json:"lp_supply"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewSnapshotJSON converts a market snapshot to its wire form. Winner is only
// present on markets resolved valid.
func NewSnapshotJSON(m domain.MarketSnapshot) SnapshotJSON {
	out := SnapshotJSON{
		ID:           m.ID,
		Question:     m.Question,
		Outcomes:     m.Outcomes,
		FeeBps:       m.FeeBps,
		EndTime:      m.EndTime,
		Resolution:   m.Resolution.State.String(),
		Reserves:     amountStrings(m.Reserves),
		Prices:       amountStrings(m.Prices),
		Collateral:   amountString(m.Collateral),
		ProtocolFees: amountString(m.ProtocolFees),
		LPSupply:     amountString(m.LPSupply),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Resolution.State == domain.ResolvedValid {
		w := m.Resolution.Winner
		out.Winner = &w
	}
	return out
}

// tradeEvent is published on ChannelTrades after every executed trade.
type tradeEvent struct {
	Type  string       `json:"type"`
	Trade domain.Trade `json:"-"`
}

// MarshalJSON flattens the wire form of the trade into the event.
func (e tradeEvent) MarshalJSON() ([]byte, error) {
	return marshalEvent(e.Type, "trade", NewTradeJSON(e.Trade))
}

// priceEvent is published on ChannelPrices whenever a trade moves prices.
type priceEvent struct {
	Type     string    `json:"type"`
	MarketID string    `json:"market_id"`
	Prices   []string  `json:"prices"`
	At       time.Time `json:"at"`
}

// marketEvent is published on ChannelMarkets for lifecycle transitions.
type marketEvent struct {
	Type   string                `json:"type"`
	Market domain.MarketSnapshot `json:"-"`
}

// MarshalJSON flattens the wire form of the snapshot into the event.
func (e marketEvent) MarshalJSON() ([]byte, error) {
	return marshalEvent(e.Type, "market", NewSnapshotJSON(e.Market))
}

func marshalEvent(typ, field string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type": typ,
		field:  payload,
	})
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
