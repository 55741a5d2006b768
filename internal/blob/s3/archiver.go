package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/outcomelab/ammd/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the query methods it actually calls, not the
// full domain store interfaces. The Postgres stores satisfy these implicitly.
// ---------------------------------------------------------------------------

// TradeArchiveStore provides the trade-log access needed for archival.
type TradeArchiveStore interface {
	// ListBefore returns a market's trades created strictly before the cutoff.
	ListBefore(ctx context.Context, marketID string, before time.Time) ([]domain.Trade, error)
	// DeleteByMarket removes a market's trades after a verified upload.
	DeleteByMarket(ctx context.Context, marketID string) (int64, error)
}

// MarketArchiveStore provides the snapshot access needed for archival.
type MarketArchiveStore interface {
	GetByID(ctx context.Context, id string) (domain.MarketSnapshot, error)
}

// ArchiveImpl implements domain.Archiver: it uploads a resolved market's
// final snapshot and full trade log to S3 as JSONL, then prunes the archived
// trades from the primary store. The snapshot row itself is kept so the API
// can still serve the market's terminal state.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	trades  TradeArchiveStore
	markets MarketArchiveStore
	clock   func() time.Time
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, markets MarketArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		trades:  trades,
		markets: markets,
		clock:   time.Now,
	}
}

// ArchiveMarket uploads one resolved market's trade log and snapshot to
// archive/markets/{id}/, then deletes the trades from the primary store.
// Trades are only deleted after both uploads succeed, so a failed run leaves
// the primary store complete and the next run retries from scratch.
func (a *ArchiveImpl) ArchiveMarket(ctx context.Context, marketID string) (int64, error) {
	snap, err := a.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive market %s snapshot: %w", marketID, err)
	}
	if snap.Resolution.State == domain.Unresolved {
		return 0, fmt.Errorf("s3blob: archive market %s: %w", marketID, domain.ErrMarketNotResolved)
	}

	now := a.clock()
	trades, err := a.trades.ListBefore(ctx, marketID, now)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive market %s trades query: %w", marketID, err)
	}

	snapBuf, err := marshalJSONL([]archivedSnapshot{newArchivedSnapshot(snap)})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive market %s snapshot marshal: %w", marketID, err)
	}
	if err := a.writer.Put(ctx, archivePath(marketID, "snapshot"), bytes.NewReader(snapBuf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive market %s snapshot upload: %w", marketID, err)
	}

	if len(trades) > 0 {
		recs := make([]archivedTrade, len(trades))
		for i, t := range trades {
			recs[i] = newArchivedTrade(t)
		}
		buf, err := marshalJSONL(recs)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive market %s trades marshal: %w", marketID, err)
		}
		if err := a.writer.Put(ctx, archivePath(marketID, "trades"), bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive market %s trades upload: %w", marketID, err)
		}
	}

	if _, err := a.trades.DeleteByMarket(ctx, marketID); err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: archive market %s prune: %w", marketID, err)
	}

	return int64(len(trades)), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for one market's archive objects.
//
//	archive/markets/mkt-42/trades.jsonl
//	archive/markets/mkt-42/snapshot.jsonl
func archivePath(marketID, kind string) string {
	return fmt.Sprintf("archive/markets/%s/%s.jsonl", marketID, kind)
}

// archivedTrade is the stable JSON shape of one trade-log line. Amounts are
// decimal strings so consumers never lose precision to float parsing.
type archivedTrade struct {
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

func newArchivedTrade(t domain.Trade) archivedTrade {
	fee := "0"
	if t.Fee != nil {
		fee = t.Fee.String()
	}
	return archivedTrade{
		ID:               t.ID,
		MarketID:         t.MarketID,
		Outcome:          t.Outcome,
		Side:             string(t.Side),
		CollateralAmount: t.CollateralAmount.String(),
		TokenAmount:      t.TokenAmount.String(),
		Fee:              fee,
		Actor:            t.Actor.Hex(),
		CreatedAt:        t.CreatedAt,
	}
}

// archivedSnapshot is the stable JSON shape of the market's terminal state.
type archivedSnapshot struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	Outcomes     []string  `json:"outcomes"`
	FeeBps       uint32    `json:"fee_bps"`
	EndTime      time.Time `json:"end_time"`
	Resolution   string    `json:"resolution"`
	Winner       int       `json:"winner"`
	Reserves     []string  `json:"reserves"`
	Prices       []string  `json:"prices"`
	Collateral   string    `json:"collateral"`
	ProtocolFees string    `json:"protocol_fees"`
	LPSupply     string    `json:"lp_supply"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newArchivedSnapshot(m domain.MarketSnapshot) archivedSnapshot {
	return archivedSnapshot{
		ID:           m.ID,
		Question:     m.Question,
		Outcomes:     m.Outcomes,
		FeeBps:       m.FeeBps,
		EndTime:      m.EndTime,
		Resolution:   m.Resolution.State.String(),
		Winner:       m.Resolution.Winner,
		Reserves:     amountStrings(m.Reserves),
		Prices:       amountStrings(m.Prices),
		Collateral:   m.Collateral.String(),
		ProtocolFees: m.ProtocolFees.String(),
		LPSupply:     m.LPSupply.String(),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func amountStrings(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
