package domain

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type BookState string

const (
	// BookUnsynced: no usable baseline; a snapshot fetch is required.
	BookUnsynced BookState = "UNSYNCED"
	// BookBootstrapped: snapshot loaded, no diff applied against it yet.
	BookBootstrapped BookState = "BOOTSTRAPPED"
	// BookSynced: at least one diff chained onto the snapshot.
	BookSynced BookState = "SYNCED"
)

// OrderBookSnapshot is a point-in-time full book as returned by the REST
// depth endpoint. Levels are [price, quantity] string pairs in wire format.
type OrderBookSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// LevelDelta is one decoded price level change from a depth diff. A zero
// quantity removes the level.
type LevelDelta struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// DepthDiff is a decoded incremental depth update bounded by the
// [FirstUpdateID, FinalUpdateID] range. PrevFinalUpdateID chains the diff to
// the previously applied one.
type DepthDiff struct {
	EventTime         int64
	FirstUpdateID     int64 // U
	FinalUpdateID     int64 // u
	PrevFinalUpdateID int64 // pu
	Bids              []LevelDelta
	Asks              []LevelDelta
}

// ApplyResult classifies the outcome of applying a depth diff.
type ApplyResult int

const (
	DiffApplied ApplyResult = iota
	DiffStale
	DiffGap
)

// OrderBook is the locally reconstructed book for one instrument. Writes come
// from the single synchronizer goroutine; readers copy state out under the
// same lock via View.
type OrderBook struct {
	mu     sync.RWMutex
	symbol *MarketSymbol

	bids map[PriceTick]decimal.Decimal
	asks map[PriceTick]decimal.Decimal

	lastUpdateID   int64
	prevFinalID    int64
	hasPrevFinal   bool
	state          BookState
	lastUpdateTime int64
}

func NewOrderBook(symbol *MarketSymbol) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   make(map[PriceTick]decimal.Decimal),
		asks:   make(map[PriceTick]decimal.Decimal),
		state:  BookUnsynced,
	}
}

func (ob *OrderBook) Symbol() *MarketSymbol {
	return ob.symbol
}

func (ob *OrderBook) State() BookState {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.state
}

func (ob *OrderBook) LastUpdateID() int64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastUpdateID
}

// Invalidate drops continuity so that the next diff is evaluated as if it were
// the first after a snapshot. Called on stream reconnect and on gaps.
func (ob *OrderBook) Invalidate() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.state = BookUnsynced
	ob.hasPrevFinal = false
}

// LoadSnapshot wholesale-replaces the book from a snapshot and resets the
// previous-final-update-id tracker: the next diff must straddle the snapshot.
func (ob *OrderBook) LoadSnapshot(snapshot *OrderBookSnapshot) error {
	bids, err := parseLevels(snapshot.Bids)
	if err != nil {
		return err
	}
	asks, err := parseLevels(snapshot.Asks)
	if err != nil {
		return err
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.bids = bids
	ob.asks = asks
	ob.lastUpdateID = snapshot.LastUpdateID
	ob.hasPrevFinal = false
	ob.state = BookBootstrapped
	ob.lastUpdateTime = time.Now().UnixMilli()
	return nil
}

// ApplyDiff runs the three-way continuity check and, on success, applies the
// level deltas.
//
//	stale:   u <= lastUpdateId                      -> no-op
//	first:   require U <= lastUpdateId+1 <= u       -> gap if violated
//	chained: require pu == previousFinalUpdateId    -> gap if violated
func (ob *OrderBook) ApplyDiff(diff *DepthDiff) ApplyResult {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.state == BookUnsynced {
		return DiffGap
	}

	if diff.FinalUpdateID <= ob.lastUpdateID {
		return DiffStale
	}

	if !ob.hasPrevFinal {
		next := ob.lastUpdateID + 1
		if diff.FirstUpdateID > next || diff.FinalUpdateID < next {
			ob.state = BookUnsynced
			ob.hasPrevFinal = false
			return DiffGap
		}
	} else if diff.PrevFinalUpdateID != ob.prevFinalID {
		ob.state = BookUnsynced
		ob.hasPrevFinal = false
		return DiffGap
	}

	applyDeltas(ob.bids, diff.Bids)
	applyDeltas(ob.asks, diff.Asks)

	ob.lastUpdateID = diff.FinalUpdateID
	ob.prevFinalID = diff.FinalUpdateID
	ob.hasPrevFinal = true
	ob.state = BookSynced
	ob.lastUpdateTime = time.Now().UnixMilli()
	return DiffApplied
}

func applyDeltas(side map[PriceTick]decimal.Decimal, deltas []LevelDelta) {
	for _, d := range deltas {
		tick := TickFromDecimal(d.Price)
		if d.Quantity.IsZero() {
			delete(side, tick)
		} else {
			side[tick] = d.Quantity
		}
	}
}

func parseLevels(levels [][]string) (map[PriceTick]decimal.Decimal, error) {
	side := make(map[PriceTick]decimal.Decimal, len(levels))
	for _, level := range levels {
		if len(level) != 2 {
			return nil, fmt.Errorf("level must be a [price, quantity] pair")
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(level[1])
		if err != nil {
			return nil, err
		}
		if qty.IsZero() {
			continue
		}
		side[TickFromDecimal(price)] = qty
	}
	return side, nil
}

// BookLevel is one priced level of a book view, in display precision.
type BookLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// BookView is a consistent, sorted copy of the book: bids descending, asks
// ascending. Spread is invalid while either side is empty.
type BookView struct {
	Symbol       string              `json:"symbol"`
	State        BookState           `json:"state"`
	LastUpdateID int64               `json:"last_update_id"`
	UpdatedAt    int64               `json:"updated_at"`
	Bids         []BookLevel         `json:"bids"`
	Asks         []BookLevel         `json:"asks"`
	Spread       decimal.NullDecimal `json:"spread"`
}

// View copies out up to limit levels per side; limit <= 0 means all.
func (ob *OrderBook) View(limit int) *BookView {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bids := sortedLevels(ob.bids, func(i, j PriceTick) bool { return i > j })
	asks := sortedLevels(ob.asks, func(i, j PriceTick) bool { return i < j })

	spread := decimal.NullDecimal{}
	if len(bids) > 0 && len(asks) > 0 {
		bestBid, _ := decimal.NewFromString(bids[0].Price)
		bestAsk, _ := decimal.NewFromString(asks[0].Price)
		spread = decimal.NullDecimal{Valid: true, Decimal: bestAsk.Sub(bestBid)}
	}

	if limit > 0 {
		if len(bids) > limit {
			bids = bids[:limit]
		}
		if len(asks) > limit {
			asks = asks[:limit]
		}
	}

	return &BookView{
		Symbol:       ob.symbol.String(),
		State:        ob.state,
		LastUpdateID: ob.lastUpdateID,
		UpdatedAt:    ob.lastUpdateTime,
		Bids:         bids,
		Asks:         asks,
		Spread:       spread,
	}
}

// Depth returns the current number of bid and ask levels.
func (ob *OrderBook) Depth() (bids, asks int) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.bids), len(ob.asks)
}

func sortedLevels(side map[PriceTick]decimal.Decimal, less func(i, j PriceTick) bool) []BookLevel {
	ticks := make([]PriceTick, 0, len(side))
	for tick := range side {
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return less(ticks[i], ticks[j]) })

	levels := make([]BookLevel, len(ticks))
	for i, tick := range ticks {
		levels[i] = BookLevel{
			Price:    tick.String(),
			Quantity: side[tick].String(),
		}
	}
	return levels
}
