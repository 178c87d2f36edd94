package domain

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

const summaryScale = 2 // export precision, applied at finalization only

var imbalanceFactor = decimal.NewFromInt(3)

type ImbalanceType string

const (
	ImbalanceBullish ImbalanceType = "Bullish"
	ImbalanceBearish ImbalanceType = "Bearish"
)

// levelStats is the live per-price ledger entry of a candle bucket. Volumes
// accumulate at full precision; rounding happens when the bucket finalizes.
type levelStats struct {
	buy        decimal.Decimal
	sell       decimal.Decimal
	buyTrades  int64
	sellTrades int64
}

func (ls *levelStats) delta() decimal.Decimal {
	return ls.buy.Sub(ls.sell)
}

// CandleBucket is the live, mutable aggregation for one timeframe. Exactly one
// exists per timeframe at any instant.
type CandleBucket struct {
	Start int64 // unix seconds, timeframe-aligned

	open  decimal.Decimal
	high  decimal.Decimal
	low   decimal.Decimal
	close decimal.Decimal

	buyVolume  decimal.Decimal
	sellVolume decimal.Decimal
	buyTrades  int64
	sellTrades int64

	levels map[PriceTick]*levelStats
}

func newCandleBucket(start int64, seed decimal.Decimal) *CandleBucket {
	return &CandleBucket{
		Start:  start,
		open:   seed,
		high:   seed,
		low:    seed,
		close:  seed,
		levels: make(map[PriceTick]*levelStats),
	}
}

func (cb *CandleBucket) apply(t *Trade) {
	cb.close = t.Price
	if t.Price.GreaterThan(cb.high) {
		cb.high = t.Price
	}
	if t.Price.LessThan(cb.low) {
		cb.low = t.Price
	}

	tick := TickFromDecimal(t.Price)
	ls := cb.levels[tick]
	if ls == nil {
		ls = &levelStats{}
		cb.levels[tick] = ls
	}

	if t.Side == SideSell {
		cb.sellVolume = cb.sellVolume.Add(t.Quantity)
		cb.sellTrades++
		ls.sell = ls.sell.Add(t.Quantity)
		ls.sellTrades++
	} else {
		cb.buyVolume = cb.buyVolume.Add(t.Quantity)
		cb.buyTrades++
		ls.buy = ls.buy.Add(t.Quantity)
		ls.buyTrades++
	}
}

type PointOfControl struct {
	Price       string          `json:"price"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	BuyVolume   decimal.Decimal `json:"buy_volume"`
	SellVolume  decimal.Decimal `json:"sell_volume"`
}

type Imbalance struct {
	Price      string          `json:"price"`
	Type       ImbalanceType   `json:"type"`
	BuyVolume  decimal.Decimal `json:"buy"`
	SellVolume decimal.Decimal `json:"sell"`
}

type LevelSummary struct {
	BuyVolume  decimal.Decimal `json:"buy_volume"`
	SellVolume decimal.Decimal `json:"sell_volume"`
	BuyTrades  int64           `json:"buy_trades"`
	SellTrades int64           `json:"sell_trades"`
}

// FootprintSummary is an immutable finalized candle. BuySellRatio is invalid
// when the candle has no sell volume; that case serializes as null rather than
// a floating-point infinity.
type FootprintSummary struct {
	Bucket int64 `json:"bucket"`

	TotalVolume decimal.Decimal `json:"total_volume"`
	BuyVolume   decimal.Decimal `json:"buy_volume"`
	SellVolume  decimal.Decimal `json:"sell_volume"`
	BuyTrades   int64           `json:"buy_contracts"`
	SellTrades  int64           `json:"sell_contracts"`

	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`

	Delta    decimal.Decimal     `json:"delta"`
	MaxDelta decimal.Decimal     `json:"max_delta"`
	MinDelta decimal.Decimal     `json:"min_delta"`
	CVD      decimal.Decimal     `json:"cvd"`
	Ratio    decimal.NullDecimal `json:"buy_sell_ratio"`

	POCs        []PointOfControl        `json:"pocs"`
	PriceLevels map[string]LevelSummary `json:"price_levels"`
	Imbalances  []Imbalance             `json:"imbalances"`
}

// FootprintAggregator turns the trade stream into per-timeframe footprint
// candles. All mutation goes through Ingest, which is called by the single
// trade ingestion goroutine; readers take the same lock for the duration of
// copying out, so a bucket is never observed mid-finalization.
type FootprintAggregator struct {
	mu         sync.Mutex
	timeframes []Timeframe
	live       map[Timeframe]*CandleBucket
	finalized  map[Timeframe][]*FootprintSummary
	cvd        map[Timeframe]decimal.Decimal

	// OnFinalize, when set before ingestion starts, observes every finalized
	// summary. Called with the aggregator lock held; must not block.
	OnFinalize func(tf Timeframe, s *FootprintSummary)
}

func NewFootprintAggregator(timeframes []Timeframe) *FootprintAggregator {
	a := &FootprintAggregator{
		timeframes: append([]Timeframe(nil), timeframes...),
		live:       make(map[Timeframe]*CandleBucket),
		finalized:  make(map[Timeframe][]*FootprintSummary),
		cvd:        make(map[Timeframe]decimal.Decimal),
	}
	for _, tf := range a.timeframes {
		a.cvd[tf] = decimal.Zero
	}
	return a
}

func (a *FootprintAggregator) Timeframes() []Timeframe {
	return append([]Timeframe(nil), a.timeframes...)
}

func (a *FootprintAggregator) knows(tf Timeframe) bool {
	for _, t := range a.timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// Ingest applies one trade to every timeframe, finalizing any live bucket the
// trade has rolled past. Finalize-then-create happens under one lock
// acquisition, so readers always see either the old live bucket or the new one
// with the summary already appended.
func (a *FootprintAggregator) Ingest(t *Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tf := range a.timeframes {
		bucket := tf.Bucket(t.Timestamp)
		cb := a.live[tf]
		if cb == nil || cb.Start != bucket {
			if cb != nil {
				a.finalizeLocked(tf, cb)
			}
			cb = newCandleBucket(bucket, t.Price)
			a.live[tf] = cb
		}
		cb.apply(t)
	}
}

func (a *FootprintAggregator) finalizeLocked(tf Timeframe, cb *CandleBucket) {
	delta := cb.buyVolume.Sub(cb.sellVolume)
	a.cvd[tf] = a.cvd[tf].Add(delta)

	summary := summarize(cb, a.cvd[tf])
	a.finalized[tf] = append(a.finalized[tf], summary)
	a.live[tf] = nil

	if a.OnFinalize != nil {
		a.OnFinalize(tf, summary)
	}
}

// summarize derives the immutable summary of a bucket. cvd is the cumulative
// delta the summary should report; for a finalized candle it already includes
// the candle's own delta.
func summarize(cb *CandleBucket, cvd decimal.Decimal) *FootprintSummary {
	delta := cb.buyVolume.Sub(cb.sellVolume)

	ratio := decimal.NullDecimal{}
	if cb.sellVolume.IsPositive() {
		ratio = decimal.NullDecimal{
			Valid:   true,
			Decimal: cb.buyVolume.Div(cb.sellVolume).Round(summaryScale),
		}
	}

	ticks := make([]PriceTick, 0, len(cb.levels))
	for tick := range cb.levels {
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })

	var maxVolume decimal.Decimal
	for _, tick := range ticks {
		ls := cb.levels[tick]
		if v := ls.buy.Add(ls.sell); v.GreaterThan(maxVolume) {
			maxVolume = v
		}
	}

	pocs := []PointOfControl{}
	imbalances := []Imbalance{}
	levels := make(map[string]LevelSummary, len(cb.levels))
	maxDelta, minDelta := decimal.Zero, decimal.Zero

	for i, tick := range ticks {
		ls := cb.levels[tick]
		price := tick.String()

		// All tied maxima stay in the POC set.
		if ls.buy.Add(ls.sell).Equal(maxVolume) {
			pocs = append(pocs, PointOfControl{
				Price:       price,
				TotalVolume: ls.buy.Add(ls.sell).Round(summaryScale),
				BuyVolume:   ls.buy.Round(summaryScale),
				SellVolume:  ls.sell.Round(summaryScale),
			})
		}

		// A side at zero never classifies: both rules require the opposite
		// side to be strictly positive.
		if ls.buy.GreaterThanOrEqual(ls.sell.Mul(imbalanceFactor)) && ls.sell.IsPositive() {
			imbalances = append(imbalances, Imbalance{
				Price:      price,
				Type:       ImbalanceBullish,
				BuyVolume:  ls.buy.Round(summaryScale),
				SellVolume: ls.sell.Round(summaryScale),
			})
		} else if ls.sell.GreaterThanOrEqual(ls.buy.Mul(imbalanceFactor)) && ls.buy.IsPositive() {
			imbalances = append(imbalances, Imbalance{
				Price:      price,
				Type:       ImbalanceBearish,
				BuyVolume:  ls.buy.Round(summaryScale),
				SellVolume: ls.sell.Round(summaryScale),
			})
		}

		levelDelta := ls.delta()
		if i == 0 {
			maxDelta, minDelta = levelDelta, levelDelta
		} else {
			if levelDelta.GreaterThan(maxDelta) {
				maxDelta = levelDelta
			}
			if levelDelta.LessThan(minDelta) {
				minDelta = levelDelta
			}
		}

		levels[price] = LevelSummary{
			BuyVolume:  ls.buy.Round(summaryScale),
			SellVolume: ls.sell.Round(summaryScale),
			BuyTrades:  ls.buyTrades,
			SellTrades: ls.sellTrades,
		}
	}

	return &FootprintSummary{
		Bucket:      cb.Start,
		TotalVolume: cb.buyVolume.Add(cb.sellVolume).Round(summaryScale),
		BuyVolume:   cb.buyVolume.Round(summaryScale),
		SellVolume:  cb.sellVolume.Round(summaryScale),
		BuyTrades:   cb.buyTrades,
		SellTrades:  cb.sellTrades,
		Open:        cb.open.Round(summaryScale),
		High:        cb.high.Round(summaryScale),
		Low:         cb.low.Round(summaryScale),
		Close:       cb.close.Round(summaryScale),
		Delta:       delta.Round(summaryScale),
		MaxDelta:    maxDelta.Round(summaryScale),
		MinDelta:    minDelta.Round(summaryScale),
		CVD:         cvd.Round(summaryScale),
		Ratio:       ratio,
		POCs:        pocs,
		PriceLevels: levels,
		Imbalances:  imbalances,
	}
}

// History returns a copy of the finalized sequence for a timeframe. The
// summaries themselves are immutable and shared.
func (a *FootprintAggregator) History(tf Timeframe) ([]*FootprintSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.knows(tf) {
		return nil, ErrUnknownTimeframe
	}
	return append([]*FootprintSummary(nil), a.finalized[tf]...), nil
}

// Latest returns the most recent finalized summary for a timeframe.
func (a *FootprintAggregator) Latest(tf Timeframe) (*FootprintSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.knows(tf) {
		return nil, ErrUnknownTimeframe
	}
	seq := a.finalized[tf]
	if len(seq) == 0 {
		return nil, ErrNoData
	}
	return seq[len(seq)-1], nil
}

// Live derives a summary of the in-progress bucket. Its CVD reports the
// cumulative delta as of the last finalization: the live candle's partial
// delta is never folded in.
func (a *FootprintAggregator) Live(tf Timeframe) (*FootprintSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.knows(tf) {
		return nil, ErrUnknownTimeframe
	}
	cb := a.live[tf]
	if cb == nil {
		return nil, ErrNoData
	}
	return summarize(cb, a.cvd[tf]), nil
}

// CVD returns the running cumulative volume delta over the finalized sequence.
func (a *FootprintAggregator) CVD(tf Timeframe) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.knows(tf) {
		return decimal.Decimal{}, ErrUnknownTimeframe
	}
	return a.cvd[tf], nil
}
