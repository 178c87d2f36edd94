package usecase

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/HuzaifaIlyas02/FootPrintChart/domain"
	promclient "github.com/HuzaifaIlyas02/FootPrintChart/infrastructure/prometheus"
)

// TradeStreamAPI delivers decoded trades for a symbol.
type TradeStreamAPI interface {
	TradeStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.Trade], error)
}

// Engine owns the two stateful subsystems for one instrument and the
// ingestion goroutines feeding them. Each subsystem is mutated only by its own
// goroutine; external consumers read through the accessors below.
type Engine struct {
	symbol       *domain.MarketSymbol
	aggregator   *domain.FootprintAggregator
	book         *domain.OrderBook
	synchronizer *domain.OrderBookSynchronizer

	tradeStream TradeStreamAPI
	log         *logrus.Entry
	wg          sync.WaitGroup
}

func NewEngine(
	symbol *domain.MarketSymbol,
	timeframes []domain.Timeframe,
	tradeStream TradeStreamAPI,
	depthStream domain.DepthStreamAPI,
	syncAPI domain.SnapshotAPI,
	snapshotDepth int,
	log *logrus.Entry,
) *Engine {
	aggregator := domain.NewFootprintAggregator(timeframes)
	aggregator.OnFinalize = func(tf domain.Timeframe, _ *domain.FootprintSummary) {
		promclient.CandlesFinalized.WithLabelValues(tf.String()).Inc()
	}

	book := domain.NewOrderBook(symbol)

	return &Engine{
		symbol:       symbol,
		aggregator:   aggregator,
		book:         book,
		synchronizer: domain.NewOrderBookSynchronizer(book, syncAPI, depthStream, snapshotDepth, log),
		tradeStream:  tradeStream,
		log:          log.WithField("component", "engine"),
	}
}

// Start launches the trade ingestion and order book synchronization loops.
// Both run until the context is cancelled; stream errors are retried inside
// the loops and never terminate ingestion.
func (e *Engine) Start(ctx context.Context) error {
	subscription, err := e.tradeStream.TradeStream(e.symbol)
	if err != nil {
		return err
	}

	e.wg.Add(2)

	go func() {
		defer e.wg.Done()
		defer subscription.Unsubscribe()
		e.tradeLoop(ctx, subscription.Stream)
	}()

	go func() {
		defer e.wg.Done()
		if err := e.synchronizer.Run(ctx); err != nil && ctx.Err() == nil {
			e.log.WithError(err).Error("order book synchronizer stopped")
		}
	}()

	e.log.WithField("symbol", e.symbol.String()).Info("engine started")
	return nil
}

func (e *Engine) tradeLoop(ctx context.Context, stream <-chan *domain.Trade) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-stream:
			if !ok {
				return
			}
			e.aggregator.Ingest(trade)
			promclient.TradesIngested.Inc()
		}
	}
}

// Wait blocks until both ingestion loops have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) Footprint() *domain.FootprintAggregator {
	return e.aggregator
}

func (e *Engine) Book() *domain.OrderBook {
	return e.book
}

func (e *Engine) Synchronizer() *domain.OrderBookSynchronizer {
	return e.synchronizer
}
