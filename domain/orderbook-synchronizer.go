package domain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SnapshotAPI fetches a point-in-time full book from the exchange.
type SnapshotAPI interface {
	OrderBookSnapshot(ctx context.Context, symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error)
}

// DepthStreamAPI delivers decoded depth diffs for a symbol.
type DepthStreamAPI interface {
	DepthDiffStream(symbol *MarketSymbol) (*Subscription[*DepthDiff], error)
}

const drainIdleDelay = 10 * time.Millisecond

// SynchronizerStats is a point-in-time copy of the synchronizer counters.
type SynchronizerStats struct {
	Applied     int64
	Stale       int64
	Gaps        int64
	Resnapshots int64
}

// OrderBookSynchronizer keeps an OrderBook consistent against the
// snapshot+diff protocol. A subscriber goroutine buffers incoming diffs in a
// deque so the socket is never back-pressured by snapshot fetches; the drain
// goroutine owns all book mutations.
type OrderBookSynchronizer struct {
	book      *OrderBook
	syncAPI   SnapshotAPI
	streamAPI DepthStreamAPI
	depth     int

	mu    sync.Mutex
	queue deque.Deque[*DepthDiff]

	resyncNeeded atomic.Bool
	limiter      *rate.Limiter
	log          *logrus.Entry

	applied     atomic.Int64
	stale       atomic.Int64
	gaps        atomic.Int64
	resnapshots atomic.Int64
}

func NewOrderBookSynchronizer(
	book *OrderBook,
	syncAPI SnapshotAPI,
	streamAPI DepthStreamAPI,
	snapshotDepth int,
	log *logrus.Entry,
) *OrderBookSynchronizer {
	return &OrderBookSynchronizer{
		book:      book,
		syncAPI:   syncAPI,
		streamAPI: streamAPI,
		depth:     snapshotDepth,
		// One snapshot per two seconds, small burst: a flapping stream must
		// not hammer the REST endpoint.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 2),
		log:     log.WithField("component", "orderbook-synchronizer"),
	}
}

func (s *OrderBookSynchronizer) Stats() SynchronizerStats {
	return SynchronizerStats{
		Applied:     s.applied.Load(),
		Stale:       s.stale.Load(),
		Gaps:        s.gaps.Load(),
		Resnapshots: s.resnapshots.Load(),
	}
}

// NotifyReconnect marks the stream as having reconnected. The drain loop
// discards continuity and bootstraps from a fresh snapshot before applying
// further diffs.
func (s *OrderBookSynchronizer) NotifyReconnect() {
	s.resyncNeeded.Store(true)
}

// Run subscribes to the depth stream, bootstraps from a snapshot and applies
// diffs until the context is cancelled. Sequencing gaps self-heal via
// resnapshot and are never returned as errors.
func (s *OrderBookSynchronizer) Run(ctx context.Context) error {
	subscription, err := s.streamAPI.DepthDiffStream(s.book.Symbol())
	if err != nil {
		return err
	}
	defer subscription.Unsubscribe()

	go s.subscriberLoop(ctx, subscription.Stream)

	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	return s.drainLoop(ctx)
}

func (s *OrderBookSynchronizer) subscriberLoop(ctx context.Context, stream <-chan *DepthDiff) {
	for {
		select {
		case <-ctx.Done():
			return
		case diff, ok := <-stream:
			if !ok {
				return
			}
			s.mu.Lock()
			s.queue.PushBack(diff)
			s.mu.Unlock()
		}
	}
}

func (s *OrderBookSynchronizer) drainLoop(ctx context.Context) error {
	for {
		if s.resyncNeeded.Swap(false) {
			s.log.Warn("stream reconnected, forcing fresh bootstrap")
			s.book.Invalidate()
			s.discardQueued()
			if err := s.bootstrap(ctx); err != nil {
				return err
			}
		}

		s.mu.Lock()
		if s.queue.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(drainIdleDelay):
			}
			continue
		}
		diff := s.queue.PopFront()
		s.mu.Unlock()

		if err := s.handle(ctx, diff); err != nil {
			return err
		}
	}
}

func (s *OrderBookSynchronizer) handle(ctx context.Context, diff *DepthDiff) error {
	switch s.book.ApplyDiff(diff) {
	case DiffApplied:
		s.applied.Add(1)
	case DiffStale:
		s.stale.Add(1)
	case DiffGap:
		s.gaps.Add(1)
		s.log.WithFields(logrus.Fields{
			"first_update_id": diff.FirstUpdateID,
			"final_update_id": diff.FinalUpdateID,
			"prev_final_id":   diff.PrevFinalUpdateID,
			"last_update_id":  s.book.LastUpdateID(),
		}).Warn("sequence gap detected, resynchronizing")

		// The triggering diff is not reapplied; queued diffs are evaluated
		// against the new baseline and drop out as stale if already covered.
		return s.bootstrap(ctx)
	}
	return nil
}

// bootstrap fetches snapshots with bounded backoff until one loads or the
// context is cancelled. An abandoned fetch leaves the book UNSYNCED with no
// partial snapshot applied.
func (s *OrderBookSynchronizer) bootstrap(ctx context.Context) error {
	retry := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Jitter: true,
	}

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		snapshot, err := s.syncAPI.OrderBookSnapshot(ctx, s.book.Symbol(), s.depth)
		if err == nil {
			err = s.book.LoadSnapshot(snapshot)
			if err == nil {
				s.resnapshots.Add(1)
				s.log.WithField("last_update_id", snapshot.LastUpdateID).
					Info("order book bootstrapped from snapshot")
				return nil
			}
		}
		s.log.WithError(err).Warn("snapshot fetch failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.Duration()):
		}
	}
}

func (s *OrderBookSynchronizer) discardQueued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queue.Len() > 0 {
		s.queue.PopFront()
	}
}
