package domain_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HuzaifaIlyas02/FootPrintChart/domain"
)

type fakeSnapshotAPI struct {
	calls     atomic.Int64
	snapshots chan *domain.OrderBookSnapshot
}

func newFakeSnapshotAPI(snapshots ...*domain.OrderBookSnapshot) *fakeSnapshotAPI {
	api := &fakeSnapshotAPI{snapshots: make(chan *domain.OrderBookSnapshot, len(snapshots))}
	for _, s := range snapshots {
		api.snapshots <- s
	}
	return api
}

func (f *fakeSnapshotAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	f.calls.Add(1)
	select {
	case s := <-f.snapshots:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeDepthStream struct {
	diffs chan *domain.DepthDiff
}

func (f *fakeDepthStream) DepthDiffStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.DepthDiff], error) {
	return &domain.Subscription[*domain.DepthDiff]{
		Stream:      f.diffs,
		Topic:       symbol.Join("") + "@depth",
		Unsubscribe: func() {},
	}, nil
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func startSynchronizer(t *testing.T, syncAPI domain.SnapshotAPI, stream *fakeDepthStream) (*domain.OrderBook, *domain.OrderBookSynchronizer, context.CancelFunc) {
	t.Helper()

	book := domain.NewOrderBook(testSymbol(t))
	synchronizer := domain.NewOrderBookSynchronizer(book, syncAPI, stream, 1000, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = synchronizer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return book, synchronizer, cancel
}

func TestSynchronizer_BootstrapAndApply(t *testing.T) {
	syncAPI := newFakeSnapshotAPI(snapshot100(t))
	stream := &fakeDepthStream{diffs: make(chan *domain.DepthDiff, 16)}

	book, synchronizer, _ := startSynchronizer(t, syncAPI, stream)

	stream.diffs <- &domain.DepthDiff{
		FirstUpdateID: 95,
		FinalUpdateID: 105,
		Bids:          []domain.LevelDelta{delta(t, "99.00", "3")},
	}

	require.Eventually(t, func() bool {
		return book.State() == domain.BookSynced && book.LastUpdateID() == 105
	}, 2*time.Second, 10*time.Millisecond)

	stats := synchronizer.Stats()
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, int64(1), stats.Resnapshots)
	assert.Equal(t, int64(0), stats.Gaps)
}

func TestSynchronizer_GapTriggersResnapshot(t *testing.T) {
	syncAPI := newFakeSnapshotAPI(
		snapshot100(t),
		&domain.OrderBookSnapshot{
			LastUpdateID: 200,
			Bids:         [][]string{{"100.00", "1"}},
			Asks:         [][]string{{"100.50", "1"}},
		},
	)
	stream := &fakeDepthStream{diffs: make(chan *domain.DepthDiff, 16)}

	book, synchronizer, _ := startSynchronizer(t, syncAPI, stream)

	require.Eventually(t, func() bool {
		return book.State() == domain.BookBootstrapped
	}, 2*time.Second, 10*time.Millisecond)

	// First diff beyond lastUpdateId+1: gap, self-heals via the second snapshot.
	stream.diffs <- &domain.DepthDiff{FirstUpdateID: 150, FinalUpdateID: 160}

	require.Eventually(t, func() bool {
		return book.LastUpdateID() == 200
	}, 5*time.Second, 10*time.Millisecond)

	// Diffs resume against the new baseline; the triggering diff is gone.
	stream.diffs <- &domain.DepthDiff{FirstUpdateID: 198, FinalUpdateID: 205}

	require.Eventually(t, func() bool {
		return book.State() == domain.BookSynced && book.LastUpdateID() == 205
	}, 2*time.Second, 10*time.Millisecond)

	stats := synchronizer.Stats()
	assert.Equal(t, int64(1), stats.Gaps)
	assert.Equal(t, int64(2), stats.Resnapshots)
	assert.EqualValues(t, 2, syncAPI.calls.Load())
}

func TestSynchronizer_StaleDiffsCounted(t *testing.T) {
	syncAPI := newFakeSnapshotAPI(snapshot100(t))
	stream := &fakeDepthStream{diffs: make(chan *domain.DepthDiff, 16)}

	book, synchronizer, _ := startSynchronizer(t, syncAPI, stream)

	require.Eventually(t, func() bool {
		return book.State() == domain.BookBootstrapped
	}, 2*time.Second, 10*time.Millisecond)

	stream.diffs <- &domain.DepthDiff{FirstUpdateID: 80, FinalUpdateID: 90}

	require.Eventually(t, func() bool {
		return synchronizer.Stats().Stale == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(100), book.LastUpdateID())
}

func TestSynchronizer_ReconnectForcesFreshBootstrap(t *testing.T) {
	syncAPI := newFakeSnapshotAPI(
		snapshot100(t),
		&domain.OrderBookSnapshot{
			LastUpdateID: 300,
			Bids:         [][]string{{"100.00", "1"}},
			Asks:         [][]string{{"100.50", "1"}},
		},
	)
	stream := &fakeDepthStream{diffs: make(chan *domain.DepthDiff, 16)}

	book, synchronizer, _ := startSynchronizer(t, syncAPI, stream)

	stream.diffs <- &domain.DepthDiff{FirstUpdateID: 95, FinalUpdateID: 105}
	require.Eventually(t, func() bool {
		return book.State() == domain.BookSynced
	}, 2*time.Second, 10*time.Millisecond)

	synchronizer.NotifyReconnect()

	require.Eventually(t, func() bool {
		return book.LastUpdateID() == 300 && book.State() == domain.BookBootstrapped
	}, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, syncAPI.calls.Load())
}

func TestSynchronizer_CancelDuringBootstrap(t *testing.T) {
	// Snapshot API that never responds: cancellation must abandon the fetch
	// and leave the book UNSYNCED.
	syncAPI := newFakeSnapshotAPI()
	stream := &fakeDepthStream{diffs: make(chan *domain.DepthDiff)}

	book := domain.NewOrderBook(testSymbol(t))
	synchronizer := domain.NewOrderBookSynchronizer(book, syncAPI, stream, 1000, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- synchronizer.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("synchronizer did not stop on cancellation")
	}
	assert.Equal(t, domain.BookUnsynced, book.State())
}
