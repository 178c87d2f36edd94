package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HuzaifaIlyas02/FootPrintChart/domain"
)

func testSymbol(t *testing.T) *domain.MarketSymbol {
	t.Helper()
	symbol, err := domain.NewMarketSymbol("xmr", "usdt")
	require.NoError(t, err)
	return symbol
}

func snapshot100(t *testing.T) *domain.OrderBookSnapshot {
	t.Helper()
	return &domain.OrderBookSnapshot{
		LastUpdateID: 100,
		Bids:         [][]string{{"100.00", "1"}, {"99.50", "2"}},
		Asks:         [][]string{{"100.50", "1.5"}, {"101.00", "2.5"}},
	}
}

func delta(t *testing.T, price, qty string) domain.LevelDelta {
	t.Helper()
	return domain.LevelDelta{
		Price:    mustDecimal(t, price),
		Quantity: mustDecimal(t, qty),
	}
}

func bootstrappedBook(t *testing.T) *domain.OrderBook {
	t.Helper()
	book := domain.NewOrderBook(testSymbol(t))
	require.NoError(t, book.LoadSnapshot(snapshot100(t)))
	return book
}

func TestOrderBook_InitialState(t *testing.T) {
	book := domain.NewOrderBook(testSymbol(t))
	assert.Equal(t, domain.BookUnsynced, book.State())

	// No baseline yet: any diff is a gap.
	result := book.ApplyDiff(&domain.DepthDiff{FirstUpdateID: 1, FinalUpdateID: 2})
	assert.Equal(t, domain.DiffGap, result)
}

func TestOrderBook_LoadSnapshot(t *testing.T) {
	book := bootstrappedBook(t)

	assert.Equal(t, domain.BookBootstrapped, book.State())
	assert.Equal(t, int64(100), book.LastUpdateID())

	bids, asks := book.Depth()
	assert.Equal(t, 2, bids)
	assert.Equal(t, 2, asks)
}

func TestOrderBook_StaleDiffIsNoOp(t *testing.T) {
	book := bootstrappedBook(t)

	// final_update_id == lastUpdateId: stale, bids/asks unchanged.
	result := book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID: 90,
		FinalUpdateID: 100,
		Bids:          []domain.LevelDelta{delta(t, "100.00", "0")},
	})

	assert.Equal(t, domain.DiffStale, result)
	assert.Equal(t, int64(100), book.LastUpdateID())
	bids, _ := book.Depth()
	assert.Equal(t, 2, bids, "stale diff must not touch the book")
}

func TestOrderBook_FirstDiffStraddlesSnapshot(t *testing.T) {
	book := bootstrappedBook(t)

	// U=95 <= 101 <= u=105: accepted.
	result := book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID: 95,
		FinalUpdateID: 105,
		Bids:          []domain.LevelDelta{delta(t, "99.00", "3")},
	})

	assert.Equal(t, domain.DiffApplied, result)
	assert.Equal(t, domain.BookSynced, book.State())
	assert.Equal(t, int64(105), book.LastUpdateID())
}

func TestOrderBook_FirstDiffBeyondSnapshotIsGap(t *testing.T) {
	book := bootstrappedBook(t)

	// U=102 > 101: updates between the snapshot and this diff were lost.
	result := book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID: 102,
		FinalUpdateID: 110,
	})

	assert.Equal(t, domain.DiffGap, result)
	assert.Equal(t, domain.BookUnsynced, book.State())
}

func TestOrderBook_ChainedDiffs(t *testing.T) {
	book := bootstrappedBook(t)

	require.Equal(t, domain.DiffApplied, book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID: 95,
		FinalUpdateID: 105,
	}))

	// pu matches the previous final id: accepted.
	assert.Equal(t, domain.DiffApplied, book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID:     106,
		FinalUpdateID:     110,
		PrevFinalUpdateID: 105,
	}))

	// pu skips ahead: gap.
	assert.Equal(t, domain.DiffGap, book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID:     115,
		FinalUpdateID:     120,
		PrevFinalUpdateID: 114,
	}))
	assert.Equal(t, domain.BookUnsynced, book.State())
}

func TestOrderBook_ResnapshotAfterGap(t *testing.T) {
	book := bootstrappedBook(t)

	require.Equal(t, domain.DiffGap, book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID: 102,
		FinalUpdateID: 110,
	}))

	// Fresh snapshot re-baselines; the next diff straddles it again.
	require.NoError(t, book.LoadSnapshot(&domain.OrderBookSnapshot{
		LastUpdateID: 200,
		Bids:         [][]string{{"100.00", "1"}},
		Asks:         [][]string{{"100.50", "1"}},
	}))
	assert.Equal(t, domain.BookBootstrapped, book.State())

	result := book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID: 198,
		FinalUpdateID: 205,
	})
	assert.Equal(t, domain.DiffApplied, result)
	assert.Equal(t, int64(205), book.LastUpdateID())
}

func TestOrderBook_ZeroQuantityRemovesLevel(t *testing.T) {
	book := bootstrappedBook(t)

	require.Equal(t, domain.DiffApplied, book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID: 95,
		FinalUpdateID: 105,
		Bids:          []domain.LevelDelta{delta(t, "100.00", "0")},
	}))

	bids, _ := book.Depth()
	assert.Equal(t, 1, bids)

	// A later delta with positive quantity restores the level.
	require.Equal(t, domain.DiffApplied, book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID:     106,
		FinalUpdateID:     110,
		PrevFinalUpdateID: 105,
		Bids:              []domain.LevelDelta{delta(t, "100.00", "4")},
	}))

	bids, _ = book.Depth()
	assert.Equal(t, 2, bids)

	view := book.View(0)
	assert.Equal(t, "100.00", view.Bids[0].Price)
	assert.Equal(t, "4", view.Bids[0].Quantity)
}

func TestOrderBook_SnapshotSkipsZeroQuantityLevels(t *testing.T) {
	book := domain.NewOrderBook(testSymbol(t))
	require.NoError(t, book.LoadSnapshot(&domain.OrderBookSnapshot{
		LastUpdateID: 1,
		Bids:         [][]string{{"100.00", "0"}, {"99.00", "1"}},
		Asks:         [][]string{},
	}))

	bids, asks := book.Depth()
	assert.Equal(t, 1, bids)
	assert.Equal(t, 0, asks)
}

func TestOrderBook_ViewSortedWithSpread(t *testing.T) {
	book := bootstrappedBook(t)
	view := book.View(0)

	require.Len(t, view.Bids, 2)
	require.Len(t, view.Asks, 2)
	assert.Equal(t, "100.00", view.Bids[0].Price, "bids descending")
	assert.Equal(t, "99.50", view.Bids[1].Price)
	assert.Equal(t, "100.50", view.Asks[0].Price, "asks ascending")
	assert.Equal(t, "101.00", view.Asks[1].Price)

	require.True(t, view.Spread.Valid)
	assert.Equal(t, "0.5", view.Spread.Decimal.String())
}

func TestOrderBook_ViewLimit(t *testing.T) {
	book := bootstrappedBook(t)
	view := book.View(1)

	assert.Len(t, view.Bids, 1)
	assert.Len(t, view.Asks, 1)
}

func TestOrderBook_EmptyBookSpreadInvalid(t *testing.T) {
	book := domain.NewOrderBook(testSymbol(t))
	view := book.View(0)

	assert.False(t, view.Spread.Valid)
	assert.Empty(t, view.Bids)
}

func TestOrderBook_InvalidateDropsContinuity(t *testing.T) {
	book := bootstrappedBook(t)
	require.Equal(t, domain.DiffApplied, book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID: 95,
		FinalUpdateID: 105,
	}))

	book.Invalidate()
	assert.Equal(t, domain.BookUnsynced, book.State())

	// Continuity is gone even for a correctly chained diff.
	assert.Equal(t, domain.DiffGap, book.ApplyDiff(&domain.DepthDiff{
		FirstUpdateID:     106,
		FinalUpdateID:     110,
		PrevFinalUpdateID: 105,
	}))
}

func TestOrderBook_MalformedSnapshotRejected(t *testing.T) {
	book := domain.NewOrderBook(testSymbol(t))
	err := book.LoadSnapshot(&domain.OrderBookSnapshot{
		LastUpdateID: 1,
		Bids:         [][]string{{"not-a-price", "1"}},
	})

	assert.Error(t, err)
	assert.Equal(t, domain.BookUnsynced, book.State(), "no partial snapshot applied")
}
