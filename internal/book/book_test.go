package book

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoter/internal/schema"
	"quoter/pkg/exception"
)

func newTestBook(t *testing.T) *Book {
	t.Helper()
	reg := schema.NewRegistry()
	instr, err := reg.Add("Si-12.26", "FORTS")
	require.NoError(t, err)
	return New(instr)
}

func collect(b *Book, side schema.Side, depth int) []schema.BookLevel {
	var out []schema.BookLevel
	for _, lv := range b.Levels(side, depth) {
		out = append(out, lv)
	}
	return out
}

func TestUpdateOrdering(t *testing.T) {
	b := newTestBook(t)

	for _, p := range []float64{100, 102, 101, 99} {
		_, err := b.Update(ActionAdd, p, 1, schema.SideBuy, 1)
		require.NoError(t, err)
		_, err = b.Update(ActionAdd, p+10, 1, schema.SideSell, 1)
		require.NoError(t, err)
	}

	bids := collect(b, schema.SideBuy, 0)
	require.Len(t, bids, 4)
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, bids[i-1].Price, bids[i].Price)
	}

	asks := collect(b, schema.SideSell, 0)
	require.Len(t, asks, 4)
	for i := 1; i < len(asks); i++ {
		assert.Less(t, asks[i-1].Price, asks[i].Price)
	}

	// same price within epsilon replaces the level
	_, err := b.Update(ActionUpdate, 100.000000001, 7, schema.SideBuy, 2)
	require.NoError(t, err)
	bids = collect(b, schema.SideBuy, 0)
	require.Len(t, bids, 4)
	assert.Equal(t, int64(7), bids[2].Qty)
	assert.Equal(t, int64(2), b.UpdatedAt())
}

func TestUpdateTopChanged(t *testing.T) {
	b := newTestBook(t)

	testCases := []struct {
		desc     string
		action   Action
		price    float64
		qty      int64
		expected bool
	}{
		{"first level", ActionAdd, 100, 5, true},
		{"deeper level", ActionAdd, 99, 5, false},
		{"better price", ActionAdd, 101, 1, true},
		{"top qty", ActionUpdate, 101, 3, true},
		{"same top qty", ActionUpdate, 101, 3, false},
		{"deeper qty", ActionUpdate, 99, 8, false},
		{"delete missing", ActionDelete, 50, 0, false},
		{"delete top", ActionDelete, 101, 0, true},
		{"zero qty deletes top", ActionUpdate, 100, 0, true},
		{"delete last", ActionDelete, 99, 0, true},
		{"delete empty", ActionDelete, 99, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			changed, err := b.Update(tc.action, tc.price, tc.qty, schema.SideBuy, 1)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, changed)
		})
	}
	assert.True(t, b.IsEmpty())
}

func TestUpdateInvalid(t *testing.T) {
	b := newTestBook(t)
	_, err := b.Update(ActionAdd, 100, 1, schema.SideBuy, 1)
	require.NoError(t, err)

	_, err = b.Update(ActionOrderAdd, 100, 1, schema.SideBuy, 2)
	assert.ErrorIs(t, err, exception.ErrBookInvalidAction)

	_, err = b.Update(ActionAdd, 100, 1, schema.Side(0), 2)
	assert.ErrorIs(t, err, exception.ErrBookInvalidSide)

	_, err = b.OrderUpdate(ActionAdd, 1, 100, 1, schema.SideBuy, 2)
	assert.ErrorIs(t, err, exception.ErrBookInvalidAction)

	assert.Equal(t, []schema.BookLevel{{Price: 100, Qty: 1}}, collect(b, schema.SideBuy, 0))
	assert.Equal(t, int64(1), b.UpdatedAt())
}

func TestInvalidPriceLeavesBookUntouched(t *testing.T) {
	testCases := []struct {
		desc  string
		price float64
	}{
		{desc: "nan", price: math.NaN()},
		{desc: "positive inf", price: math.Inf(1)},
		{desc: "negative inf", price: math.Inf(-1)},
		{desc: "negative", price: -1},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			b := newTestBook(t)
			_, err := b.Update(ActionAdd, 100, 1, schema.SideBuy, 1)
			require.NoError(t, err)
			_, err = b.OrderUpdate(ActionOrderAdd, 7, 101, 2, schema.SideSell, 2)
			require.NoError(t, err)

			_, err = b.Update(ActionAdd, tc.price, 1, schema.SideBuy, 3)
			assert.ErrorIs(t, err, exception.ErrBookInvalidPrice)
			_, err = b.Update(ActionDelete, tc.price, 0, schema.SideBuy, 4)
			assert.ErrorIs(t, err, exception.ErrBookInvalidPrice)
			_, err = b.OrderUpdate(ActionOrderAdd, 8, tc.price, 1, schema.SideSell, 5)
			assert.ErrorIs(t, err, exception.ErrBookInvalidPrice)
			_, err = b.OrderUpdate(ActionOrderUpdate, 7, tc.price, 1, schema.SideSell, 6)
			assert.ErrorIs(t, err, exception.ErrBookInvalidPrice)

			assert.Equal(t, []schema.BookLevel{{Price: 100, Qty: 1}}, collect(b, schema.SideBuy, 0))
			assert.Equal(t, []schema.BookLevel{{Price: 101, Qty: 2}}, collect(b, schema.SideSell, 0))
			assert.Equal(t, int64(2), b.UpdatedAt())

			// a delete removes the order by id whatever price it carries
			changed, err := b.OrderUpdate(ActionOrderDelete, 7, tc.price, 0, schema.SideSell, 7)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Empty(t, collect(b, schema.SideSell, 0))
		})
	}
}

func TestOrderUpdateAggregates(t *testing.T) {
	b := newTestBook(t)

	changed, err := b.OrderUpdate(ActionOrderAdd, 1, 100, 3, schema.SideSell, 1)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = b.OrderUpdate(ActionOrderAdd, 2, 100, 4, schema.SideSell, 2)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = b.OrderUpdate(ActionOrderAdd, 3, 101, 4, schema.SideSell, 3)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []schema.BookLevel{{Price: 100, Qty: 7}, {Price: 101, Qty: 4}}, collect(b, schema.SideSell, 0))

	// order 1 moves behind order 3
	changed, err = b.OrderUpdate(ActionOrderUpdate, 1, 101, 2, schema.SideSell, 4)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []schema.BookLevel{{Price: 100, Qty: 4}, {Price: 101, Qty: 6}}, collect(b, schema.SideSell, 0))

	// add of a known id behaves as update
	_, err = b.OrderUpdate(ActionOrderAdd, 2, 100, 1, schema.SideSell, 5)
	require.NoError(t, err)
	assert.Equal(t, []schema.BookLevel{{Price: 100, Qty: 1}, {Price: 101, Qty: 6}}, collect(b, schema.SideSell, 0))

	// update of an unknown id behaves as add
	_, err = b.OrderUpdate(ActionOrderUpdate, 9, 99, 2, schema.SideSell, 6)
	require.NoError(t, err)
	best, ok := b.Best(schema.SideSell)
	require.True(t, ok)
	assert.Equal(t, schema.BookLevel{Price: 99, Qty: 2}, best)

	for _, id := range []int64{1, 2, 3} {
		_, err = b.OrderUpdate(ActionOrderDelete, id, 0, 0, schema.SideSell, 7)
		require.NoError(t, err)
	}
	assert.Equal(t, []schema.BookLevel{{Price: 99, Qty: 2}}, collect(b, schema.SideSell, 0))

	_, err = b.OrderUpdate(ActionOrderUpdate, 9, 99, 0, schema.SideSell, 8)
	require.NoError(t, err)
	assert.True(t, b.IsEmpty())
}

func TestIsCrossed(t *testing.T) {
	testCases := []struct {
		desc     string
		bid      float64
		ask      float64
		expected bool
	}{
		{"empty", 0, 0, false},
		{"bid only", 100, 0, false},
		{"ask only", 0, 100, false},
		{"normal", 100, 101, false},
		{"locked", 100, 100, true},
		{"locked within epsilon", 100.000000001, 100, true},
		{"crossed", 101, 100, true},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			b := newTestBook(t)
			if tc.bid > 0 {
				_, err := b.Update(ActionAdd, tc.bid, 1, schema.SideBuy, 1)
				require.NoError(t, err)
			}
			if tc.ask > 0 {
				_, err := b.Update(ActionAdd, tc.ask, 1, schema.SideSell, 1)
				require.NoError(t, err)
			}
			assert.Equal(t, tc.expected, b.IsCrossed())
		})
	}
}

func TestLevelsDepthAndRestart(t *testing.T) {
	b := newTestBook(t)
	for i := 0; i < 30; i++ {
		_, err := b.Update(ActionAdd, float64(100+i), int64(i+1), schema.SideSell, 1)
		require.NoError(t, err)
	}

	assert.Len(t, collect(b, schema.SideSell, 5), 5)
	assert.Len(t, collect(b, schema.SideSell, 0), 30)
	assert.Len(t, collect(b, schema.SideSell, 100), 30)
	assert.Empty(t, collect(b, schema.SideBuy, 5))
	assert.Empty(t, collect(b, schema.Side(9), 5))

	seq := b.Levels(schema.SideSell, 3)
	var first, second []float64
	for _, lv := range seq {
		first = append(first, lv.Price)
	}
	for i, lv := range seq {
		if i == 1 {
			break
		}
		second = append(second, lv.Price)
	}
	assert.Equal(t, []float64{100, 101, 102}, first)
	assert.Equal(t, []float64{100}, second)

	d := b.Depth()
	assert.Equal(t, DepthLevels, d.AsksLength)
	assert.Equal(t, 0, d.BidsLength)
	assert.Equal(t, schema.BookLevel{Price: 119, Qty: 20}, d.Asks[DepthLevels-1])
}

func TestQuoteAndDebug(t *testing.T) {
	b := newTestBook(t)
	_, err := b.Update(ActionAdd, 99.5, 3, schema.SideBuy, 10)
	require.NoError(t, err)
	_, err = b.Update(ActionAdd, 100.5, 4, schema.SideSell, 11)
	require.NoError(t, err)

	q := b.Quote()
	assert.Equal(t, schema.InstrumentID(1), q.InstrumentID)
	assert.Equal(t, schema.BookLevel{Price: 99.5, Qty: 3}, q.Bid)
	assert.Equal(t, schema.BookLevel{Price: 100.5, Qty: 4}, q.Ask)
	assert.Equal(t, int64(11), q.Ts)

	assert.Equal(t, "Book{instrument=Si-12.26 updated_at=11 bids=[(99.5,3)] asks=[(100.5,4)]}", b.Debug())

	b.Clear()
	assert.True(t, b.IsEmpty())
	assert.False(t, b.IsCrossed())
	assert.Equal(t, schema.Quote{InstrumentID: 1, Ts: 11}, b.Quote())
}
