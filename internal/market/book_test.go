package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLeg(t *testing.T) {
	leg, err := ParseLeg("up")
	require.NoError(t, err)
	assert.Equal(t, LegUp, leg)
	assert.Equal(t, LegDown, leg.Opposite())
	assert.Equal(t, LegUp, LegDown.Opposite())

	_, err = ParseLeg("sideways")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	t.Run("十进制字符串解析", func(t *testing.T) {
		lvl, err := ParseLevel("0.55", "120.5")
		require.NoError(t, err)
		assert.InDelta(t, 0.55, lvl.Price, 1e-9)
		assert.InDelta(t, 120.5, lvl.Size, 1e-9)
	})

	cases := []struct {
		name  string
		price string
		size  string
	}{
		{"价格为 0", "0", "10"},
		{"价格为 1", "1", "10"},
		{"价格超 1", "1.2", "10"},
		{"size 为 0", "0.5", "0"},
		{"price 非数字", "abc", "10"},
		{"size 非数字", "0.5", "x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseLevel(tc.price, tc.size)
			assert.Error(t, err)
		})
	}
}

func TestBookSnapshot_BestAndMid(t *testing.T) {
	b := BookSnapshot{
		Bids: []PriceLevel{{Price: 0.48, Size: 10}, {Price: 0.47, Size: 20}},
		Asks: []PriceLevel{{Price: 0.52, Size: 10}},
	}
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.InDelta(t, 0.48, bid.Price, 1e-9)
	assert.InDelta(t, 0.50, b.Mid(), 1e-9)

	t.Run("单侧为空回退另一侧", func(t *testing.T) {
		onlyAsks := BookSnapshot{Asks: []PriceLevel{{Price: 0.52, Size: 10}}}
		assert.InDelta(t, 0.52, onlyAsks.Mid(), 1e-9)
		_, ok := onlyAsks.BestBid()
		assert.False(t, ok)
	})

	t.Run("双侧为空", func(t *testing.T) {
		assert.InDelta(t, 0, BookSnapshot{}.Mid(), 1e-9)
	})
}

func TestBookSnapshot_Validate(t *testing.T) {
	good := BookSnapshot{
		Bids: []PriceLevel{{Price: 0.48, Size: 10}, {Price: 0.47, Size: 20}},
		Asks: []PriceLevel{{Price: 0.52, Size: 10}, {Price: 0.53, Size: 5}},
	}
	assert.NoError(t, good.Validate())

	badBids := BookSnapshot{Bids: []PriceLevel{{Price: 0.40, Size: 10}, {Price: 0.45, Size: 10}}}
	assert.Error(t, badBids.Validate())

	badAsks := BookSnapshot{Asks: []PriceLevel{{Price: 0.53, Size: 10}, {Price: 0.52, Size: 10}}}
	assert.Error(t, badAsks.Validate())

	zeroSize := BookSnapshot{Bids: []PriceLevel{{Price: 0.48, Size: 0}}}
	assert.Error(t, zeroSize.Validate())
}
