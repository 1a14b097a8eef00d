package patterns

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCandlePatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		bars    []Bar
		want    bool
	}{
		{
			name:    "bullish engulfing holds",
			pattern: BullishEngulfing,
			bars: []Bar{
				{Open: 10, High: 10, Low: 7, Close: 8},
				{Open: 7, High: 12, Low: 6, Close: 11},
			},
			want: true,
		},
		{
			name:    "bullish engulfing rejects green previous bar",
			pattern: BullishEngulfing,
			bars: []Bar{
				{Open: 8, High: 10, Low: 7, Close: 10},
				{Open: 7, High: 12, Low: 6, Close: 11},
			},
			want: false,
		},
		{
			name:    "bearish engulfing holds",
			pattern: BearishEngulfing,
			bars: []Bar{
				{Open: 8, High: 11, Low: 7, Close: 10},
				{Open: 11, High: 12, Low: 6, Close: 7},
			},
			want: true,
		},
		{
			name:    "hammer rejects full-range body",
			pattern: Hammer,
			bars:    []Bar{{Open: 9.8, High: 10, Low: 9.7, Close: 10}},
			want:    false,
		},
		{
			name:    "hammer with long lower shadow",
			pattern: Hammer,
			bars:    []Bar{{Open: 9.5, High: 10, Low: 7, Close: 9.9}},
			want:    true,
		},
		{
			name:    "shooting star with long upper shadow",
			pattern: ShootingStar,
			bars:    []Bar{{Open: 7.5, High: 10, Low: 7, Close: 7.1}},
			want:    true,
		},
		{
			name:    "doji holds on tiny body",
			pattern: Doji,
			bars:    []Bar{{Open: 10, High: 11, Low: 9, Close: 10.05}},
			want:    true,
		},
		{
			name:    "doji rejects wide body",
			pattern: Doji,
			bars:    []Bar{{Open: 9, High: 11, Low: 9, Close: 11}},
			want:    false,
		},
		{
			name:    "inside bar holds",
			pattern: InsideBar,
			bars: []Bar{
				{Open: 9, High: 12, Low: 6, Close: 10},
				{Open: 9.5, High: 11, Low: 7, Close: 10},
			},
			want: true,
		},
		{
			name:    "outside bar holds",
			pattern: OutsideBar,
			bars: []Bar{
				{Open: 9.5, High: 11, Low: 7, Close: 10},
				{Open: 9, High: 12, Low: 6, Close: 10},
			},
			want: true,
		},
		{
			name:    "morning star holds",
			pattern: MorningStar,
			bars: []Bar{
				{Open: 10, High: 10.2, Low: 7.8, Close: 8},
				{Open: 8, High: 8.5, Low: 7.5, Close: 8.1},
				{Open: 8.2, High: 9.8, Low: 8.0, Close: 9.5},
			},
			want: true,
		},
		{
			name:    "evening star holds",
			pattern: EveningStar,
			bars: []Bar{
				{Open: 8, High: 10.2, Low: 7.8, Close: 10},
				{Open: 10, High: 10.5, Low: 9.5, Close: 10.1},
				{Open: 9.8, High: 10, Low: 8.2, Close: 8.5},
			},
			want: true,
		},
		{
			name:    "three white soldiers holds",
			pattern: ThreeWhiteSoldiers,
			bars: []Bar{
				{Open: 10, High: 11.2, Low: 9.9, Close: 11},
				{Open: 10.5, High: 12.2, Low: 10.4, Close: 12},
				{Open: 11.5, High: 13.2, Low: 11.4, Close: 13},
			},
			want: true,
		},
		{
			name:    "three black crows holds",
			pattern: ThreeBlackCrows,
			bars: []Bar{
				{Open: 13, High: 13.1, Low: 11.8, Close: 12},
				{Open: 12.5, High: 12.6, Low: 10.8, Close: 11},
				{Open: 11.5, High: 11.6, Low: 9.8, Close: 10},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.pattern, tt.bars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateUnknownPattern(t *testing.T) {
	_, err := Evaluate("candle.nonsense.v9", []Bar{{Open: 1, High: 2, Low: 0, Close: 1}})
	require.Error(t, err)

	_, err = RequiredBars("candle.nonsense.v9")
	require.Error(t, err)
}

func TestEvaluateInsufficientBarsIsFalse(t *testing.T) {
	for _, id := range IDs() {
		req, err := RequiredBars(id)
		require.NoError(t, err)

		bars := make([]Bar, req-1)
		holds, err := Evaluate(id, bars)
		require.NoError(t, err, id)
		assert.False(t, holds, id)
	}
}

func TestRequiredBars(t *testing.T) {
	tests := []struct {
		pattern string
		want    int
	}{
		{BullishEngulfing, 2},
		{Hammer, 1},
		{MorningStar, 3},
		{EMA20GtEMA50, 50},
		{EMA20CrossUpEMA50, 51},
		{RSI14Lt30, 15},
		{CloseGtHigh20, 21},
		{CloseLtLow55, 56},
		{DoubleTop60, 64},
		{HeadAndShoulders90, 94},
	}
	for _, tt := range tests {
		got, err := RequiredBars(tt.pattern)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.pattern)
	}
}

func TestEMASeries(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	ema := emaSeries(closes, 3)

	assert.True(t, math.IsNaN(ema[0]))
	assert.True(t, math.IsNaN(ema[1]))
	assert.InDelta(t, 2.0, ema[2], 1e-9) // SMA seed of first 3 closes
	// alpha = 0.5: 0.5*4 + 0.5*2 = 3, then 0.5*5 + 0.5*3 = 4
	assert.InDelta(t, 3.0, ema[3], 1e-9)
	assert.InDelta(t, 4.0, ema[4], 1e-9)
}

func TestRSISeriesEdgeCases(t *testing.T) {
	// Monotonic rises pin RSI at 100, monotonic falls at 0.
	up := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	down := []float64{16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}

	rsiUp := rsiSeries(up, 14)
	rsiDown := rsiSeries(down, 14)

	assert.InDelta(t, 100.0, rsiUp[len(rsiUp)-1], 1e-9)
	assert.InDelta(t, 0.0, rsiDown[len(rsiDown)-1], 1e-9)
}

func TestBreakoutPatterns(t *testing.T) {
	bars := make([]Bar, 21)
	for i := range bars {
		bars[i] = Bar{Open: 100, High: 105, Low: 95, Close: 100}
	}
	bars[20] = Bar{Open: 104, High: 106, Low: 103, Close: 105.5}

	holds, err := Evaluate(CloseGtHigh20, bars)
	require.NoError(t, err)
	assert.True(t, holds)

	bars[20].Close = 105 // not strictly greater
	holds, err = Evaluate(CloseGtHigh20, bars)
	require.NoError(t, err)
	assert.False(t, holds)
}

func TestDoubleTop(t *testing.T) {
	bars := make([]Bar, 64)
	for i := range bars {
		bars[i] = Bar{Open: 100, High: 101, Low: 99, Close: 100}
	}
	// Two peaks of near-equal height at least 5 bars apart, a trough between,
	// and a final close below the trough low.
	bars[40] = Bar{Open: 100, High: 110, Low: 99, Close: 105}
	bars[45] = Bar{Open: 100, High: 101, Low: 96, Close: 100}
	bars[50] = Bar{Open: 100, High: 110.5, Low: 99, Close: 105}
	bars[63] = Bar{Open: 96, High: 97, Low: 94, Close: 95}

	holds, err := Evaluate(DoubleTop60, bars)
	require.NoError(t, err)
	assert.True(t, holds)

	// Close above the neckline does not confirm.
	bars[63].Close = 99
	holds, err = Evaluate(DoubleTop60, bars)
	require.NoError(t, err)
	assert.False(t, holds)
}

func TestHeadAndShoulders(t *testing.T) {
	bars := make([]Bar, 94)
	for i := range bars {
		bars[i] = Bar{Open: 100, High: 101, Low: 99, Close: 100}
	}
	// Left shoulder, head at least 1% above, right shoulder within 1% of the
	// left; troughs between peaks define the neckline.
	bars[40] = Bar{Open: 100, High: 110, Low: 99, Close: 105}
	bars[45] = Bar{Open: 100, High: 101, Low: 96, Close: 100}
	bars[50] = Bar{Open: 100, High: 115, Low: 99, Close: 110}
	bars[55] = Bar{Open: 100, High: 101, Low: 96.5, Close: 100}
	bars[60] = Bar{Open: 100, High: 110.2, Low: 99, Close: 105}
	bars[93] = Bar{Open: 95, High: 96, Low: 93, Close: 94}

	holds, err := Evaluate(HeadAndShoulders90, bars)
	require.NoError(t, err)
	assert.True(t, holds)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	bars := make([]Bar, 94)
	for i := range bars {
		f := float64(i)
		bars[i] = Bar{Open: 100 + f, High: 102 + f, Low: 99 + f, Close: 101 + f}
	}
	for _, id := range IDs() {
		first, err := Evaluate(id, bars)
		require.NoError(t, err, id)
		for i := 0; i < 3; i++ {
			again, err := Evaluate(id, bars)
			require.NoError(t, err, id)
			assert.Equal(t, first, again, id)
		}
	}
}
