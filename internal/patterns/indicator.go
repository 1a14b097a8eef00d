package patterns

import "math"

// emaSeries computes the exponential moving average over closes. The value at
// index period-1 is seeded from the simple average of the first period closes;
// later values use alpha = 2/(period+1). Indices before the seed are NaN.
func emaSeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(closes) < period {
		return out
	}

	var sum float64
	for _, c := range closes[:period] {
		sum += c
	}
	out[period-1] = sum / float64(period)

	alpha := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		out[i] = alpha*closes[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rsiSeries computes Wilder's RSI over closes. The first period deltas seed
// the average gain/loss; subsequent steps use smoothed averaging
// (prev*(period-1)+new)/period. Indices before the seed are NaN.
func rsiSeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(closes) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0:
		return 100
	case avgGain == 0:
		return 0
	default:
		return 100 - 100/(1+avgGain/avgLoss)
	}
}

func closesOf(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// emaRelation compares EMA20 against EMA50 at the last bar. An undefined EMA
// (insufficient data) never holds.
func emaRelation(cmp func(e20, e50 float64) bool) evalFunc {
	return func(bars []Bar) bool {
		closes := closesOf(bars)
		e20 := emaSeries(closes, 20)
		e50 := emaSeries(closes, 50)
		last := len(bars) - 1
		if math.IsNaN(e20[last]) || math.IsNaN(e50[last]) {
			return false
		}
		return cmp(e20[last], e50[last])
	}
}

// emaCross detects an EMA20/EMA50 cross between the previous and last bar.
func emaCross(up bool) evalFunc {
	return func(bars []Bar) bool {
		closes := closesOf(bars)
		e20 := emaSeries(closes, 20)
		e50 := emaSeries(closes, 50)
		last := len(bars) - 1
		prev := last - 1
		if math.IsNaN(e20[prev]) || math.IsNaN(e50[prev]) ||
			math.IsNaN(e20[last]) || math.IsNaN(e50[last]) {
			return false
		}
		if up {
			return e20[prev] <= e50[prev] && e20[last] > e50[last]
		}
		return e20[prev] >= e50[prev] && e20[last] < e50[last]
	}
}

func rsiThreshold(cmp func(rsi float64) bool) evalFunc {
	return func(bars []Bar) bool {
		rsi := rsiSeries(closesOf(bars), 14)
		last := rsi[len(rsi)-1]
		if math.IsNaN(last) {
			return false
		}
		return cmp(last)
	}
}
