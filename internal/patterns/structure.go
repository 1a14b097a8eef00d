package patterns

import "math"

// breakoutHigh holds when the current close exceeds the highest high of the
// previous n bars.
func breakoutHigh(n int) evalFunc {
	return func(bars []Bar) bool {
		last := len(bars) - 1
		highest := math.Inf(-1)
		for _, b := range bars[last-n : last] {
			if b.High > highest {
				highest = b.High
			}
		}
		return bars[last].Close > highest
	}
}

func breakoutLow(n int) evalFunc {
	return func(bars []Bar) bool {
		last := len(bars) - 1
		lowest := math.Inf(1)
		for _, b := range bars[last-n : last] {
			if b.Low < lowest {
				lowest = b.Low
			}
		}
		return bars[last].Close < lowest
	}
}

// pivot is a local extremum at index idx over the fixed neighbour span.
type pivot struct {
	idx   int
	price float64
}

// pivotHighs finds span-2 pivot highs inside the last lookback bars,
// excluding the outermost span bars on each side of the window. Results are
// in ascending index order.
func pivotHighs(bars []Bar, lookback int) []pivot {
	return findPivots(bars, lookback, func(bars []Bar, i int) (float64, bool) {
		h := bars[i].High
		ok := h > bars[i-1].High && h > bars[i-2].High &&
			h > bars[i+1].High && h > bars[i+2].High
		return h, ok
	})
}

func pivotLows(bars []Bar, lookback int) []pivot {
	return findPivots(bars, lookback, func(bars []Bar, i int) (float64, bool) {
		l := bars[i].Low
		ok := l < bars[i-1].Low && l < bars[i-2].Low &&
			l < bars[i+1].Low && l < bars[i+2].Low
		return l, ok
	})
}

func findPivots(bars []Bar, lookback int, at func(bars []Bar, i int) (float64, bool)) []pivot {
	n := len(bars)
	start := n - lookback + pivotSpan
	if start < pivotSpan {
		start = pivotSpan
	}
	end := n - 1 - pivotSpan
	var pivots []pivot
	for i := start; i <= end; i++ {
		if price, ok := at(bars, i); ok {
			pivots = append(pivots, pivot{idx: i, price: price})
		}
	}
	return pivots
}

// doubleTop: the two most recent pivot highs at least 5 bars apart and within
// 1% of each other; holds when the current close is below the neckline (the
// lowest low strictly between them).
func doubleTop(lookback int) evalFunc {
	return func(bars []Bar) bool {
		highs := pivotHighs(bars, lookback)
		p1, p2, ok := recentPivotPair(highs)
		if !ok {
			return false
		}
		avg := (p1.price + p2.price) / 2
		if math.Abs(p2.price-p1.price)/avg > 0.01 {
			return false
		}
		neckline := math.Inf(1)
		for _, b := range bars[p1.idx+1 : p2.idx] {
			if b.Low < neckline {
				neckline = b.Low
			}
		}
		return bars[len(bars)-1].Close < neckline
	}
}

func doubleBottom(lookback int) evalFunc {
	return func(bars []Bar) bool {
		lows := pivotLows(bars, lookback)
		p1, p2, ok := recentPivotPair(lows)
		if !ok {
			return false
		}
		avg := (p1.price + p2.price) / 2
		if math.Abs(p2.price-p1.price)/avg > 0.01 {
			return false
		}
		neckline := math.Inf(-1)
		for _, b := range bars[p1.idx+1 : p2.idx] {
			if b.High > neckline {
				neckline = b.High
			}
		}
		return bars[len(bars)-1].Close > neckline
	}
}

// recentPivotPair selects the most recent pivot and the most recent earlier
// pivot at least 5 bars before it.
func recentPivotPair(pivots []pivot) (p1, p2 pivot, ok bool) {
	if len(pivots) < 2 {
		return pivot{}, pivot{}, false
	}
	p2 = pivots[len(pivots)-1]
	for i := len(pivots) - 2; i >= 0; i-- {
		if p2.idx-pivots[i].idx >= 5 {
			return pivots[i], p2, true
		}
	}
	return pivot{}, pivot{}, false
}

// headAndShoulders searches pivot-high triples (LS, Head, RS) with shoulders
// within 1% of each other and the head at least 1% beyond the greater
// shoulder; the neckline is the mean of the troughs between the three peaks.
// Iteration is biased toward the most recent RS/Head/LS; any valid triple
// with a close beyond the neckline suffices. The inverse form mirrors with
// pivot lows.
func headAndShoulders(lookback int, inverse bool) evalFunc {
	return func(bars []Bar) bool {
		var peaks, troughs []pivot
		if inverse {
			peaks = pivotLows(bars, lookback)
			troughs = pivotHighs(bars, lookback)
		} else {
			peaks = pivotHighs(bars, lookback)
			troughs = pivotLows(bars, lookback)
		}
		if len(peaks) < 3 {
			return false
		}
		lastClose := bars[len(bars)-1].Close

		for ri := len(peaks) - 1; ri >= 2; ri-- {
			for hi := ri - 1; hi >= 1; hi-- {
				for li := hi - 1; li >= 0; li-- {
					ls, head, rs := peaks[li], peaks[hi], peaks[ri]
					if !shouldersMatch(ls, head, rs, inverse) {
						continue
					}
					t1, ok1 := lastPivotBetween(troughs, ls.idx, head.idx)
					t2, ok2 := lastPivotBetween(troughs, head.idx, rs.idx)
					if !ok1 || !ok2 {
						continue
					}
					neckline := (t1.price + t2.price) / 2
					if inverse {
						if lastClose > neckline {
							return true
						}
					} else if lastClose < neckline {
						return true
					}
				}
			}
		}
		return false
	}
}

func shouldersMatch(ls, head, rs pivot, inverse bool) bool {
	avg := (ls.price + rs.price) / 2
	if math.Abs(ls.price-rs.price)/avg > 0.01 {
		return false
	}
	if inverse {
		lower := math.Min(ls.price, rs.price)
		return head.price <= lower*0.99
	}
	greater := math.Max(ls.price, rs.price)
	return head.price >= greater*1.01
}

// lastPivotBetween returns the most recent pivot strictly between two indexes.
func lastPivotBetween(pivots []pivot, lo, hi int) (pivot, bool) {
	for i := len(pivots) - 1; i >= 0; i-- {
		if pivots[i].idx > lo && pivots[i].idx < hi {
			return pivots[i], true
		}
	}
	return pivot{}, false
}
