package patterns

import "math"

func body(b Bar) float64 { return math.Abs(b.Close - b.Open) }

func barRange(b Bar) float64 { return b.High - b.Low }

func upperShadow(b Bar) float64 { return b.High - math.Max(b.Open, b.Close) }

func lowerShadow(b Bar) float64 { return math.Min(b.Open, b.Close) - b.Low }

func isGreen(b Bar) bool { return b.Close > b.Open }

func isRed(b Bar) bool { return b.Close < b.Open }

func bullishEngulfing(bars []Bar) bool {
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	return isRed(prev) && isGreen(cur) &&
		cur.Open <= prev.Close && cur.Close >= prev.Open
}

func bearishEngulfing(bars []Bar) bool {
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	return isGreen(prev) && isRed(cur) &&
		cur.Open >= prev.Close && cur.Close <= prev.Open
}

func hammer(bars []Bar) bool {
	cur := bars[len(bars)-1]
	rng := barRange(cur)
	if rng <= 0 {
		return false
	}
	return body(cur)/rng <= 0.3 &&
		lowerShadow(cur) >= 2*body(cur) &&
		upperShadow(cur) <= 0.25*rng
}

func shootingStar(bars []Bar) bool {
	cur := bars[len(bars)-1]
	rng := barRange(cur)
	if rng <= 0 {
		return false
	}
	return body(cur)/rng <= 0.3 &&
		upperShadow(cur) >= 2*body(cur) &&
		lowerShadow(cur) <= 0.25*rng
}

func doji(bars []Bar) bool {
	cur := bars[len(bars)-1]
	rng := barRange(cur)
	if rng <= 0 {
		return false
	}
	return body(cur)/rng <= 0.1
}

func insideBar(bars []Bar) bool {
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	return cur.High <= prev.High && cur.Low >= prev.Low
}

func outsideBar(bars []Bar) bool {
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	return cur.High >= prev.High && cur.Low <= prev.Low
}

// morningStar: strong red bar, small-bodied middle bar, then a green close at
// or above the midpoint of the first bar's body.
func morningStar(bars []Bar) bool {
	a, b, c := bars[len(bars)-3], bars[len(bars)-2], bars[len(bars)-1]
	aRng, bRng := barRange(a), barRange(b)
	if aRng <= 0 || bRng <= 0 {
		return false
	}
	mid := (a.Open + a.Close) / 2
	return isRed(a) && body(a)/aRng >= 0.5 &&
		body(b)/bRng <= 0.3 &&
		isGreen(c) && c.Close >= mid
}

func eveningStar(bars []Bar) bool {
	a, b, c := bars[len(bars)-3], bars[len(bars)-2], bars[len(bars)-1]
	aRng, bRng := barRange(a), barRange(b)
	if aRng <= 0 || bRng <= 0 {
		return false
	}
	mid := (a.Open + a.Close) / 2
	return isGreen(a) && body(a)/aRng >= 0.5 &&
		body(b)/bRng <= 0.3 &&
		isRed(c) && c.Close <= mid
}

func threeWhiteSoldiers(bars []Bar) bool {
	a, b, c := bars[len(bars)-3], bars[len(bars)-2], bars[len(bars)-1]
	return isGreen(a) && isGreen(b) && isGreen(c) &&
		b.Close > a.Close && c.Close > b.Close &&
		openInsideBody(b, a) && openInsideBody(c, b)
}

func threeBlackCrows(bars []Bar) bool {
	a, b, c := bars[len(bars)-3], bars[len(bars)-2], bars[len(bars)-1]
	return isRed(a) && isRed(b) && isRed(c) &&
		b.Close < a.Close && c.Close < b.Close &&
		openInsideBody(b, a) && openInsideBody(c, b)
}

// openInsideBody reports whether cur opens within prev's real body.
func openInsideBody(cur, prev Bar) bool {
	lo := math.Min(prev.Open, prev.Close)
	hi := math.Max(prev.Open, prev.Close)
	return cur.Open >= lo && cur.Open <= hi
}
