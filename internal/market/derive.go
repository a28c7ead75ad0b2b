package market

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
)

// Derived market fields are computed here rather than trusted from
// providers, so every verdict is reproducible from raw vendor data.

// SpreadBps returns the bid/ask spread in basis points of the mid
// price, or 0 when either side is missing.
func SpreadBps(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 {
		return 0
	}
	mid := (ask + bid) / 2
	return (ask - bid) / mid * 10000
}

// DepthScore maps total top-of-book size to a 0..100 score.
func DepthScore(bidSize, askSize float64) float64 {
	return math.Min(100, math.Sqrt(bidSize+askSize)*10)
}

// Velocity grades current volume against its average.
func Velocity(volume, avgVolume float64) TradeVelocity {
	if avgVolume <= 0 {
		return VelocityNormal
	}
	ratio := volume / avgVolume
	switch {
	case ratio > 1.5:
		return VelocityFast
	case ratio < 0.5:
		return VelocitySlow
	default:
		return VelocityNormal
	}
}

// PutCallRatio returns put volume over call volume, 1.0 when there is
// no call volume.
func PutCallRatio(putVolume, callVolume float64) float64 {
	if callVolume == 0 {
		return 1.0
	}
	return putVolume / callVolume
}

// gammaBiasThreshold bounds the open-interest-weighted gamma average
// that still counts as neutral.
const gammaBiasThreshold = 0.02

// GammaBiasFromChain derives dealer gamma positioning. With per-strike
// gamma available it weights gamma by open interest; otherwise it
// falls back to put/call ratio thresholds.
func GammaBiasFromChain(contracts []ChainContract, putCallRatio float64) GammaBias {
	var weighted, totalOI float64
	for _, c := range contracts {
		if c.Gamma != 0 && c.OpenInterest > 0 {
			weighted += c.Gamma * c.OpenInterest
			totalOI += c.OpenInterest
		}
	}
	if totalOI > 0 {
		avg := weighted / totalOI
		switch {
		case avg > gammaBiasThreshold:
			return GammaPositive
		case avg < -gammaBiasThreshold:
			return GammaNegative
		default:
			return GammaNeutral
		}
	}
	switch {
	case putCallRatio > 1.2:
		return GammaNegative
	case putCallRatio < 0.8:
		return GammaPositive
	default:
		return GammaNeutral
	}
}

// MaxPain returns the strike where total open interest is maximized.
// With no open-interest data it falls back to the middle strike.
func MaxPain(contracts []ChainContract) float64 {
	if len(contracts) == 0 {
		return 0
	}
	oiByStrike := make(map[float64]float64)
	var strikes []float64
	for _, c := range contracts {
		if _, seen := oiByStrike[c.Strike]; !seen {
			strikes = append(strikes, c.Strike)
		}
		oiByStrike[c.Strike] += c.OpenInterest
	}
	best, bestOI := 0.0, -1.0
	for _, s := range strikes {
		if oiByStrike[s] > bestOI {
			best, bestOI = s, oiByStrike[s]
		}
	}
	if bestOI > 0 {
		return best
	}
	return strikes[len(strikes)/2]
}

// IVPercentile ranks the volume-weighted mean IV against the chain's
// IV distribution, as the percent of contracts priced below it.
func IVPercentile(contracts []ChainContract) float64 {
	var weighted, totalVol float64
	var ivs []float64
	for _, c := range contracts {
		if c.IV <= 0 {
			continue
		}
		ivs = append(ivs, c.IV)
		if c.Volume > 0 {
			weighted += c.IV * c.Volume
			totalVol += c.Volume
		}
	}
	if len(ivs) == 0 {
		return 0
	}
	mean := 0.0
	if totalVol > 0 {
		mean = weighted / totalVol
	} else {
		for _, iv := range ivs {
			mean += iv
		}
		mean /= float64(len(ivs))
	}
	below := 0
	for _, iv := range ivs {
		if iv < mean {
			below++
		}
	}
	return float64(below) / float64(len(ivs)) * 100
}

// ATR14 computes Wilder's 14-period average true range over the bars
// (oldest first). Returns 0 when there are fewer than 15 bars.
func ATR14(bars []Bar) float64 {
	const period = 14
	if len(bars) < period+1 {
		return 0
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		trs = append(trs, math.Max(hl, math.Max(hc, lc)))
	}
	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= period
	for _, tr := range trs[period:] {
		atr = (atr*(period-1) + tr) / period
	}
	return atr
}

// RSI computes Wilder's 14-period RSI of the closes (oldest first)
// using the cinar indicator pipeline, clamped to [0,100]. Returns a
// neutral 50 when there is not enough history.
func RSI(closes []float64) float64 {
	const period = 14
	if len(closes) < period+1 {
		return 50
	}
	in := make(chan float64, len(closes))
	for _, c := range closes {
		in <- c
	}
	close(in)

	rsi := momentum.NewRsiWithPeriod[float64](period)
	var last float64 = 50
	for v := range rsi.Compute(in) {
		last = v
	}
	return math.Max(0, math.Min(100, last))
}

// RV20 computes annualized realized volatility: the standard deviation
// of log returns over the last 20 bars, scaled by sqrt(252), in
// percent. Returns 0 when history is short.
func RV20(closes []float64) float64 {
	const window = 20
	if len(closes) < window+1 {
		return 0
	}
	tail := closes[len(closes)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 || tail[i] <= 0 {
			return 0
		}
		returns = append(returns, math.Log(tail[i]/tail[i-1]))
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance) * math.Sqrt(252) * 100
}

// TrendSlope computes the linear-regression slope of the last 20
// closes, normalized to [-1,1] as slope per bar over the mean price.
func TrendSlope(closes []float64) float64 {
	const window = 20
	if len(closes) < 2 {
		return 0
	}
	tail := closes
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	n := float64(len(tail))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range tail {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	meanPrice := sumY / n
	if meanPrice == 0 {
		return 0
	}
	normalized := slope / meanPrice * window
	return math.Max(-1, math.Min(1, normalized))
}
