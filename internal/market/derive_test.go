package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpreadBps(t *testing.T) {
	// 430.00/430.10 mid 430.05, spread ~2.33 bps.
	assert.InDelta(t, 2.3253, SpreadBps(430.00, 430.10), 0.001)
	assert.Equal(t, 0.0, SpreadBps(0, 430.10))
	assert.Equal(t, 0.0, SpreadBps(430.00, 0))
}

func TestDepthScore(t *testing.T) {
	assert.InDelta(t, 100.0, DepthScore(5000, 5000), 0.0001, "deep book caps at 100")
	assert.InDelta(t, 40.0, DepthScore(8, 8), 0.0001)
	assert.Equal(t, 0.0, DepthScore(0, 0))
}

func TestVelocity(t *testing.T) {
	assert.Equal(t, VelocityFast, Velocity(200, 100))
	assert.Equal(t, VelocitySlow, Velocity(40, 100))
	assert.Equal(t, VelocityNormal, Velocity(100, 100))
	assert.Equal(t, VelocityNormal, Velocity(100, 0), "no average defaults to NORMAL")
}

func TestPutCallRatio(t *testing.T) {
	assert.Equal(t, 1.25, PutCallRatio(125, 100))
	assert.Equal(t, 1.0, PutCallRatio(500, 0), "zero call volume is neutral")
}

func TestGammaBiasFromChain(t *testing.T) {
	positive := []ChainContract{
		{Strike: 430, Gamma: 0.05, OpenInterest: 1000},
		{Strike: 435, Gamma: 0.01, OpenInterest: 100},
	}
	assert.Equal(t, GammaPositive, GammaBiasFromChain(positive, 1.0))

	negative := []ChainContract{{Strike: 430, Gamma: -0.06, OpenInterest: 500}}
	assert.Equal(t, GammaNegative, GammaBiasFromChain(negative, 1.0))

	flat := []ChainContract{{Strike: 430, Gamma: 0.005, OpenInterest: 500}}
	assert.Equal(t, GammaNeutral, GammaBiasFromChain(flat, 1.0))

	// Without gamma data the put/call ratio decides.
	none := []ChainContract{{Strike: 430}}
	assert.Equal(t, GammaNegative, GammaBiasFromChain(none, 1.3))
	assert.Equal(t, GammaPositive, GammaBiasFromChain(none, 0.7))
	assert.Equal(t, GammaNeutral, GammaBiasFromChain(none, 1.0))
}

func TestMaxPain(t *testing.T) {
	contracts := []ChainContract{
		{Strike: 425, Side: "call", OpenInterest: 100},
		{Strike: 430, Side: "call", OpenInterest: 800},
		{Strike: 430, Side: "put", OpenInterest: 900},
		{Strike: 435, Side: "put", OpenInterest: 200},
	}
	assert.Equal(t, 430.0, MaxPain(contracts))
}

func TestMaxPainFallsBackToMiddleStrike(t *testing.T) {
	contracts := []ChainContract{
		{Strike: 425}, {Strike: 430}, {Strike: 435},
	}
	assert.Equal(t, 430.0, MaxPain(contracts))
	assert.Equal(t, 0.0, MaxPain(nil))
}

func TestATR14(t *testing.T) {
	// Constant 2-point true range: ATR converges to exactly 2.
	bars := make([]Bar, 20)
	for i := range bars {
		bars[i] = Bar{High: 102, Low: 100, Close: 101}
	}
	assert.InDelta(t, 2.0, ATR14(bars), 0.0001)
	assert.Equal(t, 0.0, ATR14(bars[:14]), "needs 15 bars")
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	assert.Greater(t, RSI(rising), 70.0)

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 130 - float64(i)
	}
	assert.Less(t, RSI(falling), 30.0)

	assert.Equal(t, 50.0, RSI([]float64{100, 101}), "short history is neutral")
}

func TestRV20(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	assert.Equal(t, 0.0, RV20(flat), "flat prices have no volatility")

	choppy := make([]float64, 30)
	for i := range choppy {
		if i%2 == 0 {
			choppy[i] = 100
		} else {
			choppy[i] = 102
		}
	}
	assert.Greater(t, RV20(choppy), 0.0)
	assert.Equal(t, 0.0, RV20([]float64{100, 101}), "short history")
}

func TestTrendSlope(t *testing.T) {
	rising := make([]float64, 25)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	assert.Greater(t, TrendSlope(rising), 0.0)

	falling := make([]float64, 25)
	for i := range falling {
		falling[i] = 130 - float64(i)
	}
	assert.Less(t, TrendSlope(falling), 0.0)

	assert.Equal(t, 0.0, TrendSlope([]float64{100}))

	steep := []float64{1, 10, 20, 30, 40, 50, 60, 70, 80, 90}
	assert.Equal(t, 1.0, TrendSlope(steep), "clamped at 1")
}

func TestIVPercentile(t *testing.T) {
	contracts := []ChainContract{
		{IV: 0.10, Volume: 10},
		{IV: 0.20, Volume: 10},
		{IV: 0.90, Volume: 1000},
	}
	// Volume-weighted mean sits near 0.89, so two of three IVs rank below.
	assert.InDelta(t, 66.67, IVPercentile(contracts), 0.1)
	assert.Equal(t, 0.0, IVPercentile(nil))
}

func TestDeriveOptions(t *testing.T) {
	contracts := []ChainContract{
		{Strike: 430, Side: "call", Volume: 100, OpenInterest: 800, IV: 0.20},
		{Strike: 430, Side: "put", Volume: 130, OpenInterest: 900, IV: 0.25},
	}
	data := DeriveOptions(contracts)
	assert.Equal(t, 1.3, data.PutCallRatio)
	assert.Equal(t, 230.0, data.OptionVolume)
	assert.Equal(t, 430.0, data.MaxPain)
}

func TestDeriveStatsEmptySeries(t *testing.T) {
	data := DeriveStats(nil)
	assert.Equal(t, 50.0, data.RSI)
	assert.Equal(t, 0.0, data.ATR14)
	assert.Equal(t, 0.0, data.Volume)
}

func TestDeriveLiquidity(t *testing.T) {
	data := DeriveLiquidity(&BookSnapshot{
		Bid: 430.00, Ask: 430.10, BidSize: 500, AskSize: 400,
		Volume: 220, AvgVolume: 100,
	})
	assert.InDelta(t, 2.3253, data.SpreadBps, 0.001)
	assert.Equal(t, VelocityFast, data.TradeVelocity)
	assert.Equal(t, 500.0, data.BidSize)
}

func TestVolumeRatio(t *testing.T) {
	bars := []Bar{{Volume: 100}, {Volume: 100}, {Volume: 300}}
	assert.Equal(t, 3.0, volumeRatio(bars))
	assert.Equal(t, 1.0, volumeRatio([]Bar{{Volume: 50}}), "single bar is neutral")
}
