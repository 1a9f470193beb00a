package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func linspace(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestMAShorterThanWindowIsAllUndefined(t *testing.T) {
	out := MA([]float64{1, 2, 3}, 5)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestMABasic(t *testing.T) {
	out := MA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
}

func TestEMASeedIsSMA(t *testing.T) {
	close := linspace(10, 0.1, 40)
	out := EMA(close, 8)
	assert.InDelta(t, (10+10.1+10.2+10.3+10.4+10.5+10.6+10.7)/8.0, out[7], 1e-9)
	assert.False(t, math.IsNaN(out[8]))
}

func TestRSIAllGainsIs100(t *testing.T) {
	close := linspace(10, 0.5, 20)
	out := RSI(close, 14)
	assert.InDelta(t, 100, out[19], 1e-9)
}

func TestBollMiddleIsMA(t *testing.T) {
	close := linspace(10, 0.2, 25)
	b := BOLL(close, 20, 2)
	ma := MA(close, 20)
	assert.Len(t, b.Middle, len(ma))
	for i := range ma {
		if math.IsNaN(ma[i]) {
			assert.True(t, math.IsNaN(b.Middle[i]), "index %d", i)
			continue
		}
		assert.Equal(t, ma[i], b.Middle[i], "index %d", i)
	}
	assert.True(t, b.Upper[19] > b.Middle[19])
	assert.True(t, b.Lower[19] < b.Middle[19])
}

func TestCrossOverStrictStep(t *testing.T) {
	a := []float64{1, 1, 3}
	b := []float64{2, 2, 2}
	out := CrossOver(a, b)
	assert.False(t, out[0])
	assert.False(t, out[1])
	assert.True(t, out[2])
}

func TestCrossUnderRequiresDecrease(t *testing.T) {
	a := []float64{3, 3, 1}
	b := []float64{2, 2, 2}
	out := CrossUnder(a, b)
	assert.True(t, out[2])
}

func TestOBVDirectionalAccumulation(t *testing.T) {
	close := []float64{10, 11, 10, 10}
	vol := []float64{100, 50, 20, 5}
	out := OBV(close, vol)
	assert.Equal(t, []float64{100, 150, 130, 130}, out)
}

func TestATRNeverRaisesOnShortSeries(t *testing.T) {
	out := ATR([]float64{1, 2}, []float64{0, 1}, []float64{0.5, 1.5}, 14)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}
