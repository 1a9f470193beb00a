// Package indicators provides the pure, stateless technical-indicator
// functions used by both the backtest engine and live strategies (§4.A).
// Every function returns a sequence aligned to its input; leading
// positions for which the lookback window isn't yet satisfied are set to
// math.NaN() rather than raising. A sequence shorter than the lookback
// returns an all-NaN sequence of the same length.
//
// Grounded on original_source/core/indicators/technical.py (NumPy) and on
// the teacher's indicators.go (SMA/RSI/ZScore), generalized to the full
// formula set named in §4.A.
package indicators

import "math"

func full(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// MA is the simple moving average over period n.
func MA(close []float64, n int) []float64 {
	out := full(len(close))
	if n <= 0 {
		return out
	}
	for i := n - 1; i < len(close); i++ {
		sum := 0.0
		for _, v := range close[i-n+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(n)
	}
	return out
}

// EMA: first defined value is the MA of the first n; thereafter
// EMA_i = close_i*alpha + EMA_{i-1}*(1-alpha), alpha = min(2/n, 1).
func EMA(close []float64, n int) []float64 {
	out := full(len(close))
	if n <= 0 || len(close) < n {
		return out
	}
	alpha := math.Min(2.0/float64(n), 1.0)
	sum := 0.0
	for _, v := range close[:n] {
		sum += v
	}
	out[n-1] = sum / float64(n)
	for i := n; i < len(close); i++ {
		out[i] = close[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// WMA is the linearly-weighted moving average over period n.
func WMA(close []float64, n int) []float64 {
	out := full(len(close))
	if n <= 0 {
		return out
	}
	weightSum := float64(n*(n+1)) / 2
	for i := n - 1; i < len(close); i++ {
		sum := 0.0
		for k, v := range close[i-n+1 : i+1] {
			sum += v * float64(k+1)
		}
		out[i] = sum / weightSum
	}
	return out
}

// MACDResult bundles DIF, DEA and the histogram.
type MACDResult struct {
	DIF  []float64
	DEA  []float64
	Hist []float64
}

// MACD: DEA seeded from the mean of the first `signal` defined DIF values,
// then EMA with alpha = 2/(signal+1). Histogram = 2*(DIF-DEA).
func MACD(close []float64, fast, slow, signal int) MACDResult {
	n := len(close)
	dif := make([]float64, n)
	emaFast := EMA(close, fast)
	emaSlow := EMA(close, slow)
	for i := 0; i < n; i++ {
		dif[i] = emaFast[i] - emaSlow[i]
	}
	dea := full(n)
	alpha := 2.0 / float64(signal+1)
	firstValid := slow - 1
	if firstValid >= 0 && firstValid+signal <= n {
		window := dif[firstValid : firstValid+signal]
		valid := make([]float64, 0, signal)
		for _, v := range window {
			if !math.IsNaN(v) {
				valid = append(valid, v)
			}
		}
		if len(valid) >= signal {
			sum := 0.0
			for _, v := range valid {
				sum += v
			}
			seedIdx := firstValid + signal - 1
			dea[seedIdx] = sum / float64(signal)
			for i := seedIdx + 1; i < n; i++ {
				if !math.IsNaN(dif[i]) && !math.IsNaN(dea[i-1]) {
					dea[i] = dif[i]*alpha + dea[i-1]*(1-alpha)
				}
			}
		}
	}
	hist := make([]float64, n)
	for i := 0; i < n; i++ {
		hist[i] = (dif[i] - dea[i]) * 2
	}
	return MACDResult{DIF: dif, DEA: dea, Hist: hist}
}

// KDJResult bundles K, D, J.
type KDJResult struct {
	K []float64
	D []float64
	J []float64
}

// KDJ: RSV = (close-minLow_n)/(maxHigh_n-minLow_n)*100 (50 when high=low);
// K/D Wilder-smoothed with initial value RSV_n; J = 3K-2D.
func KDJ(high, low, close []float64, n, m1, m2 int) KDJResult {
	length := len(close)
	k := full(length)
	d := full(length)
	j := full(length)
	for i := n - 1; i < length; i++ {
		highest, lowest := high[i-n+1], low[i-n+1]
		for _, v := range high[i-n+1 : i+1] {
			if v > highest {
				highest = v
			}
		}
		for _, v := range low[i-n+1 : i+1] {
			if v < lowest {
				lowest = v
			}
		}
		rsv := 50.0
		if highest != lowest {
			rsv = (close[i] - lowest) / (highest - lowest) * 100
		}
		if i == n-1 {
			k[i] = rsv
		} else {
			k[i] = k[i-1]*float64(m1-1)/float64(m1) + rsv/float64(m1)
		}
		if i == n-1 {
			d[i] = k[i]
		} else {
			d[i] = d[i-1]*float64(m2-1)/float64(m2) + k[i]/float64(m2)
		}
		j[i] = 3*k[i] - 2*d[i]
	}
	return KDJResult{K: k, D: d, J: j}
}

// RSI partitions gains/losses then SMA-smooths them; 100 when avg loss=0.
func RSI(close []float64, period int) []float64 {
	n := len(close)
	out := full(n)
	if n <= period {
		return out
	}
	gains := make([]float64, n-1)
	losses := make([]float64, n-1)
	for i := 1; i < n; i++ {
		d := close[i] - close[i-1]
		if d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}
	for i := period; i < n; i++ {
		var avgGain, avgLoss float64
		for _, v := range gains[i-period : i] {
			avgGain += v
		}
		for _, v := range losses[i-period : i] {
			avgLoss += v
		}
		avgGain /= float64(period)
		avgLoss /= float64(period)
		if avgLoss == 0 {
			out[i] = 100
		} else {
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// RSIEMA is RSI with EMA-smoothed gains/losses instead of SMA.
func RSIEMA(close []float64, period int) []float64 {
	n := len(close)
	out := full(n)
	if n <= period {
		return out
	}
	gains := make([]float64, n-1)
	losses := make([]float64, n-1)
	for i := 1; i < n; i++ {
		d := close[i] - close[i-1]
		if d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}
	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64
	for _, v := range gains[:period] {
		avgGain += v
	}
	for _, v := range losses[:period] {
		avgLoss += v
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period; i < n; i++ {
		avgGain = gains[i-1]*alpha + avgGain*(1-alpha)
		avgLoss = losses[i-1]*alpha + avgLoss*(1-alpha)
		if avgLoss == 0 {
			out[i] = 100
		} else {
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// BOLLResult bundles upper/middle/lower bands.
type BOLLResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BOLL: middle = MA(n); upper/lower = middle +/- k*sample_std_n (ddof=1,
// matching original_source's np.std(..., ddof=1)).
func BOLL(close []float64, n int, k float64) BOLLResult {
	middle := MA(close, n)
	upper := full(len(close))
	lower := full(len(close))
	for i := n - 1; i < len(close); i++ {
		window := close[i-n+1 : i+1]
		mean := middle[i]
		var sumSq float64
		for _, v := range window {
			sumSq += (v - mean) * (v - mean)
		}
		std := 0.0
		if n > 1 {
			std = math.Sqrt(sumSq / float64(n-1))
		}
		upper[i] = mean + k*std
		lower[i] = mean - k*std
	}
	return BOLLResult{Upper: upper, Middle: middle, Lower: lower}
}

func trueRange(high, low, close []float64) []float64 {
	n := len(close)
	tr := make([]float64, n)
	if n == 0 {
		return tr
	}
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
	}
	return tr
}

// ATR: TR = max(high-low, |high-prevClose|, |low-prevClose|); Wilder
// smoothing with alpha = 1/n.
func ATR(high, low, close []float64, n int) []float64 {
	length := len(close)
	out := full(length)
	if length < n || n <= 0 {
		return out
	}
	tr := trueRange(high, low, close)
	sum := 0.0
	for _, v := range tr[:n] {
		sum += v
	}
	out[n-1] = sum / float64(n)
	alpha := 1.0 / float64(n)
	for i := n; i < length; i++ {
		out[i] = tr[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// CCI: (TP - MA(TP,n)) / (0.015*mean_abs_dev).
func CCI(high, low, close []float64, n int) []float64 {
	length := len(close)
	out := full(length)
	tp := make([]float64, length)
	for i := range tp {
		tp[i] = (high[i] + low[i] + close[i]) / 3
	}
	for i := n - 1; i < length; i++ {
		window := tp[i-n+1 : i+1]
		var sum float64
		for _, v := range window {
			sum += v
		}
		mean := sum / float64(n)
		var mad float64
		for _, v := range window {
			mad += math.Abs(v - mean)
		}
		mad /= float64(n)
		if mad != 0 {
			out[i] = (tp[i] - mean) / (0.015 * mad)
		} else {
			out[i] = 0
		}
	}
	return out
}

// OBV: on-balance volume, running sum signed by close direction.
func OBV(close, volume []float64) []float64 {
	n := len(close)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	out[0] = volume[0]
	for i := 1; i < n; i++ {
		switch {
		case close[i] > close[i-1]:
			out[i] = out[i-1] + volume[i]
		case close[i] < close[i-1]:
			out[i] = out[i-1] - volume[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// VWAP: cumulative typical-price-weighted volume divided by cumulative
// volume; undefined (NaN) while cumulative volume is zero.
func VWAP(high, low, close, volume []float64) []float64 {
	n := len(close)
	out := full(n)
	cumTPVol, cumVol := 0.0, 0.0
	for i := 0; i < n; i++ {
		tp := (high[i] + low[i] + close[i]) / 3
		cumTPVol += tp * volume[i]
		cumVol += volume[i]
		if cumVol != 0 {
			out[i] = cumTPVol / cumVol
		}
	}
	return out
}

// wilderSmooth implements the Wilder running-sum smoothing used by DMI.
func wilderSmooth(data []float64, period int) []float64 {
	out := full(len(data))
	if len(data) < period {
		return out
	}
	sum := 0.0
	for _, v := range data[:period] {
		sum += v
	}
	out[period-1] = sum
	for i := period; i < len(data); i++ {
		out[i] = out[i-1] - out[i-1]/float64(period) + data[i]
	}
	return out
}

// DMI returns (+DI, -DI, ADX).
func DMI(high, low, close []float64, period int) (pdi, mdi, adx []float64) {
	length := len(close)
	plusDM := make([]float64, length)
	minusDM := make([]float64, length)
	for i := 1; i < length; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}
	tr := trueRange(high, low, close)
	atr := wilderSmooth(tr, period)
	smPlus := wilderSmooth(plusDM, period)
	smMinus := wilderSmooth(minusDM, period)

	pdi = full(length)
	mdi = full(length)
	for i := period - 1; i < length; i++ {
		if atr[i] != 0 {
			pdi[i] = 100 * smPlus[i] / atr[i]
			mdi[i] = 100 * smMinus[i] / atr[i]
		}
	}
	dx := full(length)
	for i := period - 1; i < length; i++ {
		if !math.IsNaN(pdi[i]) && !math.IsNaN(mdi[i]) && pdi[i]+mdi[i] != 0 {
			dx[i] = 100 * math.Abs(pdi[i]-mdi[i]) / (pdi[i] + mdi[i])
		}
	}
	adx = MA(dx, period)
	return pdi, mdi, adx
}

// CrossOver reports, per index, whether a crossed above b strictly on
// this step: both previous and current values defined, previous a<=b,
// current a>b.
func CrossOver(a, b []float64) []bool {
	out := make([]bool, len(a))
	for i := 1; i < len(a); i++ {
		if defined4(a[i], b[i], a[i-1], b[i-1]) && a[i-1] <= b[i-1] && a[i] > b[i] {
			out[i] = true
		}
	}
	return out
}

// CrossUnder reports a crossing below b, matching original_source's extra
// strictly-decreasing guard on series1.
func CrossUnder(a, b []float64) []bool {
	out := make([]bool, len(a))
	for i := 1; i < len(a); i++ {
		if defined4(a[i], b[i], a[i-1], b[i-1]) && a[i-1] >= b[i-1] && a[i] <= b[i] && a[i] < a[i-1] {
			out[i] = true
		}
	}
	return out
}

func defined4(a, b, c, d float64) bool {
	return !math.IsNaN(a) && !math.IsNaN(b) && !math.IsNaN(c) && !math.IsNaN(d)
}

// RollingStd is the sample standard deviation (ddof=1) over a trailing
// window of n, used by strategies building extended feature sets.
func RollingStd(close []float64, n int) []float64 {
	out := full(len(close))
	if n <= 1 {
		return out
	}
	for i := n - 1; i < len(close); i++ {
		window := close[i-n+1 : i+1]
		var sum float64
		for _, v := range window {
			sum += v
		}
		mean := sum / float64(n)
		var sumSq float64
		for _, v := range window {
			sumSq += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(sumSq / float64(n-1))
	}
	return out
}

// ZScore is (close - MA(n)) / sample_std(n), carried from the teacher's
// indicators.go for strategies that want a normalized mean-reversion
// signal alongside the spec's named indicators.
func ZScore(close []float64, n int) []float64 {
	ma := MA(close, n)
	std := RollingStd(close, n)
	out := full(len(close))
	for i := range close {
		if !math.IsNaN(ma[i]) && !math.IsNaN(std[i]) && std[i] != 0 {
			out[i] = (close[i] - ma[i]) / std[i]
		}
	}
	return out
}
