// Package compute implements the engine's ComputeKernel: pure, restartable
// functions over column-oriented price/IV series. None of these functions
// hold state between calls — the engine calls them fresh on every loop
// iteration, matching the "coroutine loop" design note's ban on hidden
// generator state.
package compute

import "math"

// undefined marks a series element whose rolling window is not yet filled.
// NaN is used rather than a zero value so downstream SMA/RSI comparisons
// cannot mistake "undefined" for a real zero return.
var undefined = math.NaN()

func isUndefined(v float64) bool { return math.IsNaN(v) }

// PctChange returns x[t]/x[t-window] - 1 for each t ≥ window; the leading
// window elements are undefined.
func PctChange(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	for i := range out {
		if i < window || series[i-window] == 0 {
			out[i] = undefined
			continue
		}
		out[i] = series[i]/series[i-window] - 1
	}
	return out
}

// dailyReturns computes PctChange(series, 1) and drops the leading
// undefined element, matching `pd.DataFrame(values).pct_change().dropna()`.
func dailyReturns(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			out[i-1] = 0
			continue
		}
		out[i-1] = series[i]/series[i-1] - 1
	}
	return out
}

func lastWindow(series []float64, window int) []float64 {
	if window <= 0 || window > len(series) {
		return series
	}
	return series[len(series)-window:]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return undefined
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func covariance(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return undefined
	}
	ma, mb := mean(a), mean(b)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += (a[i] - ma) * (b[i] - mb)
	}
	return sum / float64(n)
}

// Beta computes, for each code in series (the market code itself included,
// which comes out as 1), the covariance of its daily returns with the market
// code's daily returns divided by the market's own variance, over the most
// recent window rows.
func Beta(series map[string][]float64, marketCode string, window int) map[string]float64 {
	market, ok := series[marketCode]
	if !ok {
		return map[string]float64{}
	}
	marketReturns := lastWindow(dailyReturns(market), window)
	marketVar := covariance(marketReturns, marketReturns)

	out := make(map[string]float64, len(series))
	for code, values := range series {
		returns := lastWindow(dailyReturns(values), window)
		n := len(returns)
		if n > len(marketReturns) {
			n = len(marketReturns)
		}
		cov := covariance(returns[len(returns)-n:], marketReturns[len(marketReturns)-n:])
		if marketVar == 0 || isUndefined(marketVar) {
			out[code] = undefined
			continue
		}
		out[code] = cov / marketVar
	}
	return out
}

func stddev(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return undefined
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return undefined
	}
	sa, sb := stddev(a), stddev(b)
	if sa == 0 || sb == 0 {
		return undefined
	}
	return covariance(a, b) / (sa * sb)
}

// Correlation computes the Pearson correlation of each code's daily returns
// with the market code's, over the most recent window rows.
func Correlation(series map[string][]float64, marketCode string, window int) map[string]float64 {
	market, ok := series[marketCode]
	if !ok {
		return map[string]float64{}
	}
	marketReturns := lastWindow(dailyReturns(market), window)

	out := make(map[string]float64, len(series))
	for code, values := range series {
		returns := lastWindow(dailyReturns(values), window)
		n := len(returns)
		if n > len(marketReturns) {
			n = len(marketReturns)
		}
		out[code] = pearson(returns[len(returns)-n:], marketReturns[len(marketReturns)-n:])
	}
	return out
}

// Stdev returns the population standard deviation of percentage returns
// over the trailing window.
func Stdev(series []float64, window int) float64 {
	returns := lastWindow(dailyReturns(series), window)
	return stddev(returns)
}

// RSI computes Wilder-style RSI using separate up/down rolling means. The
// leading window elements are undefined.
func RSI(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	for i := range out {
		out[i] = undefined
	}
	if len(series) <= window {
		return out
	}

	gains := make([]float64, len(series))
	losses := make([]float64, len(series))
	for i := 1; i < len(series); i++ {
		delta := series[i] - series[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	avgGain := mean(gains[1 : window+1])
	avgLoss := mean(losses[1 : window+1])
	out[window] = rsiFromAverages(avgGain, avgLoss)

	for i := window + 1; i < len(series); i++ {
		avgGain = (avgGain*float64(window-1) + gains[i]) / float64(window)
		avgLoss = (avgLoss*float64(window-1) + losses[i]) / float64(window)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// SMA returns the rolling arithmetic mean over window; the leading
// window-1 elements are undefined.
func SMA(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	sum := 0.0
	for i, v := range series {
		sum += v
		if i >= window {
			sum -= series[i-window]
		}
		if i < window-1 {
			out[i] = undefined
		} else {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// SMASpeed is the day-over-day PctChange of an SMA series: how fast the
// moving average itself is moving, not the price it's averaging.
func SMASpeed(sma []float64) []float64 {
	return PctChange(sma, 1)
}

// SMASpeedDiff is the first difference of a speed series — the SMA's
// acceleration. The leading element and any element next to an undefined
// speed are themselves undefined.
func SMASpeedDiff(speed []float64) []float64 {
	out := make([]float64, len(speed))
	for i := range out {
		if i == 0 || isUndefined(speed[i]) || isUndefined(speed[i-1]) {
			out[i] = undefined
			continue
		}
		out[i] = speed[i] - speed[i-1]
	}
	return out
}

// IVRank computes (iv - min(lowIVHistory)) / (max(highIVHistory) - min(lowIVHistory)).
func IVRank(lowIVHistory, highIVHistory []float64, iv float64) float64 {
	if len(lowIVHistory) == 0 || len(highIVHistory) == 0 {
		return undefined
	}
	lo := minOf(lowIVHistory)
	hi := maxOf(highIVHistory)
	if hi == lo {
		return undefined
	}
	return (iv - lo) / (hi - lo)
}

// IVPercentile computes count(lowIVHistory < iv) / (historicalYears*252).
func IVPercentile(lowIVHistory []float64, iv float64, historicalYears int) float64 {
	return countBelow(lowIVHistory, iv) / float64(historicalYears*252)
}

// PricePercentile computes count(lowPriceHistory < price) / (historicalYears*252).
func PricePercentile(lowPriceHistory []float64, price float64, historicalYears int) float64 {
	return countBelow(lowPriceHistory, price) / float64(historicalYears*252)
}

func countBelow(xs []float64, v float64) float64 {
	n := 0.0
	for _, x := range xs {
		if x < v {
			n++
		}
	}
	return n
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// Direction mirrors types.Direction without importing pkg/types, keeping
// ComputeKernel dependency-free and purely numeric; the engine translates
// between the two.
type Direction string

const (
	DirUndefined Direction = ""
	DirBullish   Direction = "Bullish"
	DirBearish   Direction = "Bearish"
)

// DirectionalForecast implements the SMA-crossover variant: per element, if
// either input is undefined the output is undefined; otherwise Bullish when
// fast ≥ slow, else Bearish.
func DirectionalForecast(fastSMA, slowSMA []float64) []Direction {
	n := len(fastSMA)
	if len(slowSMA) < n {
		n = len(slowSMA)
	}
	out := make([]Direction, n)
	for i := 0; i < n; i++ {
		if isUndefined(fastSMA[i]) || isUndefined(slowSMA[i]) {
			out[i] = DirUndefined
			continue
		}
		if fastSMA[i] >= slowSMA[i] {
			out[i] = DirBullish
		} else {
			out[i] = DirBearish
		}
	}
	return out
}
