package strategy

import "math"

// Indicator series are aligned with the input close series: output[i] is the
// indicator value at bar i, and entries before the warmup period are NaN.

// SMA calculates the Simple Moving Average series
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA calculates the Exponential Moving Average series with smoothing factor
// 2/(period+1), seeded with the first value
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}

	ema := values[0]
	out[0] = ema

	multiplier := 2.0 / float64(period+1)
	for i := 1; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out[i] = ema
	}
	return out
}

// RSI calculates the Relative Strength Index series from the mean gain and
// mean loss over the trailing window. When the average loss is zero the RSI
// is exactly 100.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	for i := period; i < len(values); i++ {
		gainSum := 0.0
		lossSum := 0.0
		for j := i - period + 1; j <= i; j++ {
			change := values[j] - values[j-1]
			if change > 0 {
				gainSum += change
			} else {
				lossSum += -change
			}
		}
		out[i] = rsiValue(gainSum/float64(period), lossSum/float64(period))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// MACD calculates the MACD line, signal line and histogram series. With the
// first-value EMA seed all three are defined from the first bar.
func MACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) (macd, signal, histogram []float64) {
	macd = nanSlice(len(values))
	histogram = nanSlice(len(values))

	fast := EMA(values, fastPeriod)
	slow := EMA(values, slowPeriod)
	for i := range values {
		macd[i] = fast[i] - slow[i]
	}

	signal = EMA(macd, signalPeriod)

	for i := range values {
		if !math.IsNaN(macd[i]) && !math.IsNaN(signal[i]) {
			histogram[i] = macd[i] - signal[i]
		}
	}
	return macd, signal, histogram
}

// BollingerBands calculates the upper, middle and lower band series
func BollingerBands(values []float64, period int, stdDevMult float64) (upper, middle, lower []float64) {
	middle = SMA(values, period)
	upper = nanSlice(len(values))
	lower = nanSlice(len(values))
	if period <= 1 || len(values) < period {
		return upper, middle, lower
	}

	for i := period - 1; i < len(values); i++ {
		mean := middle[i]
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}
		// Sample standard deviation over the window
		std := math.Sqrt(variance / float64(period-1))
		upper[i] = mean + stdDevMult*std
		lower[i] = mean - stdDevMult*std
	}
	return upper, middle, lower
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// lastValue returns the final entry of a series, NaN when empty
func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
