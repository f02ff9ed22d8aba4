package indicator

import (
	"fmt"
	"math"

	"hybridbot/internal/domain"
)

// Config holds the indicator periods and bounds. Read-only during a run.
type Config struct {
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	MACDFast      int     `yaml:"macd_fast"`
	MACDSlow      int     `yaml:"macd_slow"`
	MACDSignal    int     `yaml:"macd_signal"`
	BBPeriod      int     `yaml:"bb_period"`
	BBStdDev      float64 `yaml:"bb_stddev"`
	SMAShort      int     `yaml:"sma_short"`
	SMALong       int     `yaml:"sma_long"`
}

// DefaultConfig returns the standard parameter set.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		MACDFast:      12,
		MACDSlow:      26,
		MACDSignal:    9,
		BBPeriod:      20,
		BBStdDev:      2,
		SMAShort:      20,
		SMALong:       50,
	}
}

// MinHistory is the shortest close series Compute accepts.
func (c Config) MinHistory() int {
	n := c.SMALong
	if m := c.MACDSlow + c.MACDSignal + 1; m > n {
		n = m
	}
	if c.BBPeriod > n {
		n = c.BBPeriod
	}
	if m := c.RSIPeriod + 1; m > n {
		n = m
	}
	return n
}

// Compute derives the full indicator vector from an ordered close series
// (oldest first). Pure function. Returns domain.ErrInsufficientHistory when
// the series is shorter than MinHistory.
func Compute(closes []float64, cfg Config) (domain.IndicatorSet, error) {
	if len(closes) < cfg.MinHistory() {
		return domain.IndicatorSet{}, fmt.Errorf("%w: %d closes, need %d",
			domain.ErrInsufficientHistory, len(closes), cfg.MinHistory())
	}

	last := closes[len(closes)-1]
	set := domain.IndicatorSet{
		Oscillator: RSI(closes, cfg.RSIPeriod),
		SMAShort:   SMA(closes, cfg.SMAShort),
		SMALong:    SMA(closes, cfg.SMALong),
	}
	if set.SMALong != 0 {
		set.Trend = (set.SMAShort - set.SMALong) / set.SMALong
	}

	histNow, histPrev := macdHistogram(closes, cfg)
	set.MACDHist = histNow

	upper, lower := bollinger(closes, cfg.BBPeriod, cfg.BBStdDev)
	set.BandPosition = bandPosition(last, upper, lower)
	set.Volatility = ReturnVolatility(closes, cfg.BBPeriod)

	// Sub-signals in {-1, 0, +1}, averaged into the combined signal.
	var rsiSig, macdSig, bbSig float64
	switch {
	case set.Oscillator < cfg.RSIOversold:
		rsiSig = 1
	case set.Oscillator > cfg.RSIOverbought:
		rsiSig = -1
	}
	switch {
	case histNow > 0 && histPrev <= 0:
		macdSig = 1
	case histNow < 0 && histPrev >= 0:
		macdSig = -1
	}
	switch {
	case last <= lower:
		bbSig = 1
	case last >= upper:
		bbSig = -1
	}
	set.Combined = (rsiSig + macdSig + bbSig) / 3

	return set, nil
}

// SMA returns the simple moving average over the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMASeries computes the exponential moving average series, seeded with the
// SMA of the first period values. Entries before index period-1 are zero.
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out[period-1] = seed
	k := 2 / (float64(period) + 1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI computes Wilder's relative strength index over the last value.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50
	}
	gain, loss := 0.0, 0.0
	start := len(values) - period - 1
	for i := start + 1; i <= start+period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain, avgLoss := gain/float64(period), loss/float64(period)
	for i := start + period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ReturnVolatility is the standard deviation of simple returns over the last
// period bars.
func ReturnVolatility(values []float64, period int) float64 {
	if len(values) < period+1 {
		return 0
	}
	window := values[len(values)-period-1:]
	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		returns = append(returns, window[i]/window[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
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
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

// macdHistogram returns the last and previous MACD histogram values.
func macdHistogram(values []float64, cfg Config) (now, prev float64) {
	fast := EMASeries(values, cfg.MACDFast)
	slow := EMASeries(values, cfg.MACDSlow)

	macd := make([]float64, 0, len(values)-cfg.MACDSlow+1)
	for i := cfg.MACDSlow - 1; i < len(values); i++ {
		macd = append(macd, fast[i]-slow[i])
	}
	signal := EMASeries(macd, cfg.MACDSignal)
	if len(macd) < cfg.MACDSignal+1 {
		return 0, 0
	}
	now = macd[len(macd)-1] - signal[len(signal)-1]
	prev = macd[len(macd)-2] - signal[len(signal)-2]
	return now, prev
}

// bollinger returns the upper and lower band over the last period values.
func bollinger(values []float64, period int, stddev float64) (upper, lower float64) {
	mid := SMA(values, period)
	if mid == 0 {
		return 0, 0
	}
	window := values[len(values)-period:]
	variance := 0.0
	for _, v := range window {
		variance += (v - mid) * (v - mid)
	}
	sd := math.Sqrt(variance / float64(period))
	return mid + stddev*sd, mid - stddev*sd
}

// bandPosition maps price to [-1, +1] across the band range.
func bandPosition(price, upper, lower float64) float64 {
	if upper <= lower {
		return 0
	}
	pos := 2*(price-lower)/(upper-lower) - 1
	if pos > 1 {
		return 1
	}
	if pos < -1 {
		return -1
	}
	return pos
}
