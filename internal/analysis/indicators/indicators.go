// Package indicators computes the technical indicators used for signal scoring.
// Every indicator returns a slice aligned with its input; entries before the
// warm-up period are zero.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"paper-trader/internal/models"
)

var (
	// ErrInsufficientData is returned when there's not enough data for calculation.
	ErrInsufficientData = errors.New("insufficient data for calculation")
	// ErrInvalidPeriod is returned when the period is invalid.
	ErrInvalidPeriod = errors.New("invalid period")
)

// Indicator is a single-series technical indicator.
type Indicator interface {
	Name() string
	Period() int
	Calculate(candles []models.Candle) ([]float64, error)
}

// SMA is the simple moving average of closes.
type SMA struct{ period int }

// NewSMA creates a new SMA indicator.
func NewSMA(period int) *SMA { return &SMA{period: period} }

func (s *SMA) Name() string { return fmt.Sprintf("SMA_%d", s.period) }
func (s *SMA) Period() int  { return s.period }

func (s *SMA) Calculate(candles []models.Candle) ([]float64, error) {
	if err := check(len(candles), s.period, s.period); err != nil {
		return nil, err
	}
	return rollingMean(closePrices(candles), s.period), nil
}

// EMA is the exponential moving average of closes, seeded with the SMA.
type EMA struct{ period int }

// NewEMA creates a new EMA indicator.
func NewEMA(period int) *EMA { return &EMA{period: period} }

func (e *EMA) Name() string { return fmt.Sprintf("EMA_%d", e.period) }
func (e *EMA) Period() int  { return e.period }

func (e *EMA) Calculate(candles []models.Candle) ([]float64, error) {
	if err := check(len(candles), e.period, e.period); err != nil {
		return nil, err
	}
	return CalculateEMA(closePrices(candles), e.period), nil
}

// CalculateEMA calculates an EMA over raw values. It returns nil when values
// are shorter than period.
func CalculateEMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	result := make([]float64, len(values))
	k := 2.0 / float64(period+1)
	result[period-1] = mean(values[:period])
	for i := period; i < len(values); i++ {
		result[i] = (values[i]-result[i-1])*k + result[i-1]
	}
	return result
}

// RSI is Wilder's relative strength index, bounded to [0, 100].
type RSI struct{ period int }

// NewRSI creates a new RSI indicator.
func NewRSI(period int) *RSI { return &RSI{period: period} }

func (r *RSI) Name() string { return fmt.Sprintf("RSI_%d", r.period) }
func (r *RSI) Period() int  { return r.period }

func (r *RSI) Calculate(candles []models.Candle) ([]float64, error) {
	if err := check(len(candles), r.period, r.period+1); err != nil {
		return nil, err
	}

	closes := closePrices(candles)
	result := make([]float64, len(closes))
	var avgGain, avgLoss float64
	for i := 1; i <= r.period; i++ {
		g, l := gainLoss(closes[i] - closes[i-1])
		avgGain += g
		avgLoss += l
	}
	p := float64(r.period)
	avgGain /= p
	avgLoss /= p
	result[r.period] = rsiValue(avgGain, avgLoss)

	for i := r.period + 1; i < len(closes); i++ {
		g, l := gainLoss(closes[i] - closes[i-1])
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		result[i] = rsiValue(avgGain, avgLoss)
	}
	return result, nil
}

func gainLoss(change float64) (float64, float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// ATR is Wilder's average true range.
type ATR struct{ period int }

// NewATR creates a new ATR indicator.
func NewATR(period int) *ATR { return &ATR{period: period} }

func (a *ATR) Name() string { return fmt.Sprintf("ATR_%d", a.period) }
func (a *ATR) Period() int  { return a.period }

func (a *ATR) Calculate(candles []models.Candle) ([]float64, error) {
	if err := check(len(candles), a.period, a.period+1); err != nil {
		return nil, err
	}

	tr := make([]float64, len(candles))
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	result := make([]float64, len(candles))
	p := float64(a.period)
	result[a.period-1] = mean(tr[:a.period])
	for i := a.period; i < len(candles); i++ {
		result[i] = (result[i-1]*(p-1) + tr[i]) / p
	}
	return result, nil
}

// VolumeSMA is the simple moving average of traded volume.
type VolumeSMA struct{ period int }

// NewVolumeSMA creates a new volume average indicator.
func NewVolumeSMA(period int) *VolumeSMA { return &VolumeSMA{period: period} }

func (v *VolumeSMA) Name() string { return fmt.Sprintf("VOL_SMA_%d", v.period) }
func (v *VolumeSMA) Period() int  { return v.period }

func (v *VolumeSMA) Calculate(candles []models.Candle) ([]float64, error) {
	if err := check(len(candles), v.period, v.period); err != nil {
		return nil, err
	}
	vols := make([]float64, len(candles))
	for i, c := range candles {
		vols[i] = float64(c.Volume)
	}
	return rollingMean(vols, v.period), nil
}

// Last returns the final value of a series, or 0 for an empty one.
func Last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// Prev returns the value before the last, or 0 when absent.
func Prev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return values[len(values)-2]
}

func check(n, period, need int) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}
	if n < need {
		return ErrInsufficientData
	}
	return nil
}

func rollingMean(values []float64, period int) []float64 {
	result := make([]float64, len(values))
	var window float64
	for i, v := range values {
		window += v
		if i >= period {
			window -= values[i-period]
		}
		if i >= period-1 {
			result[i] = window / float64(period)
		}
	}
	return result
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func trueRange(current, previous models.Candle) float64 {
	return math.Max(current.High-current.Low,
		math.Max(math.Abs(current.High-previous.Close), math.Abs(current.Low-previous.Close)))
}

func closePrices(candles []models.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}
