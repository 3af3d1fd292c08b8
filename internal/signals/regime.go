package signals

import (
	"math"

	"paper-trader/internal/analysis/indicators"
	"paper-trader/internal/models"
)

// Breadth thresholds on the fraction of symbols closing above their EMA21.
const (
	BullBreadth = 0.6
	BearBreadth = 0.4

	regimeEMAPeriod = 21
)

// ClassifyRegime labels the market from breadth in [0, 1]. With nothing
// sampled the market is treated as sideways.
func ClassifyRegime(breadth float64, sampled int) models.Regime {
	if sampled == 0 {
		return models.Regime{Label: models.RegimeSideways, Confidence: 0, Breadth: 0, Sampled: 0}
	}

	label := models.RegimeSideways
	switch {
	case breadth >= BullBreadth:
		label = models.RegimeBull
	case breadth <= BearBreadth:
		label = models.RegimeBear
	}

	// 50 at the sideways midpoint, 100 at unanimous breadth.
	confidence := 50 + math.Abs(breadth-0.5)*100
	return models.Regime{
		Label:      label,
		Confidence: math.Round(confidence*100) / 100,
		Breadth:    breadth,
		Sampled:    sampled,
	}
}

// DetectRegime computes breadth over the candle series and classifies it.
// Series too short for an EMA21 are not sampled.
func DetectRegime(series map[string][]models.Candle) models.Regime {
	var above, sampled int
	for _, candles := range series {
		ema := indicators.CalculateEMA(closes(candles), regimeEMAPeriod)
		if ema == nil {
			continue
		}
		sampled++
		if candles[len(candles)-1].Close > indicators.Last(ema) {
			above++
		}
	}
	if sampled == 0 {
		return ClassifyRegime(0, 0)
	}
	return ClassifyRegime(float64(above)/float64(sampled), sampled)
}

func closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
