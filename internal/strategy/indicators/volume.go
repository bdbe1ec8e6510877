package indicators

import (
	"context"
	"fmt"

	"tradepilot/internal/domain"
)

// VolumeRatioConfig holds configuration for the volume ratio indicator
type VolumeRatioConfig struct {
	IndicatorConfig
}

// VolumeRatio compares the latest volume against its recent average. Values
// above 1.0 indicate a volume surge, values below 1.0 a quiet market.
type VolumeRatio struct {
	BaseIndicator
}

// NewVolumeRatio creates a new volume ratio indicator instance
func NewVolumeRatio(config VolumeRatioConfig) *VolumeRatio {
	return &VolumeRatio{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
	}
}

// Name returns the name of the indicator
func (v *VolumeRatio) Name() string {
	return "VolumeRatio"
}

// Calculate computes the latest volume divided by the simple average volume
// over the configured period
func (v *VolumeRatio) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := v.Config.Period
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate volume ratio for period %d", len(klines), period)
	}

	var total float64
	for i := len(klines) - period; i < len(klines); i++ {
		total += klines[i].Volume
	}
	avg := total / float64(period)
	if avg == 0 {
		return 0, fmt.Errorf("average volume over period %d is zero", period)
	}

	return klines[len(klines)-1].Volume / avg, nil
}

// VWAP implements the Volume Weighted Average Price, anchored to the UTC
// calendar day of the latest kline.
type VWAP struct{}

// NewVWAP creates a new VWAP indicator instance
func NewVWAP() *VWAP {
	return &VWAP{}
}

// Name returns the name of the indicator
func (v *VWAP) Name() string {
	return "VWAP"
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (v *VWAP) RequiredDataPoints() int {
	return 1
}

// Calculate computes the volume weighted average of the typical price
// (high+low+close)/3 over klines belonging to the same UTC day as the latest
// kline
func (v *VWAP) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	if len(klines) == 0 {
		return 0, fmt.Errorf("no klines provided for VWAP calculation")
	}

	last := klines[len(klines)-1]
	anchorY, anchorM, anchorD := last.OpenTime.UTC().Date()

	var priceVolume, volume float64
	for _, k := range klines {
		y, m, d := k.OpenTime.UTC().Date()
		if y != anchorY || m != anchorM || d != anchorD {
			continue
		}
		typical := (k.High + k.Low + k.Close) / 3.0
		priceVolume += typical * k.Volume
		volume += k.Volume
	}

	if volume == 0 {
		return 0, fmt.Errorf("zero traded volume in VWAP window")
	}
	return priceVolume / volume, nil
}
