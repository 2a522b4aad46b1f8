package metrics

import (
	"strings"
	"sync/atomic"

	"orderflow/config"
)

// Feature identifies an optional metric family that can be switched off in
// configuration to cut log and CloudWatch volume.
type Feature string

const (
	// FeatureUsedWeight gates exchange rate-limit weight metrics.
	FeatureUsedWeight Feature = "used_weight"
	// FeatureChannelSize gates channel buffer occupancy metrics.
	FeatureChannelSize Feature = "channel_size"
)

type featureState struct {
	usedWeight  bool
	channelSize bool
}

var features atomic.Pointer[featureState]

func init() {
	features.Store(&featureState{usedWeight: true, channelSize: true})
}

// Configure applies the metrics section of the configuration. It may be called
// again at any time; emitters observe the new state on their next emission.
func Configure(cfg config.MetricsConfig) {
	features.Store(&featureState{
		usedWeight:  cfg.UsedWeight,
		channelSize: cfg.ChannelSize,
	})
}

// IsFeatureEnabled reports whether the given metric family is enabled.
func IsFeatureEnabled(feature Feature) bool {
	state := features.Load()
	if state == nil {
		return true
	}
	switch feature {
	case FeatureUsedWeight:
		return state.usedWeight
	case FeatureChannelSize:
		return state.channelSize
	default:
		return true
	}
}

// metricFeature maps a metric name onto the feature that gates it. Metrics
// outside any gated family are always emitted.
func metricFeature(name string) (Feature, bool) {
	switch {
	case strings.HasPrefix(name, "used_weight"):
		return FeatureUsedWeight, true
	case strings.HasSuffix(name, "_buffer_length"):
		return FeatureChannelSize, true
	default:
		return "", false
	}
}
