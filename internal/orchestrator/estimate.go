package orchestrator

import (
	"github.com/BatmanBruc/bat-bot-video/internal/formats"
	"github.com/BatmanBruc/bat-bot-video/types"
)

// Both estimators are approximations built from empirical figures and
// over-estimate. Real output sizes vary with content.

const (
	preEncodeOverhead = 1.05
	qualityMargin     = 1.1
	mib               = 1024 * 1024
)

// EstimatePreEncode predicts the encoded size from the declared duration and
// the preset's assumed bitrate. Zero means the duration is unknown.
func EstimatePreEncode(durationSeconds float64, preset string) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	mbps := formats.PresetBitrateMbps(preset)
	return int64(durationSeconds * mbps * mib / 8 * preEncodeOverhead)
}

// EstimateForResolution predicts the encoded size at height from the
// measured duration and the per-resolution MB-per-minute table.
func EstimateForResolution(durationSeconds float64, height int) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	r, ok := formats.ResolutionByHeight(height)
	if !ok {
		return 0
	}
	return int64(durationSeconds / 60 * r.MBPerMinute * qualityMargin * mib)
}

type Route int

const (
	RouteDownload Route = iota
	RouteConfirm
	RouteReject
)

func (r Route) String() string {
	switch r {
	case RouteDownload:
		return "download"
	case RouteConfirm:
		return "confirm"
	case RouteReject:
		return "reject"
	default:
		return "unknown"
	}
}

// RouteBySize decides what the size check does with an estimate. Unknown
// estimates go straight to download.
func RouteBySize(estimate, limit int64, warnFactor float64) Route {
	if estimate <= 0 || estimate <= limit {
		return RouteDownload
	}
	if warnFactor < 1 {
		warnFactor = 1
	}
	if float64(estimate) <= float64(limit)*warnFactor {
		return RouteConfirm
	}
	return RouteReject
}

// unknownDurationHeights are offered when the duration could not be measured.
var unknownDurationHeights = []int{480, 360}

// QualityOptions lists the resolutions whose estimate fits under ceiling,
// largest first.
func QualityOptions(durationSeconds float64, ceiling int64) []types.QualityOption {
	if durationSeconds <= 0 {
		opts := make([]types.QualityOption, 0, len(unknownDurationHeights))
		for _, h := range unknownDurationHeights {
			opts = append(opts, types.QualityOption{Height: h})
		}
		return opts
	}
	var opts []types.QualityOption
	for _, r := range formats.Resolutions {
		est := EstimateForResolution(durationSeconds, r.Height)
		if est <= ceiling {
			opts = append(opts, types.QualityOption{Height: r.Height, EstimatedBytes: est})
		}
	}
	return opts
}
