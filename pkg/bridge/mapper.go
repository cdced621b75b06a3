package bridge

import (
	"errors"

	"github.com/wujilabs/go-wuji/pkg/hand"
)

// ErrNotCalibrated is returned when mapping is attempted before joint limits
// have been read. The caller must treat the hand as not ready; it is not a
// process-fatal condition.
var ErrNotCalibrated = errors.New("hand not calibrated (joint limits missing)")

// MapExtensions converts per-finger extension percentages (0=closed,
// 100=open) into a joint target pose.
//
// Missing fingers default to 0 (closed intent) and out-of-range values are
// clamped, so a partial or sloppy tracking frame can never produce an
// out-of-span target. The result lies within the open/closed span per joint;
// clamping to the hardware limits is the motion filter's job.
func MapExtensions(cal Calibration, weights Weights, maxCurl float64, extensions map[string]float64) (hand.Pose, error) {
	if !cal.Valid() {
		return hand.Pose{}, ErrNotCalibrated
	}
	if maxCurl < 0 || maxCurl > 1 {
		maxCurl = 1
	}

	tgt := cal.Open
	for name, f := range hand.FingerNames {
		ext := extensions[name] // missing => 0 => closed intent
		if ext < 0 {
			ext = 0
		}
		if ext > 100 {
			ext = 100
		}

		curl := 1 - ext/100 // 0=open, 1=closed
		if curl > maxCurl {
			curl = maxCurl
		}

		for j := 0; j < hand.Joints; j++ {
			tgt[f][j] = cal.Open[f][j] + curl*weights[f][j]*(cal.Closed[f][j]-cal.Open[f][j])
		}
	}
	return tgt, nil
}
