package bridge

import "github.com/wujilabs/go-wuji/pkg/hand"

// Pose polarity modes. "auto" picks, per joint, whichever limit is closer to
// the actual position at calibration time as OPEN (the hand boots into a
// stable open pose); CLOSED in auto mode is the opposite limit.
const (
	PoseModeLower = "lower"
	PoseModeUpper = "upper"
	PoseModeAuto  = "auto"
)

// Weights scale how much each joint participates in a finger's curl.
// Mutated only by configuration load, read-only afterwards.
type Weights [hand.Fingers][hand.Joints]float64

// DefaultWeights keeps joint 4 at open (weight 0) until the exact mechanism
// for that joint is known.
func DefaultWeights() Weights {
	var w Weights
	for f := 0; f < hand.Fingers; f++ {
		w[f] = [hand.Joints]float64{0.70, 1.00, 0.80, 0.00}
	}
	w[hand.Thumb] = [hand.Joints]float64{1.00, 0.90, 0.60, 0.00}
	return w
}

// Calibration is derived from hardware-reported joint limits once at connect
// time (or from the simulator's default table) and is read-only afterwards.
// Invariant: Min <= Open, Closed <= Max for every joint.
type Calibration struct {
	Lower  hand.Pose
	Upper  hand.Pose
	Min    hand.Pose
	Max    hand.Pose
	Open   hand.Pose
	Closed hand.Pose

	valid bool
}

// Valid reports whether the calibration has been derived. Mapping and
// filtering are preconditioned on it.
func (c Calibration) Valid() bool { return c.valid }

// DeriveCalibration computes the calibration from joint limits. actual may
// be nil; auto open mode then falls back to the lower limit.
func DeriveCalibration(lower, upper hand.Pose, openMode, closedMode string, actual *hand.Pose) Calibration {
	c := Calibration{Lower: lower, Upper: upper, valid: true}

	for f := 0; f < hand.Fingers; f++ {
		for j := 0; j < hand.Joints; j++ {
			lo, hi := lower[f][j], upper[f][j]
			if lo > hi {
				lo, hi = hi, lo
			}
			c.Min[f][j], c.Max[f][j] = lo, hi

			openIsLower := true
			switch openMode {
			case PoseModeUpper:
				openIsLower = false
			case PoseModeAuto:
				if actual != nil {
					a := actual[f][j]
					openIsLower = abs(a-lower[f][j]) <= abs(a-upper[f][j])
				}
			}
			if openIsLower {
				c.Open[f][j] = lower[f][j]
			} else {
				c.Open[f][j] = upper[f][j]
			}

			switch closedMode {
			case PoseModeLower:
				c.Closed[f][j] = lower[f][j]
			case PoseModeUpper:
				c.Closed[f][j] = upper[f][j]
			default:
				// auto: opposite limit from open, per joint
				if openIsLower {
					c.Closed[f][j] = upper[f][j]
				} else {
					c.Closed[f][j] = lower[f][j]
				}
			}
		}
	}
	return c
}

// SimCalibration is the fallback used when no hardware has ever connected:
// the simulator's limit table with open at the lower limits.
func SimCalibration() Calibration {
	return DeriveCalibration(hand.DefaultLower, hand.DefaultUpper, PoseModeLower, PoseModeUpper, nil)
}

// SafeOpen returns an OPEN target pulled margin (0..0.5) towards CLOSED so
// recovery never drives joints into hard stops, clamped to [Min, Max].
// An out-of-range margin falls back to 0.1.
func (c Calibration) SafeOpen(margin float64) hand.Pose {
	if !c.valid {
		return hand.Pose{}
	}
	if margin < 0 || margin > 0.5 {
		margin = 0.1
	}
	var tgt hand.Pose
	for f := 0; f < hand.Fingers; f++ {
		for j := 0; j < hand.Joints; j++ {
			tgt[f][j] = c.Open[f][j] + margin*(c.Closed[f][j]-c.Open[f][j])
		}
	}
	return tgt.Clamp(c.Min, c.Max)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
