package bridge

import (
	"testing"

	"github.com/wujilabs/go-wuji/pkg/hand"
)

func TestDeriveCalibration_Modes(t *testing.T) {
	lower := hand.DefaultLower
	upper := hand.DefaultUpper

	tests := []struct {
		name       string
		openMode   string
		closedMode string
		wantOpen   hand.Pose
		wantClosed hand.Pose
	}{
		{"lower open upper closed", PoseModeLower, PoseModeUpper, lower, upper},
		{"upper open lower closed", PoseModeUpper, PoseModeLower, upper, lower},
		{"auto closed opposes open", PoseModeLower, PoseModeAuto, lower, upper},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DeriveCalibration(lower, upper, tt.openMode, tt.closedMode, nil)
			if !c.Valid() {
				t.Fatal("calibration not valid")
			}
			if c.Open != tt.wantOpen {
				t.Errorf("Open = %v, want %v", c.Open, tt.wantOpen)
			}
			if c.Closed != tt.wantClosed {
				t.Errorf("Closed = %v, want %v", c.Closed, tt.wantClosed)
			}
		})
	}
}

func TestDeriveCalibration_AutoPicksNearestLimit(t *testing.T) {
	lower := hand.DefaultLower
	upper := hand.DefaultUpper

	// Boot pose near the upper limits: auto open must pick upper.
	actual := upper
	actual[hand.Index][0] -= 0.05

	c := DeriveCalibration(lower, upper, PoseModeAuto, PoseModeAuto, &actual)
	for f := 0; f < hand.Fingers; f++ {
		for j := 0; j < hand.Joints; j++ {
			if upper[f][j] == lower[f][j] {
				continue // zero-span joints are ambiguous, either limit is fine
			}
			if c.Open[f][j] != upper[f][j] {
				t.Errorf("finger %d joint %d: Open = %v, want upper %v", f, j, c.Open[f][j], upper[f][j])
			}
			if c.Closed[f][j] != lower[f][j] {
				t.Errorf("finger %d joint %d: Closed = %v, want lower %v", f, j, c.Closed[f][j], lower[f][j])
			}
		}
	}
}

func TestDeriveCalibration_SwappedLimits(t *testing.T) {
	// Firmware reporting inverted limit polarity must still produce
	// Min <= Max for every joint.
	c := DeriveCalibration(hand.DefaultUpper, hand.DefaultLower, PoseModeLower, PoseModeUpper, nil)
	for f := 0; f < hand.Fingers; f++ {
		for j := 0; j < hand.Joints; j++ {
			if c.Min[f][j] > c.Max[f][j] {
				t.Errorf("finger %d joint %d: Min %v > Max %v", f, j, c.Min[f][j], c.Max[f][j])
			}
		}
	}
}

func TestDeriveCalibration_BoundsInvariant(t *testing.T) {
	for _, mode := range []string{PoseModeLower, PoseModeUpper, PoseModeAuto} {
		c := DeriveCalibration(hand.DefaultLower, hand.DefaultUpper, mode, mode, nil)
		for f := 0; f < hand.Fingers; f++ {
			for j := 0; j < hand.Joints; j++ {
				if c.Open[f][j] < c.Min[f][j] || c.Open[f][j] > c.Max[f][j] {
					t.Errorf("mode %s finger %d joint %d: Open %v outside [%v, %v]",
						mode, f, j, c.Open[f][j], c.Min[f][j], c.Max[f][j])
				}
				if c.Closed[f][j] < c.Min[f][j] || c.Closed[f][j] > c.Max[f][j] {
					t.Errorf("mode %s finger %d joint %d: Closed %v outside [%v, %v]",
						mode, f, j, c.Closed[f][j], c.Min[f][j], c.Max[f][j])
				}
			}
		}
	}
}

func TestSafeOpen(t *testing.T) {
	c := SimCalibration()

	tgt := c.SafeOpen(0.10)
	for f := 0; f < hand.Fingers; f++ {
		for j := 0; j < hand.Joints; j++ {
			want := c.Open[f][j] + 0.10*(c.Closed[f][j]-c.Open[f][j])
			if !floatEquals(tgt[f][j], want) {
				t.Errorf("finger %d joint %d: got %v, want %v", f, j, tgt[f][j], want)
			}
		}
	}
}

func TestSafeOpen_InvalidMarginFallsBack(t *testing.T) {
	c := SimCalibration()
	want := c.SafeOpen(0.10)

	for _, margin := range []float64{-0.2, 0.7, 3.0} {
		if got := c.SafeOpen(margin); got != want {
			t.Errorf("SafeOpen(%v) = %v, want fallback %v", margin, got, want)
		}
	}
}

func TestSafeOpen_InvalidCalibrationIsZero(t *testing.T) {
	var c Calibration
	if got := c.SafeOpen(0.10); got != (hand.Pose{}) {
		t.Errorf("SafeOpen on zero calibration = %v, want zero pose", got)
	}
}
