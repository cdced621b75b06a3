package bridge

import (
	"math"
	"testing"
	"time"

	"github.com/wujilabs/go-wuji/pkg/hand"
)

func uniformPose(v float64) hand.Pose {
	var p hand.Pose
	for f := 0; f < hand.Fingers; f++ {
		for j := 0; j < hand.Joints; j++ {
			p[f][j] = v
		}
	}
	return p
}

func TestMotionFilter_NormalSpeedBound(t *testing.T) {
	f := NewMotionFilter(2.0, 0.12)
	t0 := time.Unix(1000, 0)
	f.Seed(uniformPose(0), t0)

	min := uniformPose(-10)
	max := uniformPose(10)

	// 50ms step at 2 rad/s allows at most 0.1 rad of travel.
	got := f.Apply(uniformPose(5), min, max, false, t0.Add(50*time.Millisecond))
	for fi := 0; fi < hand.Fingers; fi++ {
		for j := 0; j < hand.Joints; j++ {
			if math.Abs(got[fi][j]-0.1) > floatTolerance {
				t.Fatalf("finger %d joint %d: got %v, want 0.1", fi, j, got[fi][j])
			}
		}
	}
}

func TestMotionFilter_RecoverySpeedBound(t *testing.T) {
	f := NewMotionFilter(2.0, 0.12)
	t0 := time.Unix(1000, 0)
	f.Seed(uniformPose(0), t0)

	min := uniformPose(-10)
	max := uniformPose(10)

	steps := []time.Duration{
		10 * time.Millisecond,
		33 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
	}

	prev := uniformPose(0)
	now := t0
	for _, dt := range steps {
		now = now.Add(dt)
		got := f.Apply(uniformPose(5), min, max, true, now)
		maxStep := 0.12 * dt.Seconds()
		for fi := 0; fi < hand.Fingers; fi++ {
			for j := 0; j < hand.Joints; j++ {
				if d := math.Abs(got[fi][j] - prev[fi][j]); d > maxStep+floatTolerance {
					t.Fatalf("dt=%v finger %d joint %d: step %v exceeds %v", dt, fi, j, d, maxStep)
				}
			}
		}
		prev = got
	}
}

func TestMotionFilter_DTClamped(t *testing.T) {
	f := NewMotionFilter(2.0, 0.12)
	t0 := time.Unix(1000, 0)
	f.Seed(uniformPose(0), t0)

	min := uniformPose(-10)
	max := uniformPose(10)

	// A 5s stall must not buy 10 rad of travel: dt is clamped to 200ms,
	// so 2 rad/s allows at most 0.4 rad.
	got := f.Apply(uniformPose(5), min, max, false, t0.Add(5*time.Second))
	for fi := 0; fi < hand.Fingers; fi++ {
		for j := 0; j < hand.Joints; j++ {
			if got[fi][j] > 0.4+floatTolerance {
				t.Fatalf("finger %d joint %d: got %v, want <= 0.4", fi, j, got[fi][j])
			}
		}
	}
}

func TestMotionFilter_ZeroSpeedPassesClampedDesired(t *testing.T) {
	f := NewMotionFilter(0, 0)
	t0 := time.Unix(1000, 0)
	f.Seed(uniformPose(0), t0)

	min := uniformPose(0)
	max := uniformPose(1)

	got := f.Apply(uniformPose(5), min, max, false, t0.Add(time.Millisecond))
	want := uniformPose(1) // clamped to max, no rate limiting
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMotionFilter_FirstApplyUnlimited(t *testing.T) {
	f := NewMotionFilter(2.0, 0.12)
	t0 := time.Unix(1000, 0)

	min := uniformPose(-10)
	max := uniformPose(10)

	// No previous pose: the first application lands on the target directly.
	got := f.Apply(uniformPose(3), min, max, false, t0)
	if got != uniformPose(3) {
		t.Fatalf("got %v, want unclamped target", got)
	}

	last, ok := f.Last()
	if !ok || last != uniformPose(3) {
		t.Fatalf("Last() = %v, %v; want recorded target", last, ok)
	}
}

func TestMotionFilter_ConvergesToTarget(t *testing.T) {
	f := NewMotionFilter(2.0, 0.12)
	t0 := time.Unix(1000, 0)
	f.Seed(uniformPose(0), t0)

	min := uniformPose(-10)
	max := uniformPose(10)

	now := t0
	var got hand.Pose
	for i := 0; i < 100; i++ {
		now = now.Add(33 * time.Millisecond)
		got = f.Apply(uniformPose(1), min, max, false, now)
	}
	if math.Abs(got[0][0]-1) > floatTolerance {
		t.Fatalf("did not converge: got %v, want 1", got[0][0])
	}
}
