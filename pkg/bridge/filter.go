package bridge

import (
	"time"

	"github.com/wujilabs/go-wuji/pkg/hand"
)

// maxFilterDT bounds the effect of scheduling jitter or long pauses on the
// per-tick speed budget.
const maxFilterDT = 200 * time.Millisecond

// MotionFilter rate-limits joint targets. It keeps the previously applied
// pose and allows each joint to move at most maxSpeed*dt per application.
// Smoothing proper is assumed to happen hardware-side; in normal operation
// the limiter is a backstop, while during recovery the much lower speed
// matters because current limits are reduced and abrupt motion risks
// re-jamming.
type MotionFilter struct {
	normalSpeed   float64 // rad/s, 0 disables limiting
	recoverySpeed float64

	last    hand.Pose
	hasPrev bool
	lastAt  time.Time
}

// NewMotionFilter creates a filter with the given speed limits (rad/s).
func NewMotionFilter(normalSpeed, recoverySpeed float64) *MotionFilter {
	return &MotionFilter{normalSpeed: normalSpeed, recoverySpeed: recoverySpeed}
}

// Seed replaces the previous applied pose, e.g. after (re)calibration.
func (m *MotionFilter) Seed(pose hand.Pose, now time.Time) {
	m.last = pose
	m.hasPrev = true
	m.lastAt = now
}

// Last returns the previously applied pose, if any.
func (m *MotionFilter) Last() (hand.Pose, bool) {
	return m.last, m.hasPrev
}

// Apply clamps desired to [min, max], rate-limits the per-joint delta
// against the previous applied pose, and records the result.
func (m *MotionFilter) Apply(desired, min, max hand.Pose, recovering bool, now time.Time) hand.Pose {
	tgt := desired.Clamp(min, max)

	dt := now.Sub(m.lastAt)
	if dt < 0 {
		dt = 0
	}
	if dt > maxFilterDT {
		dt = maxFilterDT
	}

	maxSpeed := m.normalSpeed
	if recovering {
		maxSpeed = m.recoverySpeed
	}

	if m.hasPrev && maxSpeed > 0 && dt > 0 {
		maxStep := maxSpeed * dt.Seconds()
		for f := 0; f < hand.Fingers; f++ {
			for j := 0; j < hand.Joints; j++ {
				delta := tgt[f][j] - m.last[f][j]
				if delta > maxStep {
					delta = maxStep
				}
				if delta < -maxStep {
					delta = -maxStep
				}
				tgt[f][j] = m.last[f][j] + delta
			}
		}
	}

	m.last = tgt
	m.hasPrev = true
	m.lastAt = now
	return tgt
}
