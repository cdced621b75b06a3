// Package hand provides interfaces and implementations for the Wuji
// dexterous hand.
//
// The package follows the Interface Segregation Principle (ISP) by defining
// small, focused interfaces that can be composed as needed. Consumers should
// depend only on the interfaces they actually use; the bridge control loop
// takes the composite Hand.
package hand

import "time"

// Physical layout of the hand: 5 fingers, 4 joints each.
const (
	Fingers = 5
	Joints  = 4
)

// Finger indices as reported by the firmware.
const (
	Thumb = iota
	Index
	Middle
	Ring
	Pinky
)

// FingerNames maps wire-protocol finger names to their firmware index.
var FingerNames = map[string]int{
	"thumb":  Thumb,
	"index":  Index,
	"middle": Middle,
	"ring":   Ring,
	"pinky":  Pinky,
}

// Pose is a full set of joint angles (radians), one row per finger.
type Pose [Fingers][Joints]float64

// ErrorCodes holds the per-joint error register values. Zero means healthy.
type ErrorCodes [Fingers][Joints]uint16

// Any reports whether any joint has a non-zero error code latched.
func (e ErrorCodes) Any() bool {
	for f := 0; f < Fingers; f++ {
		for j := 0; j < Joints; j++ {
			if e[f][j] != 0 {
				return true
			}
		}
	}
	return false
}

// Clamp returns p with every joint restricted to [lo, hi] componentwise.
func (p Pose) Clamp(lo, hi Pose) Pose {
	out := p
	for f := 0; f < Fingers; f++ {
		for j := 0; j < Joints; j++ {
			if out[f][j] < lo[f][j] {
				out[f][j] = lo[f][j]
			}
			if out[f][j] > hi[f][j] {
				out[f][j] = hi[f][j]
			}
		}
	}
	return out
}

// MaxAbsDiff returns the largest per-joint absolute difference between a and b.
func MaxAbsDiff(a, b Pose) float64 {
	var worst float64
	for f := 0; f < Fingers; f++ {
		for j := 0; j < Joints; j++ {
			d := a[f][j] - b[f][j]
			if d < 0 {
				d = -d
			}
			if d > worst {
				worst = d
			}
		}
	}
	return worst
}

// FingerMaxAbsDiff returns the largest per-joint absolute difference between
// a and b for a single finger row.
func FingerMaxAbsDiff(a, b Pose, finger int) float64 {
	var worst float64
	for j := 0; j < Joints; j++ {
		d := a[finger][j] - b[finger][j]
		if d < 0 {
			d = -d
		}
		if d > worst {
			worst = d
		}
	}
	return worst
}

// Rows returns the pose as nested slices for JSON telemetry payloads.
func (p Pose) Rows() [][]float64 {
	rows := make([][]float64, Fingers)
	for f := 0; f < Fingers; f++ {
		row := make([]float64, Joints)
		copy(row, p[f][:])
		rows[f] = row
	}
	return rows
}

// Rows returns the error codes as nested slices for JSON telemetry payloads.
func (e ErrorCodes) Rows() [][]uint16 {
	rows := make([][]uint16, Fingers)
	for f := 0; f < Fingers; f++ {
		row := make([]uint16, Joints)
		copy(row, e[f][:])
		rows[f] = row
	}
	return rows
}

// Telemetry provides the per-tick hardware reads used by the control loop.
type Telemetry interface {
	ReadJointActualPosition() (Pose, error)
	ReadJointErrorCode() (ErrorCodes, error)
	ReadInputVoltage() (float64, error)
}

// Limits provides the factory joint limit reads used for calibration.
type Limits interface {
	ReadJointLowerLimit() (Pose, error)
	ReadJointUpperLimit() (Pose, error)
}

// Actuator provides the write side of the joint controllers. Every write
// takes a bounded timeout; implementations must never block indefinitely.
type Actuator interface {
	// WriteJointTargetPosition issues a checked (acknowledged) target write.
	WriteJointTargetPosition(target Pose, timeout time.Duration) error

	// WriteJointTargetPositionUnchecked issues a fire-and-forget target
	// write. Preferred for the high-rate control loop.
	WriteJointTargetPositionUnchecked(target Pose, timeout time.Duration) error

	WriteJointEnabled(enabled bool, timeout time.Duration) error
	WriteJointCurrentLimit(milliamps int, timeout time.Duration) error

	// WriteJointResetError clears latched joint error codes. The vendor
	// warns against calling this in a tight loop.
	WriteJointResetError(mask uint16, timeout time.Duration) error

	// WriteJointControlMode is write-only and firmware-dependent. Only the
	// hard-unjam path uses it.
	WriteJointControlMode(mode int, timeout time.Duration) error
}

// Info provides one-time device identification reads. Implementations
// return ok=false for values the firmware does not expose, distinguishing
// "unsupported" from a transient read failure.
type Info interface {
	ReadFirmwareVersion() (string, bool)
	ReadHandedness() (string, bool)
}

// Hand is the composite interface for full hand control.
type Hand interface {
	Telemetry
	Limits
	Actuator
	Info
	Close() error
}

var (
	_ Hand = (*Serial)(nil)
	_ Hand = (*Sim)(nil)
)
