package hand

import (
	"sync"
	"time"
)

// DefaultLower and DefaultUpper describe a typical right-palm hand and back
// the simulator when no hardware has ever been probed. Joint 4 is locked
// (zero span) pending a verified mechanism model for it.
var (
	DefaultLower = Pose{}

	DefaultUpper = Pose{
		{1.2, 1.0, 0.8, 0.0}, // thumb
		{1.1, 1.2, 1.0, 0.0}, // index
		{1.1, 1.2, 1.0, 0.0}, // middle
		{1.1, 1.2, 1.0, 0.0}, // ring
		{1.1, 1.2, 1.0, 0.0}, // pinky
	}
)

// Sim is an in-memory hand with the same read/write contract as the serial
// client. It backs dry-run mode and hardware-free tests: targets are applied
// instantly, so the actual position always equals the last written target.
type Sim struct {
	mu sync.Mutex

	lower   Pose
	upper   Pose
	pos     Pose
	errs    ErrorCodes
	voltage float64
	enabled bool
	current int
	mode    int

	// Write log, for tests that assert on command sequences.
	enableWrites []bool
	resetWrites  int
	targetWrites int
}

// NewSim creates a simulator with the default joint limit table, resting at
// the lower limits.
func NewSim() *Sim {
	return &Sim{
		lower:   DefaultLower,
		upper:   DefaultUpper,
		pos:     DefaultLower,
		voltage: 12.0,
		current: 1000,
	}
}

func (s *Sim) ReadJointLowerLimit() (Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lower, nil
}

func (s *Sim) ReadJointUpperLimit() (Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upper, nil
}

func (s *Sim) ReadJointActualPosition() (Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

func (s *Sim) ReadJointErrorCode() (ErrorCodes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs, nil
}

func (s *Sim) ReadInputVoltage() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voltage, nil
}

func (s *Sim) WriteJointTargetPosition(target Pose, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = target
	s.targetWrites++
	return nil
}

func (s *Sim) WriteJointTargetPositionUnchecked(target Pose, timeout time.Duration) error {
	return s.WriteJointTargetPosition(target, timeout)
}

func (s *Sim) WriteJointEnabled(enabled bool, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	s.enableWrites = append(s.enableWrites, enabled)
	return nil
}

func (s *Sim) WriteJointCurrentLimit(milliamps int, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = milliamps
	return nil
}

func (s *Sim) WriteJointResetError(_ uint16, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = ErrorCodes{}
	s.resetWrites++
	return nil
}

func (s *Sim) WriteJointControlMode(mode int, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

func (s *Sim) ReadFirmwareVersion() (string, bool) { return "sim", true }
func (s *Sim) ReadHandedness() (string, bool)      { return "right", true }
func (s *Sim) Close() error                        { return nil }

// SetErrorCodes latches error codes, simulating a mechanical jam.
func (s *Sim) SetErrorCodes(e ErrorCodes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = e
}

// SetActualPosition overrides the reported position, detaching it from the
// last written target.
func (s *Sim) SetActualPosition(p Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = p
}

// SetLimits replaces the joint limit table.
func (s *Sim) SetLimits(lower, upper Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lower = lower
	s.upper = upper
}

// Enabled reports the last joint-enable state written.
func (s *Sim) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// CurrentLimit reports the last current limit written (mA).
func (s *Sim) CurrentLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Mode reports the last control mode written.
func (s *Sim) Mode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ResetErrorWrites reports how many error-clear writes were issued.
func (s *Sim) ResetErrorWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetWrites
}

// TargetWrites reports how many target writes were issued.
func (s *Sim) TargetWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetWrites
}

// EnableWrites returns the sequence of joint-enable writes.
func (s *Sim) EnableWrites() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.enableWrites))
	copy(out, s.enableWrites)
	return out
}
