package bridge

import (
	"time"

	"github.com/wujilabs/go-wuji/pkg/hand"
)

// ResetReason records what triggered a recovery sequence.
type ResetReason string

const (
	ReasonNone  ResetReason = ""
	ReasonArm   ResetReason = "arm"   // post-ARM safety open
	ReasonReset ResetReason = "reset" // operator reset_open
	ReasonHard  ResetReason = "hard"  // operator hard_unjam
	ReasonAuto  ResetReason = "auto"  // error-code triggered
)

// Recovery timing. Opening one finger at a time avoids the simultaneous
// multi-finger motion that causes most jams; the thumb interferes with
// everything else mechanically, so it goes last.
const (
	perFingerTimeoutHard    = 18 * time.Second
	perFingerTimeoutArm     = 10 * time.Second
	perFingerTimeoutDefault = 12 * time.Second
	perFingerTimeoutFloor   = 2 * time.Second

	// Vendor guidance: do not hammer the error-clear register.
	errClearMinInterval = 2 * time.Second
	errClearMax         = 20

	// Enable pulsing: a brief torque release as a last-resort mechanical
	// unjam. Never before the sequence has had time to start moving.
	pulseOffDuration = 600 * time.Millisecond
	pulseMinInterval = 3500 * time.Millisecond
	pulseWarmup      = 2 * time.Second
)

// phaseFingers maps reset phase (1..5) to the finger being opened.
var phaseFingers = [...]int{hand.Index, hand.Middle, hand.Ring, hand.Pinky, hand.Thumb}

// phaseLabels are the short finger tags shown in telemetry.
var phaseLabels = [...]string{"IDX", "MID", "RNG", "PNK", "THM"}

// Sequencer drives the phased reset/unjam procedure. It is a pure state
// machine: all decisions are returned to the control loop, which owns the
// hardware writes. At most one sequence is active at a time.
type Sequencer struct {
	phase  int // 0 = idle, 1..5 = finger phases
	reason ResetReason

	start      time.Time
	phaseStart time.Time
	deadline   time.Time

	lastErrClear time.Time
	errClears    int

	pulsePending    bool
	pulseReenableAt time.Time
	nextPulseAt     time.Time

	currentLimited bool
}

// Active reports whether a recovery sequence is running.
func (s *Sequencer) Active() bool { return s.phase > 0 }

// Reason returns the active trigger reason, or ReasonNone when idle.
func (s *Sequencer) Reason() ResetReason {
	if !s.Active() {
		return ReasonNone
	}
	return s.reason
}

// Phase returns the current phase (0 when idle).
func (s *Sequencer) Phase() int { return s.phase }

// PhaseLabel returns the telemetry tag for the active phase.
func (s *Sequencer) PhaseLabel() string {
	if s.phase < 1 || s.phase > len(phaseLabels) {
		return ""
	}
	return phaseLabels[s.phase-1]
}

// ActiveFinger returns the finger being opened in the current phase.
func (s *Sequencer) ActiveFinger() (int, bool) {
	if s.phase < 1 || s.phase > len(phaseFingers) {
		return 0, false
	}
	return phaseFingers[s.phase-1], true
}

// CurrentLimited reports whether the unjam current limit was applied at
// trigger time and must be restored on completion.
func (s *Sequencer) CurrentLimited() bool { return s.currentLimited }

// Start enters phase 1. budget is the overall sequence deadline;
// firstPulseDelay schedules the earliest enable pulse. currentLimited
// records that the trigger lowered the joint current limit.
func (s *Sequencer) Start(reason ResetReason, now time.Time, budget, firstPulseDelay time.Duration, currentLimited bool) {
	s.phase = 1
	s.reason = reason
	s.start = now
	s.phaseStart = now
	s.deadline = now.Add(budget)
	s.lastErrClear = time.Time{}
	s.errClears = 0
	s.pulsePending = false
	s.pulseReenableAt = time.Time{}
	s.nextPulseAt = now.Add(firstPulseDelay)
	s.currentLimited = currentLimited
}

// Cancel aborts the sequence immediately (disarm, completion).
func (s *Sequencer) Cancel() {
	s.phase = 0
	s.reason = ReasonNone
	s.start = time.Time{}
	s.phaseStart = time.Time{}
	s.deadline = time.Time{}
	s.currentLimited = false
}

func (s *Sequencer) perFingerTimeout() time.Duration {
	switch s.reason {
	case ReasonHard:
		return perFingerTimeoutHard
	case ReasonArm:
		return perFingerTimeoutArm
	default:
		return perFingerTimeoutDefault
	}
}

// Desired builds the per-tick recovery target: the active finger is driven
// towards open while every other finger holds its last known position, so
// only one finger moves at a time.
func (s *Sequencer) Desired(open hand.Pose, hold hand.Pose, holdKnown bool) hand.Pose {
	desired := open
	fi, ok := s.ActiveFinger()
	if !ok || !holdKnown {
		return desired
	}
	for f := 0; f < hand.Fingers; f++ {
		if f != fi {
			desired[f] = hold[f]
		}
	}
	return desired
}

// Step advances the phase machine against the latest actual position and
// reports completion. Progress is guaranteed: each finger phase ends either
// by reaching the open threshold or by its failsafe timeout, and the whole
// sequence ends at the deadline regardless.
//
// actual may be nil when no position read was available this tick; the
// deadline check still applies so the sequence can never run unbounded.
func (s *Sequencer) Step(actual *hand.Pose, open hand.Pose, threshold float64, now time.Time) (done bool) {
	if !s.Active() {
		return false
	}
	if !now.Before(s.deadline) {
		return true
	}
	if actual == nil {
		return false
	}

	if s.phase >= 1 && s.phase <= 4 {
		fi := phaseFingers[s.phase-1]
		if hand.FingerMaxAbsDiff(*actual, open, fi) <= threshold {
			s.phase++
			s.phaseStart = now
		} else {
			// Failsafe: don't wait on one stuck finger longer than the
			// per-trigger budget or the remaining sequence time.
			remaining := s.deadline.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
			if remaining < perFingerTimeoutFloor {
				remaining = perFingerTimeoutFloor
			}
			failsafe := s.perFingerTimeout()
			if remaining < failsafe {
				failsafe = remaining
			}
			if now.Sub(s.phaseStart) >= failsafe {
				s.phase++
				s.phaseStart = now
			}
		}
	}

	// Final phase (thumb): complete when every joint is near open.
	if s.phase >= 5 {
		if hand.MaxAbsDiff(*actual, open) <= threshold {
			return true
		}
	}
	return false
}

// ShouldClearErrors reports whether an error-clear write is due. Clears are
// throttled and capped for the lifetime of the sequence.
func (s *Sequencer) ShouldClearErrors(now time.Time) bool {
	if !s.Active() || s.errClears >= errClearMax {
		return false
	}
	return s.lastErrClear.IsZero() || now.Sub(s.lastErrClear) >= errClearMinInterval
}

// NoteErrorClear records a successful error-clear write.
func (s *Sequencer) NoteErrorClear(now time.Time) {
	s.lastErrClear = now
	s.errClears++
}

// ShouldPulse reports whether a torque-release pulse is due.
func (s *Sequencer) ShouldPulse(now time.Time) bool {
	if !s.Active() || s.pulsePending {
		return false
	}
	return !now.Before(s.nextPulseAt) && now.After(s.start.Add(pulseWarmup))
}

// NotePulseStart records that joints were disabled for a pulse.
func (s *Sequencer) NotePulseStart(now time.Time) {
	s.pulsePending = true
	s.pulseReenableAt = now.Add(pulseOffDuration)
	s.nextPulseAt = now.Add(pulseMinInterval)
}

// PulseReenableDue reports whether the pulse's re-enable write is due.
func (s *Sequencer) PulseReenableDue(now time.Time) bool {
	return s.pulsePending && !now.Before(s.pulseReenableAt)
}

// NotePulseEnd records the re-enable write (attempted or not).
func (s *Sequencer) NotePulseEnd() {
	s.pulsePending = false
}
