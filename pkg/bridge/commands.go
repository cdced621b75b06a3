package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wujilabs/go-wuji/internal/log"
	"github.com/wujilabs/go-wuji/pkg/hub"
	"github.com/wujilabs/go-wuji/pkg/protocol"
)

// Hard-unjam parameter bounds (firmware limits).
const (
	hardUnjamDisableDefault = 4 * time.Second
	hardUnjamDisableMin     = 500 * time.Millisecond
	hardUnjamDisableMax     = 10 * time.Second
	hardUnjamCurrentMax     = 3000
	hardUnjamBudgetMin      = 90 * time.Second
)

// Quiet windows after enable/disable bursts, to reduce bus contention.
const (
	quietAfterArm   = time.Second
	quietAfterReset = 3200 * time.Millisecond
)

// Torque-release dwell for the reset_open recovery. Too short often fails
// to unjam.
const resetDisableDwell = 2500 * time.Millisecond

// HandleFrame dispatches one inbound observer frame. It runs on the
// session's read goroutine. Malformed frames are dropped silently — no
// observer notification, so a hostile or buggy client cannot spam errors.
func (b *Bridge) HandleFrame(s *hub.Session, data []byte) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		return
	}

	switch typ {
	case protocol.TypeHello:
		s.SendJSON(b.Status())

	case protocol.TypeArm:
		var m protocol.Arm
		if json.Unmarshal(data, &m) != nil {
			return
		}
		b.handleArm(m.Enabled)

	case protocol.TypeConnect:
		if !b.HasHardware() {
			b.ConnectHardware(true)
		}
		b.sendStatus()

	case protocol.TypeResetOpen:
		log.Info("rx reset_open", "session", s.ID)
		b.handleResetOpen()

	case protocol.TypeHardUnjam:
		var m protocol.HardUnjam
		if json.Unmarshal(data, &m) != nil {
			return
		}
		log.Info("rx hard_unjam", "session", s.ID)
		b.handleHardUnjam(m)

	case protocol.TypeHandData:
		var m protocol.HandData
		if json.Unmarshal(data, &m) != nil {
			return
		}
		b.handleHandData(m.Extensions)
	}
}

// handleArm toggles motion. Arming may kick off a safety open sequence;
// disarming aborts any recovery immediately.
func (b *Bridge) handleArm(enabled bool) {
	b.mu.Lock()
	b.armed = enabled
	needConnect := enabled && !b.hasHardware
	b.mu.Unlock()
	log.Info("arm", "enabled", enabled)

	if needConnect {
		b.ConnectHardware(true)
	}

	now := b.now()
	b.mu.Lock()
	if enabled {
		if b.cfg.ArmReset > 0 {
			b.seq.Start(ReasonArm, now, b.cfg.ArmReset, 2*time.Second, false)
		} else {
			b.seq.Cancel()
		}
		if b.cal.Valid() {
			open := b.cal.SafeOpen(b.cfg.OpenMargin)
			b.desired = &open
		}
	} else {
		b.seq.Cancel()
	}

	// Some devices require an explicit enable to move at all. Clear latched
	// errors once first.
	if b.hasHardware {
		b.quietUntil = laterOf(b.quietUntil, now.Add(quietAfterArm))
		if err := b.hw.WriteJointResetError(1, b.cfg.WriteTimeout); err != nil {
			log.Debug("error clear on arm failed", "err", err)
		}
		if err := b.hw.WriteJointEnabled(enabled, b.cfg.WriteTimeout); err != nil {
			b.lastHWErr = fmt.Sprintf("write_joint_enabled failed: %v", err)
		}
	}
	b.mu.Unlock()

	b.sendStatus()
}

// handleResetOpen recovers from a jammed or gripped state: release torque,
// clear errors, re-engage at reduced current, then run the phased open
// sequence. The dwell suspends only this command handler; the control loop
// keeps ticking against the quiet window.
func (b *Bridge) handleResetOpen() {
	now := b.now()

	b.mu.Lock()
	if b.hasHardware {
		hw := b.hw
		b.quietUntil = laterOf(b.quietUntil, now.Add(quietAfterReset))

		// Clear errors first; some devices refuse to move with flags set.
		if err := hw.WriteJointResetError(1, b.cfg.WriteTimeout); err != nil {
			log.Debug("error clear before reset failed", "err", err)
		}
		if err := hw.WriteJointEnabled(false, b.cfg.WriteTimeout); err != nil {
			b.lastHWErr = fmt.Sprintf("reset enable cycle failed: %v", err)
			b.mu.Unlock()
			b.sendStatus()
			return
		}
		b.mu.Unlock()

		// Give the mechanics time to relax.
		b.sleep(resetDisableDwell)

		b.mu.Lock()
		if err := hw.WriteJointEnabled(true, b.cfg.WriteTimeout); err != nil {
			b.lastHWErr = fmt.Sprintf("reset enable cycle failed: %v", err)
			b.mu.Unlock()
			b.sendStatus()
			return
		}
		if err := hw.WriteJointCurrentLimit(b.cfg.UnjamCurrentMA, b.cfg.WriteTimeout); err != nil {
			log.Warn("unjam current limit write failed", "err", err)
		}
		if err := hw.WriteJointResetError(1, b.cfg.WriteTimeout); err != nil {
			log.Debug("error clear after re-enable failed", "err", err)
		}
	}

	b.seq.Start(ReasonReset, b.now(), b.cfg.ResetOpen, 2*time.Second, true)
	if b.cal.Valid() {
		open := b.cal.SafeOpen(b.cfg.OpenMargin)
		b.desired = &open
	}
	// Armed state is kept; the operator explicitly requested recovery.
	b.mu.Unlock()

	b.sendStatus()
}

// handleHardUnjam is the aggressive variant: optional control-mode write,
// operator-tunable current limit and a longer torque-release dwell, then the
// phased open sequence with an extended deadline and earlier pulsing.
func (b *Bridge) handleHardUnjam(m protocol.HardUnjam) {
	currentMA := b.cfg.UnjamCurrentMA
	if m.CurrentMA != nil {
		currentMA = *m.CurrentMA
	}
	if currentMA < 0 {
		currentMA = 0
	}
	if currentMA > hardUnjamCurrentMax {
		currentMA = hardUnjamCurrentMax
	}

	disable := hardUnjamDisableDefault
	if m.DisableS != nil {
		disable = time.Duration(*m.DisableS * float64(time.Second))
	}
	if disable < hardUnjamDisableMin {
		disable = hardUnjamDisableMin
	}
	if disable > hardUnjamDisableMax {
		disable = hardUnjamDisableMax
	}

	now := b.now()

	b.mu.Lock()
	if b.hasHardware {
		hw := b.hw
		b.quietUntil = laterOf(b.quietUntil, now.Add(disable+time.Second))

		// Vendor warns against changing the control mode under normal
		// circumstances; only written when the operator asks for it.
		if m.ControlMode != nil {
			if err := hw.WriteJointControlMode(*m.ControlMode, b.cfg.WriteTimeout); err != nil {
				log.Warn("control mode write failed", "err", err)
			}
		}
		if err := hw.WriteJointCurrentLimit(currentMA, b.cfg.WriteTimeout); err != nil {
			log.Warn("unjam current limit write failed", "err", err)
		}
		if err := hw.WriteJointResetError(1, b.cfg.WriteTimeout); err != nil {
			log.Debug("error clear before release failed", "err", err)
		}

		if err := hw.WriteJointEnabled(false, b.cfg.WriteTimeout); err != nil {
			b.lastHWErr = fmt.Sprintf("hard_unjam prep failed: %v", err)
			b.mu.Unlock()
			b.sendStatus()
			return
		}
		b.mu.Unlock()

		b.sleep(disable)

		b.mu.Lock()
		if err := hw.WriteJointEnabled(true, b.cfg.WriteTimeout); err != nil {
			b.lastHWErr = fmt.Sprintf("hard_unjam prep failed: %v", err)
			b.mu.Unlock()
			b.sendStatus()
			return
		}
		if err := hw.WriteJointResetError(1, b.cfg.WriteTimeout); err != nil {
			log.Debug("error clear after re-enable failed", "err", err)
		}
	}

	budget := b.cfg.ResetOpen
	if budget < hardUnjamBudgetMin {
		budget = hardUnjamBudgetMin
	}
	b.seq.Start(ReasonHard, b.now(), budget, 800*time.Millisecond, true)
	if b.cal.Valid() {
		open := b.cal.SafeOpen(errMargin)
		b.desired = &open
	}
	b.mu.Unlock()

	b.sendStatus()
}

// handleHandData ingests one tracking sample. Samples are ignored while
// disarmed, and while a recovery sequence is forcing OPEN.
func (b *Bridge) handleHandData(extensions map[string]float64) {
	now := b.now()

	b.mu.Lock()
	b.recordCmd(now)
	if !b.armed || b.seq.Active() {
		b.mu.Unlock()
		return
	}

	tgt, err := MapExtensions(b.cal, b.cfg.Weights, b.cfg.MaxCurl, extensions)
	if err != nil {
		b.lastHWErr = err.Error()
		b.mu.Unlock()
		b.sendStatus()
		return
	}
	b.desired = &tgt
	b.mu.Unlock()
}
