package bridge

import (
	"time"

	"github.com/wujilabs/go-wuji/internal/log"
	"github.com/wujilabs/go-wuji/pkg/hand"
	"github.com/wujilabs/go-wuji/pkg/protocol"
)

// errMargin is the widened open margin used while error codes are latched:
// stay further from the hard stops when the mechanics are fighting us.
const errMargin = 0.25

// tick runs one control cycle. The whole cycle executes under the bridge
// mutex; every hardware call is bounded by the configured write timeout, so
// the lock is never held for unbounded time. Read/write failures are
// recorded and reported, never fatal.
func (b *Bridge) tick(now time.Time) {
	b.mu.Lock()

	// During aggressive disable/enable windows, keep off the bus entirely
	// and broadcast cached telemetry only.
	if now.Before(b.quietUntil) {
		frame := b.telemetryLocked(now, nil, nil, nil)
		b.mu.Unlock()
		b.broadcastTelemetry(frame)
		return
	}

	statusDirty := false

	// Hardware reads: only when someone is watching or a recovery needs the
	// position feedback.
	var vin *float64
	var pos *hand.Pose
	var errs *hand.ErrorCodes
	errAny := false

	if b.hasHardware && (b.hub.SessionCount() > 0 || b.seq.Active()) {
		if v, err := b.hw.ReadInputVoltage(); err == nil {
			vin = &v
		} else {
			b.lastHWErr = err.Error()
			statusDirty = true
		}
		if p, err := b.hw.ReadJointActualPosition(); err == nil {
			pos = &p
		} else {
			b.lastHWErr = err.Error()
			statusDirty = true
		}
		// Error codes are optional on some firmware revisions.
		if e, err := b.hw.ReadJointErrorCode(); err == nil {
			errs = &e
			errAny = e.Any()
		}
	}

	// During recovery, keep the error registers clear (throttled; some
	// devices re-latch while moving) and pulse torque as a last resort.
	if b.seq.Active() && b.hasHardware {
		if errAny && b.seq.ShouldClearErrors(now) {
			if err := b.hw.WriteJointResetError(1, b.cfg.WriteTimeout); err == nil {
				b.seq.NoteErrorClear(now)
			}
		}
		if errAny && b.seq.ShouldPulse(now) {
			if err := b.hw.WriteJointEnabled(false, b.cfg.WriteTimeout); err == nil {
				b.seq.NotePulseStart(now)
			}
		}
		if b.seq.PulseReenableDue(now) {
			if err := b.hw.WriteJointEnabled(true, b.cfg.WriteTimeout); err != nil {
				log.Warn("pulse re-enable failed", "err", err)
			}
			b.seq.NotePulseEnd()
		}
	}

	// Auto-unjam: armed, errors latched, nothing already running.
	if !b.seq.Active() && b.cfg.AutoUnjamOnError && b.armed && b.hasHardware && errAny {
		if err := b.hw.WriteJointCurrentLimit(b.cfg.UnjamCurrentMA, b.cfg.WriteTimeout); err != nil {
			log.Warn("unjam current limit write failed", "err", err)
		}
		b.seq.Start(ReasonAuto, now, b.cfg.ResetOpen, time.Second, true)
		if b.cal.Valid() {
			open := b.cal.SafeOpen(errMargin)
			b.desired = &open
		}
		log.Warn("auto-unjam triggered", "phase", b.seq.PhaseLabel())
	}

	// Chase the desired target: sequencer output while recovering,
	// watchdog-open when tracking has gone stale, operator target otherwise.
	if b.armed {
		var desired *hand.Pose
		switch {
		case b.seq.Active() && b.cal.Valid():
			margin := b.cfg.OpenMargin
			if errAny {
				margin = errMargin
			}
			open := b.cal.SafeOpen(margin)
			hold, holdKnown := b.filter.Last()
			if pos != nil {
				hold, holdKnown = *pos, true
			}
			d := b.seq.Desired(open, hold, holdKnown)
			desired = &d
		case b.cal.Valid() && b.cfg.Watchdog > 0 && now.Sub(b.lastRecv) > b.cfg.Watchdog:
			d := b.cal.SafeOpen(b.cfg.OpenMargin)
			desired = &d
		default:
			desired = b.desired
		}

		if desired != nil {
			if err := b.applyTarget(*desired, now); err != nil {
				b.lastHWErr = err.Error()
				statusDirty = true
			}
		}
	}

	// Recovery completion: threshold satisfaction or deadline, whichever
	// comes first. Restore the normal current limit afterwards.
	if b.seq.Active() {
		margin := b.cfg.OpenMargin
		if errAny {
			margin = errMargin
		}
		open := b.cal.SafeOpen(margin)
		if b.seq.Step(pos, open, b.cfg.ResetThresholdRad, now) {
			restore := b.seq.CurrentLimited()
			reason := b.seq.Reason()
			b.seq.Cancel()
			if restore && b.hasHardware {
				if err := b.hw.WriteJointCurrentLimit(b.cfg.NormalCurrentMA, b.cfg.WriteTimeout); err != nil {
					log.Warn("current limit restore failed", "err", err)
				}
			}
			log.Info("recovery sequence finished", "reason", reason)
		}
	}

	frame := b.telemetryLocked(now, vin, pos, errs)
	b.mu.Unlock()

	if statusDirty {
		b.sendStatus()
	}
	b.broadcastTelemetry(frame)
}

// applyTarget runs the motion filter and issues the joint write. Writes go
// to the simulator whenever hardware is absent or dry-run is set.
func (b *Bridge) applyTarget(desired hand.Pose, now time.Time) error {
	tgt := b.filter.Apply(desired, b.cal.Min, b.cal.Max, b.seq.Active(), now)

	if b.hasHardware && !b.cfg.DryRun {
		if b.cfg.WriteMode == "blocking" {
			return b.hw.WriteJointTargetPosition(tgt, b.cfg.WriteTimeout)
		}
		return b.hw.WriteJointTargetPositionUnchecked(tgt, b.cfg.WriteTimeout)
	}
	return b.sim.WriteJointTargetPositionUnchecked(tgt, b.cfg.WriteTimeout)
}

// telemetryLocked assembles the telemetry frame from this tick's reads.
// Position falls back to the simulated pose when no hardware is attached so
// observers can validate the pipeline end to end with the power off.
func (b *Bridge) telemetryLocked(now time.Time, vin *float64, pos *hand.Pose, errs *hand.ErrorCodes) protocol.Telemetry {
	t := protocol.Telemetry{
		Type:        protocol.TypeTelemetry,
		TS:          now.UnixMilli(),
		CmdHz:       b.cmdHzLocked(now),
		CmdAgeMS:    b.cmdAgeLocked(now),
		ResetActive: b.seq.Active(),
		ResetPhase:  b.seq.Phase(),
	}
	if b.seq.Active() {
		t.ResetLabel = b.seq.PhaseLabel()
		t.ResetReason = string(b.seq.Reason())
	}
	if b.hasHardware {
		t.InputVoltage = vin
		if pos != nil {
			t.JointActual = pos.Rows()
		}
		if errs != nil {
			t.JointError = errs.Rows()
		}
	} else if simPos, err := b.sim.ReadJointActualPosition(); err == nil {
		t.JointActual = simPos.Rows()
	}
	return t
}

// broadcastTelemetry fans the frame out to websocket observers and the
// optional secondary sink.
func (b *Bridge) broadcastTelemetry(t protocol.Telemetry) {
	if b.hub.SessionCount() == 0 && b.sink == nil {
		return
	}
	data, err := protocol.Encode(t)
	if err != nil {
		log.Error("telemetry encode failed", "err", err)
		return
	}
	if b.hub.SessionCount() > 0 {
		b.hub.Broadcast(data)
	}
	if b.sink != nil {
		b.sink.Publish(data)
	}
}
