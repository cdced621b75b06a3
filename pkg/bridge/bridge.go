// Package bridge implements the control core of the Wuji hand teleoperation
// daemon: it maps operator finger-extension input to calibrated joint
// targets, rate-limits motion, recovers from mechanical jams with a phased
// per-finger open sequence, and fans out status/telemetry to observers.
//
// All mutable control state is owned by a single Bridge and serialized
// through its mutex; the control loop goroutine is the only writer of joint
// targets, while observer command handlers mutate the armed/desired/config
// state under the same lock. Multi-second hardware dwells release the lock
// so tick scheduling is never blocked.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wujilabs/go-wuji/internal/log"
	"github.com/wujilabs/go-wuji/pkg/hand"
	"github.com/wujilabs/go-wuji/pkg/protocol"
)

// Hardware reconnect backoff: min(3.0 * 1.5^(N-1), 30.0) seconds after N
// consecutive failures, reset on success.
const (
	connectBackoffBase   = 3 * time.Second
	connectBackoffFactor = 1.5
	connectBackoffMax    = 30 * time.Second

	// hwMonitorInterval is the cadence of the presence monitor.
	hwMonitorInterval = 3 * time.Second

	// cmdWindow sizes the recent-command ring used for the cmd_hz metric.
	cmdWindow = 200
)

// Broadcaster fans frames out to every connected observer. *hub.Hub
// satisfies it.
type Broadcaster interface {
	Broadcast(frame []byte)
	BroadcastJSON(v interface{}) error
	SessionCount() int
}

// TelemetrySink receives a copy of every telemetry frame (e.g. MQTT).
type TelemetrySink interface {
	Publish(payload []byte)
}

// HardwareOpener attempts to open the physical hand.
type HardwareOpener func() (hand.Hand, error)

// Bridge owns all mutable control state. Exactly one control loop advances
// state transitions and issues hardware writes.
type Bridge struct {
	cfg    Config
	hub    Broadcaster
	sink   TelemetrySink // may be nil
	openHW HardwareOpener

	// sim stands in for the hardware in dry-run mode and while disconnected;
	// its position tracks the last applied target.
	sim *hand.Sim

	// Injected clocks keep the state machine testable.
	now   func() time.Time
	sleep func(time.Duration)

	mu sync.Mutex

	// connectMu serializes whole connect attempts (open + adopt), which run
	// outside mu. Without it a failed attempt racing a successful one would
	// tear down the freshly adopted hand.
	connectMu sync.Mutex

	hw          hand.Hand
	hasHardware bool
	armed       bool
	lastHWErr   string
	firmware    string
	handedness  string

	cal     Calibration
	filter  *MotionFilter
	seq     Sequencer
	desired *hand.Pose

	// quietUntil suppresses bus traffic after enable/disable bursts.
	quietUntil time.Time

	lastRecv  time.Time
	lastCmdMS int64
	cmdTimes  []time.Time

	backoff       time.Duration
	nextConnectAt time.Time
}

// New creates a bridge. openHW may be nil for simulator-only operation.
func New(cfg Config, b Broadcaster, openHW HardwareOpener) *Bridge {
	br := &Bridge{
		cfg:     cfg,
		hub:     b,
		openHW:  openHW,
		sim:     hand.NewSim(),
		now:     time.Now,
		sleep:   time.Sleep,
		cal:     SimCalibration(),
		filter:  NewMotionFilter(cfg.MaxSpeedRadS, cfg.UnjamMaxSpeedRadS),
		backoff: connectBackoffBase,
	}
	now := br.now()
	br.filter.Seed(br.cal.Open, now)
	br.sim.SetActualPosition(br.cal.Open)

	// Safe idle default: chase OPEN once armed.
	open := br.cal.SafeOpen(cfg.OpenMargin)
	br.desired = &open
	return br
}

// SetTelemetrySink attaches an optional secondary telemetry consumer.
// Must be called before Run.
func (b *Bridge) SetTelemetrySink(s TelemetrySink) {
	b.sink = s
}

// Run drives the fixed-rate control loop and the hardware presence monitor
// until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.ConnectHardware(false)
	b.sendStatus()

	tick := time.NewTicker(b.cfg.telemetryInterval())
	defer tick.Stop()
	monitor := time.NewTicker(hwMonitorInterval)
	defer monitor.Stop()

	log.Info("bridge running",
		"telemetry_hz", b.cfg.TelemetryHz,
		"watchdog", b.cfg.Watchdog,
		"dry_run", b.cfg.DryRun)

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-tick.C:
			b.tick(b.now())
		case <-monitor.C:
			if !b.HasHardware() {
				b.ConnectHardware(false)
				b.sendStatus()
			}
		}
	}
}

// shutdown leaves the hand in a safe state on exit.
func (b *Bridge) shutdown() {
	b.mu.Lock()
	hw := b.hw
	b.mu.Unlock()
	if hw != nil {
		if err := hw.WriteJointEnabled(false, b.cfg.WriteTimeout); err != nil {
			log.Warn("disable on shutdown failed", "err", err)
		}
		if err := hw.Close(); err != nil {
			log.Warn("close hardware failed", "err", err)
		}
	}
}

// HasHardware reports whether the physical hand is connected.
func (b *Bridge) HasHardware() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasHardware
}

// Armed reports whether motion is operator-enabled.
func (b *Bridge) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.armed
}

// Status returns a snapshot of the bridge state.
func (b *Bridge) Status() protocol.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked()
}

func (b *Bridge) statusLocked() protocol.Status {
	return protocol.Status{
		Type:            protocol.TypeStatus,
		HasHardware:     b.hasHardware,
		Armed:           b.armed,
		USBVID:          b.cfg.USBVID,
		USBPID:          b.cfg.USBPID,
		SerialNumber:    b.cfg.SerialNumber,
		LastHWError:     b.lastHWErr,
		FirmwareVersion: b.firmware,
		Handedness:      b.handedness,
	}
}

// sendStatus broadcasts the current status to every observer. Called on
// connect, on hello, and on any state change.
func (b *Bridge) sendStatus() {
	if err := b.hub.BroadcastJSON(b.Status()); err != nil {
		log.Warn("status broadcast failed", "err", err)
	}
}

// ConnectHardware attempts to open the hand, read its limits, and derive the
// calibration. Failed attempts back off exponentially unless force is set.
// Attempts are serialized; a call that loses the race re-checks the guard and
// returns without opening a second device.
func (b *Bridge) ConnectHardware(force bool) {
	if b.openHW == nil {
		return
	}
	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	now := b.now()

	b.mu.Lock()
	if b.hasHardware || (!force && now.Before(b.nextConnectAt)) {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	hw, err := b.openHW()
	if err == nil {
		err = b.adoptHardware(hw, now)
	}
	if err != nil {
		b.mu.Lock()
		b.hw = nil
		b.hasHardware = false
		b.lastHWErr = err.Error()
		delay := b.backoff
		b.nextConnectAt = now.Add(delay)
		b.backoff = time.Duration(float64(delay) * connectBackoffFactor)
		if b.backoff > connectBackoffMax {
			b.backoff = connectBackoffMax
		}
		b.mu.Unlock()
		log.Warn("hardware connect failed", "err", err, "retry_in", delay)
	}
}

// adoptHardware calibrates a freshly opened hand and installs it.
func (b *Bridge) adoptHardware(hw hand.Hand, now time.Time) error {
	lower, err := hw.ReadJointLowerLimit()
	if err != nil {
		hw.Close()
		return fmt.Errorf("read joint lower limit: %w", err)
	}
	upper, err := hw.ReadJointUpperLimit()
	if err != nil {
		hw.Close()
		return fmt.Errorf("read joint upper limit: %w", err)
	}

	// One-time device info. ok=false means the firmware does not expose it.
	firmware, _ := hw.ReadFirmwareVersion()
	handedness, _ := hw.ReadHandedness()

	// Best-effort: the auto polarity mode wants the boot pose.
	var actual *hand.Pose
	if pos, err := hw.ReadJointActualPosition(); err == nil {
		actual = &pos
	}

	cal := DeriveCalibration(lower, upper, b.cfg.OpenPoseMode, b.cfg.ClosedPoseMode, actual)

	b.mu.Lock()
	b.hw = hw
	b.hasHardware = true
	b.lastHWErr = ""
	b.firmware = firmware
	b.handedness = handedness
	b.cal = cal
	b.filter.Seed(cal.Open, now)
	b.sim.SetActualPosition(cal.Open)
	b.backoff = connectBackoffBase
	b.nextConnectAt = now

	// If the operator armed while we were offline, engage immediately.
	if b.armed {
		if err := hw.WriteJointEnabled(true, b.cfg.WriteTimeout); err != nil {
			b.lastHWErr = fmt.Sprintf("write_joint_enabled failed: %v", err)
		}
	}
	b.mu.Unlock()

	log.Info("hardware connected",
		"vid", fmt.Sprintf("0x%04x", b.cfg.USBVID),
		"pid", b.cfg.USBPID,
		"serial", b.cfg.SerialNumber,
		"firmware", firmware,
		"handedness", handedness)
	return nil
}

// recordCmd updates the command-rate telemetry window.
func (b *Bridge) recordCmd(now time.Time) {
	b.lastRecv = now
	b.lastCmdMS = now.UnixMilli()
	b.cmdTimes = append(b.cmdTimes, now)
	if len(b.cmdTimes) > cmdWindow {
		b.cmdTimes = b.cmdTimes[len(b.cmdTimes)-cmdWindow:]
	}
}

// cmdHzLocked counts commands received in the last second.
func (b *Bridge) cmdHzLocked(now time.Time) float64 {
	n := 0
	for _, t := range b.cmdTimes {
		if now.Sub(t) <= time.Second {
			n++
		}
	}
	return float64(n)
}

// cmdAgeLocked returns milliseconds since the last command, nil when none.
func (b *Bridge) cmdAgeLocked(now time.Time) *int64 {
	if b.lastCmdMS == 0 {
		return nil
	}
	age := now.UnixMilli() - b.lastCmdMS
	return &age
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
