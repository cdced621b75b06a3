package bridge

import "time"

// Config holds all bridge settings. It is assembled once at startup and
// treated as immutable afterwards.
type Config struct {
	// WebSocket listen address
	Host string
	Port int

	// Hardware selection
	USBVID       int
	USBPID       int // -1 matches any product id
	SerialNumber string
	SerialPort   string // pin a device node, skipping USB discovery

	// DryRun routes all writes to the simulator even when hardware is attached
	DryRun bool

	// Telemetry broadcast rate (Hz)
	TelemetryHz float64

	// Speed limits (rad/s, 0 disables limiting). Normal operation assumes
	// hardware-side smoothing, so MaxSpeed is a backstop; recovery runs with
	// reduced current limits and must stay slow.
	MaxSpeedRadS      float64
	UnjamMaxSpeedRadS float64

	// MaxCurl limits how closed the hand may get (0=open, 1=full fist).
	// A perfect fist can jam some hardware batches.
	MaxCurl float64

	// OpenMargin moves the OPEN target slightly towards CLOSED (0..0.5)
	// to avoid pushing into hard stops.
	OpenMargin float64

	// Open/closed polarity per joint: "lower", "upper" or "auto"
	OpenPoseMode   string
	ClosedPoseMode string

	// Per-finger joint weights for the curl mapping
	Weights Weights

	// ArmReset forces an OPEN reset after ARM before tracking commands are
	// accepted. Zero disables it.
	ArmReset time.Duration

	// ResetOpen is the overall recovery budget. Hard unjam extends it to at
	// least 90s.
	ResetOpen time.Duration

	// ResetThresholdRad is the completion threshold against the OPEN pose.
	ResetThresholdRad float64

	// Current limits (mA, firmware range 0..3000)
	NormalCurrentMA int
	UnjamCurrentMA  int

	// AutoUnjamOnError enters recovery when a joint error code latches
	// while armed.
	AutoUnjamOnError bool

	// Watchdog opens the hand when no tracking command arrives within this
	// window while armed. Zero disables it.
	Watchdog time.Duration

	// WriteMode selects "unchecked" (fire-and-forget) or "blocking" target
	// writes.
	WriteMode string

	// WriteTimeout bounds every hardware call.
	WriteTimeout time.Duration

	// Optional MQTT telemetry sink. Empty broker disables it.
	MQTTBroker string
	MQTTTopic  string

	// Logging
	LogLevel string
}

// DefaultConfig returns the production defaults. They match the values the
// hardware has been validated with; change with care.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		Port:              8765,
		USBVID:            0x0483,
		USBPID:            -1,
		TelemetryHz:       30,
		MaxSpeedRadS:      2.0,
		UnjamMaxSpeedRadS: 0.12,
		MaxCurl:           0.85,
		OpenMargin:        0.10,
		OpenPoseMode:      "upper",
		ClosedPoseMode:    "lower",
		Weights:           DefaultWeights(),
		ArmReset:          0,
		ResetOpen:         60 * time.Second,
		ResetThresholdRad: 0.15,
		NormalCurrentMA:   1000,
		UnjamCurrentMA:    500,
		AutoUnjamOnError:  true,
		Watchdog:          time.Second,
		WriteMode:         "unchecked",
		WriteTimeout:      2 * time.Second,
		MQTTTopic:         "wuji/telemetry",
		LogLevel:          "info",
	}
}

// telemetryInterval converts the configured rate to a tick period,
// clamping to 1Hz minimum.
func (c Config) telemetryInterval() time.Duration {
	hz := c.TelemetryHz
	if hz < 1 {
		hz = 1
	}
	return time.Duration(float64(time.Second) / hz)
}
