// Package protocol defines the WebSocket message types exchanged between the
// bridge and its observers (Vision OS app, dashboards, CLI tools).
//
// Every frame is a single flat JSON object carrying a "type" field. Unknown
// or malformed frames are dropped by the bridge without a reply, so a buggy
// client cannot spam error traffic.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Observer → Bridge messages
	TypeHello     MessageType = "hello"      // Request a status snapshot
	TypeArm       MessageType = "arm"        // Enable/disable motion
	TypeConnect   MessageType = "connect"    // Force a hardware connect attempt
	TypeResetOpen MessageType = "reset_open" // Recovery: phased open sequence
	TypeHardUnjam MessageType = "hard_unjam" // Aggressive recovery
	TypeHandData  MessageType = "hand_data"  // Per-finger extension tracking

	// Bridge → Observer messages
	TypeStatus    MessageType = "status"
	TypeTelemetry MessageType = "telemetry"
)

// Envelope is the minimal decode used to dispatch an inbound frame.
type Envelope struct {
	Type MessageType `json:"type"`
}

// PeekType extracts the message type from a raw frame.
func PeekType(data []byte) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("message has no type")
	}
	return env.Type, nil
}

// =============================================================================
// Observer → Bridge message types
// =============================================================================

// Arm enables or disables motion. Disarming aborts any in-progress recovery
// sequence immediately.
type Arm struct {
	Type    MessageType `json:"type"`
	Enabled bool        `json:"enabled"`
}

// HardUnjam requests an aggressive recovery. All fields besides type are
// optional; the bridge clamps them to safe ranges.
type HardUnjam struct {
	Type MessageType `json:"type"`

	// ControlMode is written to the firmware as-is when present. The vendor
	// warns against changing it under normal circumstances.
	ControlMode *int `json:"control_mode,omitempty"`

	// CurrentMA is the current limit (mA) during recovery, clamped to [0, 3000].
	CurrentMA *int `json:"current_ma,omitempty"`

	// DisableS is the torque-release dwell in seconds, clamped to [0.5, 10].
	DisableS *float64 `json:"disable_s,omitempty"`
}

// HandData carries one tracking sample: per-finger extension percentages,
// 0 (fully closed) to 100 (fully open). Missing fingers default to closed.
type HandData struct {
	Type       MessageType        `json:"type"`
	Extensions map[string]float64 `json:"extensions"`
}

// =============================================================================
// Bridge → Observer message types
// =============================================================================

// Status describes the bridge and hardware state. It is sent on connect, on
// hello, and on any state change. Every key is always present, so clients
// tracking the frame shape see unknown values as empty strings rather than
// missing fields.
type Status struct {
	Type            MessageType `json:"type"`
	HasHardware     bool        `json:"has_hardware"`
	Armed           bool        `json:"armed"`
	USBVID          int         `json:"usb_vid"`
	USBPID          int         `json:"usb_pid"`
	SerialNumber    string      `json:"serial_number"`
	LastHWError     string      `json:"last_hw_error"`
	FirmwareVersion string      `json:"firmware_version"`
	Handedness      string      `json:"handedness"`
}

// Telemetry is the periodic state broadcast. Position and error matrices are
// null while no hardware read is available.
type Telemetry struct {
	Type         MessageType `json:"type"`
	TS           int64       `json:"ts"` // Unix milliseconds
	InputVoltage *float64    `json:"input_voltage"`
	JointActual  [][]float64 `json:"joint_actual_position"`
	JointError   [][]uint16  `json:"joint_error_code"`
	CmdHz        float64     `json:"cmd_hz"`
	CmdAgeMS     *int64      `json:"cmd_age_ms"`
	ResetActive  bool        `json:"reset_active"`
	ResetPhase   int         `json:"reset_phase"`
	ResetLabel   string      `json:"reset_label"`
	ResetReason  string      `json:"reset_reason"`
}

// Encode marshals an outbound message. Callers set the type field.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}
