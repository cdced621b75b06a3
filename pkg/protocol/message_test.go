package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPeekType(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    MessageType
		wantErr bool
	}{
		{"hello", `{"type":"hello"}`, TypeHello, false},
		{"arm with payload", `{"type":"arm","enabled":true}`, TypeArm, false},
		{"hand data", `{"type":"hand_data","extensions":{"index":50}}`, TypeHandData, false},
		{"unknown type passes through", `{"type":"future_thing"}`, MessageType("future_thing"), false},
		{"empty frame", ``, "", true},
		{"not json", `hello there`, "", true},
		{"missing type", `{"enabled":true}`, "", true},
		{"non-string type", `{"type":42}`, "", true},
		{"json array", `[1,2,3]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PeekType([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("PeekType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PeekType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHardUnjamOptionalFields(t *testing.T) {
	var m HardUnjam
	if err := json.Unmarshal([]byte(`{"type":"hard_unjam"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.ControlMode != nil || m.CurrentMA != nil || m.DisableS != nil {
		t.Errorf("absent fields decoded non-nil: %+v", m)
	}

	if err := json.Unmarshal([]byte(`{"type":"hard_unjam","current_ma":800,"disable_s":2.5}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.CurrentMA == nil || *m.CurrentMA != 800 {
		t.Errorf("current_ma = %v, want 800", m.CurrentMA)
	}
	if m.DisableS == nil || *m.DisableS != 2.5 {
		t.Errorf("disable_s = %v, want 2.5", m.DisableS)
	}
	if m.ControlMode != nil {
		t.Errorf("control_mode = %v, want nil", m.ControlMode)
	}
}

func TestTelemetryNullsWhenUnavailable(t *testing.T) {
	data, err := Encode(Telemetry{Type: TypeTelemetry, TS: 1234})
	if err != nil {
		t.Fatal(err)
	}

	// Observers distinguish "no reading" from zero: these stay null, never 0.
	s := string(data)
	for _, field := range []string{`"input_voltage":null`, `"joint_actual_position":null`, `"cmd_age_ms":null`} {
		if !strings.Contains(s, field) {
			t.Errorf("frame missing %s: %s", field, s)
		}
	}
}

func TestStatusEmitsAllKeys(t *testing.T) {
	data, err := Encode(Status{Type: TypeStatus, HasHardware: true, USBVID: 0x0483, USBPID: -1})
	if err != nil {
		t.Fatal(err)
	}

	// The frame shape is stable: unknown values appear as empty strings,
	// never as missing keys.
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"type", "has_hardware", "armed", "usb_vid", "usb_pid",
		"serial_number", "last_hw_error", "firmware_version", "handedness",
	} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("key %q missing: %s", key, data)
		}
	}
	if !strings.Contains(string(data), `"usb_pid":-1`) {
		t.Errorf("usb_pid missing: %s", data)
	}
}
