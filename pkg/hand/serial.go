package hand

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Register map of the joint controller bank. All multi-byte values are
// little-endian; pose registers carry 5x4 float64, error registers 5x4 uint16.
const (
	regLowerLimit  = 0x10
	regUpperLimit  = 0x11
	regActualPos   = 0x12
	regErrorCode   = 0x13
	regVoltage     = 0x14
	regFirmware    = 0x20
	regHandedness  = 0x21
	regTargetPos   = 0x30
	regEnabled     = 0x31
	regCurrentMA   = 0x32
	regResetError  = 0x33
	regControlMode = 0x34
)

const (
	opRead  = 0x01
	opWrite = 0x02
	opAck   = 0x03

	frameSync0 = 0xA5
	frameSync1 = 0x5A

	poseBytes = Fingers * Joints * 8
	errBytes  = Fingers * Joints * 2
)

// SerialOptions selects a device. Port pins a concrete device node; otherwise
// the USB identifiers are matched against the enumerated port list.
type SerialOptions struct {
	Port         string
	BaudRate     int
	USBVID       int
	USBPID       int // -1 matches any product id
	SerialNumber string
}

// Serial talks the hand's framed register protocol over a USB CDC serial
// link. All methods are safe for concurrent use; the link itself is a single
// request/response channel, so calls are serialized internally.
type Serial struct {
	mu   sync.Mutex
	port serial.Port
	name string
}

// OpenSerial locates and opens the hand. When opts.Port is empty it scans
// the USB port list for a VID/PID (and optional serial number) match.
func OpenSerial(opts SerialOptions) (*Serial, error) {
	name := opts.Port
	if name == "" {
		found, err := findPort(opts)
		if err != nil {
			return nil, err
		}
		name = found
	}

	baud := opts.BaudRate
	if baud <= 0 {
		baud = 1000000
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &Serial{port: port, name: name}, nil
}

// findPort scans connected USB serial devices for the configured identifiers.
func findPort(opts SerialOptions) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}

	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if !matchHexID(p.VID, opts.USBVID) {
			continue
		}
		if opts.USBPID >= 0 && !matchHexID(p.PID, opts.USBPID) {
			continue
		}
		if opts.SerialNumber != "" && !strings.EqualFold(p.SerialNumber, opts.SerialNumber) {
			continue
		}
		return p.Name, nil
	}
	return "", fmt.Errorf("no hand found (vid=0x%04x pid=%d serial=%q)", opts.USBVID, opts.USBPID, opts.SerialNumber)
}

func matchHexID(reported string, want int) bool {
	v, err := strconv.ParseUint(strings.TrimSpace(reported), 16, 32)
	if err != nil {
		return false
	}
	return int(v) == want
}

// Name returns the device node the hand was opened on.
func (h *Serial) Name() string { return h.name }

// Close releases the serial port.
func (h *Serial) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port.Close()
}

// frame layout: A5 5A op reg len(u16 LE) payload checksum.
func buildFrame(op, reg byte, payload []byte) []byte {
	buf := make([]byte, 0, 7+len(payload))
	buf = append(buf, frameSync0, frameSync1, op, reg)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	var sum byte
	for _, b := range buf[2:] {
		sum += b
	}
	return append(buf, sum)
}

// transact writes one frame and reads one response frame within timeout.
// Holding the lock across the round trip keeps the half-duplex link coherent.
func (h *Serial) transact(op, reg byte, payload []byte, timeout time.Duration, wantResp bool) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	if _, err := h.port.Write(buildFrame(op, reg, payload)); err != nil {
		return nil, fmt.Errorf("write reg 0x%02x: %w", reg, err)
	}
	if !wantResp {
		return nil, nil
	}

	header := make([]byte, 6)
	if err := h.readFull(header); err != nil {
		return nil, fmt.Errorf("read reg 0x%02x header: %w", reg, err)
	}
	if header[0] != frameSync0 || header[1] != frameSync1 {
		return nil, fmt.Errorf("read reg 0x%02x: bad sync %02x%02x", reg, header[0], header[1])
	}
	n := binary.LittleEndian.Uint16(header[4:6])
	body := make([]byte, int(n)+1) // payload + checksum
	if err := h.readFull(body); err != nil {
		return nil, fmt.Errorf("read reg 0x%02x payload: %w", reg, err)
	}

	var sum byte
	for _, b := range header[2:] {
		sum += b
	}
	for _, b := range body[:n] {
		sum += b
	}
	if sum != body[n] {
		return nil, fmt.Errorf("read reg 0x%02x: checksum mismatch", reg)
	}
	return body[:n], nil
}

// readFull reads exactly len(buf) bytes, treating a short timed-out read as
// an error (the port returns n=0 with no error on timeout).
func (h *Serial) readFull(buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := h.port.Read(buf[off:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("timeout after %d/%d bytes", off, len(buf))
		}
		off += n
	}
	return nil
}

const readTimeout = 2 * time.Second

func (h *Serial) readPose(reg byte) (Pose, error) {
	data, err := h.transact(opRead, reg, nil, readTimeout, true)
	if err != nil {
		return Pose{}, err
	}
	if len(data) != poseBytes {
		return Pose{}, fmt.Errorf("reg 0x%02x: short pose payload (%d bytes)", reg, len(data))
	}
	var p Pose
	for f := 0; f < Fingers; f++ {
		for j := 0; j < Joints; j++ {
			bits := binary.LittleEndian.Uint64(data[(f*Joints+j)*8:])
			p[f][j] = math.Float64frombits(bits)
		}
	}
	return p, nil
}

func (h *Serial) ReadJointLowerLimit() (Pose, error)     { return h.readPose(regLowerLimit) }
func (h *Serial) ReadJointUpperLimit() (Pose, error)     { return h.readPose(regUpperLimit) }
func (h *Serial) ReadJointActualPosition() (Pose, error) { return h.readPose(regActualPos) }

func (h *Serial) ReadJointErrorCode() (ErrorCodes, error) {
	data, err := h.transact(opRead, regErrorCode, nil, readTimeout, true)
	if err != nil {
		return ErrorCodes{}, err
	}
	if len(data) != errBytes {
		return ErrorCodes{}, fmt.Errorf("short error payload (%d bytes)", len(data))
	}
	var e ErrorCodes
	for f := 0; f < Fingers; f++ {
		for j := 0; j < Joints; j++ {
			e[f][j] = binary.LittleEndian.Uint16(data[(f*Joints+j)*2:])
		}
	}
	return e, nil
}

func (h *Serial) ReadInputVoltage() (float64, error) {
	data, err := h.transact(opRead, regVoltage, nil, readTimeout, true)
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("short voltage payload (%d bytes)", len(data))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
}

func (h *Serial) readString(reg byte) (string, bool) {
	data, err := h.transact(opRead, reg, nil, readTimeout, true)
	if err != nil || len(data) == 0 {
		return "", false
	}
	return strings.TrimRight(string(data), "\x00"), true
}

func (h *Serial) ReadFirmwareVersion() (string, bool) { return h.readString(regFirmware) }
func (h *Serial) ReadHandedness() (string, bool)      { return h.readString(regHandedness) }

func encodePose(p Pose) []byte {
	buf := make([]byte, 0, poseBytes)
	for f := 0; f < Fingers; f++ {
		for j := 0; j < Joints; j++ {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p[f][j]))
		}
	}
	return buf
}

func (h *Serial) WriteJointTargetPosition(target Pose, timeout time.Duration) error {
	_, err := h.transact(opWrite, regTargetPos, encodePose(target), timeout, true)
	return err
}

func (h *Serial) WriteJointTargetPositionUnchecked(target Pose, timeout time.Duration) error {
	_, err := h.transact(opWrite, regTargetPos, encodePose(target), timeout, false)
	return err
}

func (h *Serial) WriteJointEnabled(enabled bool, timeout time.Duration) error {
	v := []byte{0}
	if enabled {
		v[0] = 1
	}
	_, err := h.transact(opWrite, regEnabled, v, timeout, true)
	return err
}

func (h *Serial) WriteJointCurrentLimit(milliamps int, timeout time.Duration) error {
	buf := binary.LittleEndian.AppendUint16(nil, uint16(milliamps))
	_, err := h.transact(opWrite, regCurrentMA, buf, timeout, true)
	return err
}

func (h *Serial) WriteJointResetError(mask uint16, timeout time.Duration) error {
	buf := binary.LittleEndian.AppendUint16(nil, mask)
	_, err := h.transact(opWrite, regResetError, buf, timeout, true)
	return err
}

func (h *Serial) WriteJointControlMode(mode int, timeout time.Duration) error {
	buf := binary.LittleEndian.AppendUint16(nil, uint16(mode))
	_, err := h.transact(opWrite, regControlMode, buf, timeout, false)
	return err
}
