package aqualink

import "encoding/binary"

// Heater command bytes, as used by the JXI-style gas heater slave.
const (
	heaterControlRequest = 0x0c
	heaterControlReply   = 0x0d
	heaterMeasurements   = 0x25
)

// Heater implements Ops for a JXI-style gas heater. It requests fresh
// measurements every cycle and folds both the control-status reply and
// the measurements reply into its property store.
type Heater struct{}

var _ Ops = Heater{}

// InitProperties declares the heater's full schema. HandleReply writes
// gv_on_time, ignition_cycles, and water_temp (measurements reply) and
// heater_on, remote_rs485_disabled, and heater_error (control reply);
// the rest mirror the C original's table (src/jxi_heater.c) and are not
// written by any reply handler.
func (Heater) InitProperties(dev *Device) {
	p := dev.Props
	p.InitBool("celsius")
	p.InitInt("gv_on_time")
	p.InitInt("ignition_cycles")
	p.InitInt("water_temp")
	p.InitBool("heater_on")
	p.InitBool("remote_rs485_disabled")
	p.InitBool("heater_error")
	p.InitInt("last_fault")
	p.InitInt("prev_fault")
	p.InitBool("pool")
	p.InitBool("spa")
	p.InitInt("setpoint_pool")
	p.InitInt("setpoint_spa")
	p.InitBool("ext_temp_valid")
	p.InitInt("external_temp_reading")
	p.InitInt("timeout")
}

// NextRequest always asks for fresh measurements.
func (Heater) NextRequest(dev *Device, buf []byte) (int, error) {
	buf[0] = dev.Addr
	buf[1] = heaterMeasurements
	return 2, nil
}

// HandleReply dispatches on the command byte of an unescaped reply.
func (h Heater) HandleReply(dev *Device, reply []byte) error {
	if len(reply) < 2 {
		return &MalformedReplyError{Addr: dev.Addr, Err: ErrTooShort}
	}
	switch reply[1] {
	case heaterControlReply:
		return h.handleControlReply(dev, reply)
	case heaterMeasurements:
		return h.handleMeasurements(dev, reply)
	default:
		return &MalformedReplyError{Addr: dev.Addr, Err: ErrNotSupported}
	}
}

// handleControlReply extracts the status and error bytes from a 0x0d
// reply. Bit 0x08 of the status byte means the heater is on or
// igniting; bit 0x10 means the panel has disabled remote RS-485
// control. Bit 0x08 of the error byte means a burner fault.
func (h Heater) handleControlReply(dev *Device, reply []byte) error {
	if len(reply) < 5 {
		return &MalformedReplyError{Addr: dev.Addr, Err: ErrTooShort}
	}
	status := reply[2]
	errs := reply[4]

	dev.Props.SetBool("heater_on", status&0x08 != 0)
	dev.Props.SetBool("remote_rs485_disabled", status&0x10 != 0)
	dev.Props.SetBool("heater_error", errs&0x08 != 0)
	return nil
}

// handleMeasurements extracts two little-endian 16-bit counters
// (gas-valve on-time, ignition cycles) and a temperature byte, offset
// by -20 to get degrees.
func (h Heater) handleMeasurements(dev *Device, reply []byte) error {
	if len(reply) < 9 {
		return &MalformedReplyError{Addr: dev.Addr, Err: ErrTooShort}
	}
	gvOnTime := binary.LittleEndian.Uint16(reply[2:4])
	cycles := binary.LittleEndian.Uint16(reply[4:6])
	temp := int(reply[8]) - 20

	dev.Props.SetInt("gv_on_time", int(gvOnTime))
	dev.Props.SetInt("ignition_cycles", int(cycles))
	dev.Props.SetInt("water_temp", temp)
	return nil
}
