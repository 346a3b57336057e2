package aqualink

import "fmt"

// Control-panel command bytes.
const (
	panelAck           = 0x01
	panelDisplayString = 0x03
	panelLEDBitmask    = 0x02
)

// buttonNames maps a button code (as reported in a panel ack's payload
// byte 3) to a human name, straight from the C original's
// button_names[] table (src/rs_panel.c).
var buttonNames = map[byte]string{
	0x01: "spa",
	0x02: "pump",
	0x05: "aux1",
	0x06: "aux4",
	0x0a: "aux2",
	0x0b: "aux5",
	0x0f: "aux3",
	0x10: "aux6",
	0x12: "pool heat",
	0x15: "aux7",
	0x17: "spa heat",
	0x1c: "aux extra",
}

// ControlPanel implements Ops for the RS-485 control panel. Its
// NextRequest rotates through four outgoing commands (display a
// status string, set an LED bitmask, display the pool temperature,
// display the spa temperature) keyed by a counter mod 4. ControlPanel
// only reads pool_temp and spa_temp; neither it nor the scheduler
// writes them, so they stay 0 unless set from outside.
type ControlPanel struct {
	cycle   int
	ledMask uint32
}

var _ Ops = (*ControlPanel)(nil)

// InitProperties declares the panel's own minimal schema: the last
// button pressed and the two temperatures it displays. This is
// deliberately not the heater's schema (spec.md §9 flags the two
// init_properties tables diverging in the C original as a bug, not a
// feature to replicate).
func (p *ControlPanel) InitProperties(dev *Device) {
	dev.Props.InitInt("last_button")
	dev.Props.InitInt("pool_temp")
	dev.Props.InitInt("spa_temp")
}

// NextRequest rotates through the four display/LED commands.
func (p *ControlPanel) NextRequest(dev *Device, buf []byte) (int, error) {
	step := p.cycle & 0x3
	p.cycle++
	switch step {
	case 0:
		p.ledMask = nextLEDMask(p.ledMask)
		return p.statusString(dev, buf, fmt.Sprintf("STATUS 0x%x", p.ledMask))
	case 1:
		return p.ledBitmask(dev, buf)
	case 2:
		temp, _ := dev.Props.GetInt("pool_temp")
		return p.statusString(dev, buf, fmt.Sprintf("POOL TEMP %dF", temp))
	case 3:
		temp, _ := dev.Props.GetInt("spa_temp")
		return p.statusString(dev, buf, fmt.Sprintf("SPA TEMP %dF", temp))
	}
	return 0, ErrNotSupported
}

func nextLEDMask(mask uint32) uint32 {
	if mask == 0 {
		return 1
	}
	return mask << 1
}

// statusString writes a short display-string command: address,
// command 0x03, a reserved flag byte, then up to 13 ASCII bytes.
func (p *ControlPanel) statusString(dev *Device, buf []byte, s string) (int, error) {
	if len(s) > 13 {
		s = s[:13]
	}
	buf[0] = dev.Addr
	buf[1] = panelDisplayString
	buf[2] = 0
	n := copy(buf[3:], s)
	return 3 + n, nil
}

// ledBitmask writes the LED-field command: address, command 0x02,
// four big-endian bytes of the LED mask, then its one's-complement
// low byte.
func (p *ControlPanel) ledBitmask(dev *Device, buf []byte) (int, error) {
	buf[0] = dev.Addr
	buf[1] = panelLEDBitmask
	buf[2] = byte(p.ledMask >> 24)
	buf[3] = byte(p.ledMask >> 16)
	buf[4] = byte(p.ledMask >> 8)
	buf[5] = byte(p.ledMask)
	buf[6] = ^byte(p.ledMask)
	return 7, nil
}

// HandleReply handles the acknowledgment command (0x01): extracts a
// button-code byte at offset 3, records it, and logs the associated
// button name (spec.md §4.5).
func (p *ControlPanel) HandleReply(dev *Device, reply []byte) error {
	if len(reply) < 2 {
		return &MalformedReplyError{Addr: dev.Addr, Err: ErrTooShort}
	}
	if reply[1] != panelAck {
		return &MalformedReplyError{Addr: dev.Addr, Err: ErrNotSupported}
	}
	if len(reply) < 4 {
		return &MalformedReplyError{Addr: dev.Addr, Err: ErrTooShort}
	}
	btn := reply[3]
	dev.Props.SetInt("last_button", int(btn))
	if dev.Log != nil {
		dev.Log.Info("button pressed", "addr", dev.Addr, "button", ButtonName(btn))
	}
	return nil
}

// ButtonName returns the human name for a button code, or "" if
// unknown.
func ButtonName(code byte) string {
	return buttonNames[code]
}
