package aqualink

// header and footer delimit a frame on the wire. 0x10 is escaped
// everywhere between them (see pack.go); the header and footer
// themselves are never escaped since they are recognized positionally.
var (
	header = [2]byte{0x10, 0x02}
	footer = [2]byte{0x10, 0x03}
)

// minFrameLen is header (2) + checksum (1) + footer (2). A frame of
// exactly this length decodes to an empty message.
const minFrameLen = 5

// Encode converts an unescaped message (slave address, command, and
// payload bytes) into an on-wire frame: header, escaped message,
// escaped modulo-256 checksum, footer.
func Encode(msg []byte) []byte {
	sum := sumMod256(header[:])
	sum += sumMod256(msg)

	frame := make([]byte, 0, 4+2*len(msg)+3)
	frame = append(frame, header[:]...)
	frame = pack(frame, msg)

	csum := byte(sum)
	frame = append(frame, csum)
	if csum == 0x10 {
		frame = append(frame, 0x00)
	}
	frame = append(frame, footer[:]...)
	return frame
}

// Decode validates and unescapes a complete on-wire frame, returning
// the message bytes (slave address, command, payload) with the
// trailing checksum removed.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < minFrameLen {
		return nil, ErrTooShort
	}
	if frame[0] != header[0] || frame[1] != header[1] {
		return nil, ErrBadHeader
	}
	n := len(frame)
	if frame[n-2] != footer[0] || frame[n-1] != footer[1] {
		return nil, ErrBadFooter
	}

	body := frame[2 : n-2]
	dst := make([]byte, len(body))
	k := unpack(dst, body)
	dst = dst[:k]

	if len(dst) < 1 {
		return nil, ErrTooShort
	}
	msg, csum := dst[:len(dst)-1], dst[len(dst)-1]

	want := byte(sumMod256(header[:]) + sumMod256(msg))
	if want != csum {
		return nil, ErrBadChecksum
	}
	return msg, nil
}

func sumMod256(buf []byte) int {
	sum := 0
	for _, b := range buf {
		sum += int(b)
	}
	return sum & 0xff
}
