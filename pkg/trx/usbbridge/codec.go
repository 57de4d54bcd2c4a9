package usbbridge

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	errIncomplete = errors.New("incomplete response")

	// ErrNoDevice is returned when no bridge matches the selector
	ErrNoDevice = errors.New("no bridge found")
)

// encodePacket builds a command: app(1) + cmd(1) + length(2 LE) + payload
func encodePacket(app, cmd uint8, payload []byte) []byte {
	packet := make([]byte, headerLen+len(payload))
	packet[0] = app
	packet[1] = cmd
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(payload)))
	copy(packet[headerLen:], payload)
	return packet
}

// parseResponse looks for a complete response to app/cmd in buf:
// '@'(1) + app(1) + cmd(1) + length(2 LE) + payload. It returns the payload
// and the unconsumed rest of buf. Garbage before a marker and complete
// responses to other commands are dropped.
func parseResponse(buf []byte, app, cmd uint8) (payload, rest []byte, err error) {
	for {
		i := indexOf(buf, ResponseMarker)
		if i < 0 {
			return nil, buf[:0], errIncomplete
		}
		buf = buf[i:]
		if len(buf) < respHeaderLen {
			return nil, buf, errIncomplete
		}

		n := int(binary.LittleEndian.Uint16(buf[3:5]))
		total := respHeaderLen + n
		if len(buf) < total {
			return nil, buf, errIncomplete
		}
		if buf[1] != app || buf[2] != cmd {
			buf = buf[total:]
			continue
		}

		payload = make([]byte, n)
		copy(payload, buf[respHeaderLen:total])
		return payload, buf[total:], nil
	}
}

func indexOf(b []byte, v byte) int {
	for i, c := range b {
		if c == v {
			return i
		}
	}
	return -1
}

func readPayload(addr uint16, n int) []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p[0:], addr)
	binary.LittleEndian.PutUint16(p[2:], uint16(n))
	return p
}

func writePayload(addr uint16, data []byte) []byte {
	p := make([]byte, 2+len(data))
	binary.LittleEndian.PutUint16(p[0:], addr)
	copy(p[2:], data)
	return p
}

func checkLen(got []byte, want int) error {
	if len(got) != want {
		return fmt.Errorf("short response: got %d bytes, want %d", len(got), want)
	}
	return nil
}
