package reader

import (
	"encoding/binary"
	"fmt"
)

// Command frames for ACR122U class readers.
var (
	cmdReadUID       = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
	cmdDisableBuzzer = []byte{0xFF, 0x00, 0x52, 0x00, 0x00}

	// LEDs off, 100ms beep, once, then back to default.
	cmdOneBuzz = []byte{0xFF, 0x00, 0x40, 0x40, 0x04, 0x00, 0x01, 0x02, 0x02}
)

// statusSuccess is the "command executed" status word.
const statusSuccess uint16 = 0x9000

// parseResponse splits a response into its data and status word.
func parseResponse(rsp []byte) ([]byte, uint16, error) {
	if len(rsp) < 2 {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrMalformedResponse, len(rsp))
	}
	n := len(rsp) - 2
	sw := binary.BigEndian.Uint16(rsp[n:])
	if sw != statusSuccess {
		return nil, sw, fmt.Errorf("%w: status %04X", ErrCardReadFailure, sw)
	}
	if n == 0 {
		return nil, sw, ErrEmptyCode
	}
	uid := make([]byte, n)
	copy(uid, rsp[:n])
	return uid, sw, nil
}
