package tal

import "fmt"

// Status is the outcome code shared with the MAC layer. The values are the
// 8-bit enumerants of the IEEE 802.15.4 stack.
type Status uint8

const (
	Success              Status = 0x00
	TrxAsleep            Status = 0x81
	TrxAwake             Status = 0x82
	Failure              Status = 0x85
	Busy                 Status = 0x86
	FramePending         Status = 0x87
	ChannelAccessFailure Status = 0xE1
	InvalidParameter     Status = 0xE8
	NoAck                Status = 0xE9
	UnsupportedAttribute Status = 0xF4
)

var statusNames = map[Status]string{
	Success:              "SUCCESS",
	TrxAsleep:            "TAL_TRX_ASLEEP",
	TrxAwake:             "TAL_TRX_AWAKE",
	Failure:              "FAILURE",
	Busy:                 "TAL_BUSY",
	FramePending:         "TAL_FRAME_PENDING",
	ChannelAccessFailure: "MAC_CHANNEL_ACCESS_FAILURE",
	InvalidParameter:     "MAC_INVALID_PARAMETER",
	NoAck:                "MAC_NO_ACK",
	UnsupportedAttribute: "MAC_UNSUPPORTED_ATTRIBUTE",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(0x%02X)", uint8(s))
}

// Error lets a Status travel as an error where that is convenient
func (s Status) Error() string {
	return s.String()
}

// Err returns nil for Success and the status itself otherwise
func (s Status) Err() error {
	if s == Success {
		return nil
	}
	return s
}

// Delivered reports whether a transmit status means the frame was
// acknowledged or sent.
func (s Status) Delivered() bool {
	return s == Success || s == FramePending
}
