// Package frame holds the IEEE 802.15.4 MAC frame layout pieces the
// transceiver layer needs: frame control decoding, ACK recognition, address
// extraction for filtering, builders and the frame check sequence.
package frame

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// PHY and MAC constants
const (
	MaxPHYPacketSize   = 127
	MaxSIFSFrameSize   = 18
	UnitBackoffPeriod  = 20 // symbols
	TurnaroundTime     = 12 // symbols
	MinSIFSPeriod      = 12 // symbols
	MinLIFSPeriod      = 40 // symbols
	AckLen             = 3  // FCF + sequence number, without FCS
	FCFLen             = 2
	SeqOffset          = 2
	BroadcastAddr      = 0xFFFF
	BroadcastPANID     = 0xFFFF
	PHYHeaderOctets    = 6 // preamble, SFD and PHR on O-QPSK
	SymbolsPerOctet    = 2 // O-QPSK 250 kbit/s
	DefaultSymbolTime  = 16 // microseconds
	FCSLen16           = 2
	FCSLen32           = 4
)

// Frame types
const (
	TypeBeacon  = 0x00
	TypeData    = 0x01
	TypeAck     = 0x02
	TypeMACCmd  = 0x03
	TypeLLDN    = 0x04
	TypeMP      = 0x05
	typeMask    = 0x07
)

// Frame control flags
const (
	FCFSecurityEnabled = 1 << 3
	FCFFramePending    = 1 << 4
	FCFAckRequest      = 1 << 5
	FCFPANIDCompress   = 1 << 6
)

// Frame versions
const (
	Version2003 = 0
	Version2006 = 1
	Version2012 = 2
)

// Addressing modes
const (
	AddrNone     = 0x00
	AddrReserved = 0x01
	AddrShort    = 0x02
	AddrLong     = 0x03
)

const (
	destAddrModeShift = 10
	versionShift      = 12
	srcAddrModeShift  = 14
)

// ErrTruncated is returned when a frame ends before its addressing fields
var ErrTruncated = errors.New("frame truncated")

// FCF is the 16-bit frame control field
type FCF uint16

// Control decodes the frame control field of mpdu
func Control(mpdu []byte) FCF {
	if len(mpdu) < FCFLen {
		return 0
	}
	return FCF(binary.LittleEndian.Uint16(mpdu))
}

// Type returns the frame type
func (f FCF) Type() uint8 { return uint8(f) & typeMask }

// Version returns the frame version
func (f FCF) Version() uint8 { return uint8(f>>versionShift) & 0x03 }

// AckRequest reports the ACK request flag
func (f FCF) AckRequest() bool { return f&FCFAckRequest != 0 }

// FramePending reports the frame pending flag
func (f FCF) FramePending() bool { return f&FCFFramePending != 0 }

// PANIDCompression reports the PAN ID compression flag
func (f FCF) PANIDCompression() bool { return f&FCFPANIDCompress != 0 }

// DestAddrMode returns the destination addressing mode
func (f FCF) DestAddrMode() uint8 { return uint8(f>>destAddrModeShift) & 0x03 }

// SrcAddrMode returns the source addressing mode
func (f FCF) SrcAddrMode() uint8 { return uint8(f>>srcAddrModeShift) & 0x03 }

// Seq returns the sequence number, 0 for frames too short to carry one
func Seq(mpdu []byte) uint8 {
	if len(mpdu) <= SeqOffset {
		return 0
	}
	return mpdu[SeqOffset]
}

// IsAck reports whether mpdu (without FCS) is an immediate ACK: three bytes,
// ACK frame type and a 2003 or 2006 frame version.
func IsAck(mpdu []byte) bool {
	if len(mpdu) != AckLen {
		return false
	}
	fcf := Control(mpdu)
	if fcf.Type() != TypeAck {
		return false
	}
	v := fcf.Version()
	return v == Version2003 || v == Version2006
}

// Address is a decoded destination address
type Address struct {
	Mode  uint8
	PANID uint16
	Short uint16
	Long  uint64
}

// Broadcast reports whether the address is the short broadcast address
func (a Address) Broadcast() bool {
	return a.Mode == AddrShort && a.Short == BroadcastAddr
}

// Destination decodes the destination PAN ID and address of mpdu
func Destination(mpdu []byte) (Address, error) {
	fcf := Control(mpdu)
	a := Address{Mode: fcf.DestAddrMode()}
	off := SeqOffset + 1

	switch a.Mode {
	case AddrNone, AddrReserved:
		return a, nil
	case AddrShort:
		if len(mpdu) < off+4 {
			return a, ErrTruncated
		}
		a.PANID = binary.LittleEndian.Uint16(mpdu[off:])
		a.Short = binary.LittleEndian.Uint16(mpdu[off+2:])
	case AddrLong:
		if len(mpdu) < off+10 {
			return a, ErrTruncated
		}
		a.PANID = binary.LittleEndian.Uint16(mpdu[off:])
		a.Long = binary.LittleEndian.Uint64(mpdu[off+2:])
	}
	return a, nil
}

// NewAck builds an immediate ACK for sequence number seq
func NewAck(seq uint8, pending bool) []byte {
	fcf := FCF(TypeAck)
	if pending {
		fcf |= FCFFramePending
	}
	b := make([]byte, AckLen)
	binary.LittleEndian.PutUint16(b, uint16(fcf))
	b[SeqOffset] = seq
	return b
}

// DataFrame describes a data frame with short addressing
type DataFrame struct {
	Seq        uint8
	PANID      uint16
	Dest       uint16
	Src        uint16
	AckRequest bool
	Payload    []byte
}

// Bytes encodes the frame without FCS, using PAN ID compression
func (d DataFrame) Bytes() []byte {
	fcf := FCF(TypeData) | FCFPANIDCompress |
		FCF(AddrShort)<<destAddrModeShift |
		FCF(AddrShort)<<srcAddrModeShift |
		FCF(Version2006)<<versionShift
	if d.AckRequest {
		fcf |= FCFAckRequest
	}

	b := make([]byte, 9, 9+len(d.Payload))
	binary.LittleEndian.PutUint16(b[0:], uint16(fcf))
	b[2] = d.Seq
	binary.LittleEndian.PutUint16(b[3:], d.PANID)
	binary.LittleEndian.PutUint16(b[5:], d.Dest)
	binary.LittleEndian.PutUint16(b[7:], d.Src)
	return append(b, d.Payload...)
}

// FCS16 computes the ITU-T CRC-16 used as the 2-octet 802.15.4 FCS
// (polynomial 0x1021, reflected, zero initial value).
func FCS16(data []byte) uint16 {
	var crc uint16
	for _, c := range data {
		crc ^= uint16(c)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendFCS appends the frame check sequence of the given length (2 or 4)
func AppendFCS(mpdu []byte, fcsLen int) []byte {
	out := make([]byte, len(mpdu), len(mpdu)+fcsLen)
	copy(out, mpdu)
	if fcsLen == FCSLen32 {
		return binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(mpdu))
	}
	return binary.LittleEndian.AppendUint16(out, FCS16(mpdu))
}

// CheckFCS verifies the trailing FCS of psdu
func CheckFCS(psdu []byte, fcsLen int) bool {
	if len(psdu) < fcsLen {
		return false
	}
	body := psdu[:len(psdu)-fcsLen]
	if fcsLen == FCSLen32 {
		return binary.LittleEndian.Uint32(psdu[len(body):]) == crc32.ChecksumIEEE(body)
	}
	return binary.LittleEndian.Uint16(psdu[len(body):]) == FCS16(body)
}
