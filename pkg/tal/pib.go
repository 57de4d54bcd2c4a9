package tal

import (
	"fmt"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// PIB defaults
const (
	DefaultMinBE                       = 3
	DefaultMaxBE                       = 5
	DefaultMaxCSMABackoffs             = 4
	DefaultMaxFrameRetries             = 3
	DefaultMaxNumRxFramesDuringBackoff = 3
	DefaultCCAThreshold                = -75 // dBm
	DefaultTxPower                     = 14  // dBm
	DefaultChannelRF09                 = 1
	DefaultChannelRF24                 = 11
	DefaultPANID                       = 0xFFFF
	DefaultShortAddress                = 0xFFFF

	// Upper limits from IEEE 802.15.4
	MaxMaxBE                       = 8
	MinMaxBE                       = 3
	MaxMaxCSMABackoffs             = 5
	MaxMaxFrameRetries             = 7
	MaxMaxNumRxFramesDuringBackoff = 15

	// Transmit power range in dBm
	MinTxPower = -17
	MaxTxPower = 14
)

// O-QPSK channel plans. CCF0 is the centre frequency of the first channel in
// 25 kHz steps (2.4 GHz relative to 1.5 GHz), CS the spacing.
const (
	rf09FirstChannel = 1
	rf09LastChannel  = 10
	rf09CCF0         = 0x8D90 // 906 MHz
	rf09Spacing      = 0x50   // 2 MHz

	rf24FirstChannel = 11
	rf24LastChannel  = 26
	rf24CCF0         = 0x8D68 // 2405 MHz
	rf24Spacing      = 0xC8   // 5 MHz
)

// Frame types accepted by the frame filter
const (
	frameTypesDefault = 1<<frame.TypeBeacon | 1<<frame.TypeData | 1<<frame.TypeAck | 1<<frame.TypeMACCmd
	frameTypesAckOnly = 1 << frame.TypeAck
)

// PIB is the per-transceiver PAN information base
type PIB struct {
	PANID        uint16 `json:"pan_id" yaml:"pan_id"`
	ShortAddress uint16 `json:"short_address" yaml:"short_address"`
	IEEEAddress  uint64 `json:"ieee_address" yaml:"ieee_address"`
	Channel      uint16 `json:"channel" yaml:"channel"`
	TxPower      int8   `json:"tx_power" yaml:"tx_power"`           // dBm
	CCAThreshold int8   `json:"cca_threshold" yaml:"cca_threshold"` // dBm

	MinBE                       uint8 `json:"min_be" yaml:"min_be"`
	MaxBE                       uint8 `json:"max_be" yaml:"max_be"`
	MaxCSMABackoffs             uint8 `json:"max_csma_backoffs" yaml:"max_csma_backoffs"`
	MaxFrameRetries             uint8 `json:"max_frame_retries" yaml:"max_frame_retries"`
	MaxNumRxFramesDuringBackoff uint8 `json:"max_num_rx_frames_during_backoff" yaml:"max_num_rx_frames_during_backoff"`

	PromiscuousMode bool `json:"promiscuous_mode" yaml:"promiscuous_mode"`
	FCS32           bool `json:"fcs32" yaml:"fcs32"`
	PANCoordinator  bool `json:"pan_coordinator" yaml:"pan_coordinator"`

	PHY PHY `json:"phy" yaml:"phy"`
}

// DefaultPIB returns the PIB a transceiver starts with after reset
func DefaultPIB(id TrxID) PIB {
	ch := uint16(DefaultChannelRF24)
	if id == RF09 {
		ch = DefaultChannelRF09
	}
	return PIB{
		PANID:                       DefaultPANID,
		ShortAddress:                DefaultShortAddress,
		Channel:                     ch,
		TxPower:                     DefaultTxPower,
		CCAThreshold:                DefaultCCAThreshold,
		MinBE:                       DefaultMinBE,
		MaxBE:                       DefaultMaxBE,
		MaxCSMABackoffs:             DefaultMaxCSMABackoffs,
		MaxFrameRetries:             DefaultMaxFrameRetries,
		MaxNumRxFramesDuringBackoff: DefaultMaxNumRxFramesDuringBackoff,
		PHY:                         DefaultPHY(),
	}
}

// Validate checks the PIB against the limits of transceiver id
func (p *PIB) Validate(id TrxID) error {
	if !validChannel(id, p.Channel) {
		return fmt.Errorf("channel %d not available on %s", p.Channel, id)
	}
	if p.TxPower < MinTxPower || p.TxPower > MaxTxPower {
		return fmt.Errorf("tx power %d dBm out of range", p.TxPower)
	}
	if p.MaxBE < MinMaxBE || p.MaxBE > MaxMaxBE {
		return fmt.Errorf("max BE %d out of range", p.MaxBE)
	}
	if p.MinBE > p.MaxBE {
		return fmt.Errorf("min BE %d above max BE %d", p.MinBE, p.MaxBE)
	}
	if p.MaxCSMABackoffs > MaxMaxCSMABackoffs {
		return fmt.Errorf("max CSMA backoffs %d out of range", p.MaxCSMABackoffs)
	}
	if p.MaxFrameRetries > MaxMaxFrameRetries {
		return fmt.Errorf("max frame retries %d out of range", p.MaxFrameRetries)
	}
	if p.MaxNumRxFramesDuringBackoff > MaxMaxNumRxFramesDuringBackoff {
		return fmt.Errorf("max RX frames during backoff %d out of range", p.MaxNumRxFramesDuringBackoff)
	}
	if err := p.PHY.Validate(); err != nil {
		return fmt.Errorf("phy: %w", err)
	}
	return nil
}

func (p *PIB) fcsLen() int {
	if p.FCS32 {
		return frame.FCSLen32
	}
	return frame.FCSLen16
}

func validChannel(id TrxID, ch uint16) bool {
	if id == RF09 {
		return ch >= rf09FirstChannel && ch <= rf09LastChannel
	}
	return ch >= rf24FirstChannel && ch <= rf24LastChannel
}

// txPowerRegister maps dBm to PAC.TXPWR
func txPowerRegister(dBm int8) uint8 {
	v := int(dBm) - MinTxPower
	if v < 0 {
		v = 0
	}
	if v > trx.PACTXPWRMask {
		v = trx.PACTXPWRMask
	}
	return uint8(v)
}

// Attribute names a PIB entry for GetPIB and SetPIB
type Attribute uint8

const (
	AttrPANID Attribute = iota
	AttrShortAddress
	AttrIEEEAddress
	AttrChannel
	AttrTxPower
	AttrCCAThreshold
	AttrMinBE
	AttrMaxBE
	AttrMaxCSMABackoffs
	AttrMaxFrameRetries
	AttrMaxNumRxFramesDuringBackoff
	AttrPromiscuousMode
	AttrFCS32
	AttrPANCoordinator
	AttrPHY
)

var attributeNames = []string{
	"PANId", "ShortAddress", "IeeeAddress", "CurrentChannel", "TransmitPower",
	"CCAThreshold", "MinBE", "MaxBE", "MaxCSMABackoffs", "MaxFrameRetries",
	"MaxNumRxFramesDuringBackoff", "PromiscuousMode", "FCSType", "PanCoordinator",
	"PhyConfig",
}

func (a Attribute) String() string {
	if int(a) < len(attributeNames) {
		return attributeNames[a]
	}
	return fmt.Sprintf("Attribute(%d)", uint8(a))
}

// PIB returns a copy of the PIB of transceiver id
func (t *TAL) PIB(id TrxID) (PIB, Status) {
	tr := t.transceiver(id)
	if tr == nil {
		return PIB{}, InvalidParameter
	}
	return tr.pib, Success
}

// GetPIB reads one attribute. The value has the type of the matching PIB field.
func (t *TAL) GetPIB(id TrxID, attr Attribute) (any, Status) {
	tr := t.transceiver(id)
	if tr == nil {
		return nil, InvalidParameter
	}
	p := &tr.pib
	switch attr {
	case AttrPANID:
		return p.PANID, Success
	case AttrShortAddress:
		return p.ShortAddress, Success
	case AttrIEEEAddress:
		return p.IEEEAddress, Success
	case AttrChannel:
		return p.Channel, Success
	case AttrTxPower:
		return p.TxPower, Success
	case AttrCCAThreshold:
		return p.CCAThreshold, Success
	case AttrMinBE:
		return p.MinBE, Success
	case AttrMaxBE:
		return p.MaxBE, Success
	case AttrMaxCSMABackoffs:
		return p.MaxCSMABackoffs, Success
	case AttrMaxFrameRetries:
		return p.MaxFrameRetries, Success
	case AttrMaxNumRxFramesDuringBackoff:
		return p.MaxNumRxFramesDuringBackoff, Success
	case AttrPromiscuousMode:
		return p.PromiscuousMode, Success
	case AttrFCS32:
		return p.FCS32, Success
	case AttrPANCoordinator:
		return p.PANCoordinator, Success
	case AttrPHY:
		return p.PHY, Success
	}
	return nil, UnsupportedAttribute
}

// SetPIB writes one attribute and applies it to the transceiver. value must
// have the type of the matching PIB field. Changes are refused while the
// transceiver sleeps or is in a transaction.
func (t *TAL) SetPIB(id TrxID, attr Attribute, value any) Status {
	tr := t.transceiver(id)
	if tr == nil {
		return InvalidParameter
	}
	if tr.state == StateSleep {
		return TrxAsleep
	}
	if tr.state != StateIdle || tr.ackTransmitting {
		return Busy
	}

	p := tr.pib
	ok := true
	switch attr {
	case AttrPANID:
		p.PANID, ok = value.(uint16)
	case AttrShortAddress:
		p.ShortAddress, ok = value.(uint16)
	case AttrIEEEAddress:
		p.IEEEAddress, ok = value.(uint64)
	case AttrChannel:
		p.Channel, ok = value.(uint16)
	case AttrTxPower:
		p.TxPower, ok = value.(int8)
	case AttrCCAThreshold:
		p.CCAThreshold, ok = value.(int8)
	case AttrMinBE:
		p.MinBE, ok = value.(uint8)
	case AttrMaxBE:
		p.MaxBE, ok = value.(uint8)
	case AttrMaxCSMABackoffs:
		p.MaxCSMABackoffs, ok = value.(uint8)
	case AttrMaxFrameRetries:
		p.MaxFrameRetries, ok = value.(uint8)
	case AttrMaxNumRxFramesDuringBackoff:
		p.MaxNumRxFramesDuringBackoff, ok = value.(uint8)
	case AttrPromiscuousMode:
		p.PromiscuousMode, ok = value.(bool)
	case AttrFCS32:
		p.FCS32, ok = value.(bool)
	case AttrPANCoordinator:
		p.PANCoordinator, ok = value.(bool)
	case AttrPHY:
		p.PHY, ok = value.(PHY)
	default:
		return UnsupportedAttribute
	}
	if !ok {
		return InvalidParameter
	}
	if err := p.Validate(id); err != nil {
		tr.log.Debugw("rejected PIB value", "attr", attr, "value", value, "error", err)
		return InvalidParameter
	}

	tr.pib = p
	tr.applyAttribute(attr)
	if err := tr.radio.Err(); err != nil {
		tr.log.Errorw("PIB write failed", "attr", attr, "error", err)
		tr.radio.ClearErr()
		return Failure
	}
	tr.log.Debugw("PIB set", "attr", attr, "value", value)
	return Success
}

// applyAttribute writes one PIB entry to the registers
func (tr *transceiver) applyAttribute(attr Attribute) {
	r := tr.radio
	p := &tr.pib
	switch attr {
	case AttrPANID:
		r.SetPANID(p.PANID)
	case AttrShortAddress:
		r.SetShortAddress(p.ShortAddress)
	case AttrIEEEAddress:
		r.SetIEEEAddress(p.IEEEAddress)
	case AttrChannel:
		// the synthesizer only retunes outside RX and TX
		r.SetCommand(trx.CmdTrxOff)
		tr.trxState = trx.StateTrxOff
		tr.setChannel()
		tr.setDefaultState()
	case AttrTxPower:
		r.SetTxPower(txPowerRegister(p.TxPower))
	case AttrCCAThreshold:
		r.SetCCAThreshold(p.CCAThreshold)
	case AttrPromiscuousMode:
		r.SetFrameFilter(true, p.PromiscuousMode)
	case AttrFCS32:
		r.ConfigurePHY(p.PHY.phyType(), !p.FCS32)
	case AttrPANCoordinator:
		r.SetPANCoordinator(p.PANCoordinator)
	case AttrPHY:
		tr.applyPHY(p.PHY)
	}
	// backoff and retry limits live in software only
}

func (tr *transceiver) setChannel() {
	r := tr.radio
	if tr.id == RF09 {
		r.SetChannelScheme(rf09CCF0, rf09Spacing)
		r.SetChannel(tr.pib.Channel - rf09FirstChannel)
		return
	}
	r.SetChannelScheme(rf24CCF0, rf24Spacing)
	r.SetChannel(tr.pib.Channel - rf24FirstChannel)
}

// writeAllPIB restores every register backed PIB entry, used after reset
// and after the register contents were lost in deep sleep.
func (tr *transceiver) writeAllPIB() {
	r := tr.radio
	p := &tr.pib
	r.SetPANID(p.PANID)
	r.SetShortAddress(p.ShortAddress)
	r.SetIEEEAddress(p.IEEEAddress)
	r.SetFrameFilter(true, p.PromiscuousMode)
	r.SetPANCoordinator(p.PANCoordinator)
	r.SetCCAThreshold(p.CCAThreshold)
	r.SetTxPower(txPowerRegister(p.TxPower))
	tr.writePHY(p.PHY)
	tr.setChannel()
}

// ChannelRange returns the first and last O-QPSK channel of transceiver id
func ChannelRange(id TrxID) (first, last uint16) {
	if id == RF09 {
		return rf09FirstChannel, rf09LastChannel
	}
	return rf24FirstChannel, rf24LastChannel
}
