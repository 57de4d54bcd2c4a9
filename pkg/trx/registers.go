package trx

// Chip-wide registers
const (
	RegRF09IRQS  = 0x0000
	RegRF24IRQS  = 0x0001
	RegBBC0IRQS  = 0x0002
	RegBBC1IRQS  = 0x0003
	RegRFRST     = 0x0005
	RegRFCFG     = 0x0006
	RegRFCLKO    = 0x0007
	RegRFBMDVC   = 0x0008
	RegRFXOC     = 0x0009
	RegRFIQIFC0  = 0x000A
	RegRFPN      = 0x000D
	RegRFVN      = 0x000E
	irqStatusLen = 4
)

// RF front-end registers of RF09. RF24 is at +RFBlockOffset.
const (
	RegRF09IRQM   = 0x0100
	RegRF09AUXS   = 0x0101
	RegRF09STATE  = 0x0102
	RegRF09CMD    = 0x0103
	RegRF09CS     = 0x0104
	RegRF09CCF0L  = 0x0105
	RegRF09CCF0H  = 0x0106
	RegRF09CNL    = 0x0107
	RegRF09CNM    = 0x0108
	RegRF09RXBWC  = 0x0109
	RegRF09RXDFE  = 0x010A
	RegRF09AGCC   = 0x010B
	RegRF09AGCS   = 0x010C
	RegRF09RSSI   = 0x010D
	RegRF09EDC    = 0x010E
	RegRF09EDD    = 0x010F
	RegRF09EDV    = 0x0110
	RegRF09RNDV   = 0x0111
	RegRF09TXCUTC = 0x0112
	RegRF09TXDFE  = 0x0113
	RegRF09PAC    = 0x0114
	RegRF09PADFE  = 0x0116
	RegRF09PLL    = 0x0121
	RegRF09PLLCF  = 0x0122
	RegRF09TXCI   = 0x0125
	RegRF09TXCQ   = 0x0126
)

// Baseband core registers of BBC0. BBC1 is at +BBBlockOffset.
const (
	RegBBC0IRQM       = 0x0300
	RegBBC0PC         = 0x0301
	RegBBC0PS         = 0x0302
	RegBBC0RXFLL      = 0x0304
	RegBBC0RXFLH      = 0x0305
	RegBBC0TXFLL      = 0x0306
	RegBBC0TXFLH      = 0x0307
	RegBBC0OFDMPHRTX  = 0x030C
	RegBBC0OFDMC      = 0x030E
	RegBBC0OQPSKC0    = 0x0310
	RegBBC0OQPSKPHRTX = 0x0314
	RegBBC0AFC0       = 0x0320
	RegBBC0AFC1       = 0x0321
	RegBBC0AFFTM      = 0x0322
	RegBBC0AFFVM      = 0x0323
	RegBBC0AFS        = 0x0324
	RegBBC0MACEA0     = 0x0325
	RegBBC0MACPID0F0  = 0x032D
	RegBBC0MACPID1F0  = 0x032E
	RegBBC0MACSHA0F0  = 0x032F
	RegBBC0MACSHA1F0  = 0x0330
	RegBBC0AMCS       = 0x0340
	RegBBC0AMEDT      = 0x0341
	RegBBC0AMAACKPD   = 0x0342
	RegBBC0AMAACKTL   = 0x0343
	RegBBC0AMAACKTH   = 0x0344
	RegBBC0FSKC0      = 0x0360
	RegBBC0FSKC1      = 0x0361
	RegBBC0FSKPLL     = 0x0365
	RegBBC0FSKPHRRX   = 0x036A
)

// Frame buffers of BBC0. BBC1 is at +FrameBufferOffset.
const (
	RegBBC0FBRXS = 0x2000
	RegBBC0FBTXS = 0x2800
)

// Per-transceiver address offsets
const (
	RFBlockOffset     = 0x0100
	BBBlockOffset     = 0x0100
	FrameBufferOffset = 0x1000
	FrameBufferSize   = 0x0800
	AddressSpace      = 0x4000
)

// RF IRQ bits (RFn_IRQS, RFn_IRQM)
const (
	IRQWakeup  = 1 << 0
	IRQTrxRdy  = 1 << 1
	IRQEDC     = 1 << 2
	IRQBatLow  = 1 << 3
	IRQTrxErr  = 1 << 4
	IRQIQIFSF  = 1 << 5
)

// Baseband IRQ bits (BBCn_IRQS, BBCn_IRQM)
const (
	IRQRxFS  = 1 << 0
	IRQRxFE  = 1 << 1
	IRQRxAM  = 1 << 2
	IRQRxEM  = 1 << 3
	IRQTxFE  = 1 << 4
	IRQAGCH  = 1 << 5
	IRQAGCR  = 1 << 6
	IRQFBLI  = 1 << 7
)

// BBCn_PC bits
const (
	PCPTMask   = 0x03
	PCBBEN     = 1 << 2
	PCFCST     = 1 << 3 // 1: 16-bit FCS, 0: 32-bit FCS
	PCTXAFCS   = 1 << 4
	PCFCSOK    = 1 << 5
	PCFCSFE    = 1 << 6
	PCCTX      = 1 << 7
	PTFSK      = 0x01
	PTOFDM     = 0x02
	PTOQPSK    = 0x03
)

// PHY configuration fields
const (
	OQPSKC0FCHIPMask   = 0x03
	OQPSKPHRTXLEG      = 1 << 0 // legacy 802.15.4 O-QPSK
	OQPSKPHRTXMODShift = 1
	FSKC0MORD4         = 1 << 0 // 4-FSK
	FSKC1SRATEMask     = 0x0F
	FSKC1FSKPLH        = 1 << 7 // preamble length bit 8
	OFDMCOPTMask       = 0x03
	OFDMPHRTXMCSMask   = 0x07
)

// BBCn_PS bits
const (
	PSTXUR = 1 << 0
)

// BBCn_AMCS bits
const (
	AMCSTX2RX  = 1 << 0
	AMCSCCATX  = 1 << 1
	AMCSCCAED  = 1 << 2
	AMCSAACK   = 1 << 3
	AMCSAACKS  = 1 << 4
	AMCSAACKDR = 1 << 5
	AMCSAACKFA = 1 << 6
	AMCSAACKFT = 1 << 7
)

// BBCn_AFC0 / AFC1 / AFS bits
const (
	AFC0AFEN0 = 1 << 0
	AFC0PM    = 1 << 4
	AFC1PANC0 = 1 << 0
	AFSAM0    = 1 << 0
)

// RFn_AGCC bits
const (
	AGCCEN   = 1 << 0
	AGCCFRZC = 1 << 1
	AGCCFRZS = 1 << 2
)

// Misc field masks
const (
	EDCEDMMask       = 0x03
	PACTXPWRMask     = 0x1F
	PADFEMask        = 0xC0
	PADFEShift       = 6
	TXCMask          = 0x3F
	FSKPHRRXFCST     = 1 << 3
	RSTCmdReset      = 0x07
	CNMCNHMask       = 0x01
	DefaultPACurrent = 0x60
)

// Part numbers (RF_PN) and supported versions (RF_VN)
const (
	PartNumAT86RF215   = 0x34
	PartNumAT86RF215IQ = 0x35
	PartNumAT86RF215M  = 0x36
)

// EDMode selects the energy detection mode in RFn_EDC
type EDMode uint8

const (
	EDAuto       EDMode = 0x00
	EDSingle     EDMode = 0x01
	EDContinuous EDMode = 0x02
	EDOff        EDMode = 0x03
)

// Command is a value for RFn_CMD
type Command uint8

const (
	CmdNOP    Command = 0x00
	CmdSleep  Command = 0x01
	CmdTrxOff Command = 0x02
	CmdTxPrep Command = 0x03
	CmdTx     Command = 0x04
	CmdRx     Command = 0x05
	CmdReset  Command = 0x07
)

// State is a value of RFn_STATE
type State uint8

const (
	StateSleep      State = 0x01
	StateTrxOff     State = 0x02
	StateTxPrep     State = 0x03
	StateTx         State = 0x04
	StateRx         State = 0x05
	StateTransition State = 0x06
	StateReset      State = 0x07
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateSleep:
		return "SLEEP"
	case StateTrxOff:
		return "TRXOFF"
	case StateTxPrep:
		return "TXPREP"
	case StateTx:
		return "TX"
	case StateRx:
		return "RX"
	case StateTransition:
		return "TRANSITION"
	case StateReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// FrontEnd selects the external front-end control mode (RFn_PADFE)
type FrontEnd uint8

const (
	FrontEndNone FrontEnd = iota
	FrontEndPinMode1
	FrontEndPinMode2
	FrontEndPinMode3
)

// RadioRegisters holds the configuration registers of one transceiver
type RadioRegisters struct {
	// RF front end
	IRQM   uint8 `json:"irqm" yaml:"irqm"`
	STATE  uint8 `json:"state" yaml:"state"`
	CS     uint8 `json:"cs" yaml:"cs"`
	CCF0L  uint8 `json:"ccf0l" yaml:"ccf0l"`
	CCF0H  uint8 `json:"ccf0h" yaml:"ccf0h"`
	CNL    uint8 `json:"cnl" yaml:"cnl"`
	CNM    uint8 `json:"cnm" yaml:"cnm"`
	RXBWC  uint8 `json:"rxbwc" yaml:"rxbwc"`
	RXDFE  uint8 `json:"rxdfe" yaml:"rxdfe"`
	AGCC   uint8 `json:"agcc" yaml:"agcc"`
	EDC    uint8 `json:"edc" yaml:"edc"`
	EDD    uint8 `json:"edd" yaml:"edd"`
	TXCUTC uint8 `json:"txcutc" yaml:"txcutc"`
	TXDFE  uint8 `json:"txdfe" yaml:"txdfe"`
	PAC    uint8 `json:"pac" yaml:"pac"`
	PADFE  uint8 `json:"padfe" yaml:"padfe"`
	TXCI   uint8 `json:"txci" yaml:"txci"`
	TXCQ   uint8 `json:"txcq" yaml:"txcq"`

	// Baseband core
	BBIRQM    uint8    `json:"bb_irqm" yaml:"bb_irqm"`
	PC        uint8    `json:"pc" yaml:"pc"`
	AFC0      uint8    `json:"afc0" yaml:"afc0"`
	AFC1      uint8    `json:"afc1" yaml:"afc1"`
	AFFTM     uint8    `json:"afftm" yaml:"afftm"`
	AFFVM     uint8    `json:"affvm" yaml:"affvm"`
	MACEA     [8]uint8 `json:"macea" yaml:"macea"`
	MACPID0F0 uint8    `json:"macpid0f0" yaml:"macpid0f0"`
	MACPID1F0 uint8    `json:"macpid1f0" yaml:"macpid1f0"`
	MACSHA0F0 uint8    `json:"macsha0f0" yaml:"macsha0f0"`
	MACSHA1F0 uint8    `json:"macsha1f0" yaml:"macsha1f0"`
	AMCS      uint8    `json:"amcs" yaml:"amcs"`
	AMEDT     uint8    `json:"amedt" yaml:"amedt"`
	AMAACKPD  uint8    `json:"amaackpd" yaml:"amaackpd"`
	AMAACKTL  uint8    `json:"amaacktl" yaml:"amaacktl"`
	AMAACKTH  uint8    `json:"amaackth" yaml:"amaackth"`
}

// RegisterMap holds the chip-wide registers and both transceivers
type RegisterMap struct {
	// Read-only identification
	PN uint8 `json:"pn" yaml:"pn"` // 0x000D
	VN uint8 `json:"vn" yaml:"vn"` // 0x000E

	CFG  uint8 `json:"cfg" yaml:"cfg"`   // 0x0006
	CLKO uint8 `json:"clko" yaml:"clko"` // 0x0007
	XOC  uint8 `json:"xoc" yaml:"xoc"`   // 0x0009

	RF09 RadioRegisters `json:"rf09" yaml:"rf09"`
	RF24 RadioRegisters `json:"rf24" yaml:"rf24"`
}
