package usbbridge

import "time"

// USB identifiers of the bridge firmware
const (
	VendorID  = 0x1D50
	ProductID = 0x60C6
)

// Bulk endpoint configuration
const (
	EPInAddr       = 0x85 // device to host
	EPOutAddr      = 0x05 // host to device
	EPNumber       = 5
	MaxPacketSize  = 64
	RecvBufferSize = 516
	ResponseMarker = 0x40 // '@' starts every response
	headerLen      = 4    // app, cmd, length(2)
	respHeaderLen  = 5    // marker, app, cmd, length(2)
)

// Timeouts
const (
	DefaultTimeout = 1000 * time.Millisecond
	readSlice      = 100 * time.Millisecond
	IRQPollPeriod  = 500 * time.Microsecond
)

// Application IDs
const (
	AppSPI    = 0x50 // register access
	AppSystem = 0xFF // administrative commands
)

// System commands
const (
	SysCmdPing      = 0x82
	SysCmdBuildType = 0x86
	SysCmdReset     = 0x8F
)

// SPI application commands. Addresses and lengths are little endian.
const (
	SPICmdRead     = 0x01 // addr(2) len(2) -> data
	SPICmdWrite    = 0x02 // addr(2) data -> empty
	SPICmdIRQLevel = 0x03 // -> level(1)
	SPICmdHWReset  = 0x04 // pulse RSTN
)

// MaxBurst is the largest register burst per transfer
const MaxBurst = RecvBufferSize - respHeaderLen - 11
