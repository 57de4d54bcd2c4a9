package trx

// SetFrontEnd selects how the FEMx pins drive an external front end
// (PA/LNA module) for this transceiver.
func (r *Radio) SetFrontEnd(mode FrontEnd) {
	r.update(r.rf+RegRF09PADFE, PADFEMask, uint8(mode)<<PADFEShift)
}

// EnableFrontEnd switches the external front end to pin mode 1
func (r *Radio) EnableFrontEnd() {
	r.SetFrontEnd(FrontEndPinMode1)
}

// DisableFrontEnd leaves the FEMx pins unused
func (r *Radio) DisableFrontEnd() {
	r.SetFrontEnd(FrontEndNone)
}

// String returns the front-end mode name
func (f FrontEnd) String() string {
	switch f {
	case FrontEndNone:
		return "none"
	case FrontEndPinMode1:
		return "pin-mode-1"
	case FrontEndPinMode2:
		return "pin-mode-2"
	case FrontEndPinMode3:
		return "pin-mode-3"
	default:
		return "unknown"
	}
}
