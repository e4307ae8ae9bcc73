package mlie

import "github.com/google/gopacket/layers"

// Element and subelement identifiers.
const (
	TagSSID      = uint8(layers.Dot11InformationElementIDSSID)
	TagVendor    = uint8(layers.Dot11InformationElementIDVendor)
	TagFragment  = 242
	TagExtension = 255

	ExtIDNonInheritance = 56
	ExtIDMultiLink      = 107

	SubelemPerSTAProfile = 0
	SubelemFragment      = 254
)

// Sizes on the wire.
const (
	MaxIELen     = 255
	ieHeaderLen  = 2
	mlFixedLen   = 5 // ID, length, extension ID, ML control
	mlCtrlLen    = 2
	macLen       = 6
	minVendorLen = 4 // OUI + type
)

// Variant is the Type subfield of the ML Control field.
type Variant uint8

const (
	VariantBasic    Variant = 0
	VariantProbeReq Variant = 1
	VariantReconfig Variant = 2
)

func (v Variant) String() string {
	switch v {
	case VariantBasic:
		return "basic"
	case VariantProbeReq:
		return "probe_request"
	case VariantReconfig:
		return "reconfig"
	default:
		return "invalid"
	}
}

// ML Control layout.
const (
	ctrlTypeMask  = 0x000f
	ctrlPBMShift  = 4
	variantsValid = 3
)

// Basic variant presence bitmap.
const (
	PresLinkIDInfo uint16 = 1 << iota
	PresBSSParamChangeCnt
	PresMediumSyncDelay
	PresEMLCap
	PresMLDCapAndOp
	PresMLDID
)

// Probe Request variant presence bitmap.
const (
	PresPRMLDID uint16 = 1 << 0
)

// Reconfiguration variant presence bitmap.
const (
	PresRVMLDMACAddr uint16 = 1 << 0
)

// Basic variant Per-STA Profile STA Control bits.
const (
	staCtrlLinkIDMask    = 0x000f
	staCtrlComplete      = 1 << 4
	staCtrlMACAddrP      = 1 << 5
	staCtrlBcnIntP       = 1 << 6
	staCtrlTSFOffsetP    = 1 << 7
	staCtrlDTIMInfoP     = 1 << 8
	staCtrlNSTRLinkPairP = 1 << 9
	staCtrlNSTRBmSize2   = 1 << 10
	staCtrlBPCCP         = 1 << 11
)

// Reconfiguration variant Per-STA Profile STA Control bits.
const (
	rvStaCtrlMACAddrP        = 1 << 5
	rvStaCtrlAPRemovalTimerP = 1 << 6
)

// Fixed-field offsets of the frame bodies handled by link frame generation.
const (
	assocReqIEOffset   = 4
	reassocReqIEOffset = 10
	assocRespIEOffset  = 6
	probeRespIEOffset  = 12

	capabilityLen     = 2
	listenIntervalLen = 2
	statusCodeLen     = 2
	aidLen            = 2
	timestampLen      = 8
	beaconIntervalLen = 2

	macHeaderLen = 24
)
