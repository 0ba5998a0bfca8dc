package domain

import "errors"

// Sentinel errors for the configuration-invalid taxonomy: the caller's
// operation is rejected and state is left untouched.
var (
	ErrInvalidMAC           = errors.New("invalid MAC address")
	ErrInvalidOUI           = errors.New("invalid OUI prefix")
	ErrInvalidIdentityID    = errors.New("invalid identity handle")
	ErrInvalidInterfaceName = errors.New("invalid interface name")
	ErrChannelOutOfRange    = errors.New("channel out of range")
	ErrDurationOutOfRange   = errors.New("duration out of range")
	ErrIdentityCapReached   = errors.New("device identity cap reached")
	ErrSessionCapReached    = errors.New("active session cap reached")
	ErrInsufficientGPSNodes = errors.New("insufficient GPS nodes for trilateration")
	ErrTriangulationBusy    = errors.New("triangulation already active")
	ErrTriangulationIdle    = errors.New("no active triangulation session")
	ErrUnknownTarget        = errors.New("unknown or malformed target")

	// Transport/storage-layer sentinels.
	ErrIdentityDBCorrupt = errors.New("identity database corrupt")
	ErrMeshLineTooLong   = errors.New("mesh line exceeds maximum length")
	ErrMeshTXTimeout     = errors.New("mesh transmit wait exceeded")
	ErrRadioBusy         = errors.New("radio scheduler transition already in flight")
)
