package protocol

// Validation layer (client-correctable; surfaced as-is, never retried).
const (
	ErrCellInvalid   = "E_CELL_INVALID"
	ErrSurfaceLocked = "E_SURFACE_LOCKED"
	ErrCellLocked    = "E_CELL_LOCKED"
	ErrCellOccupied  = "E_CELL_OCCUPIED"
	ErrNoConnection  = "E_NO_CONNECTION"
	ErrTechLocked    = "E_TECH_LOCKED"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrSlotOccupied  = "E_SLOT_OCCUPIED"
	ErrBadRequest    = "E_BAD_REQUEST"
)

// Lifecycle/state layer.
const (
	ErrNotFound     = "E_NOT_FOUND"
	ErrInvalidState = "E_INVALID_STATE"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrCellInvalid:   {},
	ErrSurfaceLocked: {},
	ErrCellLocked:    {},
	ErrCellOccupied:  {},
	ErrNoConnection:  {},
	ErrTechLocked:    {},
	ErrNoResource:    {},
	ErrSlotOccupied:  {},
	ErrBadRequest:    {},
	ErrNotFound:      {},
	ErrInvalidState:  {},
	ErrNoPermission:  {},
	ErrInternal:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodedError is a tagged failure the caller branches on. Validation codes
// never crash the simulation; they travel back to the client unchanged.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func Errf(code, message string) *CodedError {
	if !IsKnownCode(code) {
		code = ErrInternal
	}
	return &CodedError{Code: code, Message: message}
}

// CodeOf extracts the error code, or E_INTERNAL for untagged errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if ce, ok := err.(*CodedError); ok {
		return ce.Code
	}
	return ErrInternal
}
