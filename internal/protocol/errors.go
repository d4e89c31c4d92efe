package protocol

const (
	// Transport/request validation.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrStale      = "E_STALE"
	ErrInternal   = "E_INTERNAL"

	// Action layer.
	ErrBlocked  = "E_BLOCKED"
	ErrNoParcel = "E_NO_PARCEL"
	ErrNotOnMap = "E_NOT_ON_MAP"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest: {},
	ErrStale:      {},
	ErrInternal:   {},
	ErrBlocked:    {},
	ErrNoParcel:   {},
	ErrNotOnMap:   {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
