package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnauthorized    = "E_UNAUTHORIZED"

	// Event handling.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrUnknownActor = "E_UNKNOWN_ACTOR"
	ErrUnknownKind  = "E_UNKNOWN_KIND"
	ErrNotFound     = "E_NOT_FOUND"
	ErrBusy         = "E_BUSY"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnauthorized:    {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrUnknownActor:    {},
	ErrUnknownKind:     {},
	ErrNotFound:        {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
