package protocol

import (
	"errors"

	"sushiclicker.com/internal/persistence/store"
	"sushiclicker.com/internal/sim/purchase"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Session routing.
	ErrSlotBusy    = "E_SLOT_BUSY"
	ErrSlotInvalid = "E_SLOT_INVALID"

	// Command layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrMaxOwned      = "E_MAX_OWNED"
	ErrPrerequisite  = "E_PREREQUISITE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrSlotBusy:        {},
	ErrSlotInvalid:     {},
	ErrBadRequest:      {},
	ErrNoResource:      {},
	ErrMaxOwned:        {},
	ErrPrerequisite:    {},
	ErrInvalidTarget:   {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps an engine or store error to its wire code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, purchase.ErrInsufficientFunds):
		return ErrNoResource
	case errors.Is(err, purchase.ErrMaxOwned):
		return ErrMaxOwned
	case errors.Is(err, purchase.ErrPrerequisiteNotMet):
		return ErrPrerequisite
	case errors.Is(err, purchase.ErrUnknownUpgrade), errors.Is(err, purchase.ErrUnknownStaff):
		return ErrInvalidTarget
	case errors.Is(err, store.ErrLocked):
		return ErrSlotBusy
	case errors.Is(err, store.ErrInvalidSlot):
		return ErrSlotInvalid
	default:
		return ErrInternal
	}
}
